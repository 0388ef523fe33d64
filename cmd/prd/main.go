// Command prd manages the lifecycle metadata of product requirement documents.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/prdledger"
	"github.com/steveyegge/prdledger/internal/config"
	"github.com/steveyegge/prdledger/internal/debug"
	"github.com/steveyegge/prdledger/internal/telemetry"
	"github.com/steveyegge/prdledger/internal/validation"
)

var (
	// Version is the current version of prd (overridden by ldflags at build time)
	Version = "0.1.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
)

var (
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool
	actorFlag   string
	rootFlag    string

	ledger *prdledger.Ledger

	rootCtx    context.Context
	rootCancel context.CancelFunc

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// noLedgerCommands are top-level commands that do not open the project.
var noLedgerCommands = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
	"config":     true,
}

// needsLedger reports whether cmd runs against the project documents.
func needsLedger(cmd *cobra.Command) bool {
	for c := cmd; c.HasParent(); c = c.Parent() {
		if !c.Parent().HasParent() {
			return !noLedgerCommands[c.Name()]
		}
	}
	return false
}

var rootCmd = &cobra.Command{
	Use:           "prd",
	Short:         "prd - PRD lifecycle metadata store",
	Long:          `Tracks product requirement documents, their versions, their links to tasks and their archives.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		if err := config.Initialize(); err != nil {
			return err
		}
		applyViperOverrides(cmd)
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)

		if !needsLedger(cmd) {
			return nil
		}
		if err := telemetry.Init(rootCtx, "prd", Version); err != nil {
			debug.Logger().Warn("telemetry disabled", "error", err)
		}

		l, err := prdledger.Open(prdledger.Options{
			Layout:            config.Layout(),
			LockTimeout:       config.GetDuration("lock.timeout"),
			LockRetryInterval: config.GetDuration("lock.retry-interval"),
		})
		if err != nil {
			return err
		}
		ledger = l
		debug.SetEventsLog(l.Layout().EventsLog)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdown()
	},
}

// applyViperOverrides lets config.yaml and PRD_* env fill flags the user did
// not pass explicitly.
func applyViperOverrides(cmd *cobra.Command) {
	if !cmd.Flags().Changed("json") {
		jsonOutput = config.GetBool("json")
	}
	if cmd.Flags().Changed("root") {
		config.Set("root", rootFlag)
	}
	if cmd.Flags().Changed("actor") {
		config.Set("actor", actorFlag)
	}
}

// shutdown releases locks and flushes telemetry. It runs after every command
// and on error paths, so it must be idempotent.
func shutdown() {
	if ledger != nil {
		if err := ledger.Close(); err != nil {
			debug.Logger().Warn("close ledger", "error", err)
		}
		ledger = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	telemetry.Shutdown(ctx)
	if rootCancel != nil {
		rootCancel()
	}
}

// getActor returns the author recorded on changes.
func getActor() string {
	return config.Actor()
}

// prdID normalizes a PRD id argument; a bare number such as 7 means prd_007.
func prdID(arg string) (string, error) {
	return validation.ValidateIDFormat(arg)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			outputJSON(map[string]string{"version": Version, "build": Build})
			return
		}
		fmt.Fprintf(stdout, "prd version %s (%s)\n", Version, Build)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "Author recorded on changes (default: $PRD_ACTOR, config actor, $USER)")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Project root (default: directory holding .taskmaster/config.yaml, else CWD)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "prds", Title: "PRDs:"},
		&cobra.Group{ID: "lifecycle", Title: "Lifecycle:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)
	rootCmd.AddCommand(versionCmd)
}

// run executes the CLI and returns the process exit code.
func run(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	shutdown()
	if err != nil {
		renderError(err)
		return exitCode(err)
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
