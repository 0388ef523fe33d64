package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/steveyegge/prdledger/internal/config"
	"github.com/steveyegge/prdledger/internal/history"
	"github.com/steveyegge/prdledger/internal/ui"
	"github.com/steveyegge/prdledger/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "maint",
	Short:   "Record source document edits as they happen",
	Long: `Watches the PRD directory and records a file_modified version entry
whenever a registered source document changes. Stale lock markers are
cleaned up in the background. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		debounce, _ := cmd.Flags().GetDuration("debounce")
		if !cmd.Flags().Changed("debounce") {
			debounce = config.GetDuration("watch.debounce")
		}

		ctx, cancel := context.WithCancel(rootCtx)
		defer cancel()
		janitorDone := ledger.StartJanitor(ctx, config.GetDuration("lock.janitor-interval"))
		w := ledger.NewWatcher(watch.Options{
			Debounce: debounce,
			Author:   getActor(),
			OnChange: func(c history.FileChange) {
				if jsonOutput {
					writeJSON(c)
					return
				}
				success("%s changed (%+d bytes) → v%s", ui.RenderID(c.PRDID), c.SizeDelta, c.Version)
			},
			OnError: func(err error) {
				warn("%v", err)
			},
		})

		go func() {
			select {
			case <-w.Ready():
				printf("Watching %s (Ctrl+C to stop)\n", ledger.Layout().Rel(ledger.Layout().PRDDir))
			case <-ctx.Done():
			}
		}()
		err := w.Run(ctx)
		cancel()
		<-janitorDone
		return err
	},
}

func init() {
	watchCmd.Flags().Duration("debounce", 0, "Quiet period before an edit is recorded (default from watch.debounce)")
	rootCmd.AddCommand(watchCmd)
}
