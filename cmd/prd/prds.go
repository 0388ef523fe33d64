package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/prdledger/internal/discovery"
	"github.com/steveyegge/prdledger/internal/types"
	"github.com/steveyegge/prdledger/internal/ui"
	"github.com/steveyegge/prdledger/internal/validation"
)

// listPrefixWidth is the width of the list columns before the title.
const listPrefixWidth = 48

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "prds",
	Short:   "List PRDs",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		priorityFilter, _ := cmd.Flags().GetString("priority")
		tag, _ := cmd.Flags().GetString("tag")
		search, _ := cmd.Flags().GetString("search")
		sortOrder, _ := cmd.Flags().GetString("sort")

		filter := types.Filter{Tag: tag, Search: search}
		for _, raw := range splitList(statusFilter) {
			st, err := validation.ParseStatus(raw)
			if err != nil {
				return err
			}
			filter.Status = append(filter.Status, st)
		}
		for _, raw := range splitList(priorityFilter) {
			pr, err := validation.ParsePriority(raw)
			if err != nil {
				return err
			}
			filter.Priority = append(filter.Priority, pr)
		}

		prds, err := ledger.Store.LoadPRDs(rootCtx)
		if err != nil {
			return err
		}
		out := filter.Apply(prds.PRDs)
		types.SortPRDs(out, types.ParseSortOrder(sortOrder))

		if jsonOutput {
			outputJSON(out)
			return nil
		}
		if len(out) == 0 {
			printf("No PRDs found.\n")
			return nil
		}
		titleWidth := ui.TitleWidth(listPrefixWidth)
		for _, p := range out {
			pin := ""
			if p.ManualStatusOverride {
				pin = " " + ui.IconPin
			}
			fmt.Fprintf(stdout, "%s  %-11s %-6s %s  %s%s\n",
				ui.RenderID(p.ID),
				ui.RenderStatus(p.Status),
				ui.RenderPriority(p.Priority),
				ui.RenderProgress(p.TaskStats.CompletionPercentage, 10),
				ui.Truncate(p.Title, titleWidth),
				pin,
			)
		}
		printf("\n%s\n", ui.RenderMuted(fmt.Sprintf("%d PRD(s)", len(out))))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <prd-id>",
	GroupID: "prds",
	Short:   "Show PRD details",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := prdID(args[0])
		if err != nil {
			return err
		}
		p, err := ledger.Store.GetPRD(rootCtx, id)
		if err != nil {
			return err
		}
		showBody, _ := cmd.Flags().GetBool("body")
		var body string
		if showBody {
			// #nosec G304 -- source paths come from the registered PRD record
			data, err := os.ReadFile(ledger.Layout().SourcePath(p))
			if err != nil {
				return fmt.Errorf("read %s: %w", p.FilePath, err)
			}
			body = string(data)
		}
		if jsonOutput {
			if showBody {
				outputJSON(struct {
					*types.PRD
					Body string `json:"body"`
				}{p, body})
				return nil
			}
			outputJSON(p)
			return nil
		}
		renderPRD(p)
		if showBody {
			fmt.Fprintln(stdout)
			fmt.Fprint(stdout, ui.RenderMarkdown(body))
		}
		return nil
	},
}

func renderPRD(p *types.PRD) {
	fmt.Fprintf(stdout, "%s  %s\n", ui.RenderID(p.ID), p.Title)
	fmt.Fprintln(stdout, ui.RenderSeparator())
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(stdout, "%-12s %s\n", label+":", value)
		}
	}
	statusText := ui.RenderStatus(p.Status)
	if p.ManualStatusOverride {
		statusText += " " + ui.RenderMuted("(pinned)")
	}
	row("Status", statusText)
	row("Priority", ui.RenderPriority(p.Priority))
	row("Complexity", string(p.Complexity))
	row("Version", p.CurrentVersion)
	row("File", p.FilePath)
	if p.FileHash != "" {
		row("Hash", fmt.Sprintf("%s (%d bytes)", shortHash(p.FileHash), p.FileSize))
	}
	row("Created", p.CreatedDate.Local().Format("2006-01-02 15:04"))
	row("Modified", p.LastModified.Local().Format("2006-01-02 15:04"))
	row("Tags", strings.Join(p.Tags, ", "))
	row("Description", p.Description)

	s := p.TaskStats
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, ui.RenderCategory("Tasks"))
	fmt.Fprintf(stdout, "%s  %d done, %d in progress, %d pending, %d blocked (of %d)\n",
		ui.RenderProgress(s.CompletionPercentage, 20),
		s.CompletedTasks, s.InProgressTasks, s.PendingTasks, s.BlockedTasks, s.TotalTasks)
	if len(p.LinkedTaskIDs) > 0 {
		fmt.Fprintf(stdout, "%s%s\n", ui.TreeLast, strings.Join(p.LinkedTaskIDs, ", "))
	}
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

var createCmd = &cobra.Command{
	Use:     "create <file>",
	GroupID: "prds",
	Short:   "Register a requirements document as a PRD",
	Long: `Registers a Markdown or text document as a new PRD with the next prd_NNN id.

Title, description, priority, complexity and tags come from the flags, then
from YAML (---) or TOML (+++) front matter, then the first "# " heading.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetString("priority")
		complexity, _ := cmd.Flags().GetString("complexity")
		tags, _ := cmd.Flags().GetStringSlice("tags")

		p, err := ledger.Registrar.Register(rootCtx, args[0], discovery.Options{
			Title:       title,
			Description: description,
			Priority:    priority,
			Complexity:  complexity,
			Tags:        tags,
			Author:      getActor(),
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(p)
			return nil
		}
		success("Registered %s: %s (%s)", ui.RenderID(p.ID), p.Title, p.FilePath)
		return nil
	},
}

var discoverCmd = &cobra.Command{
	Use:     "discover [dir]",
	GroupID: "prds",
	Short:   "Register every unregistered document in the PRD directory",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		opts := discovery.DiscoverOptions{DryRun: dryRun, Author: getActor()}
		if len(args) == 1 {
			opts.Dir = args[0]
		}
		res, err := ledger.Registrar.Discover(rootCtx, opts)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(res)
			return nil
		}
		for _, path := range res.Pending {
			printf("would register %s\n", path)
		}
		for _, p := range res.Registered {
			success("Registered %s: %s (%s)", ui.RenderID(p.ID), p.Title, p.FilePath)
		}
		for _, e := range res.Errors {
			warn("%s", e)
		}
		if dryRun {
			printf("%d to register, %d already registered\n", len(res.Pending), len(res.Skipped))
		} else {
			printf("%d registered, %d already registered, %d failed\n", len(res.Registered), len(res.Skipped), len(res.Errors))
		}
		return nil
	},
}

func init() {
	showCmd.Flags().Bool("body", false, "Also print the PRD's source document")

	listCmd.Flags().StringP("status", "s", "", "Filter by status, comma-separated (pending, in-progress, done, archived)")
	listCmd.Flags().StringP("priority", "p", "", "Filter by priority, comma-separated (low, medium, high)")
	listCmd.Flags().String("tag", "", "Filter by tag")
	listCmd.Flags().String("search", "", "Case-insensitive match on id, title or description")
	listCmd.Flags().String("sort", "", "Sort order, e.g. priority-asc,updated-desc (fields: id, priority, status, title, created, updated, progress)")

	createCmd.Flags().String("title", "", "Title (default: front matter or first heading)")
	createCmd.Flags().StringP("description", "d", "", "Description")
	createCmd.Flags().StringP("priority", "p", "", "Priority (low, medium, high; P0-P4 accepted)")
	createCmd.Flags().String("complexity", "", "Complexity (low, medium, high)")
	createCmd.Flags().StringSlice("tags", nil, "Comma-separated tags")

	discoverCmd.Flags().Bool("dry-run", false, "List documents without registering them")

	rootCmd.AddCommand(listCmd, showCmd, createCmd, discoverCmd)
}
