package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/prdledger/internal/history"
	"github.com/steveyegge/prdledger/internal/timeparsing"
	"github.com/steveyegge/prdledger/internal/types"
	"github.com/steveyegge/prdledger/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history <prd-id>",
	GroupID: "lifecycle",
	Short:   "Show a PRD's version history",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		changeType, _ := cmd.Flags().GetString("type")
		author, _ := cmd.Flags().GetString("author")
		since, _ := cmd.Flags().GetString("since")

		id, err := prdID(args[0])
		if err != nil {
			return err
		}
		f := history.Filter{Limit: limit, ChangeType: changeType, Author: author}
		if since != "" {
			t, err := timeparsing.ParseSince(since, time.Now())
			if err != nil {
				return err
			}
			f.Since = t
		}
		entries, err := ledger.History.History(rootCtx, id, f)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(entries)
			return nil
		}
		if len(entries) == 0 {
			printf("No matching history entries.\n")
			return nil
		}
		for _, e := range entries {
			renderEntry(e)
		}
		return nil
	},
}

func renderEntry(e types.VersionEntry) {
	fmt.Fprintf(stdout, "%s  %s  %-15s %s  %s\n",
		ui.RenderAccent(fmt.Sprintf("v%-8s", e.Version)),
		e.Timestamp.Local().Format("2006-01-02 15:04"),
		e.ChangeType,
		ui.RenderStatus(e.Snapshot.Status),
		ui.RenderMuted(e.Author),
	)
	if len(e.ChangeDetails) > 0 {
		pairs := make([]string, 0, len(e.ChangeDetails))
		for k, v := range e.ChangeDetails {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(pairs)
		fmt.Fprintf(stdout, "%s%s\n", ui.TreeLast, ui.RenderMuted(strings.Join(pairs, " ")))
	}
}

var historyAddCmd = &cobra.Command{
	Use:   "add <prd-id>",
	Short: "Append a version entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		changeType, _ := cmd.Flags().GetString("type")
		bumpFlag, _ := cmd.Flags().GetString("bump")
		note, _ := cmd.Flags().GetString("note")

		id, err := prdID(args[0])
		if err != nil {
			return err
		}
		bump, err := history.ParseBump(bumpFlag)
		if err != nil {
			return err
		}
		var details map[string]any
		if note != "" {
			details = map[string]any{"note": note}
		}
		entry, err := ledger.History.AddVersionEntry(rootCtx, id, changeType, details, history.Options{Author: getActor(), Bump: bump})
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(entry)
			return nil
		}
		success("%s is now v%s", ui.RenderID(id), entry.Version)
		return nil
	},
}

var diffCmd = &cobra.Command{
	Use:     "diff <prd-id> <version> <version>",
	GroupID: "lifecycle",
	Short:   "Compare two versions of a PRD",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := prdID(args[0])
		if err != nil {
			return err
		}
		d, err := ledger.History.Compare(rootCtx, id, args[1], args[2])
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(d)
			return nil
		}
		fmt.Fprintf(stdout, "%s v%s → v%s\n", ui.RenderID(d.PRDID), d.From, d.To)
		if !d.HasChanges {
			printf("%s no differences\n", ui.RenderSkipIcon())
			return nil
		}
		a, b := d.FromEntry.Snapshot, d.ToEntry.Snapshot
		line := func(changed bool, field string, from, to any) {
			if changed {
				fmt.Fprintf(stdout, "  %-12s %v → %v\n", field, from, to)
			}
		}
		line(d.Status, "status", a.Status, b.Status)
		line(d.Priority, "priority", a.Priority, b.Priority)
		line(d.Complexity, "complexity", a.Complexity, b.Complexity)
		line(d.Tags, "tags", a.Tags, b.Tags)
		line(d.LinkedTasks, "tasks", a.LinkedTaskIDs, b.LinkedTaskIDs)
		line(d.FileHash, "hash", shortHash(d.FromEntry.FileHash), shortHash(d.ToEntry.FileHash))
		line(d.FileSize, "size", d.FromEntry.FileSize, d.ToEntry.FileSize)
		return nil
	},
}

var trackCmd = &cobra.Command{
	Use:     "track [prd-id]",
	GroupID: "lifecycle",
	Short:   "Record changes to PRD source documents",
	Long:    `Rehashes source documents and records a file_modified version entry for each one whose content changed. Without an id every non-archived PRD is checked.`,
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var changes []history.FileChange
		if len(args) == 1 {
			id, err := prdID(args[0])
			if err != nil {
				return err
			}
			c, err := ledger.History.TrackFileChanges(rootCtx, id, getActor())
			if err != nil {
				return err
			}
			changes = append(changes, *c)
		} else {
			all, err := ledger.History.TrackAll(rootCtx, getActor())
			if err != nil {
				return err
			}
			changes = all
		}
		if jsonOutput {
			outputJSON(changes)
			return nil
		}
		renderChanges(changes)
		return nil
	},
}

func renderChanges(changes []history.FileChange) {
	for _, c := range changes {
		switch {
		case c.Error != "":
			warn("%s: %s", c.PRDID, c.Error)
		case c.Changed:
			success("%s changed (%+d bytes) → v%s", ui.RenderID(c.PRDID), c.SizeDelta, c.Version)
		default:
			printf("%s %s unchanged\n", ui.RenderSkipIcon(), ui.RenderID(c.PRDID))
		}
	}
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 0, "Show only the most recent N entries")
	historyCmd.Flags().String("type", "", "Filter by change type (created, status_changed, file_modified, ...)")
	historyCmd.Flags().String("author", "", "Filter by author")
	historyCmd.Flags().String("since", "", "Only entries after this time (7d, 2025-01-31, \"last monday\")")

	historyAddCmd.Flags().String("type", history.ChangeMetadata, "Change type")
	historyAddCmd.Flags().String("bump", string(history.BumpPatch), "Version bump (patch, minor, major)")
	historyAddCmd.Flags().String("note", "", "Free-form note stored in the change details")

	historyCmd.AddCommand(historyAddCmd)
	rootCmd.AddCommand(historyCmd, diffCmd, trackCmd)
}
