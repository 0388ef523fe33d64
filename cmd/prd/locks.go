package main

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/prdledger/internal/ui"
)

var locksCmd = &cobra.Command{
	Use:     "locks",
	GroupID: "maint",
	Short:   "Manage document lock markers",
}

var locksCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove lock markers left by dead or expired holders and undo interrupted archives",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		layout := ledger.Layout()
		removed := map[string]int{}
		total := 0
		for _, dir := range layout.LockDirs() {
			n, err := ledger.Locks.CleanupStale(dir)
			if err != nil {
				return err
			}
			if n > 0 {
				removed[layout.Rel(dir)] = n
				total += n
			}
		}
		undone, err := ledger.Archiver.Recover(rootCtx)
		if err != nil {
			return err
		}
		if undone == nil {
			undone = []string{}
		}
		if jsonOutput {
			outputJSON(map[string]any{"removed": total, "dirs": removed, "recovered": undone})
			return nil
		}
		for _, id := range undone {
			success("Undid interrupted archive of %s", id)
		}
		if total == 0 {
			printf("%s no stale locks\n", ui.RenderSkipIcon())
			return nil
		}
		success("Removed %d stale lock marker(s)", total)
		return nil
	},
}

func init() {
	locksCmd.AddCommand(locksCleanCmd)
	rootCmd.AddCommand(locksCmd)
}
