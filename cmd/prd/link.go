package main

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/prdledger/internal/ui"
)

var linkCmd = &cobra.Command{
	Use:     "link <task-id> <prd-id>",
	GroupID: "lifecycle",
	Short:   "Link a task to a PRD",
	Long:    `Points the task's prdSource at the PRD and adds the task to the PRD's linkedTaskIds. A task already linked elsewhere is moved.`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]
		id, err := prdID(args[1])
		if err != nil {
			return err
		}
		if err := ledger.Links.Link(rootCtx, taskID, id, getActor()); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"taskId": taskID, "prdId": id})
			return nil
		}
		success("Linked task %s to %s", ui.RenderID(taskID), ui.RenderID(id))
		return nil
	},
}

var unlinkCmd = &cobra.Command{
	Use:     "unlink <task-id> <prd-id>",
	GroupID: "lifecycle",
	Short:   "Remove the link between a task and a PRD",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]
		id, err := prdID(args[1])
		if err != nil {
			return err
		}
		if err := ledger.Links.Unlink(rootCtx, taskID, id, getActor()); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"taskId": taskID, "prdId": id})
			return nil
		}
		success("Unlinked task %s from %s", ui.RenderID(taskID), ui.RenderID(id))
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "maint",
	Short:   "Repair task and PRD links in both directions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := ledger.Links.Sync(rootCtx, getActor())
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(res)
			return nil
		}
		for _, e := range res.Errors {
			warn("%s", e)
		}
		if !res.Changed() {
			printf("%s links already consistent\n", ui.RenderSkipIcon())
			return nil
		}
		success("Links synced: %d created, %d updated, %d removed", res.Created, res.Updated, res.Removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(linkCmd, unlinkCmd, syncCmd)
}
