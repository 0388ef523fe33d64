package main

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/prdledger/internal/status"
	"github.com/steveyegge/prdledger/internal/ui"
	"github.com/steveyegge/prdledger/internal/validation"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "lifecycle",
	Short:   "Reconcile or set PRD statuses",
}

var statusReconcileCmd = &cobra.Command{
	Use:   "reconcile [prd-id]",
	Short: "Set PRD status from linked task progress",
	Long: `Computes the recommended status of a PRD from its linked tasks and applies
it. Without an id every non-archived PRD is reconciled in a single write;
PRDs pinned with 'prd status set --pin' are skipped unless --override.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")
		override, _ := cmd.Flags().GetBool("override")
		opts := status.Options{Force: force, DryRun: dryRun, OverrideManual: override, Author: getActor()}

		if len(args) == 1 {
			id, err := prdID(args[0])
			if err != nil {
				return err
			}
			res, err := ledger.Status.Reconcile(rootCtx, id, opts)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(res)
				return nil
			}
			renderReconcile(*res)
			return nil
		}

		batch, err := ledger.Status.ReconcileAll(rootCtx, opts)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(batch)
			return nil
		}
		for _, r := range batch.Results {
			renderReconcile(r)
		}
		for _, id := range batch.Skipped {
			printf("%s %s pinned, skipped\n", ui.RenderSkipIcon(), ui.RenderID(id))
		}
		for _, f := range batch.Errors {
			warn("%s: %s", f.PRDID, f.Error)
		}
		return nil
	},
}

func renderReconcile(r status.Result) {
	switch {
	case r.Applied:
		success("%s %s → %s (v%s)", ui.RenderID(r.PRDID), ui.RenderStatus(r.Previous), ui.RenderStatus(r.Recommended), r.Version)
	case r.Changed:
		printf("%s %s would change %s → %s\n", ui.RenderInfoIcon(), ui.RenderID(r.PRDID), ui.RenderStatus(r.Previous), ui.RenderStatus(r.Recommended))
	default:
		printf("%s %s already %s\n", ui.RenderSkipIcon(), ui.RenderID(r.PRDID), ui.RenderStatus(r.Previous))
	}
}

var statusSetCmd = &cobra.Command{
	Use:   "set <prd-id> <status>",
	Short: "Set a PRD's status manually",
	Long: `Sets a PRD's status. Allowed changes follow the lifecycle
pending → in-progress → done, with in-progress → pending and done → in-progress
for reopening; --force permits any other change. Archiving is only possible
through 'prd archive'. --pin keeps reconciliation from changing the status
until 'prd status unpin'.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pin, _ := cmd.Flags().GetBool("pin")
		force, _ := cmd.Flags().GetBool("force")
		id, err := prdID(args[0])
		if err != nil {
			return err
		}
		to, err := validation.ParseStatus(args[1])
		if err != nil {
			return err
		}
		res, err := ledger.Status.SetStatus(rootCtx, id, to, status.SetOptions{Pin: pin, Force: force, Author: getActor()})
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(res)
			return nil
		}
		if !res.Applied {
			printf("%s %s already %s\n", ui.RenderSkipIcon(), ui.RenderID(res.PRDID), ui.RenderStatus(res.Recommended))
			return nil
		}
		suffix := ""
		if res.Pinned {
			suffix = " " + ui.IconPin
		}
		success("%s %s → %s (v%s)%s", ui.RenderID(res.PRDID), ui.RenderStatus(res.Previous), ui.RenderStatus(res.Recommended), res.Version, suffix)
		return nil
	},
}

var statusUnpinCmd = &cobra.Command{
	Use:   "unpin <prd-id>",
	Short: "Let reconciliation manage a pinned PRD again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := prdID(args[0])
		if err != nil {
			return err
		}
		if err := ledger.Status.Unpin(rootCtx, id, getActor()); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"prdId": id})
			return nil
		}
		success("%s unpinned", ui.RenderID(id))
		return nil
	},
}

func init() {
	statusReconcileCmd.Flags().Bool("dry-run", false, "Show recommendations without writing")
	statusReconcileCmd.Flags().Bool("force", false, "Record a version entry even when the status is unchanged")
	statusReconcileCmd.Flags().Bool("override", false, "Also reconcile PRDs whose status is pinned")

	statusSetCmd.Flags().Bool("pin", false, "Pin the status against automatic reconciliation")
	statusSetCmd.Flags().Bool("force", false, "Allow a change outside the normal lifecycle")

	statusCmd.AddCommand(statusReconcileCmd, statusSetCmd, statusUnpinCmd)
	rootCmd.AddCommand(statusCmd)
}
