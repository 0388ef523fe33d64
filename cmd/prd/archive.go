package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/prdledger/internal/archive"
	"github.com/steveyegge/prdledger/internal/ui"
)

var archiveCmd = &cobra.Command{
	Use:     "archive <prd-id>",
	GroupID: "lifecycle",
	Short:   "Archive a completed PRD and its tasks",
	Long: `Packs the PRD record, its source document and its linked tasks into a
single artifact, then removes them from the active project.

The PRD must be done and every linked task done or cancelled unless --force
is given. A failure part way through restores the previous state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		id, err := prdID(args[0])
		if err != nil {
			return err
		}
		res, err := ledger.Archiver.Archive(rootCtx, id, archive.Options{Force: force, DryRun: dryRun, Author: getActor()})
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(res)
			return nil
		}
		layout := ledger.Layout()
		if res.DryRun {
			renderPreview(res.Preview, layout.Rel)
			return nil
		}
		success("Archived %s with %d task(s) to %s", ui.RenderID(res.PRDID), res.TaskCount, layout.Rel(res.ArchivePath))
		for _, f := range res.DeletedFiles {
			printf("  %s%s\n", ui.TreeChild, ui.RenderMuted("removed "+layout.Rel(f)))
		}
		return nil
	},
}

func renderPreview(p *archive.Preview, rel func(string) string) {
	fmt.Fprintf(stdout, "%s %s (dry run)\n", ui.RenderInfoIcon(), ui.RenderID(p.PRD.ID))
	fmt.Fprintf(stdout, "  archive:  %s\n", rel(p.ArchivePath))
	fmt.Fprintf(stdout, "  tasks:    %d\n", len(p.Tasks))
	for _, f := range p.Files {
		fmt.Fprintf(stdout, "  %s%s\n", ui.TreeChild, ui.RenderMuted("delete "+rel(f)))
	}
	if p.SchemaError != "" {
		fmt.Fprintf(stdout, "%s %s\n", ui.RenderFailIcon(), p.SchemaError)
	}
	if p.Problems != nil {
		fmt.Fprintf(stdout, "%s %s\n", ui.RenderWarnIcon(), p.Problems.Error())
	}
	if p.Valid {
		fmt.Fprintf(stdout, "%s ready to archive\n", ui.RenderPassIcon())
	}
}

var archivesCmd = &cobra.Command{
	Use:     "archives",
	GroupID: "lifecycle",
	Short:   "Inspect archive artifacts",
}

var archivesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archive artifacts, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		listings, err := ledger.Archiver.List(rootCtx)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(listings)
			return nil
		}
		if len(listings) == 0 {
			printf("No archives.\n")
			return nil
		}
		for _, l := range listings {
			name := filepath.Base(l.Path)
			if l.Metadata == nil {
				fmt.Fprintf(stdout, "%s %s  %s\n", ui.RenderFailIcon(), name, ui.RenderFail(l.Error))
				continue
			}
			m := l.Metadata
			fmt.Fprintf(stdout, "%s  %s  %d task(s)  %s  %s\n",
				ui.RenderID(m.PRDID),
				m.ArchivedAt.Local().Format("2006-01-02 15:04"),
				m.TaskCount,
				ui.RenderMuted(m.ArchivedBy),
				name,
			)
		}
		return nil
	},
}

var archivesExtractCmd = &cobra.Command{
	Use:   "extract <archive> <dest-dir>",
	Short: "Unpack an archive artifact",
	Long:  `Writes the artifact's entries under dest-dir. Existing files are never overwritten and entries that would escape dest-dir are rejected.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if !filepath.IsAbs(path) && filepath.Dir(path) == "." {
			// A bare file name refers to the archive directory.
			path = filepath.Join(ledger.Layout().ArchiveDir, path)
		}
		written, err := archive.Extract(rootCtx, path, args[1])
		if jsonOutput && err == nil {
			outputJSON(map[string]any{"archive": path, "files": written})
			return nil
		}
		for _, f := range written {
			printf("  %s%s\n", ui.TreeChild, f)
		}
		if err != nil {
			return err
		}
		success("Extracted %d file(s) to %s", len(written), args[1])
		return nil
	},
}

func init() {
	archiveCmd.Flags().BoolP("force", "f", false, "Archive even if the PRD or its tasks are not complete")
	archiveCmd.Flags().Bool("dry-run", false, "Show what would be archived without changing anything")

	archivesCmd.AddCommand(archivesListCmd, archivesExtractCmd)
	rootCmd.AddCommand(archiveCmd, archivesCmd)
}
