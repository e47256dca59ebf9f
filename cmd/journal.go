package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/microsoft/wil-sub001/internal/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List recorded changes, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJournal,
}

var (
	journalLimit int
	journalPath  string
	journalKind  string
)

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", journal.DefaultLimit, "maximum rows to show")
	journalCmd.Flags().StringVar(&journalPath, "path", "", "only changes to this absolute path")
	journalCmd.Flags().StringVar(&journalKind, "kind", "", "only changes of this kind (modify or delete)")
}

func runJournal(cmd *cobra.Command, _ []string) error {
	if journalKind != "" && journalKind != "modify" && journalKind != "delete" {
		return fmt.Errorf("--kind must be \"modify\" or \"delete\", got %q", journalKind)
	}

	jr, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer func() { _ = jr.Close() }()

	entries, err := jr.List(cmd.Context(), journal.Filter{Path: journalPath, Kind: journalKind, Limit: journalLimit})
	if err != nil {
		return err
	}
	total, err := jr.Count(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, noteStyle.Render("No changes recorded."))
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tKIND\tPATH\tWATCH")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.RecordedAt.Local().Format("2006-01-02 15:04:05.000"), e.Kind, e.Path, e.WatchID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, noteStyle.Render(fmt.Sprintf("%d of %d recorded change(s).", len(entries), total)))
	return nil
}
