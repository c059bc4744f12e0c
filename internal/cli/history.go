package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mkarpov/tweetmirror/internal/config"
	"github.com/mkarpov/tweetmirror/internal/journal"
)

var (
	historyIdentity string
	historyLimit    int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently published items from the local journal",
	RunE:  historyAction,
}

func init() {
	historyCmd.Flags().StringVar(&historyIdentity, "identity", "", "limit to one identity address")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum records to show")
	rootCmd.AddCommand(historyCmd)
}

func historyAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	jr, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = jr.Close() }()

	records, err := jr.Recent(cmd.Context(), historyIdentity, historyLimit)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No published items yet. Run 'tweetmirror sync' first.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PUBLISHED\tIDENTITY\tITEM\tATTACHMENTS")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			humanize.Time(r.PublishedAt), r.Identity, r.ItemURL, formatAttachments(r))
	}
	return w.Flush()
}

func formatAttachments(r journal.Record) string {
	if r.Attachments == 0 {
		return "-"
	}
	return fmt.Sprintf("%d (%s)", r.Attachments, humanize.Bytes(uint64(r.AttachmentBytes)))
}
