package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/liuscraft/orion-speak/internal/journal"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently finished utterances from the journal",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("load config", err)
		return err
	}
	if cfg.Journal.Path == "" {
		return errors.New("journal.path is not configured")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	store, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		printError("open journal", err)
		return err
	}
	defer store.Close()

	entries, err := store.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), entries)
}

func printHistory(w io.Writer, entries []journal.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no entries")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tID\tOUTCOME\tVOICE\tSPEED\tDURATION\tTEXT")
	for _, e := range entries {
		outcome := e.Outcome
		if e.Error != "" {
			outcome += " (" + e.Error + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.FinishedAt.Local().Format("01-02 15:04:05"),
			e.RequestID,
			outcome,
			e.Voice,
			e.Speed,
			e.FinishedAt.Sub(e.EnqueuedAt).Round(time.Millisecond),
			truncate(e.Text, 40),
		)
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
