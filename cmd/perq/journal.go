package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"perq/native/rates"
	"perq/storage/journal"
)

var errJournalDisabled = errors.New("journal is disabled in the configuration")

type journalFlags struct {
	kind  string
	state string
	since string
	limit int
}

func (f *journalFlags) bind(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().StringVar(&f.kind, "kind", "", "only this operation kind")
	cmd.Flags().StringVar(&f.state, "state", "", "only this state (committed, rejected, cancelled)")
	cmd.Flags().StringVar(&f.since, "since", "", "only entries created at or after this RFC3339 time")
	cmd.Flags().IntVar(&f.limit, "limit", defaultLimit, "maximum entries, 0 for all")
}

func (f *journalFlags) filter() (journal.Filter, error) {
	filter := journal.Filter{Kind: f.kind, State: f.state, Limit: f.limit}
	if f.since != "" {
		since, err := time.Parse(time.RFC3339, f.since)
		if err != nil {
			return filter, fmt.Errorf("--since: %w", err)
		}
		filter.Since = since
	}
	return filter, nil
}

// openJournal opens only the journal so reading history does not touch the
// ledger store.
func (c *cli) openJournal() (*journal.Journal, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	if cfg.Journal.Disabled {
		return nil, errJournalDisabled
	}
	return journal.Open(cfg.JournalPath())
}

func (c *cli) journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and export the transaction journal",
	}
	cmd.AddCommand(c.journalListCmd(), c.journalExportCmd())
	return cmd
}

func (c *cli) journalListCmd() *cobra.Command {
	var flags journalFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List settled transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			j, err := c.openJournal()
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []journal.Entry{}
			}
			return c.render(entries, func(w io.Writer) {
				row(w, "ID", "KIND", "STATE", "AMOUNT", "CREATED", "DETAIL")
				for _, e := range entries {
					detail := e.Message
					if e.ErrorCode != "" {
						detail = e.ErrorCode + ": " + e.ErrorMessage
					}
					row(w, e.ID, e.Kind, e.State, rates.FormatInteger(e.Amount),
						e.CreatedAt.Local().Format(time.DateTime), detail)
				}
			})
		},
	}
	flags.bind(cmd, 50)
	return cmd
}

func (c *cli) journalExportCmd() *cobra.Command {
	var (
		flags  journalFlags
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the journal as CSV or Parquet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			format = strings.ToLower(strings.TrimSpace(format))
			if format != "csv" && format != "parquet" {
				return fmt.Errorf("unknown export format %q", format)
			}
			if format == "parquet" && out == "" {
				return errors.New("parquet export needs --out")
			}

			j, err := c.openJournal()
			if err != nil {
				return err
			}
			defer j.Close()

			w := c.out
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			var n int
			if format == "parquet" {
				n, err = j.ExportParquet(cmd.Context(), w, filter)
			} else {
				n, err = j.ExportCSV(cmd.Context(), w, filter)
			}
			if err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d entries to %s\n", n, out)
			}
			return nil
		},
	}
	flags.bind(cmd, 0)
	cmd.Flags().StringVar(&format, "format", "csv", "csv or parquet")
	cmd.Flags().StringVar(&out, "out", "", "write to this file instead of stdout")
	return cmd
}
