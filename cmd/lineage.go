package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/store"
)

var lineageCmd = &cobra.Command{
	Use:   "lineage",
	Short: "Inspect per-PDF lineage records",
	Long:  "Commands for listing, viewing, and summarizing the append-only lineage table.",
}

// -- lineage list --

var lineageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lineage rows, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := lineageFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		rows, err := st.ListLineage(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "lineage list")
		}

		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No lineage rows found.")
			return nil
		}

		formatLineageList(os.Stdout, rows)
		return nil
	},
}

// -- lineage show --

var lineageShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full lineage row of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		l, err := st.GetLineage(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "lineage show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	},
}

// -- lineage stats --

var lineageStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate lineage statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := lineageFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		sum, err := st.SummarizeLineage(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "lineage stats")
		}

		formatLineageStats(os.Stdout, sum)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{lineageListCmd, lineageStatsCmd} {
		c.Flags().String("company", "", "filter by company id")
		c.Flags().String("batch", "", "filter by batch id")
		c.Flags().String("status", "", "filter by status (ok, empty, failed, cancelled)")
	}
	lineageListCmd.Flags().Duration("since", 0, "only rows newer than this (e.g. 24h)")
	lineageListCmd.Flags().Int("limit", 50, "max number of rows to display")
	lineageStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (0 = all time)")

	lineageCmd.AddCommand(lineageListCmd)
	lineageCmd.AddCommand(lineageShowCmd)
	lineageCmd.AddCommand(lineageStatsCmd)
	rootCmd.AddCommand(lineageCmd)
}

// lineageFilterFromFlags reads the filter flags registered on cmd.
func lineageFilterFromFlags(cmd *cobra.Command) (store.LineageFilter, error) {
	company, _ := cmd.Flags().GetString("company")
	batch, _ := cmd.Flags().GetString("batch")
	status, _ := cmd.Flags().GetString("status")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")

	f := store.LineageFilter{
		CompanyID: company,
		BatchID:   batch,
		Status:    model.LineageStatus(status),
		Limit:     limit,
	}
	switch f.Status {
	case "", model.LineageOK, model.LineageEmpty, model.LineageFailed, model.LineageCancelled:
	default:
		return f, eris.Errorf("unknown lineage status %q", status)
	}
	if since > 0 {
		f.Since = time.Now().Add(-since)
	}
	return f, nil
}

// formatLineageList writes a tabular list of lineage rows to w.
func formatLineageList(out io.Writer, rows []model.Lineage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tCOMPANY\tYEAR\tSTATUS\tMETRICS\tCOMMITMENTS\tCOST\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "---\t-------\t----\t------\t-------\t-----------\t----\t-------\t--------")

	for _, l := range rows {
		year := "-"
		if l.ReportYear > 0 {
			year = fmt.Sprint(l.ReportYear)
		}
		status := string(l.Status)
		if l.ErrorKind != "" {
			status += " (" + l.ErrorKind + ")"
		}
		company := l.CompanyID
		if len(company) > 30 {
			company = company[:27] + "..."
		}
		dur := (time.Duration(l.Stats.Seconds * float64(time.Second))).Round(time.Second).String()

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t$%.4f\t%s\t%s\n",
			truncateID(l.RunID),
			company,
			year,
			status,
			l.Stats.MetricsPersisted,
			l.Stats.CommitmentsPersisted,
			l.Stats.CostUSD,
			l.Timestamp.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatLineageStats writes aggregate stats to w.
func formatLineageStats(out io.Writer, s *store.LineageSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Runs)
	for _, st := range []model.LineageStatus{model.LineageOK, model.LineageEmpty, model.LineageFailed, model.LineageCancelled} {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", st, s.ByStatus[st])
	}
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailureRate()*100)
	_, _ = fmt.Fprintf(w, "LLM cost:\t$%.2f\n", s.CostUSD)
	if s.Runs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.Seconds/float64(s.Runs))
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
