package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/pipeline"
	"github.com/sells-group/esg-extract/internal/source"
)

var (
	batchDir         string
	batchManifest    string
	batchLimit       int
	batchParallelism int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Extract indicators from a directory or manifest of PDFs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reports, err := loadReports(batchDir, batchManifest, batchLimit)
		if err != nil {
			return err
		}
		if batchParallelism > 0 {
			cfg.Batch.Parallelism = batchParallelism
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		serveMetrics(ctx, env)

		sum := env.Pipeline.RunBatch(ctx, reports)
		if err := writeSummary(os.Stdout, sum); err != nil {
			return err
		}
		if sum.Cancelled > 0 {
			return eris.Errorf("batch %s interrupted: %d of %d PDFs cancelled", sum.BatchID, sum.Cancelled, sum.Attempted)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchDir, "dir", "", "directory of PDFs (<dir>/<year>/<company>.pdf or <dir>/<company>_<year>.pdf)")
	batchCmd.Flags().StringVar(&batchManifest, "manifest", "", "CSV manifest: company_id,company_name,report_year,source")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of PDFs to process (0 = all)")
	batchCmd.Flags().IntVar(&batchParallelism, "parallelism", 0, "concurrent PDFs (default from config)")
	batchCmd.MarkFlagsMutuallyExclusive("dir", "manifest")
	batchCmd.MarkFlagsOneRequired("dir", "manifest")
	rootCmd.AddCommand(batchCmd)
}

// loadReports lists the batch from a directory or a manifest and applies
// limit.
func loadReports(dir, manifest string, limit int) ([]model.Report, error) {
	var (
		reports []model.Report
		err     error
	)
	switch {
	case manifest != "":
		reports, err = source.LoadManifest(manifest)
	case dir != "":
		reports, err = source.ScanDir(dir)
	default:
		return nil, eris.New("batch: one of --dir or --manifest is required")
	}
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	zap.L().Info("batch: reports loaded", zap.Int("reports", len(reports)))
	return reports, nil
}

// writeSummary prints the batch summary JSON.
func writeSummary(w io.Writer, sum *pipeline.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(sum), "encode summary")
}
