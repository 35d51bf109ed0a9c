package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/pipeline"
	"github.com/sells-group/esg-extract/internal/source"
)

var (
	runPDF         string
	runCompanyID   string
	runCompanyName string
	runYear        int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract indicators from a single PDF",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		report, err := source.FromSource(runPDF, runCompanyID, runCompanyName, runYear)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res := env.Pipeline.Run(ctx, report)
		if err := writeResult(os.Stdout, res); err != nil {
			return err
		}
		return runError(res)
	},
}

func init() {
	runCmd.Flags().StringVar(&runPDF, "pdf", "", "PDF path, http(s) URL or ftp URL (required)")
	runCmd.Flags().StringVar(&runCompanyID, "company-id", "", "company identifier (default derived from the file name)")
	runCmd.Flags().StringVar(&runCompanyName, "company-name", "", "company display name")
	runCmd.Flags().IntVar(&runYear, "year", 0, "report year when the source key carries none")
	_ = runCmd.MarkFlagRequired("pdf")
	rootCmd.AddCommand(runCmd)
}

// writeResult prints the per-PDF result JSON.
func writeResult(w io.Writer, res *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(res), "encode result")
}

// runError turns a failed or cancelled run into a non-zero exit. Empty runs
// are a valid outcome.
func runError(res *pipeline.Result) error {
	l := res.Lineage
	if res.LineageErr != nil {
		zap.L().Error("lineage row not written", zap.String("run_id", l.RunID), zap.Error(res.LineageErr))
	}
	switch l.Status {
	case model.LineageFailed:
		return eris.Errorf("run %s failed (%s): %s", l.RunID, l.ErrorKind, l.Error)
	case model.LineageCancelled:
		return eris.Errorf("run %s cancelled", l.RunID)
	}
	return nil
}
