package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/esg-extract/internal/catalogue"
)

var catalogueCmd = &cobra.Command{
	Use:   "catalogue",
	Short: "Validate the indicator catalogue and test alias resolution",
}

var catalogueCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load the configured catalogue and print its themes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cat, err := loadCatalogue()
		if err != nil {
			return err
		}
		formatCatalogue(os.Stdout, cat)
		return nil
	},
}

var catalogueResolveCmd = &cobra.Command{
	Use:   "resolve <surface>...",
	Short: "Resolve surface names to indicator ids",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalogue()
		if err != nil {
			return err
		}
		return resolveSurfaces(os.Stdout, cat, args)
	},
}

func init() {
	catalogueCmd.AddCommand(catalogueCheckCmd)
	catalogueCmd.AddCommand(catalogueResolveCmd)
	rootCmd.AddCommand(catalogueCmd)
}

// formatCatalogue writes one line per theme with its indicator count.
func formatCatalogue(out io.Writer, cat *catalogue.Catalogue) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Catalogue version:\t%s\n", cat.Version())
	_, _ = fmt.Fprintf(w, "Indicators:\t%d\n", len(cat.Indicators()))
	_, _ = fmt.Fprintln(w, "THEME\tINDICATORS\tMIN_HITS\tMULTI_YEAR")
	for _, th := range cat.Themes() {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%t\n", th.Name, len(cat.ByTheme(th.Name)), th.MinKeywordHits, th.RequireMultipleYears)
	}
	_ = w.Flush()
}

type resolution struct {
	Surface string `json:"surface"`
	catalogue.Match
	Resolved bool `json:"resolved"`
}

// resolveSurfaces prints one JSON object per surface name.
func resolveSurfaces(out io.Writer, cat *catalogue.Catalogue, surfaces []string) error {
	enc := json.NewEncoder(out)
	for _, s := range surfaces {
		m := cat.Match(s)
		if err := enc.Encode(resolution{Surface: s, Match: m, Resolved: m.IndicatorID != ""}); err != nil {
			return err
		}
	}
	return nil
}
