package source

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/model"
)

// ManifestRow is one line of a batch manifest CSV.
type ManifestRow struct {
	CompanyID   string `csv:"company_id" validate:"required"`
	CompanyName string `csv:"company_name,omitempty"`
	ReportYear  string `csv:"report_year,omitempty" validate:"omitempty,numeric,len=4"`
	Source      string `csv:"source" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ReadManifest parses a manifest with header
// company_id,company_name,report_year,source. Relative local sources are
// resolved against baseDir. The manifest year is used only when the source
// key carries no year.
func ReadManifest(r io.Reader, baseDir string) ([]model.Report, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "source: read manifest")
	}
	var rows []ManifestRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrap(err, "source: parse manifest")
	}

	out := make([]model.Report, 0, len(rows))
	for i, row := range rows {
		row.CompanyID = strings.TrimSpace(row.CompanyID)
		row.Source = strings.TrimSpace(row.Source)
		row.ReportYear = strings.TrimSpace(row.ReportYear)
		if err := validate.Struct(&row); err != nil {
			return nil, eris.Wrapf(err, "source: manifest line %d", i+2)
		}

		year := 0
		if row.ReportYear != "" {
			year, _ = strconv.Atoi(row.ReportYear)
		}
		src := row.Source
		if !strings.Contains(src, "://") && !filepath.IsAbs(src) && baseDir != "" {
			src = filepath.Join(baseDir, src)
		}

		// Hint comes from the source as written, before joining baseDir.
		out = append(out, model.Report{
			CompanyID:   row.CompanyID,
			CompanyName: strings.TrimSpace(row.CompanyName),
			ReportYear:  YearHint(ObjectKey(row.Source), year),
			Source:      src,
		})
	}
	return out, nil
}

// LoadManifest reads the manifest file at path.
func LoadManifest(path string) ([]model.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open manifest %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadManifest(f, filepath.Dir(path))
}
