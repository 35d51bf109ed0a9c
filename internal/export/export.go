package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/esg-extract/internal/model"
)

// Artefact file names inside a run directory.
const (
	PagesFile   = "pages.md"
	Pass1File   = "pass1.json"
	Pass2File   = "pass2.json"
	RecordsCSV  = "records.csv"
	RecordsXLSX = "records.xlsx"
)

// WriteCSV encodes rows with a header line, also when rows is empty.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(Row{}); err != nil {
		return eris.Wrap(err, "export: csv header")
	}
	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return eris.Wrapf(err, "export: csv row %d", i)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: csv flush")
}

// WriteXLSX saves a workbook with a "records" sheet and, when there are
// any, a "rejections" sheet.
func WriteXLSX(path string, rows []Row, rejections []model.Rejection) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("records")
	if err != nil {
		return eris.Wrap(err, "export: xlsx add sheet")
	}
	addStringRow(sheet, header)
	for _, r := range rows {
		row := sheet.AddRow()
		for i, v := range r.cells() {
			cell := row.AddCell()
			// Numeric columns stay numeric so spreadsheets can sum them.
			if v != "" && (header[i] == "value_numeric" || header[i] == "target_value") {
				if num, err := strconv.ParseFloat(v, 64); err == nil {
					cell.SetFloat(num)
					continue
				}
			}
			cell.SetString(v)
		}
	}

	if len(rejections) > 0 {
		rs, err := f.AddSheet("rejections")
		if err != nil {
			return eris.Wrap(err, "export: xlsx add sheet")
		}
		addStringRow(rs, []string{"surface_name", "indicator_id", "reason", "unresolved"})
		for _, r := range rejections {
			addStringRow(rs, []string{r.SurfaceName, r.IndicatorID, r.Reason, fmt.Sprint(r.Unresolved)})
		}
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func addStringRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// WritePages renders the selected pages as markdown, each page under its
// "--- PAGE n ---" marker with the themes it matched.
func WritePages(w io.Writer, report model.Report, pageCount int, pages []model.SelectedPage) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s", report.CompanyID)
	if report.CompanyName != "" {
		fmt.Fprintf(&b, " (%s)", report.CompanyName)
	}
	if report.ReportYear > 0 {
		fmt.Fprintf(&b, " %d", report.ReportYear)
	}
	fmt.Fprintf(&b, "\n\nSource: %s\n\n%d of %d pages selected.\n", report.Source, len(pages), pageCount)
	for _, p := range pages {
		fmt.Fprintf(&b, "\n--- PAGE %d ---\n", p.Number)
		if len(p.Themes) > 0 {
			fmt.Fprintf(&b, "_themes: %s_\n", strings.Join(p.Themes, ", "))
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(p.Text))
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return eris.Wrap(err, "export: write pages")
}

// Options selects which artefacts Writer produces.
type Options struct {
	Dir      string
	CSV      bool
	XLSX     bool
	Markdown bool
	JSON     bool
}

// Bundle is what one run hands to the Writer.
type Bundle struct {
	RunID      string
	Report     model.Report
	PageCount  int
	Pages      []model.SelectedPage
	Pass1      []byte
	Pass2      []byte
	Normalized *model.Normalized
}

// Writer writes a run's artefacts to <Dir>/<run_id>/.
type Writer struct {
	opts Options
}

// NewWriter returns a Writer. An empty Dir disables all artefacts.
func NewWriter(opts Options) *Writer {
	return &Writer{opts: opts}
}

// Write produces the enabled artefacts and returns their paths in a fixed
// order. Artefacts that need data the run never produced are skipped.
func (w *Writer) Write(b *Bundle) ([]string, error) {
	if w == nil || w.opts.Dir == "" {
		return nil, nil
	}
	dir := filepath.Join(w.opts.Dir, b.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create %s", dir)
	}

	var written []string
	write := func(name string, fn func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "export: create %s", path)
		}
		if err := fn(f); err != nil {
			f.Close() //nolint:errcheck
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "export: close %s", path)
		}
		written = append(written, path)
		return nil
	}

	if w.opts.Markdown && len(b.Pages) > 0 {
		if err := write(PagesFile, func(out io.Writer) error {
			return WritePages(out, b.Report, b.PageCount, b.Pages)
		}); err != nil {
			return written, err
		}
	}
	if w.opts.JSON {
		for _, a := range []struct {
			name string
			data []byte
		}{{Pass1File, b.Pass1}, {Pass2File, b.Pass2}} {
			if len(a.data) == 0 {
				continue
			}
			if err := write(a.name, func(out io.Writer) error {
				_, err := out.Write(indentJSON(a.data))
				return eris.Wrapf(err, "export: write %s", a.name)
			}); err != nil {
				return written, err
			}
		}
	}

	if b.Normalized == nil {
		return written, nil
	}
	rows := Rows(b.Report.CompanyID, b.Normalized)
	if w.opts.CSV {
		if err := write(RecordsCSV, func(out io.Writer) error { return WriteCSV(out, rows) }); err != nil {
			return written, err
		}
	}
	if w.opts.XLSX {
		path := filepath.Join(dir, RecordsXLSX)
		if err := WriteXLSX(path, rows, b.Normalized.Rejections); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func indentJSON(data []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return data
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
