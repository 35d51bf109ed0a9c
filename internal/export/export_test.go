package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jszwec/csvutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/esg-extract/internal/model"
)

func energySeries() *model.Normalized {
	n := &model.Normalized{}
	for i, v := range []float64{480000, 500000, 520000} {
		n.Metrics = append(n.Metrics, model.NormalizedMetric{
			IndicatorID:   "total_energy_consumption",
			Theme:         "Energy",
			ReportYear:    2022,
			IndicatorYear: 2020 + i,
			ValueNumeric:  model.FloatPtr(v),
			Unit:          "MWh",
			PageRefs:      []int{12, 13},
		})
	}
	formula := "8452 + 7581 tCO2e / $M revenue"
	n.Metrics = append(n.Metrics, model.NormalizedMetric{
		IndicatorID: "emissions_intensity", Theme: "Emissions", ReportYear: 2022, IndicatorYear: 2022,
		ValueText: &formula, Reason: "arithmetic expression", PageRefs: []int{20},
	})
	n.Commitments = append(n.Commitments, model.NormalizedCommitment{
		IndicatorID:   "scope_2_emissions",
		Theme:         "Emissions",
		ReportYear:    2022,
		StatementType: model.StatementTarget,
		GoalText:      "We reduced Scope 2 emissions by 40% vs 2019 baseline",
		TargetValue:   model.FloatPtr(40),
		TargetUnit:    "%",
		BaselineYear:  model.IntPtr(2019),
		PageRefs:      []int{7},
	})
	n.Rejections = append(n.Rejections, model.Rejection{
		SurfaceName: "Employee happiness index", Reason: "unresolved indicator: employee happiness index", Unresolved: true,
	})
	return n
}

func TestRows(t *testing.T) {
	rows := Rows("acme", energySeries())
	require.Len(t, rows, 5)

	for i, r := range rows[:3] {
		assert.Equal(t, "metric", r.Kind)
		assert.Equal(t, 2020+i, *r.IndicatorYear)
		assert.Equal(t, "12;13", r.PageRefs)
	}
	assert.Equal(t, "480000", rows[0].ValueNumeric)
	assert.Equal(t, "520000", rows[2].ValueNumeric)

	assert.Empty(t, rows[3].ValueNumeric)
	assert.Equal(t, "8452 + 7581 tCO2e / $M revenue", *rows[3].ValueText)

	c := rows[4]
	assert.Equal(t, "commitment", c.Kind)
	assert.Nil(t, c.IndicatorYear)
	assert.Equal(t, "40", c.TargetValue)
	assert.Equal(t, 2019, *c.BaselineYear)
	assert.Nil(t, c.TargetYear)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, Rows("acme", energySeries())))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, strings.Join(header, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "metric,acme,total_energy_consumption,Energy,2022,2020,480000,,MWh,false"))

	var back []Row
	require.NoError(t, csvutil.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, Rows("acme", energySeries()), back)
}

func TestWriteCSV_EmptyStillHasHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, strings.Join(header, ",")+"\n", buf.String())
}

func TestWriteXLSX(t *testing.T) {
	n := energySeries()
	path := filepath.Join(t.TempDir(), "records.xlsx")
	require.NoError(t, WriteXLSX(path, Rows("acme", n), n.Rejections))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	records := f.Sheet["records"]
	require.NotNil(t, records)
	require.Len(t, records.Rows, 6)
	assert.Equal(t, "indicator_id", records.Rows[0].Cells[2].String())
	num, err := records.Rows[2].Cells[6].Float()
	require.NoError(t, err)
	assert.InDelta(t, 500000.0, num, 1e-9)

	rejections := f.Sheet["rejections"]
	require.NotNil(t, rejections)
	assert.Equal(t, "Employee happiness index", rejections.Rows[1].Cells[0].String())
}

func TestWritePages(t *testing.T) {
	pages := []model.SelectedPage{
		{Page: model.Page{Number: 3, Text: "Scope 1 emissions: 1,234,567 tCO2e (2022)\n"}, Themes: []string{"Emissions"}},
		{Page: model.Page{Number: 9, Text: "Water withdrawal: 36 billion gallons"}, Themes: []string{"Water"}},
	}
	report := model.Report{CompanyID: "acme", CompanyName: "Acme Corp", ReportYear: 2022, Source: "reports/2022/acme.pdf"}

	var buf bytes.Buffer
	require.NoError(t, WritePages(&buf, report, 40, pages))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# acme (Acme Corp) 2022\n"))
	assert.Contains(t, out, "2 of 40 pages selected.")
	assert.Contains(t, out, "--- PAGE 3 ---\n_themes: Emissions_\n\nScope 1 emissions: 1,234,567 tCO2e (2022)\n")
	assert.Less(t, strings.Index(out, "--- PAGE 3 ---"), strings.Index(out, "--- PAGE 9 ---"))
}

func TestWriter_Write(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(Options{Dir: dir, CSV: true, XLSX: true, Markdown: true, JSON: true})

	paths, err := w.Write(&Bundle{
		RunID:      "run-1",
		Report:     model.Report{CompanyID: "acme", Source: "acme.pdf"},
		PageCount:  10,
		Pages:      []model.SelectedPage{{Page: model.Page{Number: 1, Text: "x"}}},
		Pass1:      []byte(`{"Energy":{"reported_indicators":[],"commitments":[]}}`),
		Pass2:      []byte(`{"reported_indicators":[],"commitments":[]}`),
		Normalized: energySeries(),
	})
	require.NoError(t, err)

	runDir := filepath.Join(dir, "run-1")
	assert.Equal(t, []string{
		filepath.Join(runDir, PagesFile),
		filepath.Join(runDir, Pass1File),
		filepath.Join(runDir, Pass2File),
		filepath.Join(runDir, RecordsCSV),
		filepath.Join(runDir, RecordsXLSX),
	}, paths)
	for _, p := range paths {
		assert.FileExists(t, p)
	}

	pass2, err := os.ReadFile(filepath.Join(runDir, Pass2File))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"reported_indicators\": [],\n  \"commitments\": []\n}\n", string(pass2))
}

func TestWriter_SkipsMissingData(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(Options{Dir: dir, CSV: true, Markdown: true, JSON: true})

	paths, err := w.Write(&Bundle{RunID: "run-2", Report: model.Report{CompanyID: "acme"}})
	require.NoError(t, err)
	assert.Empty(t, paths)

	var nilWriter *Writer
	paths, err = nilWriter.Write(&Bundle{RunID: "x"})
	require.NoError(t, err)
	assert.Nil(t, paths)
}
