package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/esg-extract/internal/pipeline"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7\n"), 0o644))
}

func TestLoadReports_Dir(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "2022", "acme.pdf"))
	touch(t, filepath.Join(dir, "globex_2021.pdf"))
	touch(t, filepath.Join(dir, "notes.txt"))

	reports, err := loadReports(dir, "", 0)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	byCompany := map[string]int{}
	for _, r := range reports {
		byCompany[r.CompanyID] = r.ReportYear
	}
	assert.Equal(t, map[string]int{"acme": 2022, "globex": 2021}, byCompany)
}

func TestLoadReports_Limit(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a_2020.pdf"))
	touch(t, filepath.Join(dir, "b_2021.pdf"))
	touch(t, filepath.Join(dir, "c_2022.pdf"))

	reports, err := loadReports(dir, "", 2)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestLoadReports_Manifest(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.csv")
	require.NoError(t, os.WriteFile(manifest, []byte(
		"company_id,company_name,report_year,source\n"+
			"acme,Acme Corp,,2022/acme.pdf\n"+
			"globex,Globex,2021,https://example.com/reports/globex.pdf\n",
	), 0o644))

	reports, err := loadReports("", manifest, 0)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, "acme", reports[0].CompanyID)
	assert.Equal(t, 2022, reports[0].ReportYear)
	assert.Equal(t, filepath.Join(dir, "2022", "acme.pdf"), reports[0].Source)

	assert.Equal(t, "Globex", reports[1].CompanyName)
	assert.Equal(t, 2021, reports[1].ReportYear)
	assert.Equal(t, "https://example.com/reports/globex.pdf", reports[1].Source)
}

func TestLoadReports_NeedsInput(t *testing.T) {
	_, err := loadReports("", "", 0)
	assert.Error(t, err)
}

func TestWriteSummary(t *testing.T) {
	sum := &pipeline.Summary{
		BatchID:   "batch-1",
		Attempted: 3,
		Persisted: 2,
		Failed:    1,
		Results:   []*pipeline.Result{{}},
	}

	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, sum))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "batch-1", out["batch_id"])
	assert.EqualValues(t, 3, out["attempted"])
	assert.NotContains(t, out, "Results")
}
