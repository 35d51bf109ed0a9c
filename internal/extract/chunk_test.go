package extract

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/esg-extract/internal/llm"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/resilience"
)

func TestChunkPages_SingleChunk(t *testing.T) {
	pages := []model.SelectedPage{page(2, "alpha"), page(3, "beta"), page(7, "gamma")}

	chunks := chunkPages("Water", pages, 10000, 1)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Water", chunks[0].Theme)
	assert.Equal(t, []int{2, 3, 7}, chunks[0].Pages)
	assert.Equal(t, "--- PAGE 2 ---\n\nalpha\n\n--- PAGE 3 ---\n\nbeta\n\n--- PAGE 7 ---\n\ngamma", chunks[0].Text)
	assert.Equal(t, RenderPages(pages), chunks[0].Text)
}

func TestChunkPages_CeilingSplitsBetweenPages(t *testing.T) {
	body := strings.Repeat("x", 200)
	pages := []model.SelectedPage{page(1, body), page(2, body), page(3, body)}

	// One page is 54 tokens; two do not fit in 100.
	chunks := chunkPages("Energy", pages, 100, 1)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, []int{i + 1}, c.Pages)
		assert.LessOrEqual(t, llm.EstimateTokens(c.Text), 100)
	}

	chunks = chunkPages("Energy", pages, 120, 1)
	require.Len(t, chunks, 2)
	assert.Equal(t, []int{1, 2}, chunks[0].Pages)
	assert.Equal(t, []int{3}, chunks[1].Pages)
}

func TestChunkPages_OversizedPageSplitByLines(t *testing.T) {
	line := strings.Repeat("y", 79)
	text := strings.Repeat(line+"\n", 20)

	chunks := chunkPages("Waste", []model.SelectedPage{page(9, text)}, 100, 1)
	require.Greater(t, len(chunks), 1)

	var joined []string
	for _, c := range chunks {
		assert.Equal(t, []int{9}, c.Pages)
		assert.True(t, strings.HasPrefix(c.Text, "--- PAGE 9 ---"))
		assert.LessOrEqual(t, llm.EstimateTokens(c.Text), 100)
		joined = append(joined, strings.TrimPrefix(c.Text, "--- PAGE 9 ---\n\n"))
	}
	assert.Equal(t, strings.TrimSpace(text), strings.Join(joined, "\n"))
}

func TestChunkPages_MinChars(t *testing.T) {
	pages := []model.SelectedPage{page(1, "tiny")}
	assert.Empty(t, chunkPages("Social", pages, 1000, 5))
	assert.Len(t, chunkPages("Social", pages, 1000, 4), 1)
	assert.Empty(t, chunkPages("Social", nil, 1000, 0))
}

func TestSplitLines_LongLineCutOnRuneBoundary(t *testing.T) {
	text := strings.Repeat("é", 30)
	parts := splitLines(text, 3)
	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 12)
		assert.True(t, utf8.ValidString(p))
	}
	assert.Equal(t, text, strings.Join(parts, ""))
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: `{"a":1}`, want: `{"a":1}`},
		{name: "json fence", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "prose around", in: "Here you go: {\"a\":1} hope this helps", want: `{"a":1}`},
		{name: "no object", in: "nothing", want: "nothing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestRepairJSON_TrailingCommas(t *testing.T) {
	assert.Equal(t, `{"a":[1,2]}`, repairJSON(`{"a":[1,2,],}`))
	assert.Equal(t, `{"a":[1]}`, repairJSON("{\"a\":[1],\n}"))
}

func TestDecodeModelJSON(t *testing.T) {
	var v map[string]any
	require.NoError(t, decodeModelJSON("```json\n{\"a\": [1,],}\n```", &v))
	assert.Equal(t, []any{1.0}, v["a"])

	err := decodeModelJSON("{not json", &v)
	require.Error(t, err)
	assert.Equal(t, resilience.KindExtractionQuality, resilience.Classify(err))
}

func TestParsePass2(t *testing.T) {
	p, warnings, err := parsePass2(pass2Answer)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, p.ReportedIndicators, 2)
	require.Len(t, p.Commitments, 1)
	assert.Equal(t, []int{2022}, []int(p.ReportedIndicators[0].Years))
	assert.Equal(t, "Target", p.Commitments[0].StatementType)
}

func TestParsePass2_InvalidItemDropped(t *testing.T) {
	text := `{
  "reported_indicators": [
    {"indicator_name": "", "years": 2022, "values_numeric": 1},
    {"indicator_name": "Total water withdrawal", "years": 1850, "values_numeric": 1},
    {"indicator_name": "Total water withdrawal", "years": 2022, "values_numeric": 12.5, "unit": "ML"}
  ],
  "commitments": [
    {"statement_type": "target"}
  ]
}`
	p, warnings, err := parsePass2(text)
	require.NoError(t, err)
	require.Len(t, p.ReportedIndicators, 1)
	assert.Empty(t, p.Commitments)
	assert.Len(t, warnings, 3)
	assert.Contains(t, warnings[0], "dropped reported indicator 0")
	assert.Contains(t, warnings[2], "dropped commitment 0")
}

func TestParsePass2_NotAnObject(t *testing.T) {
	for _, text := range []string{`[1, 2]`, `{"reported_indicators": "none"}`, "garbage"} {
		_, _, err := parsePass2(text)
		require.Error(t, err, text)
		assert.Equal(t, resilience.KindExtractionQuality, resilience.Classify(err), text)
	}
}

func TestParsePass2_NullLists(t *testing.T) {
	p, warnings, err := parsePass2(`{"reported_indicators": null, "commitments": null}`)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	cands, _ := p.Candidates()
	assert.Empty(t, cands)
}

func TestPass2Candidates(t *testing.T) {
	text := `{
  "reported_indicators": [
    {"indicator_name": "A", "years": [2021, 2022], "values_numeric": [1]},
    {"indicator_name": "B", "years": null, "values_numeric": 7.25, "unit": " % "},
    {"indicator_name": "C", "years": [2020, 2021], "values_numeric": [null, 3], "values_text": ["n/a", null]},
    {"indicator_name": "D", "years": 2022, "values_text": "ISO 14001 certified"},
    {"indicator_name": "E", "years": 2022}
  ],
  "commitments": []
}`
	p, warnings, err := parsePass2(text)
	require.NoError(t, err)
	require.Empty(t, warnings)

	cands, warnings := p.Candidates()
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], `"A"`)
	assert.Contains(t, warnings[0], "not aligned")
	assert.Contains(t, warnings[1], `"E"`)

	require.Len(t, cands, 4)
	assert.Equal(t, "B", cands[0].SurfaceName)
	assert.Nil(t, cands[0].Year)
	assert.Equal(t, "7.25", cands[0].RawValue)
	assert.Equal(t, "%", cands[0].RawUnit)

	assert.Equal(t, "n/a", cands[1].RawValue)
	assert.Equal(t, 2020, *cands[1].Year)
	assert.Equal(t, "3", cands[2].RawValue)
	assert.Equal(t, 2021, *cands[2].Year)

	assert.Equal(t, "ISO 14001 certified", cands[3].RawValue)
}

func TestPass1JSONSortedThemes(t *testing.T) {
	p := Pass1{
		"Water":     {ReportedIndicators: nil, Commitments: nil},
		"Emissions": {},
	}
	b, err := p.JSON()
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(b), "Emissions"), strings.Index(string(b), "Water"))
}
