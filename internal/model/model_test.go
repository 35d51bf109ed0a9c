package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStatementType(t *testing.T) {
	st, ok := ParseStatementType("target")
	assert.True(t, ok)
	assert.Equal(t, StatementTarget, st)

	_, ok = ParseStatementType("aspiration")
	assert.False(t, ok)
}

func TestNormalized_Add(t *testing.T) {
	var n Normalized
	assert.True(t, n.Empty())

	n.Add(&NormalizedMetric{IndicatorID: "scope_1_emissions", Warning: true})
	n.Add(&NormalizedMetric{IndicatorID: "scope_2_emissions"})
	n.Add(&NormalizedCommitment{IndicatorID: "scope_2_emissions"})
	n.Add(&Rejection{SurfaceName: "employee happiness index", Unresolved: true})

	assert.Len(t, n.Metrics, 2)
	assert.Len(t, n.Commitments, 1)
	assert.Len(t, n.Rejections, 1)
	assert.Equal(t, 1, n.Warnings())
	assert.False(t, n.Empty())
}

func TestDocument_PageCount(t *testing.T) {
	d := Document{Pages: []Page{{Number: 1}, {Number: 2}}}
	assert.Equal(t, 2, d.PageCount())
}

func TestLineage_AddWarning(t *testing.T) {
	var l Lineage
	l.AddWarning("no relevant pages")
	assert.Equal(t, []string{"no relevant pages"}, l.Warnings)
}
