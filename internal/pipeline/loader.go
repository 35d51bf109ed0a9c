package pipeline

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/fetcher"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/ocr"
	"github.com/sells-group/esg-extract/internal/resilience"
)

// Loader turns a report descriptor into per-page text.
type Loader interface {
	Load(ctx context.Context, report model.Report) (*model.Document, error)
}

// PDFLoader fetches the PDF and extracts its pages.
type PDFLoader struct {
	source *fetcher.Source
	ocr    ocr.Extractor
}

// NewPDFLoader wires a fetcher source and a text extractor.
func NewPDFLoader(src *fetcher.Source, ext ocr.Extractor) *PDFLoader {
	return &PDFLoader{source: src, ocr: ext}
}

// Load materializes report.Source locally, extracts its pages and removes
// any downloaded copy.
func (l *PDFLoader) Load(ctx context.Context, report model.Report) (*model.Document, error) {
	path, cleanup, err := l.source.Materialize(ctx, report.Source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	pages, err := l.ocr.ExtractPages(ctx, path)
	if err != nil {
		return nil, err
	}
	return &model.Document{Report: report, Pages: pages}, nil
}

// TextLoader serves pages held in memory, keyed by report source. It backs
// replay runs and tests.
type TextLoader map[string][]model.Page

// Load returns the pages stored for report.Source sorted by page number.
func (t TextLoader) Load(ctx context.Context, report model.Report) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pages, ok := t[report.Source]
	if !ok {
		return nil, resilience.NewPermanentError(eris.Errorf("pipeline: no text for %s", report.Source), 0)
	}
	out := append([]model.Page(nil), pages...)
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return &model.Document{Report: report, Pages: out}, nil
}
