// Package ocr turns a PDF on disk into per-page text.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/config"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/resilience"
)

// Extractor extracts per-page text from PDF files. Page numbers are 1-based
// and follow the physical page order.
type Extractor interface {
	ExtractPages(ctx context.Context, pdfPath string) ([]model.Page, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, resilience.NewConfigError(eris.New("ocr: mistral provider requires mistral_api_key"))
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, resilience.NewConfigError(eris.Errorf("ocr: unknown provider %q", cfg.Provider))
	}
}
