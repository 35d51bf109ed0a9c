// Package extract runs the two LLM passes over selected pages: Pass 1 pulls
// raw indicator readings and commitments per theme and chunk, Pass 2
// standardises the aggregate against the catalogue.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/esg-extract/internal/catalogue"
	"github.com/sells-group/esg-extract/internal/cost"
	"github.com/sells-group/esg-extract/internal/llm"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/resilience"
	"github.com/sells-group/esg-extract/internal/selector"
)

// Extractor narrows a document to relevant pages and turns them into
// candidates.
type Extractor interface {
	SelectPages(doc *model.Document) []model.SelectedPage
	Extract(ctx context.Context, pages []model.SelectedPage) (*Result, error)
}

// Result is everything one extraction produced. On error it still carries
// the usage and warnings gathered so far.
type Result struct {
	Candidates []model.Candidate
	Pass1      Pass1
	Pass2      *Pass2
	Warnings   []string

	ChunksSent   int
	ChunksFailed int
	Usage        cost.Usage
	CostUSD      float64
}

func (r *Result) addUsage(resp *llm.Response) {
	r.Usage.Add(resp.Usage)
	r.CostUSD += resp.CostUSD
}

// Options tune chunking and fan-out.
type Options struct {
	MaxTokensPerRequest int
	MinChunkChars       int
	Pass1Fanout         int
	Pass2MaxTokens      int
}

func (o Options) withDefaults() Options {
	if o.MaxTokensPerRequest <= 0 {
		o.MaxTokensPerRequest = 10000
	}
	if o.MinChunkChars < 0 {
		o.MinChunkChars = 0
	}
	if o.Pass1Fanout <= 0 {
		o.Pass1Fanout = 4
	}
	return o
}

// LLMExtractor is the production Extractor. It is safe for concurrent use
// when its Completer is.
type LLMExtractor struct {
	cat         *catalogue.Catalogue
	sel         *selector.Selector
	completer   llm.Completer
	opts        Options
	pass2System string
}

// New builds an LLMExtractor.
func New(cat *catalogue.Catalogue, sel *selector.Selector, completer llm.Completer, opts Options) *LLMExtractor {
	return &LLMExtractor{
		cat:         cat,
		sel:         sel,
		completer:   completer,
		opts:        opts.withDefaults(),
		pass2System: fmt.Sprintf(pass2System, masterList(cat)),
	}
}

// SelectPages applies the page selector.
func (e *LLMExtractor) SelectPages(doc *model.Document) []model.SelectedPage {
	return e.sel.Select(doc)
}

// Extract runs both passes. No pages, no chunks or no Pass-1 items give an
// empty result and no error. Failing every Pass-1 request, or Pass 2, is an
// error.
func (e *LLMExtractor) Extract(ctx context.Context, pages []model.SelectedPage) (*Result, error) {
	res := &Result{Pass1: Pass1{}}
	if len(pages) == 0 {
		return res, nil
	}

	var chunks []chunk
	for _, th := range e.cat.Themes() {
		chunks = append(chunks, chunkPages(th.Name, pagesForTheme(pages, th.Name), e.opts.MaxTokensPerRequest, e.opts.MinChunkChars)...)
	}
	if len(chunks) == 0 {
		res.Warnings = append(res.Warnings, "no chunk reached the minimum size")
		return res, nil
	}

	if err := e.pass1(ctx, chunks, res); err != nil {
		return res, err
	}
	if res.Pass1.Items() == 0 {
		return res, nil
	}

	if err := e.pass2(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

func pagesForTheme(pages []model.SelectedPage, theme string) []model.SelectedPage {
	var out []model.SelectedPage
	for _, p := range pages {
		for _, t := range p.Themes {
			if t == theme {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// pass1 fans the chunks out up to the configured limit. A failed chunk
// contributes nothing and a warning.
func (e *LLMExtractor) pass1(ctx context.Context, chunks []chunk, res *Result) error {
	answers := make([]*Pass1Answer, len(chunks))
	errs := make([]error, len(chunks))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.opts.Pass1Fanout)
	for i, ch := range chunks {
		g.Go(func() error {
			th, _ := e.cat.Theme(ch.Theme)
			resp, err := e.completer.Complete(ctx, llm.Request{
				System: pass1System,
				Prompt: buildPass1Prompt(th, e.cat.ByTheme(ch.Theme), ch.Text),
				Tag:    "pass1:" + ch.Theme,
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			mu.Lock()
			res.addUsage(resp)
			mu.Unlock()

			a, err := parsePass1(resp.Text)
			if err != nil {
				errs[i] = err
				return nil
			}
			answers[i] = a
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "extract: pass1")
	}

	res.ChunksSent = len(chunks)
	var (
		callFailures int
		lastErr      error
	)
	for i, ch := range chunks {
		if err := errs[i]; err != nil {
			res.ChunksFailed++
			res.Warnings = append(res.Warnings, fmt.Sprintf("pass1 %s pages %v: %v", ch.Theme, ch.Pages, err))
			if resilience.Classify(err) != resilience.KindExtractionQuality {
				callFailures++
				lastErr = err
			}
			continue
		}
		if res.Pass1[ch.Theme] == nil {
			res.Pass1[ch.Theme] = &Pass1Answer{}
		}
		res.Pass1[ch.Theme].merge(answers[i])
	}

	zap.L().Debug("extract: pass1 done",
		zap.Int("chunks", len(chunks)),
		zap.Int("failed", res.ChunksFailed),
		zap.Int("items", res.Pass1.Items()),
	)

	if callFailures == len(chunks) {
		return eris.Wrap(lastErr, "extract: every pass1 request failed")
	}
	return nil
}

// pass2 sends the aggregate once and explodes the answer into candidates.
func (e *LLMExtractor) pass2(ctx context.Context, res *Result) error {
	raw, err := res.Pass1.JSON()
	if err != nil {
		return eris.Wrap(err, "extract: encode pass1")
	}

	resp, err := e.completer.Complete(ctx, llm.Request{
		System:    e.pass2System,
		Prompt:    fmt.Sprintf(pass2Prompt, raw),
		MaxTokens: e.opts.Pass2MaxTokens,
		Tag:       "pass2",
	})
	if err != nil {
		return eris.Wrap(err, "extract: pass2")
	}
	res.addUsage(resp)

	p2, warnings, err := parsePass2(resp.Text)
	if err != nil {
		return err
	}
	res.Pass2 = p2
	res.Warnings = append(res.Warnings, warnings...)

	cands, warnings := p2.Candidates()
	res.Warnings = append(res.Warnings, warnings...)
	res.Candidates = cands
	return nil
}

// Static is an Extractor that returns fixed pages and a fixed result.
// With nil Pages every document page is selected.
type Static struct {
	Pages  []model.SelectedPage
	Result *Result
	Err    error
}

// SelectPages returns s.Pages, or all of doc's pages.
func (s *Static) SelectPages(doc *model.Document) []model.SelectedPage {
	if s.Pages != nil {
		return s.Pages
	}
	out := make([]model.SelectedPage, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		out = append(out, model.SelectedPage{Page: p})
	}
	return out
}

// Extract returns a copy of s.Result and s.Err.
func (s *Static) Extract(ctx context.Context, _ []model.SelectedPage) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Result == nil {
		return &Result{Pass1: Pass1{}}, s.Err
	}
	r := *s.Result
	return &r, s.Err
}

// MarshalPass2 renders the Pass-2 answer for the artefact file.
func (r *Result) MarshalPass2() ([]byte, error) {
	if r.Pass2 == nil {
		return []byte("null"), nil
	}
	return json.MarshalIndent(r.Pass2, "", "  ")
}
