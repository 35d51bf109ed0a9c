package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/esg-extract/internal/llm"
	"github.com/sells-group/esg-extract/internal/model"
)

// chunk is one Pass-1 request worth of pages for a theme.
type chunk struct {
	Theme string
	Pages []int
	Text  string

	// content counts page text only, without markers.
	content int
}

// pageMarker is the delimiter the prompts refer to.
func pageMarker(n int) string {
	return fmt.Sprintf("--- PAGE %d ---", n)
}

func renderPage(n int, text string) string {
	return pageMarker(n) + "\n\n" + strings.TrimSpace(text)
}

// RenderPages joins pages with their markers, the same text Pass 1 sees.
func RenderPages(pages []model.SelectedPage) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, renderPage(p.Number, p.Text))
	}
	return strings.Join(parts, "\n\n")
}

// chunkPages groups the theme's pages, in order, into contiguous chunks of
// at most maxTokens estimated tokens. A page that alone exceeds the ceiling
// is split on line boundaries; each part keeps the page marker. Chunks with
// fewer than minChars characters of page text are dropped.
func chunkPages(theme string, pages []model.SelectedPage, maxTokens, minChars int) []chunk {
	var (
		out    []chunk
		cur    chunk
		curTok int
	)
	flush := func() {
		if len(cur.Pages) > 0 && cur.content >= minChars {
			out = append(out, cur)
		}
		cur = chunk{Theme: theme}
		curTok = 0
	}
	add := func(n int, text string) {
		seg := renderPage(n, text)
		tok := llm.EstimateTokens(seg)
		if len(cur.Pages) > 0 && curTok+tok > maxTokens {
			flush()
		}
		if cur.Text != "" {
			cur.Text += "\n\n"
			curTok++
		}
		cur.Text += seg
		cur.content += len(strings.TrimSpace(text))
		curTok += tok
		if len(cur.Pages) == 0 || cur.Pages[len(cur.Pages)-1] != n {
			cur.Pages = append(cur.Pages, n)
		}
	}

	cur.Theme = theme
	for _, p := range pages {
		if llm.EstimateTokens(renderPage(p.Number, p.Text)) <= maxTokens {
			add(p.Number, p.Text)
			continue
		}
		flush()
		for _, part := range splitLines(p.Text, maxTokens-llm.EstimateTokens(pageMarker(p.Number))-1) {
			add(p.Number, part)
			flush()
		}
	}
	flush()
	return out
}

// splitLines cuts text into parts of at most maxTokens estimated tokens,
// breaking only between lines. A single line longer than the budget is cut
// at the character limit.
func splitLines(text string, maxTokens int) []string {
	if maxTokens < 1 {
		maxTokens = 1
	}
	limit := maxTokens * 4

	var (
		parts []string
		b     strings.Builder
	)
	emit := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			parts = append(parts, s)
		}
		b.Reset()
	}
	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			cut := limit
			for cut > 1 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			emit()
			b.WriteString(line[:cut])
			emit()
			line = line[cut:]
		}
		if b.Len() > 0 && b.Len()+1+len(line) > limit {
			emit()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	emit()
	return parts
}
