// Package fetcher turns a PDF source (local path, file://, http(s):// or
// ftp:// URL) into a local file the text extractor can read.
package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/internal/config"
	"github.com/sells-group/esg-extract/internal/resilience"
)

// Fetcher downloads remote bytes.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

var pdfMagic = []byte("%PDF-")

// Source resolves PDF sources to local files, downloading remote ones into
// a temp directory.
type Source struct {
	http    Fetcher
	ftp     Fetcher
	tempDir string
}

// NewSource builds a Source from the fetch config.
func NewSource(cfg config.FetchConfig) *Source {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	return &Source{
		http: NewHTTPFetcher(HTTPOptions{
			UserAgent:  cfg.UserAgent,
			Timeout:    timeout,
			MaxRetries: cfg.MaxRetries,
			RateLimit:  cfg.RateLimit,
		}),
		ftp:     NewFTPFetcher(FTPOptions{Timeout: timeout}),
		tempDir: cfg.TempDir,
	}
}

// NewSourceWith wires explicit fetchers. Nil fetchers disable that scheme.
func NewSourceWith(httpF, ftpF Fetcher, tempDir string) *Source {
	return &Source{http: httpF, ftp: ftpF, tempDir: tempDir}
}

// Materialize returns a local path holding the PDF named by source. The
// cleanup func removes any downloaded copy and is never nil. A source that
// does not start with the PDF magic bytes is a permanent error.
func (s *Source) Materialize(ctx context.Context, source string) (string, func(), error) {
	noop := func() {}

	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path (a one-letter scheme is a Windows drive).
		if err := checkPDF(source); err != nil {
			return "", noop, err
		}
		return source, noop, nil
	}

	var f Fetcher
	switch strings.ToLower(u.Scheme) {
	case "file":
		if err := checkPDF(u.Path); err != nil {
			return "", noop, err
		}
		return u.Path, noop, nil
	case "http", "https":
		f = s.http
	case "ftp":
		f = s.ftp
	}
	if f == nil {
		return "", noop, resilience.NewPermanentError(eris.Errorf("fetcher: unsupported source scheme %q", u.Scheme), 0)
	}

	dir := s.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", noop, eris.Wrapf(err, "fetcher: create temp dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "report-*.pdf")
	if err != nil {
		return "", noop, eris.Wrap(err, "fetcher: create temp file")
	}
	path := tmp.Name()
	_ = tmp.Close()
	cleanup := func() { _ = os.Remove(path) }

	start := time.Now()
	n, err := f.DownloadToFile(ctx, source, path)
	if err != nil {
		cleanup()
		return "", noop, err
	}
	zap.L().Debug("fetcher: downloaded pdf",
		zap.String("source", source),
		zap.Int64("bytes", n),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	if err := checkPDF(path); err != nil {
		cleanup()
		return "", noop, eris.Wrapf(err, "fetcher: %s", source)
	}
	return path, cleanup, nil
}

// checkPDF verifies the file exists and carries the PDF header.
func checkPDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return resilience.NewPermanentError(eris.Wrapf(err, "fetcher: open %s", filepath.Base(path)), 0)
	}
	defer f.Close() //nolint:errcheck

	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, pdfMagic) {
		return resilience.NewPermanentError(eris.Errorf("fetcher: %s is not a pdf", filepath.Base(path)), 0)
	}
	return nil
}
