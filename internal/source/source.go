// Package source builds report descriptors: company id, display name and
// report-year hint for each PDF a run will process.
package source

import (
	"io/fs"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/model"
)

var (
	yearSegmentRE = regexp.MustCompile(`^(?:19|20)\d{2}$`)
	yearTokenRE   = regexp.MustCompile(`(?:^|[^0-9])((?:19|20)\d{2})(?:[^0-9]|$)`)
	slugRE        = regexp.MustCompile(`[^a-z0-9]+`)
)

// ObjectKey returns the path-like key of a source: the URL path for remote
// sources, the cleaned path otherwise. Leading slashes are dropped.
func ObjectKey(source string) string {
	if u, err := url.Parse(source); err == nil && len(u.Scheme) > 1 {
		return strings.TrimLeft(u.Path, "/")
	}
	return strings.TrimLeft(filepath.ToSlash(filepath.Clean(source)), "/")
}

// YearHint derives the report-year hint for key: the first path segment
// when it is a year, else the first year token in the file name, else
// fallback. Zero means unknown.
func YearHint(key string, fallback int) int {
	key = strings.TrimLeft(filepath.ToSlash(key), "/")
	if first, _, found := strings.Cut(key, "/"); found && yearSegmentRE.MatchString(first) {
		y, _ := strconv.Atoi(first)
		return y
	}
	if m := yearTokenRE.FindStringSubmatch(path.Base(key)); m != nil {
		y, _ := strconv.Atoi(m[1])
		return y
	}
	return fallback
}

// Slug lowercases s and joins alphanumeric runs with dashes.
func Slug(s string) string {
	return strings.Trim(slugRE.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// companyFromName strips a trailing _<year> from a file stem.
func companyFromName(stem string) string {
	if i := strings.LastIndex(stem, "_"); i > 0 && yearSegmentRE.MatchString(stem[i+1:]) {
		return stem[:i]
	}
	return stem
}

func stem(p string) string {
	base := path.Base(filepath.ToSlash(p))
	return strings.TrimSuffix(base, path.Ext(base))
}

// FromSource builds a Report for a single source. An empty companyID is
// derived from the file name.
func FromSource(src, companyID, companyName string, year int) (model.Report, error) {
	if strings.TrimSpace(src) == "" {
		return model.Report{}, eris.New("source: empty pdf source")
	}
	key := ObjectKey(src)
	if companyID == "" {
		companyID = Slug(companyFromName(stem(key)))
	}
	if companyID == "" {
		return model.Report{}, eris.Errorf("source: cannot derive company id from %q", src)
	}
	return model.Report{
		CompanyID:   companyID,
		CompanyName: companyName,
		ReportYear:  YearHint(key, year),
		Source:      src,
	}, nil
}

// ScanDir lists PDFs under dir. Both <dir>/<year>/<company>.pdf and
// <dir>/<company>_<year>.pdf layouts are understood. Results are sorted by
// source path.
func ScanDir(dir string) ([]model.Report, error) {
	var out []model.Report
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".pdf") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		company := companyFromName(stem(key))
		out = append(out, model.Report{
			CompanyID:   Slug(company),
			CompanyName: company,
			ReportYear:  YearHint(key, 0),
			Source:      p,
		})
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: scan %s", dir)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}
