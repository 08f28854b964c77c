// Package extractor resolves e-book landing pages to direct download URLs.
package extractor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Result is a resolved download link and the file format it points at.
type Result struct {
	URL    string
	Format string
}

// knownFormats are the e-book extensions worth following, in no
// particular order. Preference is applied separately.
var knownFormats = []string{"epub", "mobi", "azw3", "pdf", "fb2", "djvu", "cbz", "cbr", "txt", "rtf"}

// Extractor fetches e-book landing pages and pulls out download anchors.
// When a FlareSolverr URL is configured, pages are fetched through it to
// get past anti-bot challenges.
type Extractor struct {
	baseURL         string
	preferredFormat string
	httpClient      *http.Client
	solver          *FlareSolverrClient
	log             *slog.Logger
}

// New creates an extractor. flaresolverrURL may be empty, in which case
// pages are fetched directly.
func New(baseURL, preferredFormat, flaresolverrURL string, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	e := &Extractor{
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		preferredFormat: strings.ToLower(preferredFormat),
		log:             log.With("component", "extractor"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	if flaresolverrURL != "" {
		e.solver = NewFlareSolverrClient(flaresolverrURL, log)
	}
	return e
}

// Extract fetches pageURL and returns the best download link found on it.
// A page with no usable anchors yields (nil, nil); callers treat that as
// "try the next candidate", not an error.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (*Result, error) {
	html, err := e.fetch(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	links := e.collectLinks(doc, pageURL)
	if len(links) == 0 {
		e.log.Debug("no download links on page", "url", pageURL)
		return nil, nil
	}

	// Prefer the configured format, then fall back to the first link.
	if e.preferredFormat != "" {
		for _, l := range links {
			if l.Format == e.preferredFormat {
				return &l, nil
			}
		}
	}
	return &links[0], nil
}

// collectLinks walks the page's anchors and keeps those that point at a
// recognizable e-book file, resolving relative hrefs against pageURL.
func (e *Extractor) collectLinks(doc *goquery.Document, pageURL string) []Result {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	var links []Result
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		format := linkFormat(href, s.Text())
		if format == "" {
			return
		}
		resolved := href
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				resolved = base.ResolveReference(ref).String()
			}
		}
		if seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, Result{URL: resolved, Format: format})
	})
	return links
}

// linkFormat returns the e-book format an anchor points at, or "". The
// extension is taken from the href path first, then from the anchor text
// ("Download EPUB" style links on mirror pages).
func linkFormat(href, text string) string {
	path := href
	if u, err := url.Parse(href); err == nil && u.Path != "" {
		path = u.Path
	}
	lowerPath := strings.ToLower(path)
	for _, f := range knownFormats {
		if strings.HasSuffix(lowerPath, "."+f) {
			return f
		}
	}

	lowerText := strings.ToLower(text)
	if !strings.Contains(lowerText, "download") && !strings.Contains(lowerText, "get") {
		return ""
	}
	for _, f := range knownFormats {
		if strings.Contains(lowerText, f) {
			return f
		}
	}
	return ""
}

// fetch retrieves the page body, through FlareSolverr when configured.
func (e *Extractor) fetch(ctx context.Context, pageURL string) (string, error) {
	if e.solver != nil {
		return e.solver.Get(ctx, pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; bookarr)")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}
