// Package fetch downloads URLs for media ingestion and reduces them to
// readable text: HTML is stripped of navigation and other boilerplate,
// plain text passes through, and binary payloads are described rather
// than returned.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/parley-agent/parley/internal/httpkit"
)

// DefaultTimeout is the HTTP request timeout for fetching pages.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBytes is the maximum response body size (5 MB).
const DefaultMaxBytes int64 = 5 * 1024 * 1024

// DefaultMaxChars is the default character limit for extracted text.
const DefaultMaxChars = 50000

// Result holds the fetched and extracted content from a URL.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	Length      int    `json:"length"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Fetcher. maxBytes caps the response body size; pass 0
// for the default.
func New(maxBytes int64) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{
		client: httpkit.NewClient(
			httpkit.WithTimeout(DefaultTimeout),
			httpkit.WithRetry(2, time.Second),
		),
		maxBytes: maxBytes,
	}
}

// payload is one downloaded response body before text reduction.
type payload struct {
	url         string
	body        []byte
	contentType string
	status      int
}

// Fetch downloads the URL and extracts readable text content.
// maxChars limits the output length; 0 uses DefaultMaxChars.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("fetch: url is required")
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	p, err := f.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	res := &Result{
		URL:         p.url,
		ContentType: p.contentType,
		StatusCode:  p.status,
	}

	title, text, readable := render(p)
	res.Title = title
	if !readable {
		res.Content = text
		res.Length = len(p.body)
		return res, nil
	}

	if utf8.RuneCountInString(text) > maxChars {
		text = clipRunes(text, maxChars)
		res.Truncated = true
	}
	res.Content = text
	res.Length = len(text)
	return res, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL string) (*payload, error) {
	// Scheme-less input is common from chat; assume https.
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: failed to read response: %w", err)
	}

	return &payload{
		url:         rawURL,
		body:        body,
		contentType: resp.Header.Get("Content-Type"),
		status:      resp.StatusCode,
	}, nil
}

// render reduces a payload to a title and text. readable is false when
// the body is binary; text then carries a short description instead of
// content.
func render(p *payload) (title, text string, readable bool) {
	switch mediaType(p.contentType) {
	case "text/html", "application/xhtml+xml":
		title, text = extractHTML(string(p.body))
		return title, text, true
	case "text/plain":
		return "", string(p.body), true
	default:
		if utf8.Valid(p.body) {
			return "", string(p.body), true
		}
		return "", fmt.Sprintf("Binary content (%s), %d bytes", p.contentType, len(p.body)), false
	}
}

// mediaType returns the bare media type, lowercased, with parameters
// such as charset stripped.
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mt
}

// clipRunes cuts s to at most maxChars runes without splitting a
// multi-byte character.
func clipRunes(s string, maxChars int) string {
	seen := 0
	for i := range s {
		if seen == maxChars {
			return s[:i]
		}
		seen++
	}
	return s
}
