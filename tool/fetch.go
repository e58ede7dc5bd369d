package tool

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hupe1980/agentcouncil/internal/util"
	"github.com/hupe1980/agentcouncil/logging"
)

// FetchErrorPrefix starts every failed fetch result.
const FetchErrorPrefix = "Error reading URL: "

var (
	strippedTags = []string{"script", "style", "nav", "footer", "header", "noscript", "svg"}
	tagContentRe = func() map[string]*regexp.Regexp {
		m := make(map[string]*regexp.Regexp, len(strippedTags))
		for _, tag := range strippedTags {
			m[tag] = regexp.MustCompile(`(?is)<` + tag + `\b[^>]*>.*?</` + tag + `>`)
		}
		return m
	}()
	commentRe    = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockTagRe   = regexp.MustCompile(`(?i)</?(p|div|br|h[1-6]|li|tr|td|th|section|article|pre)\b[^>]*>`)
	anyTagRe     = regexp.MustCompile(`<[^>]*>`)
	spaceRe      = regexp.MustCompile(`[ \t\r\f\v\x{00A0}]+`)
	blankLinesRe = regexp.MustCompile(`\n\s*\n+`)
)

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	MaxChars  int
	Timeout   time.Duration
	UserAgent string
	Client    *http.Client
	Logger    logging.Logger
}

// Fetcher retrieves a URL as readable text.
type Fetcher struct {
	opts   FetcherOptions
	client *http.Client
	logger logging.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(optFns ...func(o *FetcherOptions)) *Fetcher {
	opts := FetcherOptions{
		MaxChars:  5000,
		Timeout:   15 * time.Second,
		UserAgent: defaultUserAgent,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Fetcher{opts: opts, client: client, logger: logging.OrNoOp(opts.Logger)}
}

// Fetch returns the page text of rawURL, capped at MaxChars. Failures are
// reported in the returned text with FetchErrorPrefix.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) string {
	body, err := f.get(ctx, "fetch_url", rawURL)
	if err != nil {
		return FetchErrorPrefix + err.Error()
	}
	return util.Truncate(HTMLToText(body), f.opts.MaxChars)
}

func (f *Fetcher) get(ctx context.Context, name, rawURL string) (body string, err error) {
	start := time.Now()
	defer func() { logging.LogToolCall(f.logger, name, time.Since(start), err == nil, err) }()

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", NewToolError(name, fmt.Sprintf("invalid url %q", rawURL), CodeValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", NewToolError(name, err.Error(), CodeValidation)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", NewToolError(name, "request timed out", CodeTimeout)
		}
		return "", NewToolError(name, err.Error(), CodeProviderError)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", NewToolError(name, fmt.Sprintf("HTTP %d", resp.StatusCode), CodeProviderError)
	}

	// read a little past the cap; markup shrinks when stripped
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.opts.MaxChars)*20+4096))
	if err != nil {
		return "", NewToolError(name, err.Error(), CodeProviderError)
	}
	return string(data), nil
}

// HTMLToText strips non-content elements and markup, decodes entities and
// collapses whitespace.
func HTMLToText(page string) string {
	page = commentRe.ReplaceAllString(page, "")
	for _, tag := range strippedTags {
		page = tagContentRe[tag].ReplaceAllString(page, "")
	}
	page = blockTagRe.ReplaceAllString(page, "\n")
	page = anyTagRe.ReplaceAllString(page, "")
	page = html.UnescapeString(page)
	page = spaceRe.ReplaceAllString(page, " ")
	page = blankLinesRe.ReplaceAllString(page, "\n")

	lines := strings.Split(page, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func cleanText(s string) string {
	s = anyTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
