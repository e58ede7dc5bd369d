package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/agentcouncil/internal/util"
	"github.com/hupe1980/agentcouncil/logging"
)

// NoResults is the formatted output of an empty search.
const NoResults = "No results found."

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var (
	ddgTitleRe   = regexp.MustCompile(`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.+?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet"[^>]*>(.+?)</a>`)
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// WebSearchOptions configures a WebSearch.
type WebSearchOptions struct {
	BaseURL    string
	MaxResults int
	Timeout    time.Duration
	UserAgent  string
	// RequestsPerSecond bounds outbound queries; 0 disables the limit.
	RequestsPerSecond float64
	Client            *http.Client
	Logger            logging.Logger
}

// WebSearch queries the DuckDuckGo HTML endpoint.
type WebSearch struct {
	opts    WebSearchOptions
	client  *http.Client
	limiter *rate.Limiter
	logger  logging.Logger
}

// NewWebSearch creates a WebSearch.
func NewWebSearch(optFns ...func(o *WebSearchOptions)) *WebSearch {
	opts := WebSearchOptions{
		BaseURL:           "https://html.duckduckgo.com/html/",
		MaxResults:        5,
		Timeout:           10 * time.Second,
		UserAgent:         defaultUserAgent,
		RequestsPerSecond: 1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &WebSearch{opts: opts, client: client, limiter: limiter, logger: logging.OrNoOp(opts.Logger)}
}

// Search runs query and returns at most MaxResults hits. Unparseable pages
// yield an empty result, not an error.
func (w *WebSearch) Search(ctx context.Context, query string) (results []SearchResult, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, NewToolError("web_search", "query is required", CodeValidation)
	}
	start := time.Now()
	defer func() { logging.LogToolCall(w.logger, "web_search", time.Since(start), err == nil, err) }()

	if err := w.limiter.Wait(ctx); err != nil {
		return nil, NewToolError("web_search", err.Error(), CodeTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.opts.BaseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, NewToolError("web_search", err.Error(), CodeValidation)
	}
	req.Header.Set("User-Agent", w.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewToolError("web_search", err.Error(), CodeTimeout)
		}
		return nil, NewToolError("web_search", err.Error(), CodeProviderError)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, NewToolError("web_search", fmt.Sprintf("HTTP %d", resp.StatusCode), CodeProviderError)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, NewToolError("web_search", err.Error(), CodeProviderError)
	}

	results = parseResults(string(body))
	if len(results) > w.opts.MaxResults {
		results = results[:w.opts.MaxResults]
	}
	return results, nil
}

func parseResults(page string) []SearchResult {
	titles := ddgTitleRe.FindAllStringSubmatch(page, 30)
	snippets := ddgSnippetRe.FindAllStringSubmatch(page, 30)

	var out []SearchResult
	for i, m := range titles {
		link := resolveResultURL(strings.ReplaceAll(m[1], "&amp;", "&"))
		title := cleanText(m[2])
		if link == "" || title == "" {
			continue
		}
		var snippet string
		if i < len(snippets) {
			snippet = cleanText(snippets[i][1])
		}
		out = append(out, SearchResult{Title: title, URL: link, Snippet: snippet})
	}
	return out
}

// resolveResultURL unwraps the //duckduckgo.com/l/?uddg= redirect.
func resolveResultURL(raw string) string {
	if strings.Contains(raw, "uddg=") {
		if strings.HasPrefix(raw, "//") {
			raw = "https:" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return ""
}

// Format renders results as a numbered list.
func Format(results []SearchResult) string {
	if len(results) == 0 {
		return NoResults
	}
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "\n   %s", util.Ellipsize(r.Snippet, 300))
		}
	}
	return sb.String()
}

// URLs returns the result links in order.
func URLs(results []SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.URL)
	}
	return out
}
