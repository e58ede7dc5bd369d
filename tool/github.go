package tool

import (
	"context"
	"net/url"
	"strings"

	"github.com/hupe1980/agentcouncil/internal/util"
)

// GitHubFetcher retrieves file content from GitHub blob URLs.
type GitHubFetcher struct {
	fetcher *Fetcher
	// RawBase replaces https://raw.githubusercontent.com.
	RawBase  string
	MaxChars int
}

// NewGitHubFetcher creates a GitHubFetcher on top of f.
func NewGitHubFetcher(f *Fetcher) *GitHubFetcher {
	return &GitHubFetcher{fetcher: f, RawBase: "https://raw.githubusercontent.com", MaxChars: 10000}
}

// RawURL rewrites https://github.com/{owner}/{repo}/blob/{ref}/{path} to
// the raw content URL. Other URLs are returned unchanged.
func (g *GitHubFetcher) RawURL(blobURL string) string {
	u, err := url.Parse(strings.TrimSpace(blobURL))
	if err != nil || !strings.EqualFold(strings.TrimPrefix(u.Host, "www."), "github.com") {
		return blobURL
	}
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 5)
	if len(parts) < 5 || parts[2] != "blob" {
		return blobURL
	}
	return strings.TrimRight(g.RawBase, "/") + "/" + parts[0] + "/" + parts[1] + "/" + parts[3] + "/" + parts[4]
}

// Fetch returns the raw file content without HTML stripping.
func (g *GitHubFetcher) Fetch(ctx context.Context, blobURL string) string {
	body, err := g.fetcher.get(ctx, "github_fetch", g.RawURL(blobURL))
	if err != nil {
		return FetchErrorPrefix + err.Error()
	}
	return util.Truncate(body, g.MaxChars)
}
