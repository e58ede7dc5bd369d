package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentcouncil/code"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/directive"
)

// Searcher runs web searches. *WebSearch satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// Reader retrieves a URL as text, reporting failures inline.
// *Fetcher and *GitHubFetcher satisfy it.
type Reader interface {
	Fetch(ctx context.Context, url string) string
}

// MediaGenerator returns the URL of generated media.
type MediaGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Output is the streamed result of one directive.
type Output struct {
	Verb        directive.Verb   `json:"verb"`
	Content     string           `json:"content"`
	ContentType core.ContentType `json:"content_type"`
	Err         error            `json:"-"`
}

// Dispatcher executes directives with the configured tools. Nil tools report
// NOT_CONFIGURED.
type Dispatcher struct {
	Search Searcher
	Fetch  Reader
	GitHub Reader
	Image  MediaGenerator
	Video  MediaGenerator
	Code   code.Executor
}

// Execute runs d and always returns a displayable Output.
func (d *Dispatcher) Execute(ctx context.Context, dir directive.Directive) Output {
	out := Output{Verb: dir.Verb, ContentType: core.ContentText}

	switch dir.Verb {
	case directive.VerbSearch:
		if d.Search == nil {
			return notConfigured(out, "web_search")
		}
		results, err := d.Search.Search(ctx, dir.Payload)
		if err != nil {
			out.Err = err
			out.Content = "Search failed: " + err.Error()
			return out
		}
		out.Content = fmt.Sprintf("🔍 Search results for %q:\n\n%s", dir.Payload, Format(results))

	case directive.VerbFetch, directive.VerbGitHub:
		r, name := d.Fetch, "fetch_url"
		if dir.Verb == directive.VerbGitHub {
			r, name = d.GitHub, "github_fetch"
		}
		if r == nil {
			return notConfigured(out, name)
		}
		text := r.Fetch(ctx, dir.Payload)
		if strings.HasPrefix(text, FetchErrorPrefix) {
			out.Err = NewToolError(name, strings.TrimPrefix(text, FetchErrorPrefix), CodeProviderError)
			out.Content = text
			return out
		}
		if dir.Verb == directive.VerbGitHub {
			out.Content = fmt.Sprintf("📄 %s\n```\n%s\n```", dir.Payload, text)
		} else {
			out.Content = fmt.Sprintf("📄 Content from %s:\n\n%s", dir.Payload, text)
		}

	case directive.VerbImage, directive.VerbVideo:
		g, name, ct := d.Image, "image_generation", core.ContentImage
		if dir.Verb == directive.VerbVideo {
			g, name, ct = d.Video, "video_generation", core.ContentVideo
		}
		if g == nil {
			return notConfigured(out, name)
		}
		link, err := g.Generate(ctx, dir.Payload)
		if err != nil {
			out.Err = err
			out.Content = fmt.Sprintf("%s failed: %v", mediaLabel(dir.Verb), err)
			return out
		}
		out.Content, out.ContentType = link, ct

	case directive.VerbRun:
		if d.Code == nil {
			return notConfigured(out, "code_execution")
		}
		if strings.TrimSpace(dir.Source) == "" {
			out.Err = NewToolError("code_execution", "no source to run", CodeValidation)
			out.Content = "Code execution skipped: no source to run."
			return out
		}
		res, err := d.Code.Execute(ctx, dir.Language, dir.Source)
		if err != nil {
			errCode := CodeExecution
			if errors.Is(err, code.ErrNoIsolation) {
				errCode = CodeNotConfigured
			}
			out.Err = &ToolError{Tool: "code_execution", Message: err.Error(), Code: errCode}
			out.Content = "Code execution failed: " + err.Error()
			return out
		}
		out.Content = res.String()
		if !res.OK() {
			errCode := CodeExecution
			if res.TimedOut {
				errCode = CodeTimeout
			}
			out.Err = NewToolError("code_execution", fmt.Sprintf("exit code %d", res.ExitCode), errCode)
		}

	default:
		out.Err = NewToolError(string(dir.Verb), "unknown directive", CodeValidation)
		out.Content = "Unknown directive " + string(dir.Verb)
	}
	return out
}

func notConfigured(out Output, name string) Output {
	out.Err = NewToolError(name, "tool is not configured", CodeNotConfigured)
	out.Content = fmt.Sprintf("%s is not configured.", name)
	return out
}

func mediaLabel(v directive.Verb) string {
	if v == directive.VerbVideo {
		return "Video generation"
	}
	return "Image generation"
}
