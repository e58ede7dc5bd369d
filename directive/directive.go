// Package directive extracts side-effect requests embedded in free text.
//
// The grammar is closed: a directive is a single line
//
//	[VERB: payload]
//
// where VERB is one of IMAGE, VIDEO, SEARCH, FETCH, GITHUB or RUN (case
// insensitive) and payload is non-empty and contains neither ']' nor a line
// break. RUN takes a language as the first word of its payload; the source is
// the rest of the payload or, when empty, the fenced block that follows the
// directive. Text is NFKC-normalized first so full-width brackets and colons
// are recognized. Anything else is plain text.
package directive

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Verb names a directive.
type Verb string

const (
	VerbImage  Verb = "IMAGE"
	VerbVideo  Verb = "VIDEO"
	VerbSearch Verb = "SEARCH"
	VerbFetch  Verb = "FETCH"
	VerbGitHub Verb = "GITHUB"
	VerbRun    Verb = "RUN"
)

// MaxPerText caps the directives extracted from one text.
const MaxPerText = 5

// Directive is one parsed request.
type Directive struct {
	Verb     Verb
	Payload  string
	Language string // RUN only
	Source   string // RUN only
	Raw      string
}

var (
	directiveRe = regexp.MustCompile(`(?i)\[(IMAGE|VIDEO|SEARCH|FETCH|GITHUB|RUN):[ \t]*([^\]\n]+?)[ \t]*\]`)
	fenceRe     = regexp.MustCompile("(?s)^\\s*```[A-Za-z0-9_+-]*\\n(.*?)\\n?```")
)

// Normalize applies the NFKC folding used before matching.
func Normalize(text string) string {
	return norm.NFKC.String(text)
}

// Extract returns the directives of text in order of appearance, without
// duplicates and at most MaxPerText.
func Extract(text string) []Directive {
	text = Normalize(text)
	matches := directiveRe.FindAllStringSubmatchIndex(text, -1)

	var out []Directive
	seen := map[string]bool{}
	for _, m := range matches {
		d := Directive{
			Verb:    Verb(strings.ToUpper(text[m[2]:m[3]])),
			Payload: strings.TrimSpace(text[m[4]:m[5]]),
			Raw:     text[m[0]:m[1]],
		}
		if d.Payload == "" {
			continue
		}
		if d.Verb == VerbRun && !parseRun(&d, text[m[1]:]) {
			continue
		}

		key := string(d.Verb) + "\x00" + d.Payload + "\x00" + d.Source
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
		if len(out) == MaxPerText {
			break
		}
	}
	return out
}

// parseRun fills Language and Source; rest is the text after the directive.
func parseRun(d *Directive, rest string) bool {
	fields := strings.SplitN(d.Payload, " ", 2)
	d.Language = strings.ToLower(strings.TrimSpace(fields[0]))
	if len(fields) == 2 && strings.TrimSpace(fields[1]) != "" {
		d.Source = strings.TrimSpace(fields[1])
		return true
	}
	if m := fenceRe.FindStringSubmatch(rest); m != nil && strings.TrimSpace(m[1]) != "" {
		d.Source = m[1]
		return true
	}
	return false
}

// Whole reports whether text consists of exactly one directive and nothing
// else.
func Whole(text string) (Directive, bool) {
	trimmed := strings.TrimSpace(Normalize(text))
	ds := Extract(trimmed)
	if len(ds) != 1 || ds[0].Raw != trimmed {
		return Directive{}, false
	}
	return ds[0], true
}
