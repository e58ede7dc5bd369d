// Package classify holds the text heuristics that steer the council: simple
// and media fast paths, debate routing, review verdicts and temporal hints.
// Each classifier is a plain function so the controller can swap any of them
// through Set.
package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/agentcouncil/directive"
	"golang.org/x/text/unicode/norm"
)

// MediaKind is the type of a media fast-path request.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// MediaRequest is a detected media generation request.
type MediaRequest struct {
	Kind   MediaKind
	Prompt string
}

// Verdict is the outcome of a review.
type Verdict int

const (
	Approved Verdict = iota
	Rejected
)

func (v Verdict) String() string {
	if v == Approved {
		return "approved"
	}
	return "rejected"
}

// Set bundles the classifiers used by the controller.
type Set struct {
	Simple   func(input string) bool
	Media    func(input string) (MediaRequest, bool)
	Complex  func(input string) bool
	Review   func(critique string) Verdict
	Temporal func(input string) bool
}

// Default returns the keyword-based classifiers.
func Default() Set {
	return Set{
		Simple:   IsSimple,
		Media:    DetectMedia,
		Complex:  IsComplex,
		Review:   Review,
		Temporal: IsTemporal,
	}
}

// Thresholds of the default classifiers.
const (
	SimpleMaxChars   = 60
	SimpleMaxWords   = 8
	ComplexMinChars  = 400
	ComplexMinFenced = 15 // fenced lines that make a paste code-heavy
)

// fold NFKC-normalizes and lowercases text for keyword matching.
func fold(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

func wordRe(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

var (
	greetingRe = regexp.MustCompile(`^(?:hi|hello|hey|hiya|howdy|yo|sup|greetings|good (?:morning|afternoon|evening|night)|thanks|thank you|thx|ok|okay|cool|nice|great|bye|goodbye|how are you|what's up|whats up)\b`)
	taskRe     = wordRe(
		"code", "write", "implement", "function", "class", "script", "build", "create",
		"debug", "fix", "error", "bug", "program", "algorithm", "sql", "api", "refactor",
		"deploy", "compile", "explain", "calculate", "analyze", "analyse", "design",
		"generate", "optimize", "test", "python", "javascript", "typescript", "golang",
		"java", "rust", "regex", "query", "search", "prove", "solve",
	)
	reasoningRe = wordRe(
		"prove", "proof", "theorem", "lemma", "derive", "derivation", "invariant",
		"formally", "rigorous", "rigorously", "step by step", "trade-offs", "tradeoffs",
		"complexity", "correctness", "contradiction", "induction",
	)
	temporalRe = wordRe("today", "now", "current", "latest", "date", "time", "this year", "recent")
	mediaRe    = regexp.MustCompile(`(?is)^(image|video)\s*:\s*(.+)$`)

	verdictRe = regexp.MustCompile(`verdict[\s:*_]{1,8}(approved|rejected)`)
	negatedRe = regexp.MustCompile(`\bno\s+(?:major\s+|critical\s+|obvious\s+|significant\s+|remaining\s+)?(?:issues?|bugs?|errors?|problems?|flaws?|concerns?)\b`)
	approveRe = wordRe(
		"approved", "approve", "lgtm", "looks good", "correct", "well done", "production-ready",
		"production ready", "solid", "passes", "works as expected", "good job", "accurate",
	)
	criticalRe = wordRe(
		"bug", "bugs", "error", "errors", "incorrect", "wrong", "fails", "failure", "missing",
		"vulnerability", "vulnerable", "insecure", "crash", "crashes", "broken", "flaw", "flaws",
		"issue", "issues", "problem", "problems", "must fix", "rejected", "reject", "critical",
		"race condition", "leak", "deadlock",
	)
)

// IsSimple reports whether input is a trivial chat turn: short, no code fence,
// not a media request, no task keywords and either greeting-like or only a
// few words.
func IsSimple(input string) bool {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > SimpleMaxChars {
		return false
	}
	if strings.Contains(trimmed, "```") {
		return false
	}
	if _, ok := DetectMedia(trimmed); ok {
		return false
	}
	if len(directive.Extract(trimmed)) > 0 {
		return false
	}
	text := fold(trimmed)
	if taskRe.MatchString(text) || strings.Contains(text, "http://") || strings.Contains(text, "https://") {
		return false
	}
	return greetingRe.MatchString(text) || len(strings.Fields(text)) <= SimpleMaxWords
}

// DetectMedia recognizes "image: ..." / "video: ..." prefixes and requests that
// consist of a single IMAGE or VIDEO directive.
func DetectMedia(input string) (MediaRequest, bool) {
	trimmed := strings.TrimSpace(norm.NFKC.String(input))
	if m := mediaRe.FindStringSubmatch(trimmed); m != nil {
		if prompt := strings.TrimSpace(m[2]); prompt != "" {
			return MediaRequest{Kind: MediaKind(strings.ToLower(m[1])), Prompt: prompt}, true
		}
	}
	if d, ok := directive.Whole(trimmed); ok {
		switch d.Verb {
		case directive.VerbImage:
			return MediaRequest{Kind: MediaImage, Prompt: d.Payload}, true
		case directive.VerbVideo:
			return MediaRequest{Kind: MediaVideo, Prompt: d.Payload}, true
		}
	}
	return MediaRequest{}, false
}

// IsComplex routes input to the debate protocol: long requests, reasoning-
// heavy topics or large code pastes.
func IsComplex(input string) bool {
	if utf8.RuneCountInString(input) > ComplexMinChars {
		return true
	}
	if len(reasoningRe.FindAllString(fold(input), -1)) >= 2 {
		return true
	}
	return fencedLines(input) >= ComplexMinFenced
}

func fencedLines(s string) int {
	n, inside := 0, false
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inside = !inside
			continue
		}
		if inside {
			n++
		}
	}
	return n
}

// Review classifies a critique. An explicit "VERDICT: APPROVED/REJECTED"
// decides (the last one wins). Otherwise approval wins unless critical
// language is dense: at least three critical hits outnumbering approvals
// two to one. Critique without any signal counts as approval; critical
// language without approval does not.
func Review(critique string) Verdict {
	text := fold(critique)
	if ms := verdictRe.FindAllStringSubmatch(text, -1); len(ms) > 0 {
		if ms[len(ms)-1][1] == "approved" {
			return Approved
		}
		return Rejected
	}

	negated := len(negatedRe.FindAllString(text, -1))
	text = negatedRe.ReplaceAllString(text, " ")
	approvals := len(approveRe.FindAllString(text, -1)) + negated
	critical := len(criticalRe.FindAllString(text, -1))

	switch {
	case critical == 0:
		return Approved
	case approvals == 0:
		return Rejected
	case critical >= 3 && critical >= 2*approvals:
		return Rejected
	default:
		return Approved
	}
}

// IsTemporal reports whether input refers to the present moment.
func IsTemporal(input string) bool {
	return temporalRe.MatchString(fold(input))
}
