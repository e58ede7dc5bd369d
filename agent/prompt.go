package agent

import (
	"fmt"
	"strings"
	"text/template"
)

// PromptData is the template data available to system prompts.
type PromptData struct {
	Date  string // current date, e.g. "Monday, 2 January 2006"
	Theme string
	Name  string // the agent's themed display name
}

// Prompt is a system prompt template parsed once at construction. Prompts
// are plain text, so nothing is HTML escaped.
type Prompt struct {
	source string
	tmpl   *template.Template
	err    error
}

// NewPrompt parses text. A parse error is kept and reported by Err, Render
// and Registry.Validate.
func NewPrompt(text string) Prompt {
	p := Prompt{source: text}
	if !strings.Contains(text, "{{") {
		return p
	}
	p.tmpl, p.err = template.New("prompt").Option("missingkey=zero").Funcs(template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}).Parse(text)
	return p
}

// Source returns the unrendered template text.
func (p Prompt) Source() string { return p.source }

// Err returns the parse error, if any.
func (p Prompt) Err() error { return p.err }

// Render fills in the template.
func (p Prompt) Render(d PromptData) (string, error) {
	if p.err != nil {
		return "", fmt.Errorf("parse prompt: %w", p.err)
	}
	if p.tmpl == nil {
		return p.source, nil
	}
	var b strings.Builder
	if err := p.tmpl.Execute(&b, d); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}
