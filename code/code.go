// Package code runs short program snippets requested by council agents in a
// scratch directory with a minimal environment and a hard timeout. Snippets
// run under bubblewrap and cannot write outside their scratch directory.
package code

import (
	"context"
	"fmt"
	"strings"
)

// Result is the outcome of one execution.
type Result struct {
	Language string `json:"language"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out"`
}

// OK reports a zero exit without timeout.
func (r Result) OK() bool { return r.ExitCode == 0 && !r.TimedOut }

// String formats the result for display in the council stream.
func (r Result) String() string {
	var sb strings.Builder
	switch {
	case r.TimedOut:
		fmt.Fprintf(&sb, "Execution of %s timed out.", r.Language)
	case r.ExitCode != 0:
		fmt.Fprintf(&sb, "Execution of %s failed with exit code %d.", r.Language, r.ExitCode)
	default:
		fmt.Fprintf(&sb, "Execution of %s succeeded.", r.Language)
	}
	if out := strings.TrimSpace(r.Stdout); out != "" {
		sb.WriteString("\n\nstdout:\n```\n" + out + "\n```")
	}
	if errOut := strings.TrimSpace(r.Stderr); errOut != "" {
		sb.WriteString("\n\nstderr:\n```\n" + errOut + "\n```")
	}
	return sb.String()
}

// Executor defines the interface for executing code snippets.
type Executor interface {
	// Execute runs source written in language and reports its output.
	Execute(ctx context.Context, language, source string) (Result, error)
}
