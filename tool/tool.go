// Package tool implements the external capabilities council agents can
// request through directives: web search, URL and GitHub file retrieval,
// image and video generation. Every tool degrades to a typed ToolError or a
// plain-text failure message; none of them panics or blocks a run forever.
package tool

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeNotConfigured = "NOT_CONFIGURED"
	CodeProviderError = "PROVIDER_ERROR"
	CodeTimeout       = "TIMEOUT"
	CodeValidation    = "VALIDATION_ERROR"
	CodeExecution     = "EXECUTION_ERROR"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// CodeOf returns the ToolError code of err, or "" for other errors.
func CodeOf(err error) string {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}
