package model

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates gateway failure classes.
type Kind string

const (
	// KindNotConfigured means credentials or an endpoint are missing. Not retryable.
	KindNotConfigured Kind = "not_configured"
	// KindRateLimited means the provider throttled the call after all retries.
	KindRateLimited Kind = "rate_limited"
	// KindContextTooLarge means the input exceeded the provider context window.
	KindContextTooLarge Kind = "context_too_large"
	// KindProviderError is an opaque upstream failure.
	KindProviderError Kind = "provider_error"
	// KindEmptyResponse is a successful call without usable text.
	KindEmptyResponse Kind = "empty_response"
)

// Sentinel errors usable with errors.Is.
var (
	ErrNotConfigured   = &Error{Kind: KindNotConfigured}
	ErrRateLimited     = &Error{Kind: KindRateLimited}
	ErrContextTooLarge = &Error{Kind: KindContextTooLarge}
	ErrProviderError   = &Error{Kind: KindProviderError}
	ErrEmptyResponse   = &Error{Kind: KindEmptyResponse}
)

// Error is the typed failure returned at the gateway boundary.
type Error struct {
	Kind    Kind   `json:"kind"`
	Model   string `json:"model,omitempty"`
	Code    string `json:"code,omitempty"` // provider status or error code
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Model != "" {
		fmt.Fprintf(&b, " [%s]", e.Model)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same Kind so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindProviderError for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProviderError
}

// IsKind reports whether err is a gateway Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Retryable reports whether the gateway retries the error in place.
func Retryable(err error) bool {
	return IsKind(err, KindRateLimited)
}

// withModel returns a copy of err tagged with the model name. Foreign errors
// become provider errors.
func withModel(err error, model string) error {
	var e *Error
	if !errors.As(err, &e) {
		return &Error{Kind: KindProviderError, Model: model, Message: err.Error(), Err: err}
	}
	if e.Model != "" {
		return err
	}
	c := *e
	c.Model = model
	return &c
}

// contextOverflowHints are provider message fragments signalling an
// oversized prompt.
var contextOverflowHints = []string{
	"context_length_exceeded",
	"maximum context length",
	"context window",
	"prompt is too long",
	"too many tokens",
	"input is too long",
	"request too large",
}

// LooksLikeContextOverflow reports whether a provider message describes a
// context window overflow.
func LooksLikeContextOverflow(msg string) bool {
	m := strings.ToLower(msg)
	for _, h := range contextOverflowHints {
		if strings.Contains(m, h) {
			return true
		}
	}
	return false
}

// ClassifyStatus maps an HTTP status and provider message to a typed Error.
// Adapters use it so the gateway never sniffs strings itself.
func ClassifyStatus(status int, message string, cause error) *Error {
	code := fmt.Sprintf("%d", status)
	switch {
	case status == 429:
		return &Error{Kind: KindRateLimited, Code: code, Message: message, Err: cause}
	case (status == 400 || status == 413) && LooksLikeContextOverflow(message):
		return &Error{Kind: KindContextTooLarge, Code: code, Message: message, Err: cause}
	default:
		return &Error{Kind: KindProviderError, Code: code, Message: message, Err: cause}
	}
}
