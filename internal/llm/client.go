package llm

import (
	"context"
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message sent to the model.
type Message struct {
	Role    string
	Content string
}

// Params are the sampling settings for one call.
type Params struct {
	Temperature float32
	MaxTokens   int
}

// DefaultParams mirrors the provider defaults used for free-form answers.
func DefaultParams() Params {
	return Params{Temperature: 0.6, MaxTokens: 3000}
}

// Client is the inference collaborator. Complete returns the full text;
// Stream returns a finite sequence of deltas. Failures are reported as *APIError.
type Client interface {
	Complete(ctx context.Context, messages []Message, params Params) (string, error)
	Stream(ctx context.Context, messages []Message, params Params) (Stream, error)
}

// Stream yields text deltas until Recv returns io.EOF. Close may be called at
// any point to stop consuming; it is safe to call more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

const (
	ErrTypeRequest = "request_error"
	ErrTypeTimeout = "timeout_error"
	ErrTypeFormat  = "format_error"
	ErrTypeUnknown = "unknown_error"
)

// APIError is the error channel of every Client call.
type APIError struct {
	Message string
	Type    string
	Err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// ErrEmptyResponse is returned when the provider answers without any choices.
var ErrEmptyResponse = errors.New("response contained no choices")

func formatError(err error) *APIError {
	return &APIError{Message: err.Error(), Type: ErrTypeFormat, Err: err}
}

func requestError(err error) *APIError {
	typ := ErrTypeRequest
	if errors.Is(err, context.DeadlineExceeded) {
		typ = ErrTypeTimeout
	}
	return &APIError{Message: err.Error(), Type: typ, Err: err}
}
