package executor

import (
	"context"
	"time"

	"github.com/sakif/actionrunner/internal/value"
)

// Content types attached to every action response.
const (
	ContentTypePlain   = "text/plain"
	ContentTypeError   = "text/error"
	ContentTypeURIList = "text/uri-list"
)

// ExecutionRequest represents a request to execute a snippet.
type ExecutionRequest struct {
	Code string `json:"code"`
}

// ExecutionResult is the outcome of one snippet run. Exactly one of Value and
// Trace is meaningful: a nil Value means the snippet failed and Trace says why.
type ExecutionResult struct {
	Value       value.Value   `json:"-"`
	Trace       string        `json:"trace,omitempty"`
	Stdout      string        `json:"stdout,omitempty"`
	ContentType string        `json:"contentType"`
	Duration    time.Duration `json:"duration"`
}

// Success builds a plain-text result around v.
func Success(v value.Value) *ExecutionResult {
	if v == nil {
		v = value.None
	}
	return &ExecutionResult{Value: v, ContentType: ContentTypePlain}
}

// Failure builds an error result carrying the snippet's trace.
func Failure(trace string) *ExecutionResult {
	return &ExecutionResult{Trace: trace, ContentType: ContentTypeError}
}

// Succeeded reports whether the snippet produced a value.
func (r *ExecutionResult) Succeeded() bool {
	return r.Value != nil
}

// Body is the text returned to the caller: the rendered value or the trace.
func (r *ExecutionResult) Body() string {
	if !r.Succeeded() {
		return r.Trace
	}
	return value.Render(r.Value)
}

// Executor represents the core interface for running code in an isolated environment.
// The error return is reserved for infrastructure faults; a snippet that raises
// is reported through a Failure result.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}
