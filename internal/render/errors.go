package render

import (
	"fmt"

	"github.com/rohmanhakim/storefront-ssr/pkg/failure"
)

type RenderErrorCause string

const (
	ErrCauseShellFailed  RenderErrorCause = "shell failed"
	ErrCauseStreamFailed RenderErrorCause = "stream failed"
	ErrCauseAborted      RenderErrorCause = "aborted"
	ErrCauseBadResult    RenderErrorCause = "bad render result"
)

// RenderError is a failure of a single render.
type RenderError struct {
	Message   string
	Retryable bool
	Cause     RenderErrorCause
	Err       error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render error: %s: %s", e.Cause, e.Message)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

func (e *RenderError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

type EngineErrorCause string

const (
	ErrCauseBundleMissing EngineErrorCause = "bundle missing"
	ErrCauseCompileFailed EngineErrorCause = "compile failed"
	ErrCauseUnreachable   EngineErrorCause = "renderer unreachable"
)

// EngineError means no engine could be produced for the request.
type EngineError struct {
	Message   string
	Retryable bool
	Cause     EngineErrorCause
	Err       error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error: %s: %s", e.Cause, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}
