package template

import (
	"errors"
	"fmt"

	"github.com/rohmanhakim/storefront-ssr/pkg/failure"
)

// ErrMarkerMissing is returned when a template has no app-html marker to
// split on.
var ErrMarkerMissing = errors.New("template has no " + Marker + " marker")

type TemplateErrorCause string

const (
	ErrCauseReadFailed      TemplateErrorCause = "read failed"
	ErrCauseMarkerMissing   TemplateErrorCause = "marker missing"
	ErrCauseTransformFailed TemplateErrorCause = "transform failed"
)

type TemplateError struct {
	Message   string
	Retryable bool
	Cause     TemplateErrorCause
	Err       error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error: %s: %s", e.Cause, e.Message)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

func (e *TemplateError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}
