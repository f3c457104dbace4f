package fileutil

import (
	"fmt"

	"github.com/rohmanhakim/storefront-ssr/pkg/failure"
)

type FileErrorCause string

const (
	ErrCauseNotFound   FileErrorCause = "file not found"
	ErrCauseReadFailed FileErrorCause = "read failed"
	ErrCauseNotDir     FileErrorCause = "not a directory"
)

type FileError struct {
	Path      string
	Message   string
	Retryable bool
	Cause     FileErrorCause
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file error: %s: %s", e.Cause, e.Path)
}

func (e *FileError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}
