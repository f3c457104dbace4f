package pagecache

import (
	"fmt"

	"github.com/rohmanhakim/storefront-ssr/pkg/failure"
)

type CacheErrorCause string

const (
	ErrCauseUnreachable CacheErrorCause = "backend unreachable"
	ErrCauseReadFailed  CacheErrorCause = "read failed"
	ErrCauseWriteFailed CacheErrorCause = "write failed"
)

type CacheError struct {
	Message   string
	Retryable bool
	Cause     CacheErrorCause
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache error: %s: %s", e.Cause, e.Message)
}

func (e *CacheError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *CacheError) IsRetryable() bool {
	return e.Retryable
}
