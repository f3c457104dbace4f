package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rohmanhakim/storefront-ssr/pkg/failure"
)

// ReadTextFile reads a whole file as a string.
// A missing file is fatal; other read failures are reported as recoverable
// because the file may be mid-rewrite by a watcher in development.
func ReadTextFile(path string) (string, failure.ClassifiedError) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &FileError{
				Path:      path,
				Message:   fmt.Sprintf("%v", err),
				Retryable: false,
				Cause:     ErrCauseNotFound,
			}
		}
		return "", &FileError{
			Path:      path,
			Message:   fmt.Sprintf("%v", err),
			Retryable: true,
			Cause:     ErrCauseReadFailed,
		}
	}
	return string(content), nil
}

// EnsureDirExists checks that dir exists and is a directory.
func EnsureDirExists(dir string) failure.ClassifiedError {
	info, err := os.Stat(dir)
	if err != nil {
		return &FileError{
			Path:      dir,
			Message:   fmt.Sprintf("%v", err),
			Retryable: false,
			Cause:     ErrCauseNotFound,
		}
	}
	if !info.IsDir() {
		return &FileError{
			Path:      dir,
			Message:   "expected a directory",
			Retryable: false,
			Cause:     ErrCauseNotDir,
		}
	}
	return nil
}
