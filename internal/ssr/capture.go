package ssr

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

// captureWriter receives the piped render body and feeds two consumers:
// the live response, flushed per chunk, and the buffer the cached document
// is built from.
//
// A failed client write stops the live copy but not the capture, so a client
// that goes away does not cut the render short.
type captureWriter struct {
	live    io.Writer
	rc      *http.ResponseController
	body    strings.Builder
	liveErr error
}

func newCaptureWriter(w http.ResponseWriter) *captureWriter {
	return &captureWriter{
		live: w,
		rc:   http.NewResponseController(w),
	}
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.body.Write(p)
	if c.liveErr != nil {
		return len(p), nil
	}
	if _, err := c.live.Write(p); err != nil {
		c.liveErr = err
		return len(p), nil
	}
	if err := c.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		c.liveErr = err
	}
	return len(p), nil
}

// Body is everything piped so far.
func (c *captureWriter) Body() string {
	return c.body.String()
}

// trackingWriter remembers whether anything reached the client, so a late
// failure knows if it may still send its own status.
type trackingWriter struct {
	http.ResponseWriter
	written bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.written = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.written = true
	return t.ResponseWriter.Write(p)
}

func (t *trackingWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}
