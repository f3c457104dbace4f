package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rohmanhakim/storefront-ssr/internal/render"
	"github.com/rs/zerolog"
)

/*
Engine streams pages from a sidecar renderer over HTTP.

# Protocol

- POST {endpoint} with a JSON body {"url": ..., "tenant": ... | null}
- A 2xx response means the shell is ready; the body is the app markup
- Any other status, or a transport failure, is a shell error
- The body is streamed to the client as it arrives

The sidecar owns rendering; this engine never inspects the markup.
*/
type Engine struct {
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ render.Engine = (*Engine)(nil)

// New creates a remote engine. A nil client means http.DefaultClient.
func New(endpoint string, httpClient *http.Client, logger zerolog.Logger) *Engine {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Engine{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "remote").Logger(),
	}
}

type renderRequest struct {
	URL    string  `json:"url"`
	Tenant *string `json:"tenant"`
}

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 4 << 10

const pipeBufferSize = 32 << 10

func (e *Engine) Render(url string, cb render.Callbacks, tenant string) render.Stream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &stream{
		ready:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go e.run(ctx, s, url, cb, tenant)
	return s
}

func (e *Engine) run(ctx context.Context, s *stream, url string, cb render.Callbacks, tenant string) {
	body, err := e.open(ctx, url, tenant)
	if err != nil {
		s.cancel()
		e.logger.Warn().Err(err).Str("url", url).Msg("remote render failed")
		if cb.OnShellError != nil {
			cb.OnShellError(err)
		}
		return
	}

	s.body = body
	close(s.ready)
	if cb.OnShellReady != nil {
		cb.OnShellReady()
	}
}

func (e *Engine) open(ctx context.Context, url string, tenant string) (io.ReadCloser, error) {
	payload := renderRequest{URL: url}
	if tenant != "" {
		payload.Tenant = &tenant
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, &render.RenderError{
			Message:   fmt.Sprintf("failed to encode request: %v", err),
			Retryable: false,
			Cause:     render.ErrCauseShellFailed,
			Err:       err,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, &render.EngineError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     render.ErrCauseUnreachable,
			Err:       err,
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/html")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, &render.RenderError{
				Message:   "render aborted",
				Retryable: false,
				Cause:     render.ErrCauseAborted,
				Err:       err,
			}
		}
		return nil, &render.EngineError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
			Cause:     render.ErrCauseUnreachable,
			Err:       err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &render.RenderError{
			Message:   fmt.Sprintf("renderer responded %d: %s", resp.StatusCode, bytes.TrimSpace(detail)),
			Retryable: resp.StatusCode >= 500,
			Cause:     render.ErrCauseShellFailed,
		}
	}

	return resp.Body, nil
}

type stream struct {
	// ready is closed once body is set.
	ready  chan struct{}
	body   io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (s *stream) Abort() {
	s.once.Do(s.cancel)
}

// Pipe copies the body chunk by chunk so each read reaches w, and any
// flushing it does, as soon as it arrives.
func (s *stream) Pipe(w io.Writer) error {
	select {
	case <-s.ready:
	case <-s.ctx.Done():
		return abortedErr(s.ctx.Err())
	}
	defer s.cancel()
	defer s.body.Close()

	buf := make([]byte, pipeBufferSize)
	for {
		n, readErr := s.body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return &render.RenderError{
					Message:   err.Error(),
					Retryable: false,
					Cause:     render.ErrCauseStreamFailed,
					Err:       err,
				}
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if s.ctx.Err() != nil {
				return abortedErr(readErr)
			}
			return &render.RenderError{
				Message:   readErr.Error(),
				Retryable: false,
				Cause:     render.ErrCauseStreamFailed,
				Err:       readErr,
			}
		}
	}
}

func abortedErr(err error) error {
	return &render.RenderError{
		Message:   "render aborted",
		Retryable: false,
		Cause:     render.ErrCauseAborted,
		Err:       err,
	}
}
