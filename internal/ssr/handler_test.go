package ssr_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rohmanhakim/storefront-ssr/internal/metadata"
	"github.com/rohmanhakim/storefront-ssr/internal/pagecache"
	"github.com/rohmanhakim/storefront-ssr/internal/render"
	"github.com/rohmanhakim/storefront-ssr/internal/ssr"
	"github.com/rohmanhakim/storefront-ssr/internal/template"
	"github.com/rohmanhakim/storefront-ssr/pkg/hashutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testTemplate = "<html><head></head><body><!--app-html--></body></html>"

// stubStream pipes fixed chunks and counts aborts.
type stubStream struct {
	chunks  []string
	pipeErr error
	// pipeDelay holds Pipe before it writes, to outlast the render timeout.
	pipeDelay time.Duration
	aborts    atomic.Int32
}

func (s *stubStream) Pipe(w io.Writer) error {
	time.Sleep(s.pipeDelay)
	for _, chunk := range s.chunks {
		if _, err := io.WriteString(w, chunk); err != nil {
			return err
		}
	}
	return s.pipeErr
}

func (s *stubStream) Abort() {
	s.aborts.Add(1)
}

// stubEngine calls script synchronously inside Render, before returning the stream.
type stubEngine struct {
	stream  *stubStream
	script  func(cb render.Callbacks)
	calls   atomic.Int32
	mu      sync.Mutex
	urls    []string
	tenants []string
}

func (e *stubEngine) Render(url string, cb render.Callbacks, tenant string) render.Stream {
	e.calls.Add(1)
	e.mu.Lock()
	e.urls = append(e.urls, url)
	e.tenants = append(e.tenants, tenant)
	e.mu.Unlock()
	if e.script != nil {
		e.script(cb)
	}
	return e.stream
}

func helloEngine() *stubEngine {
	return &stubEngine{
		stream: &stubStream{chunks: []string{"<div>", "Hello", "</div>"}},
		script: func(cb render.Callbacks) { cb.OnShellReady() },
	}
}

type fixedTemplate struct {
	tmpl template.Template
	err  error
}

func (f fixedTemplate) Template(ctx context.Context) (template.Template, error) {
	return f.tmpl, f.err
}

func mustTemplate(t *testing.T, raw string) fixedTemplate {
	t.Helper()
	tmpl, err := template.Parse(raw)
	require.NoError(t, err)
	return fixedTemplate{tmpl: tmpl}
}

type failingEngines struct{ err error }

func (f failingEngines) Engine(ctx context.Context) (render.Engine, error) {
	return nil, f.err
}

// recordingSink keeps render outcomes for assertions.
type recordingSink struct {
	metadata.NoopSink
	mu       sync.Mutex
	outcomes []metadata.RenderOutcome
	causes   []metadata.ErrorCause
}

func (r *recordingSink) RecordRender(tenant string, url string, outcome metadata.RenderOutcome, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingSink) RecordError(at time.Time, pkg string, action string, cause metadata.ErrorCause, msg string, attrs []metadata.Attribute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.causes = append(r.causes, cause)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockStore) Set(ctx context.Context, key string, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

type fixture struct {
	handler *ssr.Handler
	store   *pagecache.MemoryStore
	engine  *stubEngine
	sink    *recordingSink
}

func newFixture(t *testing.T, engine *stubEngine, opts ssr.Options) fixture {
	t.Helper()
	store := pagecache.NewMemoryStore(10, time.Minute)
	sink := &recordingSink{}
	handler := ssr.NewHandler(
		store,
		mustTemplate(t, testTemplate),
		render.NewFixedProvider(engine),
		sink,
		zerolog.Nop(),
		opts,
	)
	return fixture{handler: handler, store: store, engine: engine, sink: sink}
}

func serve(h http.Handler, target string, host string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Host = host
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const helloDocument = `<html><head></head><body><div>Hello</div><script>window.__INITIAL_PROPS__={"tenant":null}</script></body></html>`

func TestHandler_EndToEnd(t *testing.T) {
	f := newFixture(t, helloEngine(), ssr.Options{Caching: true})

	first := serve(f.handler, "/", "localhost:5173")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, helloDocument, first.Body.String())
	assert.Equal(t, ssr.CacheMiss, first.Header().Get(ssr.HeaderCache))
	assert.Equal(t, "text/html; charset=utf-8", first.Header().Get("Content-Type"))
	assert.True(t, first.Flushed)

	cached, ok, err := f.store.Get(context.Background(), "main:")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, helloDocument, cached)

	second := serve(f.handler, "/", "localhost:5173")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, helloDocument, second.Body.String())
	assert.Equal(t, ssr.CacheHit, second.Header().Get(ssr.HeaderCache))
	assert.Equal(t, int32(1), f.engine.calls.Load())
	assert.Equal(t, []metadata.RenderOutcome{metadata.OutcomeStreamed}, f.sink.outcomes)
}

func TestHandler_CacheHitNeverRenders(t *testing.T) {
	f := newFixture(t, helloEngine(), ssr.Options{Caching: true})
	require.NoError(t, f.store.Set(context.Background(), "shop:products", "<html>cached</html>"))

	rec := serve(f.handler, "/products", "shop.example.com")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>cached</html>", rec.Body.String())
	assert.Equal(t, ssr.CacheHit, rec.Header().Get(ssr.HeaderCache))
	assert.Equal(t, hashutil.ETag("<html>cached</html>"), rec.Header().Get("ETag"))
	assert.Equal(t, int32(0), f.engine.calls.Load())
}

func TestHandler_CacheHitNotModified(t *testing.T) {
	f := newFixture(t, helloEngine(), ssr.Options{Caching: true})
	require.NoError(t, f.store.Set(context.Background(), "main:", "<html>cached</html>"))
	etag := hashutil.ETag("<html>cached</html>")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "localhost"
	req.Header.Set("If-None-Match", `"other", W/`+etag)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, int32(0), f.engine.calls.Load())
}

func TestHandler_TenantIsolation(t *testing.T) {
	f := newFixture(t, helloEngine(), ssr.Options{Caching: true})

	shop := serve(f.handler, "/cart", "shop.localhost:5173")
	main := serve(f.handler, "/cart", "localhost:5173")

	assert.Contains(t, shop.Body.String(), `window.__INITIAL_PROPS__={"tenant":"shop"}`)
	assert.Contains(t, main.Body.String(), `window.__INITIAL_PROPS__={"tenant":null}`)
	assert.Equal(t, 2, f.store.Len())
	assert.Equal(t, []string{"shop", ""}, f.engine.tenants)
	assert.Equal(t, int32(2), f.engine.calls.Load())
}

func TestHandler_StripsBase(t *testing.T) {
	f := newFixture(t, helloEngine(), ssr.Options{Caching: true, Base: "/store/"})

	serve(f.handler, "/store/products?page=2", "localhost")

	assert.Equal(t, []string{"products?page=2"}, f.engine.urls)
	_, ok, err := f.store.Get(context.Background(), "main:products?page=2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandler_ShellError(t *testing.T) {
	engine := &stubEngine{
		stream: &stubStream{chunks: []string{"<div>partial"}},
		script: func(cb render.Callbacks) { cb.OnShellError(errors.New("boom")) },
	}
	f := newFixture(t, engine, ssr.Options{Caching: true})

	rec := serve(f.handler, "/", "localhost")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "partial")
	assert.Empty(t, rec.Header().Get(ssr.HeaderCache))
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, []metadata.RenderOutcome{metadata.OutcomeShellError}, f.sink.outcomes)
	assert.Equal(t, []metadata.ErrorCause{metadata.CauseShellFailure}, f.sink.causes)
}

func TestHandler_TimeoutAbortsOnce(t *testing.T) {
	engine := &stubEngine{stream: &stubStream{}}
	f := newFixture(t, engine, ssr.Options{Caching: true, RenderTimeout: 20 * time.Millisecond})

	start := time.Now()
	rec := serve(f.handler, "/slow", "localhost")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int32(1), engine.stream.aborts.Load())
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, []metadata.RenderOutcome{metadata.OutcomeTimeout}, f.sink.outcomes)
	assert.Equal(t, []metadata.ErrorCause{metadata.CauseRenderTimeout}, f.sink.causes)
}

func TestHandler_LateCallbacksAfterTimeoutAreIgnored(t *testing.T) {
	var late render.Callbacks
	engine := &stubEngine{
		stream: &stubStream{chunks: []string{"<div>late</div>"}},
		script: func(cb render.Callbacks) { late = cb },
	}
	f := newFixture(t, engine, ssr.Options{Caching: true, RenderTimeout: 10 * time.Millisecond})

	rec := serve(f.handler, "/", "localhost")
	late.OnShellReady()
	late.OnShellError(errors.New("too late"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "late</div>")
	assert.Equal(t, 0, f.store.Len())
}

func TestHandler_SecondTerminalEventIsNoop(t *testing.T) {
	tests := []struct {
		name       string
		script     func(cb render.Callbacks)
		wantStatus int
		wantCached int
	}{
		{
			name: "ready then error",
			script: func(cb render.Callbacks) {
				cb.OnShellReady()
				cb.OnShellError(errors.New("ignored"))
			},
			wantStatus: http.StatusOK,
			wantCached: 1,
		},
		{
			name: "error then ready",
			script: func(cb render.Callbacks) {
				cb.OnShellError(errors.New("first"))
				cb.OnShellReady()
			},
			wantStatus: http.StatusInternalServerError,
			wantCached: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{
				stream: &stubStream{chunks: []string{"<div>Hello</div>"}},
				script: tt.script,
			}
			f := newFixture(t, engine, ssr.Options{Caching: true})

			rec := serve(f.handler, "/", "localhost")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCached, f.store.Len())
			assert.Len(t, f.sink.outcomes, 1)
		})
	}
}

func TestHandler_TimeoutAfterShellReadyIsNoop(t *testing.T) {
	engine := helloEngine()
	engine.stream.pipeDelay = 40 * time.Millisecond
	f := newFixture(t, engine, ssr.Options{Caching: true, RenderTimeout: 10 * time.Millisecond})

	rec := serve(f.handler, "/", "localhost")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, helloDocument, rec.Body.String())
	assert.Equal(t, int32(0), engine.stream.aborts.Load())
	assert.Equal(t, 1, f.store.Len())
}

func TestHandler_RecoverableErrorBeforeShell(t *testing.T) {
	engine := &stubEngine{
		stream: &stubStream{chunks: []string{"<div>fallback</div>"}},
		script: func(cb render.Callbacks) {
			cb.OnError(errors.New("widget failed"))
			cb.OnShellReady()
		},
	}
	f := newFixture(t, engine, ssr.Options{Caching: true})

	rec := serve(f.handler, "/", "localhost")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get(ssr.HeaderCache))
	assert.Contains(t, rec.Body.String(), "<div>fallback</div>")
	assert.Equal(t, 0, f.store.Len())
}

func TestHandler_PipeErrorIsNotCached(t *testing.T) {
	engine := helloEngine()
	engine.stream.pipeErr = &render.RenderError{Message: "stream broke", Cause: render.ErrCauseStreamFailed}
	f := newFixture(t, engine, ssr.Options{Caching: true})

	rec := serve(f.handler, "/", "localhost")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, helloDocument, rec.Body.String())
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, []metadata.ErrorCause{metadata.CauseStreamFailure}, f.sink.causes)
}

func TestHandler_CachingDisabled(t *testing.T) {
	f := newFixture(t, helloEngine(), ssr.Options{Caching: false})
	require.NoError(t, f.store.Set(context.Background(), "main:", "<html>stale</html>"))

	rec := serve(f.handler, "/", "localhost")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, helloDocument, rec.Body.String())
	assert.Empty(t, rec.Header().Get(ssr.HeaderCache))
	assert.Equal(t, int32(1), f.engine.calls.Load())

	cached, _, _ := f.store.Get(context.Background(), "main:")
	assert.Equal(t, "<html>stale</html>", cached)
}

func TestHandler_TemplateFailure(t *testing.T) {
	engine := helloEngine()
	handler := ssr.NewHandler(
		pagecache.NoopStore{},
		fixedTemplate{err: &template.TemplateError{Message: "index.html", Cause: template.ErrCauseReadFailed}},
		render.NewFixedProvider(engine),
		&metadata.NoopSink{},
		zerolog.Nop(),
		ssr.Options{},
	)

	rec := serve(handler, "/", "localhost")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, int32(0), engine.calls.Load())
}

func TestHandler_EngineUnavailable(t *testing.T) {
	sink := &recordingSink{}
	handler := ssr.NewHandler(
		pagecache.NoopStore{},
		mustTemplate(t, testTemplate),
		failingEngines{err: &render.EngineError{Message: "entry-server.js", Cause: render.ErrCauseBundleMissing}},
		sink,
		zerolog.Nop(),
		ssr.Options{},
	)

	rec := serve(handler, "/", "localhost")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []metadata.RenderOutcome{metadata.OutcomeFailed}, sink.outcomes)
	assert.Equal(t, []metadata.ErrorCause{metadata.CauseEngineUnavailable}, sink.causes)
}

func TestHandler_PanicBeforeWriteIs500(t *testing.T) {
	engine := &stubEngine{
		stream: &stubStream{},
		script: func(cb render.Callbacks) { panic("engine bug") },
	}
	f := newFixture(t, engine, ssr.Options{Caching: true})

	rec := serve(f.handler, "/", "localhost")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error\n", rec.Body.String())
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, []metadata.RenderOutcome{metadata.OutcomeFailed}, f.sink.outcomes)
}

func TestHandler_CacheFailuresFailOpen(t *testing.T) {
	store := &mockStore{}
	store.On("Get", mock.Anything, "main:").Return("", false, &pagecache.CacheError{Message: "down", Cause: pagecache.ErrCauseUnreachable})
	store.On("Set", mock.Anything, "main:", helloDocument).Return(&pagecache.CacheError{Message: "down", Cause: pagecache.ErrCauseWriteFailed})
	sink := &recordingSink{}

	handler := ssr.NewHandler(
		store,
		mustTemplate(t, testTemplate),
		render.NewFixedProvider(helloEngine()),
		sink,
		zerolog.Nop(),
		ssr.Options{Caching: true},
	)

	rec := serve(handler, "/", "localhost")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, helloDocument, rec.Body.String())
	store.AssertExpectations(t)
	assert.Equal(t, []metadata.ErrorCause{metadata.CauseCacheFailure, metadata.CauseCacheFailure}, sink.causes)
}

func TestHandler_HydrationPayloadIsEscaped(t *testing.T) {
	f := newFixture(t, helloEngine(), ssr.Options{Caching: true})

	rec := serve(f.handler, "/", "</script><x.localhost")

	assert.Contains(t, rec.Body.String(), `{"tenant":"\u003c/script\u003e\u003cx"}`)
}
