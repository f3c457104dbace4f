package ssr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rohmanhakim/storefront-ssr/internal/metadata"
	"github.com/rohmanhakim/storefront-ssr/internal/pagecache"
	"github.com/rohmanhakim/storefront-ssr/internal/render"
	"github.com/rohmanhakim/storefront-ssr/internal/template"
	"github.com/rohmanhakim/storefront-ssr/internal/tenant"
	"github.com/rohmanhakim/storefront-ssr/pkg/hashutil"
	"github.com/rohmanhakim/storefront-ssr/pkg/urlutil"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

/*
Handler renders storefront pages.

# Responsibilities

- Resolve the tenant and page cache key for the request
- Serve cached documents when caching is on
- Drive one render per miss, racing it against the render timeout
- Stream the shell and body while capturing the body for the cache
- Store the assembled document after a clean render

# Guarantees

  - Exactly one terminal response per request
  - Only clean renders are cached, and what is cached is byte for byte what
    the client received
  - Cache failures never fail a request
*/
type Handler struct {
	store     pagecache.Store
	templates template.Provider
	engines   render.EngineProvider
	sink      metadata.Sink
	logger    zerolog.Logger
	opts      Options
}

type Options struct {
	// Caching turns on cache lookups, cache writes and the x-cache header.
	Caching bool
	// Base is stripped from the request URI before rendering and keying.
	Base string
	// RenderTimeout bounds the wait for the shell. Zero means DefaultRenderTimeout.
	RenderTimeout time.Duration
}

const (
	HeaderCache = "x-cache"
	CacheHit    = "HIT"
	CacheMiss   = "MISS"

	contentTypeHTML  = "text/html; charset=utf-8"
	shellErrorBody   = "Internal Server Error"
	timeoutErrorBody = "Service Unavailable: the page took too long to render"
)

func NewHandler(
	store pagecache.Store,
	templates template.Provider,
	engines render.EngineProvider,
	sink metadata.Sink,
	logger zerolog.Logger,
	opts Options,
) *Handler {
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = DefaultRenderTimeout
	}
	opts.Base = urlutil.NormalizeBase(opts.Base)
	return &Handler{
		store:     store,
		templates: templates,
		engines:   engines,
		sink:      sink,
		logger:    logger.With().Str("component", "ssr").Logger(),
		opts:      opts,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantName := tenant.Resolve(r.Host)
	url := urlutil.StripBase(r.URL.RequestURI(), h.opts.Base)
	s := newSession(url, tenantName, tenant.CacheKey(tenantName, url))
	tw := &trackingWriter{ResponseWriter: w}

	var catcher panics.Catcher
	catcher.Try(func() {
		h.handleRequest(tw, r, s)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		h.recoverRequest(tw, r, s, recovered)
	}
}

func (h *Handler) handleRequest(w *trackingWriter, r *http.Request, s *session) {
	ctx := r.Context()

	if h.opts.Caching {
		if page, ok := h.lookup(ctx, r, s); ok {
			h.serveHit(w, r, page)
			return
		}
	}

	tmpl, err := h.templates.Template(ctx)
	if err != nil {
		h.fail(w, r, s, "Handler.loadTemplate", err)
		return
	}
	engine, err := h.engines.Engine(ctx)
	if err != nil {
		h.fail(w, r, s, "Handler.loadEngine", err)
		return
	}
	script, err := hydrationScript(s.tenant)
	if err != nil {
		h.fail(w, r, s, "Handler.hydrationScript", err)
		return
	}

	stop := startTimeout(s, s.abortRender, h.opts.RenderTimeout)
	defer stop()

	stream := engine.Render(s.url, s.callbacks(), s.tenant)
	s.attach(stream)

	ev := <-s.events
	stop()

	switch ev.state {
	case stateShellReady:
		h.streamPage(w, r, s, stream, tmpl, script)
	case stateShellError:
		cause := mapErrorToMetadataCause(ev.err)
		if cause == metadata.CauseUnknown {
			cause = metadata.CauseShellFailure
		}
		h.recordErrorAs(r, s, "Handler.onShellError", cause, ev.err)
		http.Error(w, shellErrorBody, http.StatusInternalServerError)
	case stateTimedOut:
		h.recordErrorAs(
			r, s,
			"Handler.startTimeout",
			metadata.CauseRenderTimeout,
			fmt.Errorf("no shell after %s", h.opts.RenderTimeout),
		)
		http.Error(w, timeoutErrorBody, http.StatusServiceUnavailable)
	}
	h.sink.RecordRender(s.tenant, s.url, ev.state.outcome(), time.Since(s.started))
}

// lookup fails open: a store error is reported and treated as a miss.
func (h *Handler) lookup(ctx context.Context, r *http.Request, s *session) (string, bool) {
	page, ok, err := h.store.Get(ctx, s.cacheKey)
	if err != nil {
		h.recordError(r, s, "Handler.lookup", err)
		ok = false
	}
	h.sink.RecordCacheLookup(s.tenant, s.cacheKey, ok)
	return page, ok
}

func (h *Handler) serveHit(w http.ResponseWriter, r *http.Request, page string) {
	etag := hashutil.ETag(page)
	header := w.Header()
	header.Set("ETag", etag)
	header.Set(HeaderCache, CacheHit)

	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	header.Set("Content-Type", contentTypeHTML)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, page)
}

// streamPage writes the shell, pipes the body and ends the document.
// head and body reach the client as they are produced; only the hydration
// script and tail are written at the end.
func (h *Handler) streamPage(
	w http.ResponseWriter,
	r *http.Request,
	s *session,
	stream render.Stream,
	tmpl template.Template,
	script string,
) {
	status := http.StatusOK
	header := w.Header()
	header.Set("Content-Type", contentTypeHTML)
	if s.didError.Load() {
		status = http.StatusInternalServerError
	} else if h.opts.Caching {
		header.Set(HeaderCache, CacheMiss)
	}
	w.WriteHeader(status)

	capture := newCaptureWriter(w)
	io.WriteString(capture, tmpl.Head())

	if err := stream.Pipe(capture); err != nil {
		s.didError.Store(true)
		h.recordError(r, s, "Handler.streamPage", err)
	}

	end := script + tmpl.Tail()
	io.WriteString(capture, end)

	if capture.liveErr != nil {
		h.logger.Debug().Err(capture.liveErr).Str("url", s.url).Msg("client went away during stream")
	}

	if !h.opts.Caching || s.didError.Load() {
		return
	}
	// The client may already be gone; the document is still worth keeping.
	if err := h.store.Set(context.WithoutCancel(r.Context()), s.cacheKey, capture.Body()); err != nil {
		h.recordError(r, s, "Handler.store", err)
	}
}

// fail answers 500 for errors outside the engine contract. It only writes a
// status when nothing has reached the client yet.
func (h *Handler) fail(w *trackingWriter, r *http.Request, s *session, action string, err error) {
	s.resolve(stateFailed)
	h.recordError(r, s, action, err)
	h.logger.Error().
		Err(err).
		Str("url", s.url).
		Str("tenant", s.tenant).
		Msg("render request failed")
	if !w.written {
		http.Error(w, shellErrorBody, http.StatusInternalServerError)
	}
	h.sink.RecordRender(s.tenant, s.url, metadata.OutcomeFailed, time.Since(s.started))
}

func (h *Handler) recoverRequest(w *trackingWriter, r *http.Request, s *session, recovered *panics.Recovered) {
	s.resolve(stateFailed)
	s.abortRender()
	h.logger.Error().
		Str("url", s.url).
		Str("tenant", s.tenant).
		Str("panic", fmt.Sprint(recovered.Value)).
		Str("stack", string(recovered.Stack)).
		Msg("render request panicked")
	h.sink.RecordError(
		time.Now(),
		"ssr",
		"Handler.ServeHTTP",
		metadata.CauseUnknown,
		recovered.String(),
		h.attrs(r, s, metadata.NewAttr(metadata.AttrStack, string(recovered.Stack))),
	)
	if !w.written {
		http.Error(w, shellErrorBody, http.StatusInternalServerError)
	}
	h.sink.RecordRender(s.tenant, s.url, metadata.OutcomeFailed, time.Since(s.started))
}

func (h *Handler) recordError(r *http.Request, s *session, action string, err error) {
	h.recordErrorAs(r, s, action, mapErrorToMetadataCause(err), err)
}

func (h *Handler) recordErrorAs(r *http.Request, s *session, action string, cause metadata.ErrorCause, err error) {
	h.sink.RecordError(
		time.Now(),
		"ssr",
		action,
		cause,
		err.Error(),
		h.attrs(r, s),
	)
}

func (h *Handler) attrs(r *http.Request, s *session, extra ...metadata.Attribute) []metadata.Attribute {
	return append([]metadata.Attribute{
		metadata.NewAttr(metadata.AttrURL, s.url),
		metadata.NewAttr(metadata.AttrHost, r.Host),
		metadata.NewAttr(metadata.AttrTenant, s.tenant),
		metadata.NewAttr(metadata.AttrCacheKey, s.cacheKey),
	}, extra...)
}

// etagMatches implements the weak comparison If-None-Match asks for.
func etagMatches(ifNoneMatch string, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
