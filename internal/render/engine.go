package render

import (
	"context"
	"io"
)

// Callbacks are the hooks an Engine fires while rendering. They may be
// called from any goroutine. At most one of OnShellReady and OnShellError is
// called per render; OnError may fire any number of times before either.
type Callbacks struct {
	OnShellReady func()
	OnShellError func(error)
	OnError      func(error)
}

// Stream is a render in flight.
type Stream interface {
	// Pipe writes the rendered body to w. It is only valid after
	// OnShellReady and returns once the body is fully written.
	Pipe(w io.Writer) error
	// Abort stops the render. Safe to call more than once and from any
	// goroutine.
	Abort()
}

// Engine renders the app for a URL and tenant. An empty tenant means none.
type Engine interface {
	Render(url string, cb Callbacks, tenant string) Stream
}

// EngineProvider hands out the engine for one request.
type EngineProvider interface {
	Engine(ctx context.Context) (Engine, error)
}

// FixedProvider always returns the same engine.
type FixedProvider struct {
	engine Engine
}

func NewFixedProvider(engine Engine) *FixedProvider {
	return &FixedProvider{engine: engine}
}

func (p *FixedProvider) Engine(ctx context.Context) (Engine, error) {
	return p.engine, nil
}
