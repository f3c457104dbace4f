package bundle

import (
	"context"

	"github.com/rohmanhakim/storefront-ssr/internal/render"
	"github.com/rohmanhakim/storefront-ssr/pkg/fileutil"
	"github.com/rs/zerolog"
)

// Load reads and compiles the bundle at path.
func Load(path string, logger zerolog.Logger) (*Engine, error) {
	source, readErr := fileutil.ReadTextFile(path)
	if readErr != nil {
		return nil, &render.EngineError{
			Message:   path,
			Retryable: false,
			Cause:     render.ErrCauseBundleMissing,
			Err:       readErr,
		}
	}
	return Compile(path, source, logger)
}

// StaticProvider compiles the production bundle once.
type StaticProvider struct {
	engine *Engine
}

func NewStaticProvider(path string, logger zerolog.Logger) (*StaticProvider, error) {
	engine, err := Load(path, logger)
	if err != nil {
		return nil, err
	}
	return &StaticProvider{engine: engine}, nil
}

func (p *StaticProvider) Engine(ctx context.Context) (render.Engine, error) {
	return p.engine, nil
}

// ReloadingProvider recompiles the bundle from disk for every request so a
// rebuilt bundle is picked up without a restart.
type ReloadingProvider struct {
	path   string
	logger zerolog.Logger
}

func NewReloadingProvider(path string, logger zerolog.Logger) *ReloadingProvider {
	return &ReloadingProvider{path: path, logger: logger}
}

func (p *ReloadingProvider) Engine(ctx context.Context) (render.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	engine, err := Load(p.path, p.logger)
	if err != nil {
		return nil, err
	}
	return engine, nil
}
