package bundle

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dop251/goja"
	"github.com/rohmanhakim/storefront-ssr/internal/render"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// RenderFunc is the global a server bundle must define:
//
//	function render(url, tenant) { return "<div>...</div>" }
//
// It returns a string or an array of string chunks, or throws.
const RenderFunc = "render"

// Engine runs a compiled server bundle. Each render gets a fresh runtime,
// so renders never share JS state.
type Engine struct {
	program *goja.Program
	logger  zerolog.Logger
}

var _ render.Engine = (*Engine)(nil)

// Compile parses the bundle source once; the program is reused by every
// render.
func Compile(name string, source string, logger zerolog.Logger) (*Engine, error) {
	program, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, &render.EngineError{
			Message:   name,
			Retryable: false,
			Cause:     render.ErrCauseCompileFailed,
			Err:       err,
		}
	}
	return &Engine{
		program: program,
		logger:  logger.With().Str("component", "bundle").Logger(),
	}, nil
}

func (e *Engine) Render(url string, cb render.Callbacks, tenant string) render.Stream {
	s := &stream{
		ready:   make(chan struct{}),
		aborted: make(chan struct{}),
	}
	go e.run(s, url, cb, tenant)
	return s
}

func (e *Engine) run(s *stream, url string, cb render.Callbacks, tenant string) {
	var (
		chunks    []string
		renderErr error
		catcher   panics.Catcher
	)
	catcher.Try(func() {
		chunks, renderErr = e.execute(s, url, tenant, cb)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		e.logger.Error().
			Str("url", url).
			Str("stack", string(recovered.Stack)).
			Msg("render panicked")
		renderErr = &render.RenderError{
			Message:   fmt.Sprint(recovered.Value),
			Retryable: false,
			Cause:     render.ErrCauseShellFailed,
			Err:       recovered.AsError(),
		}
	}

	if renderErr != nil {
		if cb.OnShellError != nil {
			cb.OnShellError(renderErr)
		}
		return
	}

	s.chunks = chunks
	close(s.ready)
	if cb.OnShellReady != nil {
		cb.OnShellReady()
	}
}

func (e *Engine) execute(s *stream, url string, tenant string, cb render.Callbacks) ([]string, error) {
	vm := goja.New()
	if !s.attach(vm) {
		return nil, errAborted()
	}
	defer s.detach()

	e.installGlobals(vm, url, cb)

	if _, err := vm.RunProgram(e.program); err != nil {
		return nil, wrapJSError(err)
	}

	renderFn, ok := goja.AssertFunction(vm.Get(RenderFunc))
	if !ok {
		return nil, &render.RenderError{
			Message:   fmt.Sprintf("bundle does not define %s()", RenderFunc),
			Retryable: false,
			Cause:     render.ErrCauseBadResult,
		}
	}

	tenantArg := goja.Null()
	if tenant != "" {
		tenantArg = vm.ToValue(tenant)
	}
	result, err := renderFn(goja.Undefined(), vm.ToValue(url), tenantArg)
	if err != nil {
		return nil, wrapJSError(err)
	}
	return toChunks(result)
}

// installGlobals exposes console and reportError to the bundle.
// reportError(message) reports a recoverable error: the render goes on,
// but the page is marked as failed.
func (e *Engine) installGlobals(vm *goja.Runtime, url string, cb render.Callbacks) {
	logger := e.logger.With().Str("url", url).Logger()

	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		logger.Debug().Msg(joinArgs(call.Arguments))
		return goja.Undefined()
	})
	console.Set("warn", func(call goja.FunctionCall) goja.Value {
		logger.Warn().Msg(joinArgs(call.Arguments))
		return goja.Undefined()
	})
	console.Set("error", func(call goja.FunctionCall) goja.Value {
		logger.Error().Msg(joinArgs(call.Arguments))
		return goja.Undefined()
	})
	vm.Set("console", console)

	vm.Set("reportError", func(call goja.FunctionCall) goja.Value {
		msg := joinArgs(call.Arguments)
		logger.Warn().Str("error", msg).Msg("recoverable render error")
		if cb.OnError != nil {
			cb.OnError(&render.RenderError{
				Message:   msg,
				Retryable: false,
				Cause:     render.ErrCauseStreamFailed,
			})
		}
		return goja.Undefined()
	})
}

func joinArgs(args []goja.Value) string {
	parts := make([]any, len(args))
	for i, arg := range args {
		parts[i] = arg.String()
	}
	return fmt.Sprint(parts...)
}

func toChunks(result goja.Value) ([]string, error) {
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, &render.RenderError{
			Message:   fmt.Sprintf("%s() returned nothing", RenderFunc),
			Retryable: false,
			Cause:     render.ErrCauseBadResult,
		}
	}

	switch v := result.Export().(type) {
	case string:
		return []string{v}, nil
	case []interface{}:
		chunks := make([]string, 0, len(v))
		for i, item := range v {
			chunk, ok := item.(string)
			if !ok {
				return nil, &render.RenderError{
					Message:   fmt.Sprintf("chunk %d is %T, not a string", i, item),
					Retryable: false,
					Cause:     render.ErrCauseBadResult,
				}
			}
			chunks = append(chunks, chunk)
		}
		return chunks, nil
	default:
		return nil, &render.RenderError{
			Message:   fmt.Sprintf("%s() returned %T", RenderFunc, v),
			Retryable: false,
			Cause:     render.ErrCauseBadResult,
		}
	}
}

func wrapJSError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &render.RenderError{
			Message:   interrupted.Error(),
			Retryable: false,
			Cause:     render.ErrCauseAborted,
			Err:       err,
		}
	}
	return &render.RenderError{
		Message:   err.Error(),
		Retryable: false,
		Cause:     render.ErrCauseShellFailed,
		Err:       err,
	}
}

func errAborted() error {
	return &render.RenderError{
		Message:   "render aborted",
		Retryable: false,
		Cause:     render.ErrCauseAborted,
	}
}

type stream struct {
	// ready is closed once chunks is populated.
	ready   chan struct{}
	aborted chan struct{}
	chunks  []string

	mu        sync.Mutex
	vm        *goja.Runtime
	isAborted bool
	abortOnce sync.Once
}

func (s *stream) attach(vm *goja.Runtime) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isAborted {
		return false
	}
	s.vm = vm
	return true
}

func (s *stream) detach() {
	s.mu.Lock()
	s.vm = nil
	s.mu.Unlock()
}

func (s *stream) Abort() {
	s.abortOnce.Do(func() {
		s.mu.Lock()
		s.isAborted = true
		if s.vm != nil {
			s.vm.Interrupt("render aborted")
		}
		s.mu.Unlock()
		close(s.aborted)
	})
}

func (s *stream) Pipe(w io.Writer) error {
	select {
	case <-s.ready:
	case <-s.aborted:
		return errAborted()
	}

	for _, chunk := range s.chunks {
		select {
		case <-s.aborted:
			return errAborted()
		default:
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return &render.RenderError{
				Message:   err.Error(),
				Retryable: false,
				Cause:     render.ErrCauseStreamFailed,
				Err:       err,
			}
		}
	}
	return nil
}
