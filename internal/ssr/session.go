package ssr

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohmanhakim/storefront-ssr/internal/metadata"
	"github.com/rohmanhakim/storefront-ssr/internal/render"
)

/*
state is the lifecycle of one render session.

	pending -> shellReady   headers sent, body streams, response ends
	pending -> shellError   500 sent
	pending -> timedOut     render aborted, 503 sent
	pending -> failed       error outside the engine contract, 500 sent

Every transition leaves pending, so the first compare-and-swap wins and
every later one is a no-op. Only the winner gets to respond.
*/
type state int32

const (
	statePending state = iota
	stateShellReady
	stateShellError
	stateTimedOut
	stateFailed
)

func (s state) outcome() metadata.RenderOutcome {
	switch s {
	case stateShellReady:
		return metadata.OutcomeStreamed
	case stateShellError:
		return metadata.OutcomeShellError
	case stateTimedOut:
		return metadata.OutcomeTimeout
	default:
		return metadata.OutcomeFailed
	}
}

// event is what the winning transition hands to the request goroutine.
type event struct {
	state state
	err   error
}

type session struct {
	url      string
	tenant   string
	cacheKey string
	started  time.Time

	state    atomic.Int32
	didError atomic.Bool
	// events holds at most the single winning event.
	events chan event

	mu             sync.Mutex
	stream         render.Stream
	abortRequested bool
	abortOnce      sync.Once
}

func newSession(url string, tenant string, cacheKey string) *session {
	return &session{
		url:      url,
		tenant:   tenant,
		cacheKey: cacheKey,
		started:  time.Now(),
		events:   make(chan event, 1),
	}
}

// resolve moves the session out of pending. It reports whether this call won.
func (s *session) resolve(to state) bool {
	return s.state.CompareAndSwap(int32(statePending), int32(to))
}

// settle resolves the session and, if this call won, wakes the request
// goroutine. Safe from any goroutine.
func (s *session) settle(to state, err error) bool {
	if !s.resolve(to) {
		return false
	}
	s.events <- event{state: to, err: err}
	return true
}

func (s *session) current() state {
	return state(s.state.Load())
}

// callbacks adapts the session to the engine contract. They only flip
// state; all response writing stays on the request goroutine.
func (s *session) callbacks() render.Callbacks {
	return render.Callbacks{
		OnShellReady: func() {
			s.settle(stateShellReady, nil)
		},
		OnShellError: func(err error) {
			s.settle(stateShellError, err)
		},
		OnError: func(err error) {
			s.didError.Store(true)
		},
	}
}

// attach records the stream returned by the engine. An abort requested
// before the engine returned is delivered now.
func (s *session) attach(stream render.Stream) {
	s.mu.Lock()
	s.stream = stream
	pending := s.abortRequested
	s.mu.Unlock()
	if pending {
		s.abortOnce.Do(stream.Abort)
	}
}

// abortRender stops the render at most once, whenever the stream is known.
func (s *session) abortRender() {
	s.mu.Lock()
	s.abortRequested = true
	stream := s.stream
	s.mu.Unlock()
	if stream != nil {
		s.abortOnce.Do(stream.Abort)
	}
}
