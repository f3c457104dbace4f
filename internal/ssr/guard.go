package ssr

import (
	"time"
)

// DefaultRenderTimeout bounds how long a render may take to produce its shell.
const DefaultRenderTimeout = 10 * time.Second

// startTimeout arms the render deadline. On expiry it times the session out,
// aborts the render and wakes the request goroutine, which answers 503.
// If the session already left pending the expiry is a no-op.
//
// The returned stop only saves the timer; the guard stays idempotent without it.
func startTimeout(s *session, abort func(), d time.Duration) (stop func() bool) {
	timer := time.AfterFunc(d, func() {
		if !s.resolve(stateTimedOut) {
			return
		}
		abort()
		s.events <- event{state: stateTimedOut}
	})
	return timer.Stop
}
