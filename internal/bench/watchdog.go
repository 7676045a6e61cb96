package bench

import (
	"sync"
	"sync/atomic"
	"time"

	"membench/internal/logging"
)

// StartWatchdog arms a total-runtime limit. When limit elapses it sets stop,
// and workers wind down at their next iteration boundary. The returned cancel
// releases the timer goroutine; calling it after the deadline fired is safe.
func StartWatchdog(limit time.Duration, stop *atomic.Bool) (cancel func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(limit):
			logging.GetLogger().WithField("limit_seconds", limit.Seconds()).Warn(
				"Run time limit reached, stopping workers")
			stop.Store(true)
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
