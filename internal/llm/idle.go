package llm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// idleWatch cancels a stream when the provider sends nothing for longer than
// timeout. Every received chunk pushes the deadline out again.
type idleWatch struct {
	timer   *time.Timer
	timeout time.Duration
	fired   atomic.Bool
}

func watchIdle(timeout time.Duration, cancel context.CancelFunc) *idleWatch {
	w := &idleWatch{timeout: timeout}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			w.fired.Store(true)
			cancel()
		})
	}
	return w
}

func (w *idleWatch) touch() {
	if w.timer != nil && !w.fired.Load() {
		w.timer.Reset(w.timeout)
	}
}

func (w *idleWatch) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// wrap reports err as a timeout when the watch cut the stream off.
func (w *idleWatch) wrap(err error, convert func(error) error) error {
	if w.fired.Load() {
		return &APIError{
			Message: fmt.Sprintf("no data from provider for %s", w.timeout),
			Type:    ErrTypeTimeout,
			Err:     fmt.Errorf("%w: %v", context.DeadlineExceeded, err),
		}
	}
	return convert(err)
}
