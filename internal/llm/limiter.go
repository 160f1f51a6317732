package llm

import (
	"context"
	"fmt"
	"time"
)

const slotWaitTimeout = 5 * time.Minute

// slots is a token bucket bounding concurrent provider calls for the process.
type slots chan struct{}

func newSlots(n int) slots {
	if n <= 0 {
		n = 1
	}
	s := make(slots, n)
	for i := 0; i < n; i++ {
		s <- struct{}{}
	}
	return s
}

// acquire blocks until a slot is available
func (s slots) acquire(ctx context.Context) error {
	select {
	case <-s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(slotWaitTimeout):
		return fmt.Errorf("timeout waiting for an inference slot")
	}
}

func (s slots) release() {
	s <- struct{}{}
}
