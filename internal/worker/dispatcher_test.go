package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDispatcher_RunsSessionTasksInOrder(t *testing.T) {
	d := NewDispatcher(16, time.Minute)
	defer d.Stop()

	var mu sync.Mutex
	var order []int
	var results []<-chan error

	for i := 0; i < 10; i++ {
		i := i
		done, err := d.Submit(context.Background(), "s1", func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		results = append(results, done)
	}
	for _, done := range results {
		if err := <-done; err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestDispatcher_SessionsRunConcurrently(t *testing.T) {
	d := NewDispatcher(4, time.Minute)
	defer d.Stop()

	release := make(chan struct{})
	started := make(chan string, 2)
	block := func(id string) Task {
		return func(ctx context.Context) error {
			started <- id
			<-release
			return nil
		}
	}

	a, _ := d.Submit(context.Background(), "a", block("a"))
	b, _ := d.Submit(context.Background(), "b", block("b"))

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected both sessions to start without waiting on each other")
		}
	}
	close(release)
	<-a
	<-b
}

func TestDispatcher_DoReturnsTaskError(t *testing.T) {
	d := NewDispatcher(1, time.Minute)
	defer d.Stop()

	boom := errors.New("boom")
	if err := d.Do(context.Background(), "s1", func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected task error, got %v", err)
	}
}

func TestDispatcher_MailboxFull(t *testing.T) {
	d := NewDispatcher(1, time.Minute)
	defer d.Stop()

	release := make(chan struct{})
	running := make(chan struct{})
	first, _ := d.Submit(context.Background(), "s1", func(ctx context.Context) error {
		close(running)
		<-release
		return nil
	})
	<-running

	if _, err := d.Submit(context.Background(), "s1", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected one queued task to fit, got %v", err)
	}
	if _, err := d.Submit(context.Background(), "s1", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrMailboxFull) {
		t.Fatalf("expected ErrMailboxFull, got %v", err)
	}
	close(release)
	<-first
}

func TestDispatcher_CancelAbortsRunningAndPending(t *testing.T) {
	d := NewDispatcher(4, time.Minute)
	defer d.Stop()

	running := make(chan struct{})
	inflight, _ := d.Submit(context.Background(), "s1", func(ctx context.Context) error {
		close(running)
		<-ctx.Done()
		return ctx.Err()
	})
	<-running

	pendingRan := false
	pending, _ := d.Submit(context.Background(), "s1", func(ctx context.Context) error {
		pendingRan = true
		return nil
	})

	d.Cancel("s1")

	if err := <-inflight; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected in-flight task cancelled, got %v", err)
	}
	if err := <-pending; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected pending task failed, got %v", err)
	}
	if pendingRan {
		t.Fatalf("expected pending task not to run")
	}

	if err := d.Do(context.Background(), "s1", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected session usable after cancel, got %v", err)
	}
}

func TestDispatcher_CallerContextCancelsTask(t *testing.T) {
	d := NewDispatcher(1, time.Minute)
	defer d.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	running := make(chan struct{})
	done, _ := d.Submit(ctx, "s1", func(ctx context.Context) error {
		close(running)
		<-ctx.Done()
		return ctx.Err()
	})
	<-running
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected task to observe caller cancellation, got %v", err)
	}
}

func TestDispatcher_PanicIsRecovered(t *testing.T) {
	d := NewDispatcher(1, time.Minute)
	defer d.Stop()

	err := d.Do(context.Background(), "s1", func(ctx context.Context) error { panic("bad turn") })
	if err == nil {
		t.Fatalf("expected panic reported as error")
	}
	if err := d.Do(context.Background(), "s1", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected mailbox to survive a panic, got %v", err)
	}
}

func TestDispatcher_IdleMailboxExits(t *testing.T) {
	d := NewDispatcher(1, 20*time.Millisecond)
	defer d.Stop()

	d.Do(context.Background(), "s1", func(ctx context.Context) error { return nil })

	deadline := time.Now().Add(2 * time.Second)
	for d.Active() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if d.Active() != 0 {
		t.Fatalf("expected idle mailbox to be reaped")
	}
}

func TestDispatcher_StopRejectsNewWork(t *testing.T) {
	d := NewDispatcher(1, time.Minute)
	d.Do(context.Background(), "s1", func(ctx context.Context) error { return nil })

	d.Stop()
	d.Stop()

	if _, err := d.Submit(context.Background(), "s1", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
