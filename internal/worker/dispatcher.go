package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var (
	ErrMailboxFull = errors.New("session is busy")
	ErrStopped     = errors.New("dispatcher stopped")
)

const (
	defaultMailboxDepth = 8
	defaultIdleTimeout  = 5 * time.Minute
)

// Task is one unit of work run on a session's mailbox.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	run  Task
	done chan error
}

type mailbox struct {
	id     string
	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
}

// Dispatcher runs tasks one at a time per session, in submission order.
// Each session gets its own goroutine, which exits after sitting idle.
type Dispatcher struct {
	mu        sync.Mutex
	mailboxes map[string]*mailbox
	depth     int
	idle      time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopChan  chan struct{}
}

func NewDispatcher(depth int, idle time.Duration) *Dispatcher {
	if depth <= 0 {
		depth = defaultMailboxDepth
	}
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		mailboxes: make(map[string]*mailbox),
		depth:     depth,
		idle:      idle,
		ctx:       ctx,
		cancel:    cancel,
		stopChan:  make(chan struct{}),
	}
}

// Submit queues task on the session's mailbox. The returned channel yields
// the task's result once it has run. The task's context is cancelled when
// ctx is, when the session is cancelled, or when the dispatcher stops.
func (d *Dispatcher) Submit(ctx context.Context, sessionID string, task Task) (<-chan error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.stopChan:
		return nil, ErrStopped
	default:
	}

	mb, ok := d.mailboxes[sessionID]
	if !ok {
		mb = d.spawn(sessionID)
	}

	j := job{ctx: ctx, run: task, done: make(chan error, 1)}
	select {
	case mb.jobs <- j:
		return j.done, nil
	default:
		return nil, ErrMailboxFull
	}
}

// Do submits task and waits for its result.
func (d *Dispatcher) Do(ctx context.Context, sessionID string, task Task) error {
	done, err := d.Submit(ctx, sessionID, task)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel aborts the running task of a session and fails its pending ones.
func (d *Dispatcher) Cancel(sessionID string) {
	d.mu.Lock()
	mb, ok := d.mailboxes[sessionID]
	if ok {
		delete(d.mailboxes, sessionID)
	}
	d.mu.Unlock()

	if ok {
		mb.cancel()
	}
}

// Active reports how many sessions currently own a mailbox goroutine.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mailboxes)
}

func (d *Dispatcher) Stop() {
	d.mu.Lock()
	select {
	case <-d.stopChan:
		d.mu.Unlock()
		return
	default:
		close(d.stopChan)
	}
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	log.Printf("Dispatcher stopped")
}

// spawn must be called with d.mu held.
func (d *Dispatcher) spawn(sessionID string) *mailbox {
	ctx, cancel := context.WithCancel(d.ctx)
	mb := &mailbox{
		id:     sessionID,
		jobs:   make(chan job, d.depth),
		ctx:    ctx,
		cancel: cancel,
	}
	d.mailboxes[sessionID] = mb

	d.wg.Add(1)
	go d.loop(mb)
	return mb
}

func (d *Dispatcher) loop(mb *mailbox) {
	defer d.wg.Done()
	defer mb.cancel()

	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		select {
		case <-mb.ctx.Done():
			d.drain(mb)
			return

		case j := <-mb.jobs:
			j.done <- d.run(mb, j)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.idle)

		case <-timer.C:
			d.mu.Lock()
			if len(mb.jobs) == 0 {
				if d.mailboxes[mb.id] == mb {
					delete(d.mailboxes, mb.id)
				}
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			timer.Reset(d.idle)
		}
	}
}

func (d *Dispatcher) run(mb *mailbox, j job) (err error) {
	ctx, cancel := context.WithCancel(mb.ctx)
	defer cancel()
	if j.ctx != nil {
		stop := context.AfterFunc(j.ctx, cancel)
		defer stop()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker: session %s task panicked: %v", mb.id, r)
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return j.run(ctx)
}

func (d *Dispatcher) drain(mb *mailbox) {
	for {
		select {
		case j := <-mb.jobs:
			j.done <- mb.ctx.Err()
		default:
			return
		}
	}
}
