package speech

import (
	"context"
	"log"
	"time"
)

const janitorPollInterval = 1 * time.Hour

// Janitor periodically removes clips older than the retention window.
type Janitor struct {
	store     AudioStore
	retention time.Duration
	interval  time.Duration
	stopChan  chan struct{}
}

func NewJanitor(store AudioStore, retention time.Duration) *Janitor {
	return &Janitor{
		store:     store,
		retention: retention,
		interval:  janitorPollInterval,
		stopChan:  make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	if j.store == nil || j.retention <= 0 {
		return
	}
	go j.loop()
	log.Printf("Audio janitor started (retention %s)", j.retention)
}

func (j *Janitor) Stop() {
	select {
	case <-j.stopChan:
		return
	default:
		close(j.stopChan)
	}
}

func (j *Janitor) loop() {
	// Run on startup as well as by interval.
	j.sweep(context.Background(), time.Now().UTC())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			j.sweep(context.Background(), time.Now().UTC())
		}
	}
}

func (j *Janitor) sweep(ctx context.Context, now time.Time) int {
	removed, err := j.store.Sweep(ctx, now.Add(-j.retention))
	if err != nil {
		log.Printf("speech: audio sweep failed: %v", err)
		return 0
	}
	if removed > 0 {
		log.Printf("speech: removed %d expired audio clips", removed)
	}
	return removed
}
