package main

import (
	"testing"
	"time"
)

func TestTurnWriteTimeout(t *testing.T) {
	llmTimeout := 30 * time.Second
	speechTimeout := 60 * time.Second

	got := turnWriteTimeout(llmTimeout, speechTimeout, 2)

	// embed, classify, 2 x (generate + 5 validations), advice
	calls := 3 + 2*6
	worst := time.Duration(calls)*llmTimeout + 2*speechTimeout
	if got < worst {
		t.Fatalf("write timeout %s is shorter than the slowest turn %s", got, worst)
	}

	if more := turnWriteTimeout(llmTimeout, speechTimeout, 3); more <= got {
		t.Fatalf("expected more regenerations to extend the timeout, got %s <= %s", more, got)
	}
}
