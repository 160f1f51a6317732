package triage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"infomary-backend/internal/models"
)

func TestDedupeAnswer(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "renumbers list and drops repeats",
			raw:  "1. Home care\n2. Assisted living\n3. Home care\n4. Hospice",
			want: "1. Home care\n2. Assisted living\n3. Hospice",
		},
		{
			name: "keeps first plain line",
			raw:  "Here are options.\nHere are options.\n  Here are options.  ",
			want: "\nHere are options.",
		},
		{
			name: "mixed content keeps order",
			raw:  "Options:\n\n1.  Adult day care\n2. Adult day care\n\nNote: costs vary.\nOptions:",
			want: "\nOptions:\n1. Adult day care\n\nNote: costs vary.",
		},
		{
			name: "drops empty list items",
			raw:  "1. \n2. Respite care",
			want: "1. Respite care",
		},
		{
			name: "empty input",
			raw:  "",
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DedupeAnswer(tc.raw); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestDedupeAnswer_Idempotent(t *testing.T) {
	inputs := []string{
		"1. a\n2. b\n3. a\nplain\nplain\n4. c",
		"intro\n\n1. x\n1. x\n\n  intro  \n2. y\nclosing",
		"3.5 mg daily\n1. 5 mg daily\nnote",
		"1. 2. nested\n2. nested",
		"\n\n\n",
		"no list at all\nsecond line\nno list at all",
	}

	for _, in := range inputs {
		once := DedupeAnswer(in)
		twice := DedupeAnswer(once)
		if once != twice {
			t.Fatalf("dedup not idempotent for %q:\nonce:  %q\ntwice: %q", in, once, twice)
		}
	}
}

func TestResponder_StreamsAndDedupes(t *testing.T) {
	client := &scriptedLLM{deltas: []string{"1. Home care\n", "2. Home care\n", "3. Hospice"}}
	sink := &recordingSink{}

	ans, err := NewResponder(client).Respond(context.Background(), "find me a nursing home", sink)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ans.Fallback {
		t.Fatalf("expected a streamed answer")
	}
	if ans.Text != "1. Home care\n2. Hospice" {
		t.Fatalf("unexpected answer %q", ans.Text)
	}

	if sink.ops[0].op != "send" || sink.ops[0].msg.Content != "" {
		t.Fatalf("expected empty placeholder first, got %+v", sink.ops[0])
	}
	var streamed strings.Builder
	for _, o := range sink.ops[1:] {
		if o.op != "token" || o.id != ans.Placeholder {
			t.Fatalf("expected tokens into placeholder, got %+v", o)
		}
		streamed.WriteString(o.text)
	}
	if streamed.String() != "1. Home care\n2. Home care\n3. Hospice" {
		t.Fatalf("expected raw deltas streamed, got %q", streamed.String())
	}
	if client.prompts[0] != "find me a nursing home" {
		t.Fatalf("expected the bare message as user prompt, got %q", client.prompts[0])
	}
}

func TestResponder_EmptyStreamUsesNotTrained(t *testing.T) {
	ans, err := NewResponder(&scriptedLLM{}).Respond(context.Background(), "q", &recordingSink{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ans.Text != NotTrainedAnswer {
		t.Fatalf("expected %q, got %q", NotTrainedAnswer, ans.Text)
	}
}

func TestResponder_OpenFailureStreamsApology(t *testing.T) {
	sink := &recordingSink{}
	ans, err := NewResponder(&scriptedLLM{streamErr: errTransport}).Respond(context.Background(), "q", sink)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ans.Fallback || ans.Text != AnswerUnavailable {
		t.Fatalf("expected fallback apology, got %+v", ans)
	}
	last := sink.ops[len(sink.ops)-1]
	if last.op != "token" || last.text != AnswerUnavailable {
		t.Fatalf("expected apology streamed into placeholder, got %+v", last)
	}
}

func TestResponder_InterruptedStreamKeepsPartial(t *testing.T) {
	client := &scriptedLLM{deltas: []string{"Assisted living", " is an option", "never sent"}, streamFailAt: 3}

	ans, err := NewResponder(client).Respond(context.Background(), "q", &recordingSink{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ans.Text != "\nAssisted living is an option" {
		t.Fatalf("expected partial answer, got %q", ans.Text)
	}
}

func TestResponder_SinkFailure(t *testing.T) {
	sink := &recordingSink{sendErr: errSinkGone}
	_, err := NewResponder(&scriptedLLM{}).Respond(context.Background(), "q", sink)
	if !errors.Is(err, errSinkGone) {
		t.Fatalf("expected sink error, got %v", err)
	}
}

func TestCategory_DirectAnswer(t *testing.T) {
	tests := []struct {
		c    models.Category
		want bool
	}{
		{models.CategoryHealthcareServices, true},
		{models.CategoryMedicalProcedures, true},
		{" Medical Procedures ", true},
		{models.CategoryMedicalAdvice, false},
		{models.CategoryNone, false},
		{"Billing", false},
	}
	for _, tc := range tests {
		if got := tc.c.DirectAnswer(); got != tc.want {
			t.Errorf("%q: expected %v, got %v", tc.c, tc.want, got)
		}
	}
}
