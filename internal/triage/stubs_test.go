package triage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"infomary-backend/internal/llm"
	"infomary-backend/internal/models"
)

var errTransport = &llm.APIError{Message: "connection refused", Type: llm.ErrTypeRequest}

// scriptedLLM answers Complete calls with reply/err and Stream calls with deltas.
type scriptedLLM struct {
	mu           sync.Mutex
	reply        string
	err          error
	deltas       []string
	streamErr    error
	streamFailAt int
	prompts      []string
	params       []llm.Params
}

func (s *scriptedLLM) Complete(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	s.params = append(s.params, params)
	return s.reply, s.err
}

func (s *scriptedLLM) Stream(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	return &sliceStream{deltas: append([]string(nil), s.deltas...), failAt: s.streamFailAt}, nil
}

type sliceStream struct {
	deltas []string
	failAt int // 1-based index that returns an error instead, 0 for never
	n      int
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if s.closed || len(s.deltas) == 0 {
		return "", io.EOF
	}
	s.n++
	if s.failAt > 0 && s.n == s.failAt {
		return "", errTransport
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

// sinkOp is one call observed by recordingSink.
type sinkOp struct {
	op   string // "send" | "token" | "retract"
	id   string
	msg  models.OutboundMessage
	text string
}

type recordingSink struct {
	ops     []sinkOp
	nextID  int
	sendErr error
}

func (s *recordingSink) Send(ctx context.Context, msg models.OutboundMessage) (string, error) {
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.nextID++
	id := fmt.Sprintf("m%d", s.nextID)
	s.ops = append(s.ops, sinkOp{op: "send", id: id, msg: msg})
	return id, nil
}

func (s *recordingSink) StreamToken(ctx context.Context, messageID, delta string) error {
	s.ops = append(s.ops, sinkOp{op: "token", id: messageID, text: delta})
	return nil
}

func (s *recordingSink) Retract(ctx context.Context, messageID string) error {
	s.ops = append(s.ops, sinkOp{op: "retract", id: messageID})
	return nil
}

// texts returns the content of every non-empty text message sent.
func (s *recordingSink) texts() []string {
	var out []string
	for _, o := range s.ops {
		if o.op == "send" && o.msg.Kind == models.MessageKindText && o.msg.Content != "" {
			out = append(out, o.msg.Content)
		}
	}
	return out
}

type countingRetriever struct {
	calls int
	docs  []string
}

func (r *countingRetriever) Retrieve(ctx context.Context, query string, topK int) []string {
	r.calls++
	return r.docs
}

type stubClassifier struct {
	labels []models.Category // consumed in order; last one repeats
	calls  []string
}

func (c *stubClassifier) Classify(ctx context.Context, message string) models.Category {
	c.calls = append(c.calls, message)
	label := c.labels[0]
	if len(c.labels) > 1 {
		c.labels = c.labels[1:]
	}
	return label
}

type stubGenerator struct {
	batches [][]string // consumed in order; empty once exhausted
	calls   int
}

func (g *stubGenerator) Generate(ctx context.Context, history []models.Turn, retrieved string) []string {
	g.calls++
	if len(g.batches) == 0 {
		return []string{}
	}
	b := g.batches[0]
	g.batches = g.batches[1:]
	return append([]string(nil), b...)
}

type stubValidator struct {
	accept func(q string) bool
	seen   []string
}

func (v *stubValidator) Validate(ctx context.Context, history []models.Turn, question string) bool {
	v.seen = append(v.seen, question)
	return v.accept(question)
}

type stubAdvisor struct {
	advice string
	calls  int
}

func (a *stubAdvisor) Synthesize(ctx context.Context, history []models.Turn, retrieved string) string {
	a.calls++
	return a.advice
}

type stubSpeaker struct {
	url   string
	err   error
	calls []string
}

func (s *stubSpeaker) Synthesize(ctx context.Context, sessionID, text string) (string, error) {
	s.calls = append(s.calls, text)
	return s.url, s.err
}

func acceptAll(string) bool { return true }
func rejectAll(string) bool { return false }
func contains(sub string) func(string) bool {
	return func(q string) bool { return strings.Contains(q, sub) }
}

var errSinkGone = errors.New("websocket closed")
