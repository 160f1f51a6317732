package triage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"

	"infomary-backend/internal/llm"
	"infomary-backend/internal/models"
)

var listItem = regexp.MustCompile(`^(\d+)\.\s*(.*)`)

// DirectAnswer is the result of one streamed reply.
type DirectAnswer struct {
	// Placeholder is the in-flight message the deltas were streamed into.
	Placeholder string
	Text        string
	// Fallback is set when the stream could not be opened; the apology was
	// streamed into the placeholder and needs no further delivery.
	Fallback bool
}

// Responder answers requests that do not need triage with a single streamed reply.
type Responder struct {
	llm llm.Client
}

func NewResponder(client llm.Client) *Responder {
	return &Responder{llm: client}
}

// Respond streams the reply into a fresh placeholder message and returns the
// deduplicated text. The error is non-nil only when the sink fails.
func (r *Responder) Respond(ctx context.Context, message string, out Sink) (DirectAnswer, error) {
	placeholder, err := out.Send(ctx, models.OutboundMessage{Kind: models.MessageKindText})
	if err != nil {
		return DirectAnswer{}, fmt.Errorf("open placeholder: %w", err)
	}
	answer := DirectAnswer{Placeholder: placeholder}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: directAnswerSystemPrompt},
		{Role: llm.RoleUser, Content: message},
	}

	stream, err := r.llm.Stream(ctx, messages, llm.DefaultParams())
	if err != nil {
		answer.Text = softFail(opAnswer, "", err, AnswerUnavailable)
		answer.Fallback = true
		if err := out.StreamToken(ctx, placeholder, answer.Text); err != nil {
			return answer, fmt.Errorf("stream token: %w", err)
		}
		return answer, nil
	}
	defer stream.Close()

	var raw strings.Builder
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Printf("triage: direct answer stream interrupted: %v", err)
			break
		}
		raw.WriteString(delta)
		if err := out.StreamToken(ctx, placeholder, delta); err != nil {
			return answer, fmt.Errorf("stream token: %w", err)
		}
	}

	if strings.TrimSpace(raw.String()) == "" {
		answer.Text = NotTrainedAnswer
		return answer, nil
	}
	answer.Text = DedupeAnswer(raw.String())
	return answer, nil
}

// DedupeAnswer drops repeated lines from a model answer. Ordinal list items
// keep the first occurrence of each distinct text and are renumbered from 1;
// other lines keep the first occurrence of each distinct trimmed line and are
// set off as their own paragraph. Relative order is preserved.
func DedupeAnswer(raw string) string {
	seen := make(map[string]struct{})
	var out []string
	count := 1

	for _, line := range strings.Split(raw, "\n") {
		stripped := strings.TrimSpace(line)

		if m := listItem.FindStringSubmatch(stripped); m != nil {
			text := m[2]
			if text == "" {
				continue
			}
			if _, dup := seen[text]; dup {
				continue
			}
			seen[text] = struct{}{}
			out = append(out, fmt.Sprintf("%d. %s", count, text))
			count++
			continue
		}

		if stripped == "" {
			continue
		}
		if _, dup := seen[stripped]; dup {
			continue
		}
		seen[stripped] = struct{}{}
		out = append(out, "\n"+stripped)
	}

	return strings.Join(out, "\n")
}
