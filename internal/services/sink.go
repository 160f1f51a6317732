package services

import (
	"context"
	"log"

	"github.com/google/uuid"

	"infomary-backend/internal/models"
)

// turnSink is the triage.Sink of one turn. Every operation is published to
// the session's event channel as it happens, and the final set of messages
// is kept for the HTTP response. Publishing is best effort.
type turnSink struct {
	sessionID string
	events    EventPublisher
	messages  []models.OutboundMessage
}

func newTurnSink(sessionID string, events EventPublisher) *turnSink {
	return &turnSink{sessionID: sessionID, events: events}
}

func (t *turnSink) Send(ctx context.Context, msg models.OutboundMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg.ID = uuid.NewString()
	t.messages = append(t.messages, msg)

	event := models.EventMessage
	if msg.Kind == models.MessageKindAudio {
		event = models.EventAudio
	}
	t.publish(ctx, event, msg)
	return msg.ID, nil
}

func (t *turnSink) StreamToken(ctx context.Context, messageID, delta string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for i := range t.messages {
		if t.messages[i].ID == messageID {
			t.messages[i].Content += delta
			break
		}
	}
	t.publish(ctx, models.EventToken, models.TokenEvent{MessageID: messageID, Delta: delta})
	return nil
}

func (t *turnSink) Retract(ctx context.Context, messageID string) error {
	kept := t.messages[:0]
	for _, m := range t.messages {
		if m.ID != messageID {
			kept = append(kept, m)
		}
	}
	t.messages = kept

	t.publish(ctx, models.EventMessageRemoved, models.MessageRemovedEvent{MessageID: messageID})
	return nil
}

// delivered returns the messages still visible at the end of the turn.
func (t *turnSink) delivered() []models.OutboundMessage {
	if t.messages == nil {
		return []models.OutboundMessage{}
	}
	return t.messages
}

func (t *turnSink) publish(ctx context.Context, eventType string, payload interface{}) {
	if t.events == nil {
		return
	}
	if err := t.events.Publish(ctx, t.sessionID, models.WSMessage{Type: eventType, Payload: payload}); err != nil {
		log.Printf("chat: publish %s event for session %s failed: %v", eventType, t.sessionID, err)
	}
}
