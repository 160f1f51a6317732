package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is everything the triage controller owns for one conversation.
// It is persisted between turns by the session store and mutated only while
// the session's mailbox is processing a message.
type SessionState struct {
	ID          string    `json:"id"`
	ThreadID    uuid.UUID `json:"thread_id"`
	DisplayName string    `json:"display_name"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	ConversationHistory []Turn        `json:"conversation_history"`
	ChatHistory         []ChatMessage `json:"chat_history"`
	QuestionQueue       []string      `json:"question_queue"`
	ActiveCategory      Category      `json:"active_category"`
	AnchorMessage       string        `json:"anchor_message"`
	TTSEnabled          bool          `json:"tts_enabled"`
	// AudioMessageID is the audio message still on screen. Its clip is
	// replaced by the next one synthesized for the session.
	AudioMessageID string `json:"audio_message_id,omitempty"`
}

// NewSessionState returns a state with every dialog field at its default.
func NewSessionState(id string, threadID uuid.UUID, displayName string) *SessionState {
	return &SessionState{
		ID:                  id,
		ThreadID:            threadID,
		DisplayName:         displayName,
		ConversationHistory: []Turn{},
		ChatHistory:         []ChatMessage{},
		QuestionQueue:       []string{},
	}
}

// ResetRound clears the per-round fields. Chat history is kept.
func (s *SessionState) ResetRound() {
	s.ActiveCategory = CategoryNone
	s.ConversationHistory = []Turn{}
}

// Clone returns a deep copy so a turn can work on private slices.
func (s *SessionState) Clone() *SessionState {
	c := *s
	c.ConversationHistory = append([]Turn(nil), s.ConversationHistory...)
	c.ChatHistory = append([]ChatMessage(nil), s.ChatHistory...)
	c.QuestionQueue = append([]string(nil), s.QuestionQueue...)
	return &c
}
