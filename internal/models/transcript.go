package models

import (
	"time"

	"github.com/google/uuid"
)

type Thread struct {
	ID          uuid.UUID  `json:"id"`
	SessionID   string     `json:"session_id"`
	DisplayName string     `json:"display_name"`
	CreatedAt   time.Time  `json:"created_at"`
	EndedAt     *time.Time `json:"ended_at"`
}

type ThreadMessage struct {
	ID        int64     `json:"id"`
	ThreadID  uuid.UUID `json:"thread_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Round is the record kept when a round completes: the anchor that was
// classified, the path taken and the final answer or advice.
type Round struct {
	ID        uuid.UUID `json:"id"`
	ThreadID  uuid.UUID `json:"thread_id"`
	Category  Category  `json:"category"`
	Path      string    `json:"path"`
	Anchor    string    `json:"anchor"`
	Outcome   string    `json:"outcome"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
}

type TranscriptResponse struct {
	SessionID string          `json:"session_id"`
	Messages  []ThreadMessage `json:"messages"`
}

type RoundsResponse struct {
	SessionID string  `json:"session_id"`
	Rounds    []Round `json:"rounds"`
}
