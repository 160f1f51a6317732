package models

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	EventMessage        = "message"
	EventToken          = "token"
	EventMessageRemoved = "message_removed"
	EventAudio          = "audio"
	// EventSessionEnded is the last event of a session; sockets are closed
	// after it is delivered.
	EventSessionEnded = "session_ended"
)

type TokenEvent struct {
	MessageID string `json:"message_id"`
	Delta     string `json:"delta"`
}

type MessageRemovedEvent struct {
	MessageID string `json:"message_id"`
}

type SessionEndedEvent struct {
	SessionID string `json:"session_id"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
