package models

import "strings"

// Category is the request label assigned at the start of a round.
type Category string

const (
	CategoryHealthcareServices Category = "Healthcare Services"
	CategoryMedicalAdvice      Category = "Medical Advice"
	CategoryMedicalProcedures  Category = "Medical Procedures"
	CategoryNone               Category = ""
)

// DirectAnswer reports whether the category skips triage and is answered in one streamed reply.
func (c Category) DirectAnswer() bool {
	switch Category(strings.TrimSpace(string(c))) {
	case CategoryHealthcareServices, CategoryMedicalProcedures:
		return true
	}
	return false
}

type Speaker string

const (
	SpeakerUser      Speaker = "User"
	SpeakerAssistant Speaker = "Assistant"
)

// Turn is one entry of the prompt-facing conversation history.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// String renders the turn the way it is replayed into prompts ("User: ...").
func (t Turn) String() string {
	return string(t.Speaker) + ": " + t.Text
}

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is the payload sent to the message endpoint.
type ChatRequest struct {
	Message string `json:"message"`
}

// OutboundMessage is a message delivered to the chat UI during a turn.
type OutboundMessage struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"` // "text" | "audio"
	Content  string `json:"content"`
	AudioURL string `json:"audio_url,omitempty"`
}

const (
	MessageKindText  = "text"
	MessageKindAudio = "audio"
)

// ChatResponse is returned once a turn has been fully processed.
type ChatResponse struct {
	Messages      []OutboundMessage `json:"messages"`
	Category      Category          `json:"category"`
	Path          string            `json:"path"` // "direct" | "triage"
	RoundComplete bool              `json:"round_complete"`
}

type StartSessionRequest struct {
	DisplayName string `json:"display_name"`
}

type StartSessionResponse struct {
	SessionID    string          `json:"session_id"`
	Token        string          `json:"token"`
	Greeting     OutboundMessage `json:"greeting"`
	TTSAvailable bool            `json:"tts_available"`
}

type UpdateSettingsRequest struct {
	TTSEnabled *bool `json:"tts_enabled"`
}

type SettingsResponse struct {
	TTSEnabled   bool `json:"tts_enabled"`
	TTSAvailable bool `json:"tts_available"`
}

type TranscribeResponse struct {
	Text string `json:"text"`
}

type ResumeResponse struct {
	SessionID    string        `json:"session_id"`
	Token        string        `json:"token"`
	Messages     []ChatMessage `json:"messages"`
	TTSEnabled   bool          `json:"tts_enabled"`
	TTSAvailable bool          `json:"tts_available"`
}
