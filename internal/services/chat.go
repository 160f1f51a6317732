package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"infomary-backend/internal/models"
	"infomary-backend/internal/repository"
	"infomary-backend/internal/session"
	"infomary-backend/internal/triage"
	"infomary-backend/internal/worker"
)

const (
	maxMessageLength     = 4000
	maxDisplayNameLength = 80
	defaultDisplayName   = "there"
)

// TranscriptStore persists threads, their messages and completed rounds.
type TranscriptStore interface {
	CreateThread(ctx context.Context, t *models.Thread) error
	LatestThread(ctx context.Context, sessionID string) (*models.Thread, error)
	EndThread(ctx context.Context, threadID uuid.UUID) error
	ReopenThread(ctx context.Context, threadID uuid.UUID) error
	AppendMessages(ctx context.Context, threadID uuid.UUID, msgs []models.ChatMessage) error
	ListMessages(ctx context.Context, threadID uuid.UUID) ([]models.ThreadMessage, error)
	CreateRound(ctx context.Context, round *models.Round) error
	ListRounds(ctx context.Context, threadID uuid.UUID) ([]models.Round, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, sessionID string, msg models.WSMessage) error
}

type TurnHandler interface {
	Handle(ctx context.Context, st *models.SessionState, message string, out triage.Sink) (triage.Outcome, error)
}

// Speech is the part of the speech service the chat flow needs directly.
// Synthesis goes through the triage controller.
type Speech interface {
	Enabled() bool
	Transcribe(ctx context.Context, filename string, audio io.Reader) string
	Forget(ctx context.Context, sessionID string) error
}

type TokenIssuer interface {
	IssueToken(sessionID string) (string, error)
}

type ChatService struct {
	sessions    session.Store
	transcripts TranscriptStore
	turns       TurnHandler
	mailboxes   *worker.Dispatcher
	events      EventPublisher
	speech      Speech
	tokens      TokenIssuer
}

func NewChatService(
	sessions session.Store,
	transcripts TranscriptStore,
	turns TurnHandler,
	mailboxes *worker.Dispatcher,
	events EventPublisher,
	speech Speech,
	tokens TokenIssuer,
) *ChatService {
	return &ChatService{
		sessions:    sessions,
		transcripts: transcripts,
		turns:       turns,
		mailboxes:   mailboxes,
		events:      events,
		speech:      speech,
		tokens:      tokens,
	}
}

// Greeting is the first assistant message of every chat.
func Greeting(displayName string) string {
	var b strings.Builder
	b.WriteString("⚠️ **Disclaimer:** By using this chatbot, you agree to the terms and conditions.\n\n")
	fmt.Fprintf(&b, "Hello **%s**! 👋\n\n", displayName)
	b.WriteString("I'm Infomary Health Bot, here to help you with your health concerns. I can assist with:\n")
	b.WriteString("- 🏥 Healthcare Services\n")
	b.WriteString("- 💊 Medical Advice\n")
	b.WriteString("- 🩺 Medical Procedures\n\n")
	b.WriteString("How can I assist you today?")
	return b.String()
}

// StartChat opens a new session and its transcript thread and returns the
// greeting together with the token that authorizes the session's routes.
func (s *ChatService) StartChat(ctx context.Context, req models.StartSessionRequest) (*models.StartSessionResponse, error) {
	name := strings.TrimSpace(req.DisplayName)
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return nil, &ValidationError{Fields: map[string]string{
			"display_name": fmt.Sprintf("Display name must be at most %d characters", maxDisplayNameLength),
		}}
	}
	if name == "" {
		name = defaultDisplayName
	}

	sessionID := uuid.NewString()
	thread := &models.Thread{SessionID: sessionID, DisplayName: name}
	if err := s.transcripts.CreateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	greeting := Greeting(name)
	st := models.NewSessionState(sessionID, thread.ID, name)
	st.ConversationHistory = append(st.ConversationHistory, models.Turn{Speaker: models.SpeakerAssistant, Text: greeting})
	st.ChatHistory = append(st.ChatHistory, models.ChatMessage{Role: models.RoleAssistant, Content: greeting})

	if err := s.sessions.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := s.transcripts.AppendMessages(ctx, thread.ID, st.ChatHistory); err != nil {
		log.Printf("chat: store greeting for session %s failed: %v", sessionID, err)
	}

	token, err := s.tokens.IssueToken(sessionID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	log.Printf("chat: session %s started for %q", sessionID, name)
	return &models.StartSessionResponse{
		SessionID: sessionID,
		Token:     token,
		Greeting: models.OutboundMessage{
			ID:      uuid.NewString(),
			Kind:    models.MessageKindText,
			Content: greeting,
		},
		TTSAvailable: s.speech.Enabled(),
	}, nil
}

// HandleMessage runs one user message through the triage controller on the
// session's mailbox and returns everything that was delivered.
func (s *ChatService) HandleMessage(ctx context.Context, sessionID, message string) (*models.ChatResponse, error) {
	if strings.TrimSpace(message) == "" {
		return nil, &ValidationError{Fields: map[string]string{"message": "Message is required"}}
	}
	if utf8.RuneCountInString(message) > maxMessageLength {
		return nil, &ValidationError{Fields: map[string]string{
			"message": fmt.Sprintf("Message must be at most %d characters", maxMessageLength),
		}}
	}

	var resp *models.ChatResponse
	err := s.mailboxes.Do(ctx, sessionID, func(ctx context.Context) error {
		var err error
		resp, err = s.processTurn(ctx, sessionID, message)
		return err
	})
	if err != nil {
		return nil, mailboxError(err)
	}
	return resp, nil
}

func (s *ChatService) processTurn(ctx context.Context, sessionID, message string) (*models.ChatResponse, error) {
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	before := len(st.ChatHistory)
	sink := newTurnSink(sessionID, s.events)

	outcome, err := s.turns.Handle(ctx, st, message, sink)
	if err != nil {
		return nil, fmt.Errorf("handle message: %w", err)
	}
	// An ended chat must not be written back.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.save(ctx, st); err != nil {
		return nil, err
	}

	if added := st.ChatHistory[before:]; len(added) > 0 {
		if err := s.transcripts.AppendMessages(ctx, st.ThreadID, added); err != nil {
			log.Printf("chat: store messages for session %s failed: %v", sessionID, err)
		}
	}
	if outcome.RoundComplete {
		round := &models.Round{
			ThreadID: st.ThreadID,
			Category: outcome.Category,
			Path:     outcome.Path,
			Anchor:   outcome.Anchor,
			Outcome:  outcome.Reply,
			Turns:    outcome.Turns,
		}
		if err := s.transcripts.CreateRound(ctx, round); err != nil {
			log.Printf("chat: store round for session %s failed: %v", sessionID, err)
		}
	}

	return &models.ChatResponse{
		Messages:      sink.delivered(),
		Category:      outcome.Category,
		Path:          outcome.Path,
		RoundComplete: outcome.RoundComplete,
	}, nil
}

// UpdateSettings toggles read-aloud for the session.
func (s *ChatService) UpdateSettings(ctx context.Context, sessionID string, req models.UpdateSettingsRequest) (*models.SettingsResponse, error) {
	if req.TTSEnabled == nil {
		return nil, &ValidationError{Fields: map[string]string{"tts_enabled": "tts_enabled is required"}}
	}
	if *req.TTSEnabled && !s.speech.Enabled() {
		return nil, &UnavailableError{Message: "Text-to-speech is not available"}
	}

	var resp *models.SettingsResponse
	err := s.mailboxes.Do(ctx, sessionID, func(ctx context.Context) error {
		st, err := s.load(ctx, sessionID)
		if err != nil {
			return err
		}
		st.TTSEnabled = *req.TTSEnabled
		if err := s.save(ctx, st); err != nil {
			return err
		}
		resp = &models.SettingsResponse{TTSEnabled: st.TTSEnabled, TTSAvailable: s.speech.Enabled()}
		return nil
	})
	if err != nil {
		return nil, mailboxError(err)
	}
	return resp, nil
}

// Resume rebuilds the session from its latest transcript thread. Both
// histories are replayed from the stored messages; the question queue and
// category start empty so the next message opens a new round.
func (s *ChatService) Resume(ctx context.Context, sessionID string) (*models.ResumeResponse, error) {
	var resp *models.ResumeResponse
	err := s.mailboxes.Do(ctx, sessionID, func(ctx context.Context) error {
		thread, err := s.thread(ctx, sessionID)
		if err != nil {
			return err
		}
		msgs, err := s.transcripts.ListMessages(ctx, thread.ID)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}

		st := models.NewSessionState(sessionID, thread.ID, thread.DisplayName)
		for _, m := range msgs {
			speaker := models.SpeakerUser
			if m.Role == models.RoleAssistant {
				speaker = models.SpeakerAssistant
			}
			st.ConversationHistory = append(st.ConversationHistory, models.Turn{Speaker: speaker, Text: m.Content})
			st.ChatHistory = append(st.ChatHistory, models.ChatMessage{Role: m.Role, Content: m.Content})
		}

		existing, err := s.sessions.Get(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if existing != nil {
			st.Version = existing.Version
			st.CreatedAt = existing.CreatedAt
			st.TTSEnabled = existing.TTSEnabled && s.speech.Enabled()
			if err := s.save(ctx, st); err != nil {
				return err
			}
		} else if err := s.sessions.Create(ctx, st); err != nil {
			return fmt.Errorf("create session: %w", err)
		}

		if thread.EndedAt != nil {
			if err := s.transcripts.ReopenThread(ctx, thread.ID); err != nil {
				log.Printf("chat: reopen thread %s failed: %v", thread.ID, err)
			}
		}

		token, err := s.tokens.IssueToken(sessionID)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}

		log.Printf("chat: session %s resumed with %d messages", sessionID, len(msgs))
		resp = &models.ResumeResponse{
			SessionID:    sessionID,
			Token:        token,
			Messages:     st.ChatHistory,
			TTSEnabled:   st.TTSEnabled,
			TTSAvailable: s.speech.Enabled(),
		}
		return nil
	})
	if err != nil {
		return nil, mailboxError(err)
	}
	return resp, nil
}

func (s *ChatService) Transcript(ctx context.Context, sessionID string) (*models.TranscriptResponse, error) {
	thread, err := s.thread(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.transcripts.ListMessages(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []models.ThreadMessage{}
	}
	return &models.TranscriptResponse{SessionID: sessionID, Messages: msgs}, nil
}

// Rounds lists the completed rounds of the session's latest thread.
func (s *ChatService) Rounds(ctx context.Context, sessionID string) (*models.RoundsResponse, error) {
	thread, err := s.thread(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rounds, err := s.transcripts.ListRounds(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	if rounds == nil {
		rounds = []models.Round{}
	}
	return &models.RoundsResponse{SessionID: sessionID, Rounds: rounds}, nil
}

// EndChat aborts any in-flight turn, closes the thread and destroys the
// session state. Audio clips of the session are removed.
func (s *ChatService) EndChat(ctx context.Context, sessionID string) error {
	s.mailboxes.Cancel(sessionID)

	st, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := s.transcripts.EndThread(ctx, st.ThreadID); err != nil {
		log.Printf("chat: end thread %s failed: %v", st.ThreadID, err)
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := s.speech.Forget(ctx, sessionID); err != nil {
		log.Printf("chat: purge audio for session %s failed: %v", sessionID, err)
	}

	// Whichever instance holds the session's sockets closes them on this event.
	ended := models.WSMessage{Type: models.EventSessionEnded, Payload: models.SessionEndedEvent{SessionID: sessionID}}
	if err := s.events.Publish(ctx, sessionID, ended); err != nil {
		log.Printf("chat: publish end of session %s failed: %v", sessionID, err)
	}

	log.Printf("chat: session %s ended", sessionID)
	return nil
}

// Transcribe converts a recorded clip to text. With speech disabled the
// fixed indicator text is returned instead.
func (s *ChatService) Transcribe(ctx context.Context, sessionID, filename string, audio io.Reader) (*models.TranscribeResponse, error) {
	if _, err := s.load(ctx, sessionID); err != nil {
		return nil, err
	}
	return &models.TranscribeResponse{Text: s.speech.Transcribe(ctx, filename, audio)}, nil
}

func (s *ChatService) load(ctx context.Context, sessionID string) (*models.SessionState, error) {
	st, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if st == nil {
		return nil, &NotFoundError{Message: "Session not found"}
	}
	return st, nil
}

func (s *ChatService) save(ctx context.Context, st *models.SessionState) error {
	err := s.sessions.Update(ctx, st)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrVersionConflict):
		return &ConflictError{Message: "Session was modified concurrently"}
	case errors.Is(err, session.ErrNotFound):
		return &NotFoundError{Message: "Session not found"}
	default:
		return fmt.Errorf("save session: %w", err)
	}
}

func (s *ChatService) thread(ctx context.Context, sessionID string) (*models.Thread, error) {
	thread, err := s.transcripts.LatestThread(ctx, sessionID)
	if errors.Is(err, repository.ErrThreadNotFound) {
		return nil, &NotFoundError{Message: "Conversation not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	return thread, nil
}

func mailboxError(err error) error {
	switch {
	case errors.Is(err, worker.ErrMailboxFull):
		return &RateLimitError{Message: "Still working on your previous message"}
	case errors.Is(err, worker.ErrStopped):
		return &UnavailableError{Message: "Server is shutting down"}
	case errors.Is(err, context.Canceled):
		return &ConflictError{Message: "Chat was ended"}
	}
	return err
}
