package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"infomary-backend/internal/models"
	"infomary-backend/internal/repository"
	"infomary-backend/internal/session"
	"infomary-backend/internal/triage"
	"infomary-backend/internal/worker"
)

type memoryTranscripts struct {
	mu        sync.Mutex
	threads   []*models.Thread
	messages  map[uuid.UUID][]models.ThreadMessage
	rounds    map[uuid.UUID][]models.Round
	ended     []uuid.UUID
	reopened  []uuid.UUID
	appendErr error
}

func newMemoryTranscripts() *memoryTranscripts {
	return &memoryTranscripts{
		messages: make(map[uuid.UUID][]models.ThreadMessage),
		rounds:   make(map[uuid.UUID][]models.Round),
	}
}

func (m *memoryTranscripts) CreateThread(ctx context.Context, t *models.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now()
	cp := *t
	m.threads = append(m.threads, &cp)
	return nil
}

func (m *memoryTranscripts) LatestThread(ctx context.Context, sessionID string) (*models.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.threads) - 1; i >= 0; i-- {
		if m.threads[i].SessionID == sessionID {
			cp := *m.threads[i]
			return &cp, nil
		}
	}
	return nil, repository.ErrThreadNotFound
}

func (m *memoryTranscripts) EndThread(ctx context.Context, threadID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, threadID)
	now := time.Now()
	for _, t := range m.threads {
		if t.ID == threadID {
			t.EndedAt = &now
		}
	}
	return nil
}

func (m *memoryTranscripts) ReopenThread(ctx context.Context, threadID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reopened = append(m.reopened, threadID)
	for _, t := range m.threads {
		if t.ID == threadID {
			t.EndedAt = nil
		}
	}
	return nil
}

func (m *memoryTranscripts) AppendMessages(ctx context.Context, threadID uuid.UUID, msgs []models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	for _, msg := range msgs {
		m.messages[threadID] = append(m.messages[threadID], models.ThreadMessage{
			ID:       int64(len(m.messages[threadID]) + 1),
			ThreadID: threadID,
			Role:     msg.Role,
			Content:  msg.Content,
		})
	}
	return nil
}

func (m *memoryTranscripts) ListMessages(ctx context.Context, threadID uuid.UUID) ([]models.ThreadMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ThreadMessage(nil), m.messages[threadID]...), nil
}

func (m *memoryTranscripts) CreateRound(ctx context.Context, round *models.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[round.ThreadID] = append(m.rounds[round.ThreadID], *round)
	return nil
}

func (m *memoryTranscripts) ListRounds(ctx context.Context, threadID uuid.UUID) ([]models.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Round(nil), m.rounds[threadID]...), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.WSMessage
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, sessionID string, msg models.WSMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, msg)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type handlerFunc func(ctx context.Context, st *models.SessionState, message string, out triage.Sink) (triage.Outcome, error)

func (f handlerFunc) Handle(ctx context.Context, st *models.SessionState, message string, out triage.Sink) (triage.Outcome, error) {
	return f(ctx, st, message, out)
}

type stubSpeech struct {
	mu         sync.Mutex
	enabled    bool
	transcript string
	forgotten  []string
	filenames  []string
}

func (s *stubSpeech) Enabled() bool { return s.enabled }

func (s *stubSpeech) Transcribe(ctx context.Context, filename string, audio io.Reader) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filenames = append(s.filenames, filename)
	return s.transcript
}

func (s *stubSpeech) Forget(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgotten = append(s.forgotten, sessionID)
	return nil
}

type stubTokens struct{}

func (stubTokens) IssueToken(sessionID string) (string, error) { return "tok-" + sessionID, nil }

var errHandler = errors.New("sink gone")

// chatFixture wires a ChatService over in-memory collaborators.
type chatFixture struct {
	svc         *ChatService
	sessions    session.Store
	transcripts *memoryTranscripts
	events      *recordingPublisher
	speech      *stubSpeech
	dispatcher  *worker.Dispatcher
}

func newChatFixture(t testing.TB, handler handlerFunc) *chatFixture {
	f := &chatFixture{
		sessions:    session.NewMemoryStore(time.Hour),
		transcripts: newMemoryTranscripts(),
		events:      &recordingPublisher{},
		speech:      &stubSpeech{},
		dispatcher:  worker.NewDispatcher(4, time.Minute),
	}
	t.Cleanup(f.dispatcher.Stop)
	f.svc = NewChatService(f.sessions, f.transcripts, handler, f.dispatcher, f.events, f.speech, stubTokens{})
	return f
}

// start opens a chat and returns its session ID.
func (f *chatFixture) start(t testing.TB) string {
	resp, err := f.svc.StartChat(context.Background(), models.StartSessionRequest{DisplayName: "Ada"})
	if err != nil {
		t.Fatalf("expected no error starting chat, got %v", err)
	}
	return resp.SessionID
}
