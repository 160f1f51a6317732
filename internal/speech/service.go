package speech

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"infomary-backend/internal/triage"
)

const (
	TranscriptionDisabled = "Speech-to-text is disabled."
	TranscriptionFailed   = "Speech-to-text failed."

	// DefaultTimeout bounds one synthesis or transcription request.
	DefaultTimeout       = 60 * time.Second
	defaultRecordingName = "recording.webm"
)

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Service converts replies to audio with tts-1 and recordings to text with
// whisper-1. Without an API key both directions are disabled.
type Service struct {
	client  *openai.Client
	store   AudioStore
	timeout time.Duration
}

func NewService(cfg Config, store AudioStore) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	s := &Service{store: store, timeout: cfg.Timeout}
	if cfg.APIKey == "" {
		return s
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	config.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	s.client = openai.NewClientWithConfig(config)
	return s
}

// Enabled reports whether speech credentials are configured.
func (s *Service) Enabled() bool {
	return s.client != nil
}

// Synthesize renders text as an mp3 clip, stores it as the session's latest
// clip and returns its URL.
func (s *Service) Synthesize(ctx context.Context, sessionID, text string) (string, error) {
	if s.client == nil {
		return "", triage.ErrSpeechDisabled
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("nothing to synthesize")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Voice:          openai.VoiceAlloy,
		Input:          text,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return "", fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	url, err := s.store.Save(ctx, sessionID, resp)
	if err != nil {
		return "", fmt.Errorf("store speech: %w", err)
	}
	return url, nil
}

// Transcribe returns the text of a recording. Failures are reported as a
// fixed message in place of the transcript.
func (s *Service) Transcribe(ctx context.Context, filename string, audio io.Reader) string {
	if s.client == nil {
		return TranscriptionDisabled
	}

	if filename == "" {
		filename = defaultRecordingName
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: filename,
		Reader:   audio,
	})
	if err != nil {
		log.Printf("speech: transcription failed: %v", err)
		return TranscriptionFailed
	}
	return resp.Text
}

// Forget drops every clip stored for a session.
func (s *Service) Forget(ctx context.Context, sessionID string) error {
	if s.store == nil {
		return nil
	}
	return s.store.Purge(ctx, sessionID)
}
