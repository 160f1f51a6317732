package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"infomary-backend/internal/triage"
)

type memoryAudio struct {
	saved  map[string]string
	purged []string
	err    error
}

func (m *memoryAudio) Save(ctx context.Context, sessionID string, audio io.Reader) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	data, _ := io.ReadAll(audio)
	if m.saved == nil {
		m.saved = make(map[string]string)
	}
	m.saved[sessionID] = string(data)
	return "/api/v1/audio/" + sessionID + "/clip.mp3", nil
}

func (m *memoryAudio) Purge(ctx context.Context, sessionID string) error {
	m.purged = append(m.purged, sessionID)
	return nil
}

func (m *memoryAudio) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func newTestService(t *testing.T, store AudioStore, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewService(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1", Timeout: 5 * time.Second}, store)
}

func TestService_Synthesize(t *testing.T) {
	store := &memoryAudio{}
	var body string
	s := newTestService(t, store, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.Header().Set("Content-Type", "audio/mpeg")
		fmt.Fprint(w, "ID3-mp3-bytes")
	})

	url, err := s.Synthesize(context.Background(), "s1", "How long have you had the headache?")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if url != "/api/v1/audio/s1/clip.mp3" {
		t.Fatalf("unexpected url %q", url)
	}
	if store.saved["s1"] != "ID3-mp3-bytes" {
		t.Fatalf("expected clip stored, got %q", store.saved["s1"])
	}
	for _, want := range []string{`"model":"tts-1"`, `"voice":"alloy"`, `"response_format":"mp3"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in request, got %s", want, body)
		}
	}
}

func TestService_SynthesizeErrors(t *testing.T) {
	s := newTestService(t, &memoryAudio{}, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	})

	if _, err := s.Synthesize(context.Background(), "s1", "hello"); err == nil {
		t.Fatalf("expected provider error")
	}
	if _, err := s.Synthesize(context.Background(), "s1", "  "); err == nil {
		t.Fatalf("expected error for blank text")
	}
}

func TestService_SynthesizeStoreFailure(t *testing.T) {
	storeErr := errors.New("disk full")
	s := newTestService(t, &memoryAudio{err: storeErr}, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "mp3")
	})

	if _, err := s.Synthesize(context.Background(), "s1", "hello"); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestService_Disabled(t *testing.T) {
	s := NewService(Config{}, &memoryAudio{})

	if s.Enabled() {
		t.Fatalf("expected speech disabled without a key")
	}
	if _, err := s.Synthesize(context.Background(), "s1", "hi"); !errors.Is(err, triage.ErrSpeechDisabled) {
		t.Fatalf("expected ErrSpeechDisabled, got %v", err)
	}
	if got := s.Transcribe(context.Background(), "a.webm", strings.NewReader("x")); got != TranscriptionDisabled {
		t.Fatalf("expected %q, got %q", TranscriptionDisabled, got)
	}
}

func TestService_Transcribe(t *testing.T) {
	var model, filename string
	s := newTestService(t, &memoryAudio{}, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("expected multipart form, got %v", err)
		}
		model = r.FormValue("model")
		if _, hdr, err := r.FormFile("file"); err == nil {
			filename = hdr.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":"I have a headache"}`)
	})

	got := s.Transcribe(context.Background(), "recording.webm", strings.NewReader("opus"))
	if got != "I have a headache" {
		t.Fatalf("expected transcript, got %q", got)
	}
	if model != "whisper-1" {
		t.Fatalf("expected whisper-1, got %q", model)
	}
	if filename != "recording.webm" {
		t.Fatalf("expected upload name kept, got %q", filename)
	}
}

func TestService_TranscribeFailure(t *testing.T) {
	s := newTestService(t, &memoryAudio{}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if got := s.Transcribe(context.Background(), "a.webm", strings.NewReader("x")); got != TranscriptionFailed {
		t.Fatalf("expected %q, got %q", TranscriptionFailed, got)
	}
}

func TestService_Forget(t *testing.T) {
	store := &memoryAudio{}
	s := NewService(Config{}, store)

	if err := s.Forget(context.Background(), "s1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(store.purged) != 1 || store.purged[0] != "s1" {
		t.Fatalf("expected purge of s1, got %v", store.purged)
	}
}
