package speech

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const audioExt = ".mp3"

// AudioStore keeps the synthesized replies of each session. Only the latest
// clip of a session is retained.
type AudioStore interface {
	// Save replaces the session's previous clip and returns a playable URL.
	Save(ctx context.Context, sessionID string, audio io.Reader) (string, error)
	// Purge removes every clip of a session.
	Purge(ctx context.Context, sessionID string) error
	// Sweep removes clips last written before cutoff and reports how many.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// LocalStore writes clips under root/<session>/<uuid>.mp3 and serves them
// below urlPrefix.
type LocalStore struct {
	root      string
	urlPrefix string
}

func NewLocalStore(root, urlPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &LocalStore{root: root, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

// Root is the directory clips are written to.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) Save(ctx context.Context, sessionID string, audio io.Reader) (string, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session audio dir: %w", err)
	}
	s.removeClips(dir)

	name := uuid.New().String() + audioExt
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	if _, err := io.Copy(f, audio); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close audio file: %w", err)
	}

	return s.urlPrefix + "/" + path.Join(sessionID, name), nil
}

func (s *LocalStore) Purge(ctx context.Context, sessionID string) error {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove session audio: %w", err)
	}
	return nil
}

func (s *LocalStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	sessions, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("read audio dir: %w", err)
	}

	removed := 0
	for _, sess := range sessions {
		if !sess.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, sess.Name())
		clips, err := os.ReadDir(dir)
		if err != nil {
			log.Printf("speech: read %s: %v", dir, err)
			continue
		}

		kept := 0
		for _, clip := range clips {
			info, err := clip.Info()
			if err != nil || info.ModTime().After(cutoff) {
				kept++
				continue
			}
			if err := os.Remove(filepath.Join(dir, clip.Name())); err != nil {
				log.Printf("speech: remove %s: %v", clip.Name(), err)
				kept++
				continue
			}
			removed++
		}
		if kept == 0 {
			os.Remove(dir)
		}
	}
	return removed, nil
}

// sessionDir rejects IDs that would escape root.
func (s *LocalStore) sessionDir(sessionID string) (string, error) {
	if sessionID == "" || sessionID != filepath.Base(sessionID) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(s.root, sessionID), nil
}

func (s *LocalStore) removeClips(dir string) {
	old, err := filepath.Glob(filepath.Join(dir, "*"+audioExt))
	if err != nil {
		return
	}
	for _, f := range old {
		if err := os.Remove(f); err != nil {
			log.Printf("speech: remove old clip %s: %v", f, err)
		}
	}
}
