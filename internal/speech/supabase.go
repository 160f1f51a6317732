package speech

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
	storage_go "github.com/supabase-community/storage-go"
)

const audioContentType = "audio/mpeg"

// SupabaseStore keeps clips in a public Supabase Storage bucket under
// <session>/<uuid>.mp3.
type SupabaseStore struct {
	client *supabase.Client
	url    string
	key    string
	bucket string
}

func NewSupabaseStore(url, key, bucket string) (*SupabaseStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("supabase bucket is required")
	}
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseStore{client: client, url: url, key: key, bucket: bucket}, nil
}

func (s *SupabaseStore) Save(ctx context.Context, sessionID string, audio io.Reader) (string, error) {
	if err := s.Purge(ctx, sessionID); err != nil {
		log.Printf("speech: purge previous clips for %s: %v", sessionID, err)
	}

	objectPath := sessionID + "/" + uuid.New().String() + audioExt
	contentType := audioContentType
	upsert := false

	// Upload options are written into the client's shared headers, so uploads
	// get a client of their own.
	uploader := storage_go.NewClient(s.url+supabase.STORGAGE_URL, s.key, map[string]string{"apikey": s.key})
	if _, err := uploader.UploadFile(s.bucket, objectPath, audio, storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	}); err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}

	return s.client.Storage.GetPublicUrl(s.bucket, objectPath).SignedURL, nil
}

func (s *SupabaseStore) Purge(ctx context.Context, sessionID string) error {
	paths, err := s.listClips(sessionID, time.Time{})
	if err != nil {
		return err
	}
	return s.remove(paths)
}

func (s *SupabaseStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	folders, err := s.client.Storage.ListFiles(s.bucket, "", storage_go.FileSearchOptions{})
	if err != nil {
		return 0, fmt.Errorf("list audio folders: %w", err)
	}

	removed := 0
	for _, folder := range folders {
		// Folders are listed without an object ID.
		if folder.Id != "" {
			continue
		}
		paths, err := s.listClips(folder.Name, cutoff)
		if err != nil {
			log.Printf("speech: %v", err)
			continue
		}
		if err := s.remove(paths); err != nil {
			log.Printf("speech: %v", err)
			continue
		}
		removed += len(paths)
	}
	return removed, nil
}

// listClips returns the object paths in a session folder. A non-zero cutoff
// keeps only clips created before it.
func (s *SupabaseStore) listClips(sessionID string, cutoff time.Time) ([]string, error) {
	objects, err := s.client.Storage.ListFiles(s.bucket, sessionID, storage_go.FileSearchOptions{})
	if err != nil {
		return nil, fmt.Errorf("list audio for %s: %w", sessionID, err)
	}

	var paths []string
	for _, obj := range objects {
		if obj.Id == "" {
			continue
		}
		if !cutoff.IsZero() {
			created, err := time.Parse(time.RFC3339, obj.CreatedAt)
			if err != nil || created.After(cutoff) {
				continue
			}
		}
		paths = append(paths, sessionID+"/"+obj.Name)
	}
	return paths, nil
}

func (s *SupabaseStore) remove(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if _, err := s.client.Storage.RemoveFile(s.bucket, paths); err != nil {
		return fmt.Errorf("remove audio: %w", err)
	}
	return nil
}
