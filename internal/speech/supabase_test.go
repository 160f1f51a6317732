package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeBucket serves the subset of the Storage API the store uses.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]time.Time // "<session>/<name>" -> created
	uploads map[string]string    // path -> content type
	removed []string
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	const base = "/storage/v1/object/"
	p := strings.TrimPrefix(r.URL.Path, base)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(p, "list/audio"):
		var body struct {
			Prefix string `json:"prefix"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(b.list(body.Prefix))

	case r.Method == http.MethodDelete && p == "audio":
		var body struct {
			Prefixes []string `json:"prefixes"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for _, path := range body.Prefixes {
			delete(b.objects, path)
			b.removed = append(b.removed, path)
		}
		fmt.Fprint(w, `[]`)

	case r.Method == http.MethodPost && strings.HasPrefix(p, "audio/"):
		path := strings.TrimPrefix(p, "audio/")
		io.Copy(io.Discard, r.Body)
		b.objects[path] = time.Now().UTC()
		b.uploads[path] = r.Header.Get("Content-Type")
		fmt.Fprintf(w, `{"Key":"audio/%s"}`, path)

	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"statusCode":"404","error":"not_found","message":"not found"}`)
	}
}

func (b *fakeBucket) list(prefix string) []map[string]any {
	out := []map[string]any{}
	if prefix == "" {
		folders := map[string]bool{}
		for path := range b.objects {
			folders[strings.SplitN(path, "/", 2)[0]] = true
		}
		for f := range folders {
			out = append(out, map[string]any{"name": f, "id": nil})
		}
		return out
	}
	for path, created := range b.objects {
		folder, name, _ := strings.Cut(path, "/")
		if folder != prefix {
			continue
		}
		out = append(out, map[string]any{
			"name":       name,
			"id":         "obj-" + name,
			"created_at": created.Format(time.RFC3339),
		})
	}
	return out
}

func newSupabaseStore(t *testing.T) (*SupabaseStore, *fakeBucket, string) {
	t.Helper()
	bucket := &fakeBucket{objects: map[string]time.Time{}, uploads: map[string]string{}}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	s, err := NewSupabaseStore(srv.URL, "service-key", "audio")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return s, bucket, srv.URL
}

func TestSupabaseStore_SaveReplacesPreviousClip(t *testing.T) {
	s, bucket, base := newSupabaseStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, "s1", strings.NewReader("one")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	url, err := s.Save(ctx, "s1", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !strings.HasPrefix(url, base+"/storage/v1/object/public/audio/s1/") {
		t.Fatalf("unexpected public url %q", url)
	}
	if len(bucket.objects) != 1 || len(bucket.removed) != 1 {
		t.Fatalf("expected one object left after replacement, got %v (removed %v)", bucket.objects, bucket.removed)
	}
	for path, ct := range bucket.uploads {
		if ct != "audio/mpeg" {
			t.Fatalf("expected audio/mpeg upload for %s, got %q", path, ct)
		}
	}
}

func TestSupabaseStore_Sweep(t *testing.T) {
	s, bucket, _ := newSupabaseStore(t)
	now := time.Now().UTC()
	bucket.objects["old/a.mp3"] = now.Add(-72 * time.Hour)
	bucket.objects["fresh/b.mp3"] = now

	removed, err := s.Sweep(context.Background(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := bucket.objects["fresh/b.mp3"]; !ok {
		t.Fatalf("expected fresh clip kept")
	}
}

func TestNewSupabaseStore_RequiresSettings(t *testing.T) {
	if _, err := NewSupabaseStore("", "key", "audio"); err == nil {
		t.Fatalf("expected error without url")
	}
	if _, err := NewSupabaseStore("http://localhost", "key", ""); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
