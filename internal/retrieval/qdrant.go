package retrieval

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// payloadKeys are checked in order when reading a document out of a point.
var payloadKeys = []string{"content", "document", "text"}

type QdrantConfig struct {
	// URL is the Qdrant gRPC address (e.g. "http://localhost:6334").
	URL            string
	APIKey         string
	CollectionName string
	Dimensions     int
}

// QdrantStore is the vector similarity store backing the knowledge collection.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimensions uint64
}

func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("qdrant vector dimensions must be positive")
	}

	parsedURL := cfg.URL
	if !strings.HasPrefix(parsedURL, "http://") && !strings.HasPrefix(parsedURL, "https://") {
		parsedURL = "https://" + parsedURL
	}

	u, err := url.Parse(parsedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}

	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{
		client:     client,
		collection: cfg.CollectionName,
		dimensions: uint64(cfg.Dimensions),
	}, nil
}

func (s *QdrantStore) CollectionExists(ctx context.Context) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return false, fmt.Errorf("qdrant collection lookup failed: %w", err)
	}
	return exists, nil
}

func (s *QdrantStore) CreateCollection(ctx context.Context) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dimensions,
			Distance: qdrant.Distance_Cosine,
		}),
		Metadata: qdrant.NewValueMap(map[string]any{
			"description": "Health bot knowledge base",
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection failed: %w", err)
	}
	return nil
}

// Search returns the document text of the nearest points, best first.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int) ([]string, error) {
	limitUint64 := uint64(limit)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitUint64,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, searchError(err)
	}

	docs := make([]string, 0, len(points))
	for _, point := range points {
		if doc := documentText(point.Payload); doc != "" {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func searchError(err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("qdrant search failed: %w: %v", ErrCollectionNotFound, err)
	}
	return fmt.Errorf("qdrant search failed: %w", err)
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func documentText(payload map[string]*qdrant.Value) string {
	for _, key := range payloadKeys {
		if v, ok := payload[key]; ok {
			if str := v.GetStringValue(); str != "" {
				return str
			}
		}
	}
	return ""
}
