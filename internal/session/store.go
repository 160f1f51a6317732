package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"infomary-backend/internal/models"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrVersionConflict = errors.New("session version conflict")
	ErrAlreadyExists   = errors.New("session already exists")
)

const (
	StoreTypeRedis  = "redis"
	StoreTypeMemory = "memory"

	defaultTTL = 24 * time.Hour
)

// Store persists session state between turns.
type Store interface {
	// Create stores a new session with Version 1.
	Create(ctx context.Context, st *models.SessionState) error
	// Get returns nil, nil when the session does not exist or has expired.
	Get(ctx context.Context, id string) (*models.SessionState, error)
	// Update writes st if its Version matches the stored one, then bumps
	// st.Version. Returns ErrVersionConflict or ErrNotFound otherwise.
	Update(ctx context.Context, st *models.SessionState) error
	Delete(ctx context.Context, id string) error
}

// NewStore builds the driver named by storeType. The Redis driver requires client.
func NewStore(storeType string, client *redis.Client, ttl time.Duration) (Store, error) {
	switch storeType {
	case StoreTypeRedis:
		if client == nil {
			return nil, fmt.Errorf("redis session store requires a client")
		}
		return NewRedisStore(client, ttl), nil
	case StoreTypeMemory:
		return NewMemoryStore(ttl), nil
	default:
		return nil, fmt.Errorf("unsupported session store %q", storeType)
	}
}
