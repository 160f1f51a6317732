package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"infomary-backend/internal/models"
)

const sessionKeyPrefix = "session:"

// RedisStore keeps each session as a JSON document with a sliding TTL and
// guards writes with WATCH/MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Create(ctx context.Context, st *models.SessionState) error {
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now
	st.Version = 1

	val, err := json.Marshal(st)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.key(st.ID), val, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.SessionState, error) {
	key := s.key(id)
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var st models.SessionState
	if err := json.Unmarshal(val, &st); err != nil {
		return nil, err
	}

	// Refresh TTL on read
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		log.Printf("session: refresh ttl for %s: %v", id, err)
	}
	return &st, nil
}

func (s *RedisStore) Update(ctx context.Context, st *models.SessionState) error {
	key := s.key(st.ID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var stored models.SessionState
		if err := json.Unmarshal(val, &stored); err != nil {
			return err
		}
		if stored.Version != st.Version {
			return ErrVersionConflict
		}

		next := *st
		next.Version++
		next.UpdatedAt = time.Now().UTC()
		newVal, err := json.Marshal(&next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		st.Version = next.Version
		st.UpdatedAt = next.UpdatedAt
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

func (s *RedisStore) key(id string) string {
	return sessionKeyPrefix + id
}
