package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateClientName  = "infomary-state"
	pubsubClientName = "infomary-pubsub"

	// Session reads and writes sit on the path of every turn.
	stateCommandTimeout = 3 * time.Second
	stateMinIdleConns   = 2
)

// RedisClients holds one connection pool for session state and a separate
// one for event pub/sub. The hub holds a subscription per session with open
// sockets, so the two must not share a pool.
type RedisClients struct {
	State  *redis.Client
	PubSub *redis.Client
}

func NewRedisClients(redisURL string) (*RedisClients, error) {
	stateOpt, pubsubOpt, err := redisOptions(redisURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stateClient := redis.NewClient(stateOpt)
	if err := stateClient.Ping(ctx).Err(); err != nil {
		stateClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (state): %w", err)
	}

	pubsubClient := redis.NewClient(pubsubOpt)
	if err := pubsubClient.Ping(ctx).Err(); err != nil {
		stateClient.Close()
		pubsubClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (pubsub): %w", err)
	}

	return &RedisClients{
		State:  stateClient,
		PubSub: pubsubClient,
	}, nil
}

// redisOptions derives the two pool configurations from one URL. Subscriptions
// block on reads indefinitely, so only the state pool gets command timeouts.
func redisOptions(redisURL string) (state, pubsub *redis.Options, err error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	stateOpt := *opt
	stateOpt.ClientName = stateClientName
	stateOpt.ReadTimeout = stateCommandTimeout
	stateOpt.WriteTimeout = stateCommandTimeout
	stateOpt.MinIdleConns = stateMinIdleConns

	pubsubOpt := *opt
	pubsubOpt.ClientName = pubsubClientName

	return &stateOpt, &pubsubOpt, nil
}

func (r *RedisClients) Close() {
	r.State.Close()
	r.PubSub.Close()
}
