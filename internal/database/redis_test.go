package database

import (
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestRedisOptions(t *testing.T) {
	state, pubsub, err := redisOptions("redis://:secret@cache.internal:6380/3")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, opt := range []*redis.Options{state, pubsub} {
		if opt.Addr != "cache.internal:6380" || opt.Password != "secret" || opt.DB != 3 {
			t.Fatalf("%s: expected URL settings carried over, got %s db=%d", opt.ClientName, opt.Addr, opt.DB)
		}
	}

	if state.ClientName != stateClientName || pubsub.ClientName != pubsubClientName {
		t.Fatalf("expected distinct client names, got %q and %q", state.ClientName, pubsub.ClientName)
	}
	if state.ReadTimeout != stateCommandTimeout || state.WriteTimeout != stateCommandTimeout {
		t.Fatalf("expected state command timeouts, got %s/%s", state.ReadTimeout, state.WriteTimeout)
	}
	if state.MinIdleConns != stateMinIdleConns {
		t.Fatalf("expected %d idle state connections, got %d", stateMinIdleConns, state.MinIdleConns)
	}
	if pubsub.ReadTimeout == stateCommandTimeout {
		t.Fatalf("expected subscriptions without the state read timeout")
	}
}

func TestRedisOptions_InvalidURL(t *testing.T) {
	if _, _, err := redisOptions("memcached://localhost"); err == nil {
		t.Fatalf("expected error for a non-redis URL")
	}
}
