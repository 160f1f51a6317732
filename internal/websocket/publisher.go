package websocket

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"infomary-backend/internal/models"
)

const channelPrefix = "session_updates:"

// Channel is the pub/sub channel carrying a session's events.
func Channel(sessionID string) string {
	return channelPrefix + sessionID
}

// Publisher sends session events to whichever instance holds the sockets.
type Publisher struct {
	redisClient *redis.Client
}

func NewPublisher(redisClient *redis.Client) *Publisher {
	return &Publisher{redisClient: redisClient}
}

func (p *Publisher) Publish(ctx context.Context, sessionID string, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.redisClient.Publish(ctx, Channel(sessionID), data).Err()
}
