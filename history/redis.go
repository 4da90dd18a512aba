package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"roomhub/models"
)

const defaultPrefix = "roomhub:history:"

// Redis stores each room's window as a capped list of JSON-encoded messages.
type Redis struct {
	client *redis.Client
	prefix string
	max    int
}

func NewRedis(client *redis.Client, prefix string, max int) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if max <= 0 {
		max = 50
	}
	return &Redis{client: client, prefix: prefix, max: max}
}

func (r *Redis) key(room string) string {
	return r.prefix + room
}

// Append pushes msg and trims the list to the newest max entries in one
// round trip.
func (r *Redis) Append(ctx context.Context, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	key := r.key(msg.Room)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-r.max), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append to %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Recent(ctx context.Context, room string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > r.max {
		limit = r.max
	}

	key := r.key(room)
	items, err := r.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	messages := make([]models.Message, 0, len(items))
	for _, item := range items {
		var m models.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			log.Warn().Str("component", "history").Str("key", key).Err(err).Msg("skipping undecodable history entry")
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (r *Redis) Clear(ctx context.Context, room string) error {
	if err := r.client.Del(ctx, r.key(room)).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", r.key(room), err)
	}
	return nil
}
