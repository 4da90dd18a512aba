package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomhub/models"
)

// requires Redis running on localhost:6379; skipped otherwise
const testRedisAddr = "localhost:6379"

type store interface {
	Append(ctx context.Context, msg models.Message) error
	Recent(ctx context.Context, room string, limit int) ([]models.Message, error)
	Clear(ctx context.Context, room string) error
}

func setupRedis(t *testing.T, max int) *Redis {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}

	prefix := fmt.Sprintf("roomhub-test:%s:", t.Name())
	r := NewRedis(client, prefix, max)
	t.Cleanup(func() {
		for _, room := range []string{"lobby", "games"} {
			_ = r.Clear(ctx, room)
		}
		client.Close()
	})
	return r
}

func backends(t *testing.T, max int) map[string]func(t *testing.T) store {
	return map[string]func(t *testing.T) store{
		"memory": func(t *testing.T) store { return NewMemory(max) },
		"redis":  func(t *testing.T) store { return setupRedis(t, max) },
	}
}

func TestFIFOEviction(t *testing.T) {
	for name, open := range backends(t, 3) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			for _, text := range []string{"m1", "m2", "m3"} {
				require.NoError(t, s.Append(ctx, models.Message{Room: "lobby", Author: "alice", Text: text}))
			}
			msgs, err := s.Recent(ctx, "lobby", 3)
			require.NoError(t, err)
			assert.Equal(t, []string{"m1", "m2", "m3"}, texts(msgs))

			require.NoError(t, s.Append(ctx, models.Message{Room: "lobby", Author: "alice", Text: "m4"}))
			msgs, err = s.Recent(ctx, "lobby", 3)
			require.NoError(t, err)
			assert.Equal(t, []string{"m2", "m3", "m4"}, texts(msgs))
		})
	}
}

func TestRecentLimitAndIsolation(t *testing.T) {
	for name, open := range backends(t, 10) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			for i := 1; i <= 5; i++ {
				require.NoError(t, s.Append(ctx, models.Message{Room: "lobby", Text: fmt.Sprintf("m%d", i), Timestamp: int64(i)}))
			}
			require.NoError(t, s.Append(ctx, models.Message{Room: "games", Text: "g1"}))

			msgs, err := s.Recent(ctx, "lobby", 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"m4", "m5"}, texts(msgs))
			assert.EqualValues(t, 5, msgs[1].Timestamp)

			msgs, err = s.Recent(ctx, "games", 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"g1"}, texts(msgs))

			require.NoError(t, s.Clear(ctx, "games"))
			msgs, err = s.Recent(ctx, "games", 10)
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestMemoryRecentReturnsCopy(t *testing.T) {
	s := NewMemory(5)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, models.Message{Room: "lobby", Text: "m1"}))

	msgs, err := s.Recent(ctx, "lobby", 5)
	require.NoError(t, err)
	msgs[0].Text = "mutated"

	msgs, err = s.Recent(ctx, "lobby", 5)
	require.NoError(t, err)
	assert.Equal(t, "m1", msgs[0].Text)
}

func texts(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return out
}
