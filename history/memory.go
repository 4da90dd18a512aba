// Package history provides HistoryStore backends that do not need sqlite:
// a bounded in-memory window per room and a Redis list per room.
package history

import (
	"context"
	"sync"

	"roomhub/models"
)

// Memory keeps the last max messages of every room in process memory.
type Memory struct {
	mu    sync.RWMutex
	max   int
	rooms map[string][]models.Message
}

func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 50
	}
	return &Memory{
		max:   max,
		rooms: make(map[string][]models.Message),
	}
}

func (m *Memory) Append(_ context.Context, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	messages := append(m.rooms[msg.Room], msg)
	if len(messages) > m.max {
		// copy so the evicted prefix can be collected
		trimmed := make([]models.Message, m.max)
		copy(trimmed, messages[len(messages)-m.max:])
		messages = trimmed
	}
	m.rooms[msg.Room] = messages
	return nil
}

func (m *Memory) Recent(_ context.Context, room string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := m.rooms[room]
	if limit <= 0 || limit > len(messages) {
		limit = len(messages)
	}

	result := make([]models.Message, limit)
	copy(result, messages[len(messages)-limit:])
	return result, nil
}

func (m *Memory) Clear(_ context.Context, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, room)
	return nil
}
