package hub

import (
	"context"

	"roomhub/models"
)

// AuthStore verifies and creates credentials. Create returns an error
// wrapping ErrNameTaken when the name is already registered.
type AuthStore interface {
	Verify(ctx context.Context, name, secret string) (bool, error)
	Create(ctx context.Context, name, secret string) error
}

// HistoryStore keeps the recent messages of every room. Recent returns at
// most limit messages, oldest first.
type HistoryStore interface {
	Append(ctx context.Context, msg models.Message) error
	Recent(ctx context.Context, room string, limit int) ([]models.Message, error)
}
