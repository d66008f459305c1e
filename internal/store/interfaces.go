package store

import (
	"context"
	"errors"

	"lumen.app/relay/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// MessageStore persists finalized assistant messages, keyed by turn.
type MessageStore interface {
	// Upsert is idempotent so a redelivered queue message overwrites rather than duplicates.
	Upsert(ctx context.Context, msg model.FinalizedMessage) error
	GetByTurnID(ctx context.Context, turnID string) (*model.FinalizedMessage, error)
	ListByConversation(ctx context.Context, conversationID string, limit int32) ([]model.FinalizedMessage, error)
}
