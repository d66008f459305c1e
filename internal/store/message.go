package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"lumen.app/relay/core/db"
	"lumen.app/relay/internal/model"
)

const upsertMessage = `
INSERT INTO assistant_messages (
    turn_id, conversation_id, project_name, model_id, provider,
    message, stopped, error, trace_id, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (turn_id) DO UPDATE SET
    message    = EXCLUDED.message,
    stopped    = EXCLUDED.stopped,
    error      = EXCLUDED.error,
    trace_id   = EXCLUDED.trace_id,
    updated_at = now()`

const selectMessageColumns = `
SELECT turn_id, conversation_id, project_name, model_id, provider,
       message, stopped, error, trace_id, created_at
FROM assistant_messages`

const getMessageByTurn = selectMessageColumns + `
WHERE turn_id = $1`

const listMessagesByConversation = selectMessageColumns + `
WHERE conversation_id = $1
ORDER BY created_at ASC
LIMIT $2`

type messageStore struct {
	q db.DBTX
}

func newMessageStore(q db.DBTX) MessageStore {
	return &messageStore{q: q}
}

func (s *messageStore) Upsert(ctx context.Context, msg model.FinalizedMessage) error {
	body, err := json.Marshal(msg.Message)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := s.q.Exec(ctx, upsertMessage,
		msg.TurnID,
		msg.ConversationID,
		msg.ProjectName,
		msg.ModelID,
		msg.Provider,
		body,
		msg.Stopped,
		nullable(msg.Error),
		nullable(msg.TraceID),
		createdAt,
	); err != nil {
		return fmt.Errorf("upserting message %s: %w", msg.TurnID, err)
	}
	return nil
}

func (s *messageStore) GetByTurnID(ctx context.Context, turnID string) (*model.FinalizedMessage, error) {
	msg, err := scanMessage(s.q.QueryRow(ctx, getMessageByTurn, turnID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (s *messageStore) ListByConversation(ctx context.Context, conversationID string, limit int32) ([]model.FinalizedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx, listMessagesByConversation, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.FinalizedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *msg)
	}
	return result, rows.Err()
}

func scanMessage(row pgx.Row) (*model.FinalizedMessage, error) {
	var (
		msg     model.FinalizedMessage
		body    []byte
		errText *string
		traceID *string
	)
	if err := row.Scan(
		&msg.TurnID,
		&msg.ConversationID,
		&msg.ProjectName,
		&msg.ModelID,
		&msg.Provider,
		&body,
		&msg.Stopped,
		&errText,
		&traceID,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &msg.Message); err != nil {
		return nil, fmt.Errorf("decoding message %s: %w", msg.TurnID, err)
	}
	if errText != nil {
		msg.Error = *errText
	}
	if traceID != nil {
		msg.TraceID = *traceID
	}
	return &msg, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
