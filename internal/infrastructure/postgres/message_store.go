package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OrsiniBr/DoTrust/internal/domain/message"
	"github.com/OrsiniBr/DoTrust/internal/domain/moderation"
)

// MessageStore implements message.Store over the chat service's messages table.
type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func (s *MessageStore) Get(ctx context.Context, messageID string) (*message.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT message_id, sender_id, receiver_id, text, created_at, analysis, life_line_deduction, penalty_applied
		FROM messages WHERE message_id=$1
	`, messageID)
	return scanMessage(row)
}

func (s *MessageStore) IsAccepted(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE message_id=$1)`, messageID).Scan(&exists)
	return exists, err
}

func (s *MessageStore) ListBefore(ctx context.Context, a, b string, before time.Time, limit int) ([]*message.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, sender_id, receiver_id, text, created_at, analysis, life_line_deduction, penalty_applied
		FROM (
			SELECT * FROM messages
			WHERE ((LOWER(sender_id)=$1 AND LOWER(receiver_id)=$2) OR (LOWER(sender_id)=$2 AND LOWER(receiver_id)=$1))
			  AND created_at < $3
			ORDER BY created_at DESC
			LIMIT $4
		) recent
		ORDER BY created_at ASC
	`, a, b, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *MessageStore) SaveAnalysis(ctx context.Context, messageID string, verdict *moderation.Verdict, deduction int, penaltyApplied bool) error {
	data, err := json.Marshal(verdict)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE messages SET analysis=$2::jsonb, life_line_deduction=$3, penalty_applied=$4
		WHERE message_id=$1
	`, messageID, string(data), deduction, penaltyApplied)
	return err
}

func scanMessage(row pgx.Row) (*message.Message, error) {
	var m message.Message
	var analysis []byte
	if err := row.Scan(&m.MessageID, &m.SenderID, &m.ReceiverID, &m.Text, &m.CreatedAt, &analysis, &m.LifeLineDeduction, &m.PenaltyApplied); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(analysis) > 0 {
		var v moderation.Verdict
		if err := json.Unmarshal(analysis, &v); err != nil {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
		m.Analysis = &v
	}
	return &m, nil
}
