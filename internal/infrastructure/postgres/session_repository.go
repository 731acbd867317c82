package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OrsiniBr/DoTrust/internal/domain/stake"
)

const sessionColumns = `id, session_id, participant_a, participant_b, deposit_a, deposit_b, state,
	started_by, started_at, expires_at, refund_started_by, refund_started_at, refund_expires_at,
	life_line_points_a, life_line_points_b, winner, end_reason, beneficiary, settlements,
	last_message_at, last_message_ids, authorizations, version, created_at, updated_at`

// SessionRepository implements stake.Repository.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) GetByPair(ctx context.Context, pair stake.Pair) (*stake.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+`
		FROM stake_sessions WHERE participant_a=$1 AND participant_b=$2`, pair.A, pair.B)
	return scanSession(row)
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*stake.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+`
		FROM stake_sessions WHERE session_id=$1`, sessionID)
	return scanSession(row)
}

func (r *SessionRepository) GetOrCreate(ctx context.Context, pair stake.Pair, now time.Time) (*stake.Session, error) {
	s := stake.NewSession(pair, now)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stake_sessions (session_id, participant_a, participant_b, state, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,1,$5,$5)
		ON CONFLICT (participant_a, participant_b) DO NOTHING
	`, s.SessionID, pair.A, pair.B, s.State, now)
	if err != nil {
		return nil, err
	}
	return r.GetByPair(ctx, pair)
}

func (r *SessionRepository) Update(ctx context.Context, s *stake.Session) error {
	settlements, err := json.Marshal(s.Settlements)
	if err != nil {
		return err
	}
	messageIDs, err := json.Marshal(s.LastMessageIDs)
	if err != nil {
		return err
	}
	authorizations, err := json.Marshal(s.Authorizations)
	if err != nil {
		return err
	}
	var endReason *string
	if s.EndReason != nil {
		v := string(*s.EndReason)
		endReason = &v
	}
	res, err := r.pool.Exec(ctx, `
		UPDATE stake_sessions SET
			deposit_a=$3, deposit_b=$4, state=$5,
			started_by=$6, started_at=$7, expires_at=$8,
			refund_started_by=$9, refund_started_at=$10, refund_expires_at=$11,
			life_line_points_a=$12, life_line_points_b=$13,
			winner=$14, end_reason=$15, beneficiary=$16, settlements=$17::jsonb,
			last_message_at=$18, last_message_ids=$19::jsonb, authorizations=$20::jsonb,
			updated_at=$21, version=version+1
		WHERE session_id=$1 AND version=$2
	`, s.SessionID, s.Version,
		s.Deposits[s.ParticipantA], s.Deposits[s.ParticipantB], string(s.State),
		s.StartedBy, s.StartedAt, s.ExpiresAt,
		s.RefundTimerStartedBy, s.RefundTimerStartedAt, s.RefundTimerExpiresAt,
		s.LifeLinePointsA, s.LifeLinePointsB,
		s.Winner, endReason, s.Beneficiary, string(settlements),
		s.LastMessageAt, string(messageIDs), string(authorizations),
		s.UpdatedAt)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM stake_sessions WHERE session_id=$1)`, s.SessionID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return stake.ErrSessionNotFound
		}
		return stake.ErrVersionConflict
	}
	s.Version++
	return nil
}

func (r *SessionRepository) ListExpiredRounds(ctx context.Context, now time.Time, limit int) ([]*stake.Session, error) {
	return r.list(ctx, `SELECT `+sessionColumns+`
		FROM stake_sessions
		WHERE state='running' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC LIMIT $2`, now, limit)
}

func (r *SessionRepository) ListExpiredRefundTimers(ctx context.Context, now time.Time, limit int) ([]*stake.Session, error) {
	return r.list(ctx, `SELECT `+sessionColumns+`
		FROM stake_sessions
		WHERE state<>'ended' AND refund_expires_at IS NOT NULL AND refund_expires_at <= $1
		ORDER BY refund_expires_at ASC LIMIT $2`, now, limit)
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*stake.Session, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*stake.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*stake.Session, error) {
	var s stake.Session
	var depositA, depositB bool
	var state string
	var endReason *string
	var settlements, messageIDs, authorizations []byte
	if err := row.Scan(
		&s.ID, &s.SessionID, &s.ParticipantA, &s.ParticipantB, &depositA, &depositB, &state,
		&s.StartedBy, &s.StartedAt, &s.ExpiresAt, &s.RefundTimerStartedBy, &s.RefundTimerStartedAt, &s.RefundTimerExpiresAt,
		&s.LifeLinePointsA, &s.LifeLinePointsB, &s.Winner, &endReason, &s.Beneficiary, &settlements,
		&s.LastMessageAt, &messageIDs, &authorizations, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.State = stake.State(state)
	s.Deposits = map[string]bool{s.ParticipantA: depositA, s.ParticipantB: depositB}
	if endReason != nil {
		reason := stake.EndReason(*endReason)
		s.EndReason = &reason
	}
	s.Settlements = map[string]string{}
	if len(settlements) > 0 {
		if err := json.Unmarshal(settlements, &s.Settlements); err != nil {
			return nil, fmt.Errorf("decode settlements: %w", err)
		}
	}
	if len(messageIDs) > 0 {
		if err := json.Unmarshal(messageIDs, &s.LastMessageIDs); err != nil {
			return nil, fmt.Errorf("decode last message ids: %w", err)
		}
	}
	if len(authorizations) > 0 {
		if err := json.Unmarshal(authorizations, &s.Authorizations); err != nil {
			return nil, fmt.Errorf("decode authorizations: %w", err)
		}
	}
	return &s, nil
}
