package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OrsiniBr/DoTrust/internal/domain/violation"
)

// ViolationRepository implements violation.Repository.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

func (r *ViolationRepository) Create(ctx context.Context, v *violation.Violation) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO violations
		(violation_id, session_id, offender, message_id, type, points_deducted, remaining_points, reasoning, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, v.ViolationID, v.SessionID, v.Offender, v.MessageID, string(v.Type), v.PointsDeducted, v.RemainingPoints, v.Reasoning, v.CreatedAt).Scan(&v.ID)
}

func (r *ViolationRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*violation.Violation, error) {
	return r.list(ctx, `
		SELECT id, violation_id, session_id, offender, message_id, type, points_deducted, remaining_points, reasoning, created_at
		FROM violations WHERE session_id=$1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
}

func (r *ViolationRepository) ListByOffender(ctx context.Context, offender string, limit, offset int) ([]*violation.Violation, error) {
	return r.list(ctx, `
		SELECT id, violation_id, session_id, offender, message_id, type, points_deducted, remaining_points, reasoning, created_at
		FROM violations WHERE offender=$1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3
	`, offender, limit, offset)
}

func (r *ViolationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*violation.Violation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*violation.Violation, 0)
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanViolation(row pgx.Row) (*violation.Violation, error) {
	var v violation.Violation
	var typ string
	if err := row.Scan(&v.ID, &v.ViolationID, &v.SessionID, &v.Offender, &v.MessageID, &typ, &v.PointsDeducted, &v.RemainingPoints, &v.Reasoning, &v.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	v.Type = violation.Type(typ)
	return &v, nil
}
