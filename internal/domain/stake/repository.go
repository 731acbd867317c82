package stake

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for session persistence
type Repository interface {
	// GetByPair returns nil, nil when the pair has no session yet.
	GetByPair(ctx context.Context, pair Pair) (*Session, error)
	GetByID(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	// GetOrCreate returns the pair's session, inserting a fresh idle one if needed.
	GetOrCreate(ctx context.Context, pair Pair, now time.Time) (*Session, error)
	// Update writes s if its Version still matches the stored one and bumps it.
	// A stale version yields ErrVersionConflict.
	Update(ctx context.Context, s *Session) error

	// Scheduler scans
	ListExpiredRounds(ctx context.Context, now time.Time, limit int) ([]*Session, error)
	ListExpiredRefundTimers(ctx context.Context, now time.Time, limit int) ([]*Session, error)
}
