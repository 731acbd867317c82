package violation

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for violation persistence
type Repository interface {
	Create(ctx context.Context, v *Violation) error
	// ListBySession returns newest first.
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*Violation, error)
	ListByOffender(ctx context.Context, offender string, limit, offset int) ([]*Violation, error)
}
