package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/OrsiniBr/DoTrust/internal/domain/violation"
)

// ViolationRepository implements violation.Repository in memory.
type ViolationRepository struct {
	mu    sync.RWMutex
	items []*violation.Violation
}

func NewViolationRepository() *ViolationRepository {
	return &ViolationRepository{}
}

func (r *ViolationRepository) Create(ctx context.Context, v *violation.Violation) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *v
	c.ID = int64(len(r.items) + 1)
	v.ID = c.ID
	r.items = append(r.items, &c)
	return nil
}

func (r *ViolationRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*violation.Violation, error) {
	_ = ctx
	return r.filter(func(v *violation.Violation) bool { return v.SessionID == sessionID }, limit, offset), nil
}

func (r *ViolationRepository) ListByOffender(ctx context.Context, offender string, limit, offset int) ([]*violation.Violation, error) {
	_ = ctx
	return r.filter(func(v *violation.Violation) bool { return v.Offender == offender }, limit, offset), nil
}

// filter walks newest first.
func (r *ViolationRepository) filter(match func(*violation.Violation) bool, limit, offset int) []*violation.Violation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*violation.Violation, 0)
	skipped := 0
	for i := len(r.items) - 1; i >= 0; i-- {
		v := r.items[i]
		if !match(v) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		c := *v
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
