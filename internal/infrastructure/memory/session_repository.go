package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OrsiniBr/DoTrust/internal/domain/stake"
)

// SessionRepository implements stake.Repository in memory. Single instance only.
type SessionRepository struct {
	mu     sync.RWMutex
	byPair map[stake.Pair]*stake.Session
	byID   map[uuid.UUID]stake.Pair
	nextID int64
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		byPair: make(map[stake.Pair]*stake.Session),
		byID:   make(map[uuid.UUID]stake.Pair),
	}
}

func (r *SessionRepository) GetByPair(ctx context.Context, pair stake.Pair) (*stake.Session, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byPair[pair]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*stake.Session, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	pair, ok := r.byID[sessionID]
	if !ok {
		return nil, nil
	}
	return r.byPair[pair].Clone(), nil
}

func (r *SessionRepository) GetOrCreate(ctx context.Context, pair stake.Pair, now time.Time) (*stake.Session, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byPair[pair]; ok {
		return s.Clone(), nil
	}
	r.nextID++
	s := stake.NewSession(pair, now)
	s.ID = r.nextID
	s.Version = 1
	r.byPair[pair] = s
	r.byID[s.SessionID] = pair
	return s.Clone(), nil
}

func (r *SessionRepository) Update(ctx context.Context, s *stake.Session) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	pair := s.Pair()
	stored, ok := r.byPair[pair]
	if !ok {
		return stake.ErrSessionNotFound
	}
	if stored.Version != s.Version {
		return stake.ErrVersionConflict
	}
	s.Version++
	r.byPair[pair] = s.Clone()
	return nil
}

func (r *SessionRepository) ListExpiredRounds(ctx context.Context, now time.Time, limit int) ([]*stake.Session, error) {
	return r.list(func(s *stake.Session) *time.Time {
		if s.RoundActive() && !now.Before(*s.ExpiresAt) {
			return s.ExpiresAt
		}
		return nil
	}, limit), nil
}

func (r *SessionRepository) ListExpiredRefundTimers(ctx context.Context, now time.Time, limit int) ([]*stake.Session, error) {
	return r.list(func(s *stake.Session) *time.Time {
		if s.RefundTimerActive() && !now.Before(*s.RefundTimerExpiresAt) {
			return s.RefundTimerExpiresAt
		}
		return nil
	}, limit), nil
}

func (r *SessionRepository) list(due func(*stake.Session) *time.Time, limit int) []*stake.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	type candidate struct {
		s  *stake.Session
		at time.Time
	}
	var out []candidate
	for _, s := range r.byPair {
		if at := due(s); at != nil {
			out = append(out, candidate{s: s.Clone(), at: *at})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	sessions := make([]*stake.Session, 0, len(out))
	for _, c := range out {
		sessions = append(sessions, c.s)
	}
	return sessions
}
