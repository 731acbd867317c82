package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OrsiniBr/DoTrust/internal/domain/apperr"
	"github.com/OrsiniBr/DoTrust/internal/domain/stake"
)

const maxUpdateAttempts = 3

// Locker serializes work on one session.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MutateFunc changes s in place and reports whether it must be saved.
type MutateFunc func(s *stake.Session) (changed bool, err error)

// Guard runs session mutations under the pair lock with versioned writes.
type Guard struct {
	repo   stake.Repository
	locker Locker
}

func NewGuard(repo stake.Repository, locker Locker) *Guard {
	return &Guard{repo: repo, locker: locker}
}

// Mutate loads the pair's session, applies fn and persists it. With create set a
// missing session is created idle; otherwise it is a NotFound error. A version
// conflict reloads and retries.
func (g *Guard) Mutate(ctx context.Context, pair stake.Pair, now time.Time, create bool, fn MutateFunc) (*stake.Session, error) {
	unlock, err := g.locker.Lock(ctx, pair.Key())
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", pair.Key(), err)
	}
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var s *stake.Session
		if create {
			s, err = g.repo.GetOrCreate(ctx, pair, now)
		} else {
			s, err = g.repo.GetByPair(ctx, pair)
		}
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, apperr.Wrap(apperr.KindNotFound, "session.Mutate", stake.ErrSessionNotFound)
		}

		changed, err := fn(s)
		if err != nil {
			return nil, err
		}
		if !changed {
			return s, nil
		}

		err = g.repo.Update(ctx, s)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, stake.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, apperr.Wrap(apperr.KindStateConflict, "session.Mutate", lastErr)
}
