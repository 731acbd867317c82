package penalty

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	appSession "github.com/OrsiniBr/DoTrust/internal/application/session"
	"github.com/OrsiniBr/DoTrust/internal/domain/apperr"
	"github.com/OrsiniBr/DoTrust/internal/domain/notification"
	"github.com/OrsiniBr/DoTrust/internal/domain/stake"
	"github.com/OrsiniBr/DoTrust/internal/domain/violation"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/metrics"
)

// Service applies life-line deductions and forfeits sessions that run out.
type Service struct {
	repo       stake.Repository
	guard      *appSession.Guard
	violations violation.Repository
	notifier   notification.Notifier
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService creates a penalty service sharing the session guard.
func NewService(
	repo stake.Repository,
	guard *appSession.Guard,
	violations violation.Repository,
	notifier notification.Notifier,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:       repo,
		guard:      guard,
		violations: violations,
		notifier:   notifier,
		logger:     logger.With().Str("service", "penalty").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Input describes one deduction.
type Input struct {
	Pair      stake.Pair
	Offender  string
	Points    int
	Reason    string
	MessageID *string
}

// Result is the session after the deduction.
type Result struct {
	Session         *stake.Session       `json:"session"`
	RemainingPoints int                  `json:"remainingPoints"`
	Forfeited       bool                 `json:"forfeited"`
	Violation       *violation.Violation `json:"violation"`
}

// ApplyPenalty deducts points from the offender and records the violation. On an
// ended session the counters stay as they are but the violation is still logged.
func (s *Service) ApplyPenalty(ctx context.Context, in Input) (*Result, error) {
	if in.Points != 1 && in.Points != 2 {
		return nil, apperr.Wrap(apperr.KindValidation, "penalty.ApplyPenalty", stake.ErrInvalidPoints)
	}
	offender, err := stake.NormalizeIdentity(in.Offender)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var (
		remaining int
		forfeited bool
		v         *violation.Violation
	)
	// The violation is written before the versioned save so a committed deduction
	// always has its log entry. A version-conflict retry reuses the same entry.
	sess, err := s.guard.Mutate(ctx, in.Pair, now, false, func(sess *stake.Session) (bool, error) {
		wasEnded := sess.IsEnded()
		r, f, err := sess.ApplyDeduction(offender, in.Points, now)
		if err != nil {
			return false, err
		}
		remaining, forfeited = r, f
		if v == nil {
			nv := violation.New(sess.SessionID, offender, in.MessageID, in.Points, remaining, in.Reason, now)
			if err := s.violations.Create(ctx, nv); err != nil {
				s.logger.Error().Err(err).Str("session_id", sess.SessionID.String()).Msg("failed to record violation, deduction not applied")
				return false, apperr.Wrap(apperr.KindExternalService, "penalty.ApplyPenalty", err)
			}
			v = nv
		}
		return !wasEnded, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PenaltiesTotal.WithLabelValues(string(v.Type)).Inc()
	s.logger.Info().
		Str("session_id", sess.SessionID.String()).
		Str("offender", offender).
		Int("deducted", in.Points).
		Int("remaining", remaining).
		Bool("forfeited", forfeited).
		Msg("life-line penalty applied")

	s.notifyUpdate(ctx, sess, offender, in, remaining)
	if forfeited {
		metrics.ForfeitsTotal.Inc()
		metrics.RoundTransitions.WithLabelValues(string(stake.TransitionForfeited)).Inc()
		s.notifyForfeit(ctx, sess, offender)
	}

	return &Result{
		Session:         sess,
		RemainingPoints: remaining,
		Forfeited:       forfeited,
		Violation:       v,
	}, nil
}

// Points returns participant's remaining life-line points with peer.
func (s *Service) Points(ctx context.Context, participant, peer string) (int, error) {
	pair, err := stake.CanonicalPair(participant, peer)
	if err != nil {
		return 0, err
	}
	who, _ := stake.NormalizeIdentity(participant)
	sess, err := s.repo.GetByPair(ctx, pair)
	if err != nil {
		return 0, err
	}
	if sess == nil {
		return 0, apperr.Wrap(apperr.KindNotFound, "penalty.Points", stake.ErrSessionNotFound)
	}
	p, ok := sess.PointsFor(who)
	if !ok {
		return 0, apperr.Wrap(apperr.KindStateConflict, "penalty.Points", stake.ErrPointsNotInitialized)
	}
	return p, nil
}

func (s *Service) notifyUpdate(ctx context.Context, sess *stake.Session, offender string, in Input, remaining int) {
	points := map[string]int{}
	for _, p := range []string{sess.ParticipantA, sess.ParticipantB} {
		if v, ok := sess.PointsFor(p); ok {
			points[p] = v
		}
	}
	s.broadcast(ctx, sess, notification.EventLifelineUpdate, notification.LifelinePayload{
		SessionID:       sess.SessionID,
		Offender:        offender,
		RemainingPoints: remaining,
		PointsDeducted:  in.Points,
		Reason:          in.Reason,
		Points:          points,
	})
}

func (s *Service) notifyForfeit(ctx context.Context, sess *stake.Session, loser string) {
	s.broadcast(ctx, sess, notification.EventSessionForfeited, notification.ForfeitPayload{
		SessionID: sess.SessionID,
		Loser:     loser,
		Winner:    sess.Other(loser),
		Reason:    notification.ForfeitReason,
		Message:   notification.ForfeitMessage,
	})
	for _, ev := range appSession.Events(sess, stake.TransitionForfeited, loser) {
		s.broadcast(ctx, sess, ev.Event, ev.Payload)
	}
}

func (s *Service) broadcast(ctx context.Context, sess *stake.Session, event notification.Event, payload any) {
	if s.notifier == nil {
		return
	}
	for _, p := range []string{sess.ParticipantA, sess.ParticipantB} {
		if err := s.notifier.Notify(ctx, p, event, payload); err != nil {
			s.logger.Debug().Err(err).Str("participant", p).Str("event", string(event)).Msg("notification not delivered")
		}
	}
}
