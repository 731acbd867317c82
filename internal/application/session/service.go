package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/OrsiniBr/DoTrust/internal/domain/apperr"
	"github.com/OrsiniBr/DoTrust/internal/domain/message"
	"github.com/OrsiniBr/DoTrust/internal/domain/moderation"
	"github.com/OrsiniBr/DoTrust/internal/domain/notification"
	"github.com/OrsiniBr/DoTrust/internal/domain/stake"
	"github.com/OrsiniBr/DoTrust/internal/domain/violation"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/metrics"
)

var ErrMessageNotAccepted = errors.New("message was not accepted by the message store")

// ModerationQueue receives review jobs for messages sent during a running round.
type ModerationQueue interface {
	Enqueue(job moderation.Job) bool
}

// Service drives the session state machine.
type Service struct {
	repo       stake.Repository
	guard      *Guard
	messages   message.Store
	violations violation.Repository
	notifier   notification.Notifier
	queue      ModerationQueue
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService creates a session service. queue may be nil to disable moderation.
func NewService(
	repo stake.Repository,
	locker Locker,
	messages message.Store,
	violations violation.Repository,
	notifier notification.Notifier,
	queue ModerationQueue,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:       repo,
		guard:      NewGuard(repo, locker),
		messages:   messages,
		violations: violations,
		notifier:   notifier,
		queue:      queue,
		logger:     logger.With().Str("service", "session").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Guard exposes the locking helper to services that mutate the same sessions.
func (s *Service) Guard() *Guard {
	return s.guard
}

// Status is a participant's view of their session with a peer.
type Status struct {
	Session        *stake.Session `json:"session"`
	MyPoints       *int           `json:"myPoints"`
	OpponentPoints *int           `json:"opponentPoints"`
}

// Status returns the pair's session, or an unsaved idle one if none exists yet.
func (s *Service) Status(ctx context.Context, caller, peer string) (*Status, error) {
	pair, err := stake.CanonicalPair(caller, peer)
	if err != nil {
		return nil, err
	}
	me, _ := stake.NormalizeIdentity(caller)

	sess, err := s.repo.GetByPair(ctx, pair)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = stake.NewSession(pair, s.now())
	}
	st := &Status{Session: sess}
	if p, ok := sess.PointsFor(me); ok {
		st.MyPoints = &p
	}
	if p, ok := sess.PointsFor(sess.Other(me)); ok {
		st.OpponentPoints = &p
	}
	return st, nil
}

// RecordDeposit marks participant as staked with peer.
func (s *Service) RecordDeposit(ctx context.Context, participant, peer string) (*stake.Session, error) {
	pair, err := stake.CanonicalPair(participant, peer)
	if err != nil {
		return nil, err
	}
	who, _ := stake.NormalizeIdentity(participant)
	now := s.now()

	var tr stake.Transition
	sess, err := s.guard.Mutate(ctx, pair, now, true, func(sess *stake.Session) (bool, error) {
		t, err := sess.RecordDeposit(who, now)
		tr = t
		return t != stake.TransitionNone, err
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, sess, tr, who)
	return sess, nil
}

// MessageResult reports what an accepted message did to the session.
type MessageResult struct {
	Session    *stake.Session   `json:"session"`
	Transition stake.Transition `json:"transition,omitempty"`
	Moderated  bool             `json:"moderated"`
	Duplicate  bool             `json:"duplicate,omitempty"`
}

// HandleMessage applies the timer rules for an accepted message. caller and peer,
// when set, must be the message's sender and receiver. The message's acceptance
// time is used as now. Each message is applied at most once; a repeat is a no-op
// and a message older than the last applied one is a StateConflict.
func (s *Service) HandleMessage(ctx context.Context, caller, peer, messageID string) (*MessageResult, error) {
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, apperr.NotFound("session.HandleMessage", "message not found: "+messageID)
	}
	accepted, err := s.messages.IsAccepted(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, apperr.Wrap(apperr.KindValidation, "session.HandleMessage", ErrMessageNotAccepted)
	}

	sender, err := stake.NormalizeIdentity(msg.SenderID)
	if err != nil {
		return nil, err
	}
	if caller != "" {
		c, err := stake.NormalizeIdentity(caller)
		if err != nil {
			return nil, err
		}
		if c != sender {
			return nil, apperr.Wrap(apperr.KindValidation, "session.HandleMessage", stake.ErrNotParticipant)
		}
	}
	pair, err := stake.CanonicalPair(sender, msg.ReceiverID)
	if err != nil {
		return nil, err
	}
	if peer != "" {
		p, err := stake.NormalizeIdentity(peer)
		if err != nil {
			return nil, err
		}
		if pair.Other(sender) != p {
			return nil, apperr.Wrap(apperr.KindValidation, "session.HandleMessage", stake.ErrNotParticipant)
		}
	}
	now := msg.CreatedAt.UTC()

	var (
		tr        stake.Transition
		duplicate bool
	)
	sess, err := s.guard.Mutate(ctx, pair, now, true, func(sess *stake.Session) (bool, error) {
		tr, duplicate = stake.TransitionNone, false
		if err := sess.CheckCanSend(sender); err != nil {
			return false, err
		}
		fresh, err := sess.RecordMessage(msg.MessageID, now)
		if err != nil {
			return false, err
		}
		if !fresh {
			duplicate = true
			return false, nil
		}
		t, err := sess.OnMessage(sender, now)
		tr = t
		return true, err
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		s.logger.Debug().Str("message_id", msg.MessageID).Str("pair", pair.Key()).Msg("message already applied")
		return &MessageResult{Session: sess, Duplicate: true}, nil
	}
	s.afterTransition(ctx, sess, tr, sender)

	res := &MessageResult{Session: sess, Transition: tr}
	if sess.State == stake.StateRunning && s.queue != nil {
		res.Moderated = s.queue.Enqueue(moderation.Job{
			MessageID: msg.MessageID,
			SessionID: sess.SessionID,
			Sender:    sender,
			Receiver:  sess.Other(sender),
			SentAt:    now,
		})
	}
	return res, nil
}

// End closes the session voluntarily.
func (s *Service) End(ctx context.Context, participant, peer string) (*stake.Session, error) {
	pair, err := stake.CanonicalPair(participant, peer)
	if err != nil {
		return nil, err
	}
	who, _ := stake.NormalizeIdentity(participant)
	now := s.now()

	var tr stake.Transition
	sess, err := s.guard.Mutate(ctx, pair, now, false, func(sess *stake.Session) (bool, error) {
		t, err := sess.End(who, now)
		tr = t
		return t != stake.TransitionNone, err
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, sess, tr, who)
	return sess, nil
}

// ForceIdleReset clears the round timer. Administrative.
func (s *Service) ForceIdleReset(ctx context.Context, a, b string) (*stake.Session, error) {
	pair, err := stake.CanonicalPair(a, b)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var tr stake.Transition
	sess, err := s.guard.Mutate(ctx, pair, now, false, func(sess *stake.Session) (bool, error) {
		t, err := sess.ForceIdleReset(now)
		tr = t
		return t != stake.TransitionNone, err
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, sess, tr, "")
	return sess, nil
}

// Violations lists the pair's violation log, newest first.
func (s *Service) Violations(ctx context.Context, caller, peer string, limit, offset int) ([]*violation.Violation, error) {
	pair, err := stake.CanonicalPair(caller, peer)
	if err != nil {
		return nil, err
	}
	sess, err := s.repo.GetByPair(ctx, pair)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return []*violation.Violation{}, nil
	}
	return s.violations.ListBySession(ctx, sess.SessionID, limit, offset)
}

// ProcessExpired resolves overdue round and refund timers. It returns the number
// of sessions whose state changed.
func (s *Service) ProcessExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	rounds, err := s.repo.ListExpiredRounds(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	refunds, err := s.repo.ListExpiredRefundTimers(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, due := range rounds {
		if s.expire(ctx, due.Pair(), now, func(sess *stake.Session) stake.Transition {
			return sess.ExpireRound(now)
		}) {
			processed++
		}
	}
	for _, due := range refunds {
		if s.expire(ctx, due.Pair(), now, func(sess *stake.Session) stake.Transition {
			return sess.ExpireRefundTimer(now)
		}) {
			processed++
		}
	}
	return processed, nil
}

func (s *Service) expire(ctx context.Context, pair stake.Pair, now time.Time, fn func(*stake.Session) stake.Transition) bool {
	var tr stake.Transition
	sess, err := s.guard.Mutate(ctx, pair, now, false, func(sess *stake.Session) (bool, error) {
		tr = fn(sess)
		return tr != stake.TransitionNone, nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("pair", pair.Key()).Msg("failed to expire session timer")
		return false
	}
	if tr == stake.TransitionNone {
		return false
	}
	s.afterTransition(ctx, sess, tr, "")
	return true
}

func (s *Service) afterTransition(ctx context.Context, sess *stake.Session, tr stake.Transition, actor string) {
	if tr == stake.TransitionNone {
		return
	}
	metrics.RoundTransitions.WithLabelValues(string(tr)).Inc()
	s.logger.Info().
		Str("session_id", sess.SessionID.String()).
		Str("transition", string(tr)).
		Str("actor", actor).
		Str("state", string(sess.State)).
		Msg("session transition")

	for _, ev := range Events(sess, tr, actor) {
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

// Outbound is one event for both participants.
type Outbound struct {
	Event   notification.Event
	Payload any
}

// Events maps a transition to the notifications it produces.
func Events(sess *stake.Session, tr stake.Transition, actor string) []Outbound {
	round := notification.RoundPayload{
		SessionID: sess.SessionID,
		StartedAt: sess.StartedAt,
		ExpiresAt: sess.ExpiresAt,
	}
	if sess.StartedBy != nil {
		round.StartedBy = *sess.StartedBy
	}

	switch tr {
	case stake.TransitionDepositRecorded, stake.TransitionStakeCompleted:
		return []Outbound{{notification.EventDepositRecorded, notification.DepositPayload{
			SessionID:     sess.SessionID,
			Participant:   actor,
			BothDeposited: sess.BothDeposited(),
		}}}
	case stake.TransitionRoundStarted:
		return []Outbound{{notification.EventRoundStarted, round}}
	case stake.TransitionRoundStopped, stake.TransitionReset:
		return []Outbound{{notification.EventRoundStopped, round}}
	case stake.TransitionRefundTimerStarted:
		p := notification.RoundPayload{
			SessionID: sess.SessionID,
			StartedAt: sess.RefundTimerStartedAt,
			ExpiresAt: sess.RefundTimerExpiresAt,
		}
		if sess.RefundTimerStartedBy != nil {
			p.StartedBy = *sess.RefundTimerStartedBy
		}
		return []Outbound{{notification.EventRefundTimerStart, p}}
	case stake.TransitionRoundExpired:
		return []Outbound{
			{notification.EventRoundExpired, endedPayload(sess)},
			{notification.EventSessionEnded, endedPayload(sess)},
		}
	case stake.TransitionRefundExpired:
		return []Outbound{
			{notification.EventRefundTimerExpire, endedPayload(sess)},
			{notification.EventSessionEnded, endedPayload(sess)},
		}
	case stake.TransitionEnded, stake.TransitionForfeited:
		return []Outbound{{notification.EventSessionEnded, endedPayload(sess)}}
	}
	return nil
}

func endedPayload(sess *stake.Session) notification.EndedPayload {
	p := notification.EndedPayload{
		SessionID:   sess.SessionID,
		Beneficiary: sess.Beneficiary,
		Winner:      sess.Winner,
	}
	if sess.EndReason != nil {
		p.Reason = string(*sess.EndReason)
	}
	return p
}
