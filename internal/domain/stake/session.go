package stake

import (
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/OrsiniBr/DoTrust/internal/domain/apperr"
)

// State is the round state of a session.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateEnded   State = "ended"
)

// EndReason records how a session reached StateEnded.
type EndReason string

const (
	EndReasonForfeit   EndReason = "forfeit"
	EndReasonTimeout   EndReason = "timeout"
	EndReasonRefund    EndReason = "refund"
	EndReasonVoluntary EndReason = "voluntary"
)

const (
	RoundDuration         = 60 * time.Second
	RefundWindow          = 60 * time.Second
	InitialLifeLinePoints = 5
)

// Transition tells collaborators what a mutation did.
type Transition string

const (
	TransitionNone               Transition = ""
	TransitionDepositRecorded    Transition = "deposit_recorded"
	TransitionStakeCompleted     Transition = "stake_completed"
	TransitionRoundStarted       Transition = "round_started"
	TransitionRoundStopped       Transition = "round_stopped"
	TransitionRefundTimerStarted Transition = "refund_timer_started"
	TransitionRefundTimerCleared Transition = "refund_timer_cleared"
	TransitionRoundExpired       Transition = "round_expired"
	TransitionRefundExpired      Transition = "refund_expired"
	TransitionForfeited          Transition = "forfeited"
	TransitionEnded              Transition = "ended"
	TransitionReset              Transition = "reset"
)

var (
	ErrInvalidIdentity      = errors.New("invalid participant identity")
	ErrSameParticipant      = errors.New("a session needs two distinct participants")
	ErrNotParticipant       = errors.New("identity is not a participant of this session")
	ErrSessionEnded         = errors.New("session already ended")
	ErrDepositRequired      = errors.New("deposit required before sending messages")
	ErrPointsNotInitialized = errors.New("life-line points not initialized")
	ErrInvalidPoints        = errors.New("points to deduct must be 1 or 2")
	ErrNotEligible          = errors.New("participant is not eligible for this payout")
	ErrAlreadySettled       = errors.New("payout already settled for participant")
	ErrVersionConflict      = errors.New("session was modified concurrently")
	ErrSessionNotFound      = errors.New("session not found")
	ErrStaleMessage         = errors.New("message is older than the last applied message")
	ErrAuthorizationPending = errors.New("an authorization for this payout is still outstanding")
)

// SelfSubmittedPrefix marks a settlement the claimant submitted with a signed
// authorization. It is followed by the consumed nonce.
const SelfSubmittedPrefix = "nonce:"

// PendingAuthorization is a signed payout handed to a claimant and not yet seen settled.
type PendingAuthorization struct {
	Action   string    `json:"action"`
	Nonce    string    `json:"nonce"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Session is the shared record of one pair of participants.
type Session struct {
	ID                   int64                            `json:"-"`
	SessionID            uuid.UUID                        `json:"sessionId"`
	ParticipantA         string                           `json:"participantA"`
	ParticipantB         string                           `json:"participantB"`
	Deposits             map[string]bool                  `json:"deposits"`
	State                State                            `json:"state"`
	StartedBy            *string                          `json:"startedBy,omitempty"`
	StartedAt            *time.Time                       `json:"startedAt,omitempty"`
	ExpiresAt            *time.Time                       `json:"expiresAt,omitempty"`
	RefundTimerStartedBy *string                          `json:"refundTimerStartedBy,omitempty"`
	RefundTimerStartedAt *time.Time                       `json:"refundTimerStartedAt,omitempty"`
	RefundTimerExpiresAt *time.Time                       `json:"refundTimerExpiresAt,omitempty"`
	LifeLinePointsA      *int                             `json:"lifeLinePointsA,omitempty"`
	LifeLinePointsB      *int                             `json:"lifeLinePointsB,omitempty"`
	Winner               *string                          `json:"winner,omitempty"`
	EndReason            *EndReason                       `json:"endReason,omitempty"`
	Beneficiary          *string                          `json:"beneficiary,omitempty"`
	Settlements          map[string]string                `json:"settlements,omitempty"`
	LastMessageAt        *time.Time                       `json:"lastMessageAt,omitempty"`
	LastMessageIDs       []string                         `json:"-"`
	Authorizations       map[string]*PendingAuthorization `json:"authorizations,omitempty"`
	Version              int64                            `json:"version"`
	CreatedAt            time.Time                        `json:"createdAt"`
	UpdatedAt            time.Time                        `json:"updatedAt"`
}

// NewSession creates the record for a pair on first contact.
func NewSession(pair Pair, now time.Time) *Session {
	return &Session{
		SessionID:    uuid.New(),
		ParticipantA: pair.A,
		ParticipantB: pair.B,
		Deposits:     map[string]bool{pair.A: false, pair.B: false},
		State:        StateIdle,
		Settlements:  map[string]string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *Session) Pair() Pair {
	return Pair{A: s.ParticipantA, B: s.ParticipantB}
}

func (s *Session) IsParticipant(id string) bool {
	return s.Pair().Has(id)
}

// Other returns the counterpart of id.
func (s *Session) Other(id string) string {
	return s.Pair().Other(id)
}

func (s *Session) HasDeposited(id string) bool {
	return s.Deposits[id]
}

func (s *Session) BothDeposited() bool {
	return s.Deposits[s.ParticipantA] && s.Deposits[s.ParticipantB]
}

func (s *Session) IsEnded() bool {
	return s.State == StateEnded
}

// RoundActive reports whether the reply clock is running.
func (s *Session) RoundActive() bool {
	return s.State == StateRunning && s.ExpiresAt != nil
}

// RefundTimerActive reports whether the one-sided stake window is open.
func (s *Session) RefundTimerActive() bool {
	return !s.IsEnded() && s.RefundTimerExpiresAt != nil
}

// PointsInitialized reports whether both life-line counters were set.
func (s *Session) PointsInitialized() bool {
	return s.LifeLinePointsA != nil && s.LifeLinePointsB != nil
}

// PointsFor returns the life-line points of a participant.
func (s *Session) PointsFor(id string) (int, bool) {
	var p *int
	switch id {
	case s.ParticipantA:
		p = s.LifeLinePointsA
	case s.ParticipantB:
		p = s.LifeLinePointsB
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// CheckCanSend rejects messages from participants who have not staked.
func (s *Session) CheckCanSend(sender string) error {
	if !s.IsParticipant(sender) {
		return apperr.Wrap(apperr.KindValidation, "stake.CheckCanSend", ErrNotParticipant)
	}
	if !s.HasDeposited(sender) {
		return apperr.Wrap(apperr.KindValidation, "stake.CheckCanSend", ErrDepositRequired)
	}
	return nil
}

// RecordMessage marks messageID, accepted at at, as applied to the session. It
// reports false for a message that was already applied and fails for one older
// than the last applied message. Only ids sharing the newest timestamp are kept.
func (s *Session) RecordMessage(messageID string, at time.Time) (bool, error) {
	if s.LastMessageAt != nil {
		if at.Before(*s.LastMessageAt) {
			return false, apperr.Wrap(apperr.KindStateConflict, "stake.RecordMessage", ErrStaleMessage)
		}
		if at.Equal(*s.LastMessageAt) {
			for _, id := range s.LastMessageIDs {
				if id == messageID {
					return false, nil
				}
			}
			s.LastMessageIDs = append(s.LastMessageIDs, messageID)
			return true, nil
		}
	}
	s.LastMessageAt = timePtr(at)
	s.LastMessageIDs = []string{messageID}
	return true, nil
}

// RecordDeposit marks a participant as staked. When this completes the pair, points
// are initialized once and the refund timer is cleared.
func (s *Session) RecordDeposit(participant string, now time.Time) (Transition, error) {
	if !s.IsParticipant(participant) {
		return TransitionNone, apperr.Wrap(apperr.KindValidation, "stake.RecordDeposit", ErrNotParticipant)
	}
	if s.Deposits[participant] {
		return TransitionNone, nil
	}
	if s.IsEnded() {
		return TransitionNone, apperr.Wrap(apperr.KindStateConflict, "stake.RecordDeposit", ErrSessionEnded)
	}
	if s.Deposits == nil {
		s.Deposits = map[string]bool{}
	}
	s.Deposits[participant] = true
	s.UpdatedAt = now
	if !s.BothDeposited() {
		return TransitionDepositRecorded, nil
	}
	s.initPoints()
	s.clearRefundTimer()
	return TransitionStakeCompleted, nil
}

// OnMessage applies the timer rules for a message accepted at now.
func (s *Session) OnMessage(sender string, now time.Time) (Transition, error) {
	if !s.IsParticipant(sender) {
		return TransitionNone, apperr.Wrap(apperr.KindValidation, "stake.OnMessage", ErrNotParticipant)
	}
	if s.IsEnded() {
		return TransitionNone, nil
	}

	if s.BothDeposited() {
		s.initPoints()
		if s.State != StateRunning {
			expires := now.Add(RoundDuration)
			s.State = StateRunning
			s.StartedBy = strPtr(sender)
			s.StartedAt = timePtr(now)
			s.ExpiresAt = &expires
			s.clearRefundTimer()
			s.UpdatedAt = now
			return TransitionRoundStarted, nil
		}
		// Strict comparison: a reply exactly at the deadline is late.
		if s.StartedBy != nil && *s.StartedBy != sender && s.ExpiresAt != nil && now.Before(*s.ExpiresAt) {
			s.State = StateIdle
			s.clearRound()
			s.UpdatedAt = now
			return TransitionRoundStopped, nil
		}
		return TransitionNone, nil
	}

	if s.HasDeposited(sender) && !s.HasDeposited(s.Other(sender)) && !s.RefundTimerActive() {
		expires := now.Add(RefundWindow)
		s.RefundTimerStartedBy = strPtr(sender)
		s.RefundTimerStartedAt = timePtr(now)
		s.RefundTimerExpiresAt = &expires
		s.UpdatedAt = now
		return TransitionRefundTimerStarted, nil
	}
	return TransitionNone, nil
}

// ExpireRound ends a running round whose deadline has passed. The round starter
// becomes entitled to compensation; Winner stays reserved for forfeiture.
func (s *Session) ExpireRound(now time.Time) Transition {
	if s.State != StateRunning || s.ExpiresAt == nil || now.Before(*s.ExpiresAt) {
		return TransitionNone
	}
	var beneficiary *string
	if s.StartedBy != nil {
		beneficiary = strPtr(*s.StartedBy)
	}
	s.end(EndReasonTimeout, beneficiary, now)
	return TransitionRoundExpired
}

// ExpireRefundTimer resolves an overdue refund window.
func (s *Session) ExpireRefundTimer(now time.Time) Transition {
	if !s.RefundTimerActive() || now.Before(*s.RefundTimerExpiresAt) {
		return TransitionNone
	}
	starter := ""
	if s.RefundTimerStartedBy != nil {
		starter = *s.RefundTimerStartedBy
	}
	if starter == "" || s.HasDeposited(s.Other(starter)) {
		s.clearRefundTimer()
		s.UpdatedAt = now
		return TransitionRefundTimerCleared
	}
	s.end(EndReasonRefund, strPtr(starter), now)
	return TransitionRefundExpired
}

// End closes the session at a participant's request.
func (s *Session) End(participant string, now time.Time) (Transition, error) {
	if !s.IsParticipant(participant) {
		return TransitionNone, apperr.Wrap(apperr.KindValidation, "stake.End", ErrNotParticipant)
	}
	if s.IsEnded() {
		return TransitionNone, nil
	}
	s.end(EndReasonVoluntary, nil, now)
	return TransitionEnded, nil
}

// ForceIdleReset clears the round timer. Administrative only.
func (s *Session) ForceIdleReset(now time.Time) (Transition, error) {
	if s.IsEnded() {
		return TransitionNone, apperr.Wrap(apperr.KindStateConflict, "stake.ForceIdleReset", ErrSessionEnded)
	}
	s.State = StateIdle
	s.clearRound()
	s.UpdatedAt = now
	return TransitionReset, nil
}

// ApplyDeduction removes points from offender, floored at zero. Reaching zero on a live
// session forfeits it to the other participant. Ended sessions are left untouched.
func (s *Session) ApplyDeduction(offender string, points int, now time.Time) (remaining int, forfeited bool, err error) {
	if !s.IsParticipant(offender) {
		return 0, false, apperr.Wrap(apperr.KindValidation, "stake.ApplyDeduction", ErrNotParticipant)
	}
	if points != 1 && points != 2 {
		return 0, false, apperr.Wrap(apperr.KindValidation, "stake.ApplyDeduction", ErrInvalidPoints)
	}
	current, ok := s.PointsFor(offender)
	if !ok {
		return 0, false, apperr.Wrap(apperr.KindStateConflict, "stake.ApplyDeduction", ErrPointsNotInitialized)
	}
	if s.IsEnded() {
		return current, false, nil
	}

	remaining = current - points
	if remaining < 0 {
		remaining = 0
	}
	if offender == s.ParticipantA {
		s.LifeLinePointsA = intPtr(remaining)
	} else {
		s.LifeLinePointsB = intPtr(remaining)
	}
	s.UpdatedAt = now

	if remaining == 0 {
		winner := s.Other(offender)
		s.Winner = strPtr(winner)
		s.ExpiresAt = timePtr(now)
		s.end(EndReasonForfeit, strPtr(winner), now)
		return remaining, true, nil
	}
	return remaining, false, nil
}

// CheckCompensationClaim verifies claimant may be compensated from this session.
func (s *Session) CheckCompensationClaim(claimant string) error {
	if !s.IsParticipant(claimant) {
		return apperr.Wrap(apperr.KindValidation, "stake.CheckCompensationClaim", ErrNotParticipant)
	}
	if !s.IsEnded() || s.EndReason == nil {
		return apperr.Wrap(apperr.KindStateConflict, "stake.CheckCompensationClaim", ErrNotEligible)
	}
	if *s.EndReason != EndReasonForfeit && *s.EndReason != EndReasonTimeout {
		return apperr.Wrap(apperr.KindStateConflict, "stake.CheckCompensationClaim", ErrNotEligible)
	}
	if s.Beneficiary == nil || *s.Beneficiary != claimant {
		return apperr.Wrap(apperr.KindStateConflict, "stake.CheckCompensationClaim", ErrNotEligible)
	}
	if s.IsSettled(claimant) {
		return apperr.Wrap(apperr.KindStateConflict, "stake.CheckCompensationClaim", ErrAlreadySettled)
	}
	return nil
}

// CheckRefundClaim verifies claimant may reclaim their stake from this session.
func (s *Session) CheckRefundClaim(claimant string) error {
	if !s.IsParticipant(claimant) {
		return apperr.Wrap(apperr.KindValidation, "stake.CheckRefundClaim", ErrNotParticipant)
	}
	if !s.IsEnded() || s.EndReason == nil || !s.HasDeposited(claimant) {
		return apperr.Wrap(apperr.KindStateConflict, "stake.CheckRefundClaim", ErrNotEligible)
	}
	switch *s.EndReason {
	case EndReasonRefund:
		if s.Beneficiary == nil || *s.Beneficiary != claimant {
			return apperr.Wrap(apperr.KindStateConflict, "stake.CheckRefundClaim", ErrNotEligible)
		}
	case EndReasonVoluntary:
	default:
		return apperr.Wrap(apperr.KindStateConflict, "stake.CheckRefundClaim", ErrNotEligible)
	}
	if s.IsSettled(claimant) {
		return apperr.Wrap(apperr.KindStateConflict, "stake.CheckRefundClaim", ErrAlreadySettled)
	}
	return nil
}

func (s *Session) IsSettled(id string) bool {
	_, ok := s.Settlements[id]
	return ok
}

// RecordSettlement stores the transaction that paid out participant and drops
// any outstanding authorization.
func (s *Session) RecordSettlement(participant, txHash string, now time.Time) {
	if s.Settlements == nil {
		s.Settlements = map[string]string{}
	}
	s.Settlements[participant] = txHash
	delete(s.Authorizations, participant)
	s.UpdatedAt = now
}

// PendingAuthorizationFor returns the outstanding authorization of participant.
func (s *Session) PendingAuthorizationFor(participant string) (*PendingAuthorization, bool) {
	a, ok := s.Authorizations[participant]
	return a, ok && a != nil
}

// ReconcileAuthorization compares participant's outstanding authorization with the
// ledger's next nonce for them. An authorization whose nonce the ledger has moved
// past was submitted by the claimant; it is recorded as settled and true is
// returned. One issued for a nonce the ledger has not reached yet is a conflict.
func (s *Session) ReconcileAuthorization(participant string, ledgerNonce *big.Int, now time.Time) (bool, error) {
	a, ok := s.PendingAuthorizationFor(participant)
	if !ok {
		return false, nil
	}
	issued, ok := new(big.Int).SetString(a.Nonce, 10)
	if !ok {
		return false, apperr.Wrap(apperr.KindInternal, "stake.ReconcileAuthorization", errors.New("malformed authorization nonce "+a.Nonce))
	}
	switch issued.Cmp(ledgerNonce) {
	case -1:
		s.RecordSettlement(participant, SelfSubmittedPrefix+a.Nonce, now)
		return true, nil
	case 1:
		return false, apperr.Wrap(apperr.KindStateConflict, "stake.ReconcileAuthorization", ErrAuthorizationPending)
	}
	return false, nil
}

// RecordAuthorization notes that a payout signed for nonce was issued to participant.
// At most one authorization per participant is outstanding.
func (s *Session) RecordAuthorization(participant, action, nonce string, now time.Time) {
	if s.Authorizations == nil {
		s.Authorizations = map[string]*PendingAuthorization{}
	}
	s.Authorizations[participant] = &PendingAuthorization{Action: action, Nonce: nonce, IssuedAt: now}
	s.UpdatedAt = now
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Deposits = make(map[string]bool, len(s.Deposits))
	for k, v := range s.Deposits {
		c.Deposits[k] = v
	}
	c.Settlements = make(map[string]string, len(s.Settlements))
	for k, v := range s.Settlements {
		c.Settlements[k] = v
	}
	c.LastMessageAt = cloneTime(s.LastMessageAt)
	c.LastMessageIDs = append([]string(nil), s.LastMessageIDs...)
	if s.Authorizations != nil {
		c.Authorizations = make(map[string]*PendingAuthorization, len(s.Authorizations))
		for k, v := range s.Authorizations {
			if v != nil {
				a := *v
				c.Authorizations[k] = &a
			}
		}
	}
	c.StartedBy = cloneStr(s.StartedBy)
	c.StartedAt = cloneTime(s.StartedAt)
	c.ExpiresAt = cloneTime(s.ExpiresAt)
	c.RefundTimerStartedBy = cloneStr(s.RefundTimerStartedBy)
	c.RefundTimerStartedAt = cloneTime(s.RefundTimerStartedAt)
	c.RefundTimerExpiresAt = cloneTime(s.RefundTimerExpiresAt)
	c.LifeLinePointsA = cloneInt(s.LifeLinePointsA)
	c.LifeLinePointsB = cloneInt(s.LifeLinePointsB)
	c.Winner = cloneStr(s.Winner)
	c.Beneficiary = cloneStr(s.Beneficiary)
	if s.EndReason != nil {
		r := *s.EndReason
		c.EndReason = &r
	}
	return &c
}

func (s *Session) initPoints() {
	if s.LifeLinePointsA == nil {
		s.LifeLinePointsA = intPtr(InitialLifeLinePoints)
	}
	if s.LifeLinePointsB == nil {
		s.LifeLinePointsB = intPtr(InitialLifeLinePoints)
	}
}

func (s *Session) end(reason EndReason, beneficiary *string, now time.Time) {
	s.State = StateEnded
	s.EndReason = &reason
	s.Beneficiary = beneficiary
	s.UpdatedAt = now
}

func (s *Session) clearRound() {
	s.StartedBy = nil
	s.StartedAt = nil
	s.ExpiresAt = nil
}

func (s *Session) clearRefundTimer() {
	s.RefundTimerStartedBy = nil
	s.RefundTimerStartedAt = nil
	s.RefundTimerExpiresAt = nil
}

func strPtr(v string) *string        { return &v }
func intPtr(v int) *int              { return &v }
func timePtr(v time.Time) *time.Time { return &v }

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	return strPtr(*p)
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	return intPtr(*p)
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	return timePtr(*p)
}
