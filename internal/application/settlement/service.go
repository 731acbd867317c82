package settlement

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	appSession "github.com/OrsiniBr/DoTrust/internal/application/session"
	"github.com/OrsiniBr/DoTrust/internal/domain/apperr"
	"github.com/OrsiniBr/DoTrust/internal/domain/notification"
	"github.com/OrsiniBr/DoTrust/internal/domain/settlement"
	"github.com/OrsiniBr/DoTrust/internal/domain/stake"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/metrics"
)

// Depositor records a confirmed stake on the session.
type Depositor interface {
	RecordDeposit(ctx context.Context, participant, peer string) (*stake.Session, error)
}

// Service signs and relays settlement authorizations.
type Service struct {
	ledger    settlement.Ledger
	keys      settlement.KeyStore
	repo      stake.Repository
	guard     *appSession.Guard
	depositor Depositor
	notifier  notification.Notifier
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a settlement service.
func NewService(
	ledger settlement.Ledger,
	keys settlement.KeyStore,
	repo stake.Repository,
	guard *appSession.Guard,
	depositor Depositor,
	notifier notification.Notifier,
	logger zerolog.Logger,
) *Service {
	return &Service{
		ledger:    ledger,
		keys:      keys,
		repo:      repo,
		guard:     guard,
		depositor: depositor,
		notifier:  notifier,
		logger:    logger.With().Str("service", "settlement").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Nonce reads the ledger nonce for address.
func (s *Service) Nonce(ctx context.Context, address string) (*big.Int, error) {
	id, err := stake.NormalizeIdentity(address)
	if err != nil {
		return nil, err
	}
	return s.ledger.Nonce(ctx, common.HexToAddress(id))
}

// StakeInput is a user's signed request to stake through the relayer.
type StakeInput struct {
	User      string
	Peer      string
	Nonce     *big.Int
	Signature []byte
}

// StakeResult is a confirmed stake.
type StakeResult struct {
	Receipt *settlement.Receipt `json:"receipt"`
	Session *stake.Session      `json:"session"`
}

// Stake verifies the user's stake signature against a fresh nonce, relays it and
// records the deposit once confirmed.
func (s *Service) Stake(ctx context.Context, in StakeInput) (*StakeResult, error) {
	op := "settlement.Stake"
	pair, err := stake.CanonicalPair(in.User, in.Peer)
	if err != nil {
		return nil, err
	}
	user, _ := stake.NormalizeIdentity(in.User)
	addr := common.HexToAddress(user)

	existing, err := s.repo.GetByPair(ctx, pair)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsEnded() {
		return nil, apperr.Wrap(apperr.KindStateConflict, op, stake.ErrSessionEnded)
	}
	if existing != nil && existing.HasDeposited(user) {
		return nil, apperr.StateConflict(op, "participant already deposited")
	}

	nonce, err := s.ledger.Nonce(ctx, addr)
	if err != nil {
		return nil, err
	}
	if in.Nonce != nil && in.Nonce.Cmp(nonce) != 0 {
		return nil, apperr.AuthorizationRejected(op, fmt.Errorf("nonce %s is stale, ledger expects %s", in.Nonce, nonce))
	}

	auth, err := settlement.NewAuthorization(settlement.ActionStake, addr, nonce, s.ledger.Contract(), s.ledger.ChainID())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}
	ok, err := settlement.Verify(auth, in.Signature, addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}
	if !ok {
		return nil, apperr.AuthorizationRejected(op, settlement.ErrSignerMismatch)
	}
	auth.Signature = append([]byte(nil), in.Signature...)

	receipt, err := s.submit(ctx, auth)
	if err != nil {
		return nil, err
	}

	sess, err := s.depositor.RecordDeposit(ctx, user, in.Peer)
	if err != nil {
		s.logger.Error().Err(err).
			Str("pair", pair.Key()).
			Str("tx", receipt.TxHash).
			Msg("stake confirmed on ledger but deposit not recorded")
		return &StakeResult{Receipt: receipt}, err
	}
	return &StakeResult{Receipt: receipt, Session: sess}, nil
}

// PayoutResult is a confirmed compensate or refund.
type PayoutResult struct {
	Receipt *settlement.Receipt `json:"receipt"`
	Session *stake.Session      `json:"session"`
}

// Compensate pays the beneficiary of a forfeited or timed-out session.
func (s *Service) Compensate(ctx context.Context, claimant, peer string) (*PayoutResult, error) {
	return s.payout(ctx, settlement.ActionCompensate, claimant, peer)
}

// Refund returns the claimant's stake.
func (s *Service) Refund(ctx context.Context, claimant, peer string) (*PayoutResult, error) {
	return s.payout(ctx, settlement.ActionRefund, claimant, peer)
}

// SignCompensation returns a signed compensate authorization for client-side submission.
func (s *Service) SignCompensation(ctx context.Context, claimant, peer string) (*settlement.Authorization, error) {
	return s.signFor(ctx, settlement.ActionCompensate, claimant, peer)
}

// SignRefund returns a signed refund authorization for client-side submission.
func (s *Service) SignRefund(ctx context.Context, claimant, peer string) (*settlement.Authorization, error) {
	return s.signFor(ctx, settlement.ActionRefund, claimant, peer)
}

func (s *Service) payout(ctx context.Context, action settlement.Action, claimant, peer string) (*PayoutResult, error) {
	auth, pair, who, err := s.authorize(ctx, action, claimant, peer)
	if err != nil {
		return nil, err
	}

	receipt, err := s.submit(ctx, auth)
	if err != nil {
		return nil, err
	}

	sess, err := s.guard.Mutate(ctx, pair, s.now(), false, func(sess *stake.Session) (bool, error) {
		sess.RecordSettlement(who, receipt.TxHash, s.now())
		return true, nil
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("pair", pair.Key()).
			Str("tx", receipt.TxHash).
			Msg("payout confirmed on ledger but not recorded")
		return &PayoutResult{Receipt: receipt}, err
	}

	if s.notifier != nil {
		payload := notification.SettledPayload{SessionID: sess.SessionID, Action: string(action), TxHash: receipt.TxHash}
		if err := s.notifier.Notify(ctx, who, notification.EventSettled, payload); err != nil {
			s.logger.Debug().Err(err).Str("participant", who).Msg("notification not delivered")
		}
	}
	return &PayoutResult{Receipt: receipt, Session: sess}, nil
}

func (s *Service) signFor(ctx context.Context, action settlement.Action, claimant, peer string) (*settlement.Authorization, error) {
	auth, _, _, err := s.authorize(ctx, action, claimant, peer)
	return auth, err
}

// authorize checks eligibility, reads a fresh nonce and signs with the authorizer
// key under the session lock. The issued nonce is kept on the session so at most
// one authorization per claimant is outstanding: a later request for the same
// nonce gets it again, and once the ledger moves past it the claim is settled.
func (s *Service) authorize(ctx context.Context, action settlement.Action, claimant, peer string) (*settlement.Authorization, stake.Pair, string, error) {
	op := "settlement.authorize"
	pair, err := stake.CanonicalPair(claimant, peer)
	if err != nil {
		return nil, stake.Pair{}, "", err
	}
	who, _ := stake.NormalizeIdentity(claimant)
	addr := common.HexToAddress(who)
	now := s.now()

	var (
		auth     *settlement.Authorization
		consumed bool
	)
	_, err = s.guard.Mutate(ctx, pair, now, false, func(sess *stake.Session) (bool, error) {
		auth, consumed = nil, false
		if err := checkClaim(op, action, sess, who); err != nil {
			return false, err
		}
		nonce, err := s.ledger.Nonce(ctx, addr)
		if err != nil {
			return false, err
		}
		settled, err := sess.ReconcileAuthorization(who, nonce, now)
		if err != nil {
			return false, err
		}
		if settled {
			consumed = true
			return true, nil
		}
		a, err := s.sign(ctx, op, action, addr, nonce)
		if err != nil {
			return false, err
		}
		sess.RecordAuthorization(who, string(action), nonce.String(), now)
		auth = a
		return true, nil
	})
	if err != nil {
		return nil, pair, who, err
	}
	if consumed {
		s.logger.Warn().
			Str("pair", pair.Key()).
			Str("claimant", who).
			Str("action", string(action)).
			Msg("outstanding authorization was consumed on the ledger, claim closed")
		return nil, pair, who, apperr.Wrap(apperr.KindStateConflict, op, stake.ErrAlreadySettled)
	}
	return auth, pair, who, nil
}

func checkClaim(op string, action settlement.Action, sess *stake.Session, who string) error {
	switch action {
	case settlement.ActionCompensate:
		return sess.CheckCompensationClaim(who)
	case settlement.ActionRefund:
		return sess.CheckRefundClaim(who)
	}
	return apperr.Wrap(apperr.KindValidation, op, settlement.ErrUnknownAction)
}

func (s *Service) sign(ctx context.Context, op string, action settlement.Action, addr common.Address, nonce *big.Int) (*settlement.Authorization, error) {
	auth, err := settlement.NewAuthorization(action, addr, nonce, s.ledger.Contract(), s.ledger.ChainID())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}
	key, err := s.keys.AuthorizerKey(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, op, err)
	}
	if _, err := settlement.Sign(auth, key); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}
	return auth, nil
}

func (s *Service) submit(ctx context.Context, auth *settlement.Authorization) (*settlement.Receipt, error) {
	receipt, err := s.ledger.Submit(ctx, auth)
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues(string(auth.Action), string(apperr.KindOf(err))).Inc()
		s.logger.Warn().Err(err).
			Str("action", string(auth.Action)).
			Str("recipient", auth.Recipient.Hex()).
			Str("nonce", auth.Nonce.String()).
			Msg("settlement submission failed")
		return nil, err
	}
	metrics.SettlementsTotal.WithLabelValues(string(auth.Action), "confirmed").Inc()
	s.logger.Info().
		Str("action", string(auth.Action)).
		Str("recipient", auth.Recipient.Hex()).
		Str("tx", receipt.TxHash).
		Uint64("block", receipt.BlockNumber).
		Msg("settlement confirmed")
	return receipt, nil
}
