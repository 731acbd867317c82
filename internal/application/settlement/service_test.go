package settlement

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	appSession "github.com/OrsiniBr/DoTrust/internal/application/session"
	"github.com/OrsiniBr/DoTrust/internal/domain/apperr"
	"github.com/OrsiniBr/DoTrust/internal/domain/notification"
	notificationmocks "github.com/OrsiniBr/DoTrust/internal/domain/notification/mocks"
	"github.com/OrsiniBr/DoTrust/internal/domain/settlement"
	settlementmocks "github.com/OrsiniBr/DoTrust/internal/domain/settlement/mocks"
	"github.com/OrsiniBr/DoTrust/internal/domain/stake"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/lock"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/memory"
)

var (
	t0       = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	contract = common.HexToAddress("0x9999999999999999999999999999999999999999")
	chainID  = big.NewInt(31337)
)

type fixture struct {
	svc        *Service
	repo       *memory.SessionRepository
	ledger     *settlementmocks.MockLedger
	keys       *settlementmocks.MockKeyStore
	authorizer *ecdsa.PrivateKey
	aliceKey   *ecdsa.PrivateKey
	alice      string
	bob        string
	pair       stake.Pair
}

func newFixture(t *testing.T, notifier notification.Notifier) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	aliceKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	bobKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	authorizer, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		repo:       memory.NewSessionRepository(),
		ledger:     settlementmocks.NewMockLedger(ctrl),
		keys:       settlementmocks.NewMockKeyStore(ctrl),
		authorizer: authorizer,
		aliceKey:   aliceKey,
		alice:      strings.ToLower(crypto.PubkeyToAddress(aliceKey.PublicKey).Hex()),
		bob:        strings.ToLower(crypto.PubkeyToAddress(bobKey.PublicKey).Hex()),
	}
	f.pair, err = stake.CanonicalPair(f.alice, f.bob)
	require.NoError(t, err)

	f.ledger.EXPECT().ChainID().Return(chainID).AnyTimes()
	f.ledger.EXPECT().Contract().Return(contract).AnyTimes()

	locker := lock.NewKeyedMutex()
	sessions := appSession.NewService(f.repo, locker, memory.NewMessageStore(), memory.NewViolationRepository(), nil, nil, zerolog.Nop())
	f.svc = NewService(f.ledger, f.keys, f.repo, appSession.NewGuard(f.repo, locker), sessions, notifier, zerolog.Nop())
	f.svc.now = func() time.Time { return t0.Add(5 * time.Minute) }
	return f
}

// seed stores a session shaped by fn.
func (f *fixture) seed(t *testing.T, fn func(s *stake.Session)) {
	t.Helper()
	s, err := f.repo.GetOrCreate(context.Background(), f.pair, t0)
	require.NoError(t, err)
	fn(s)
	require.NoError(t, f.repo.Update(context.Background(), s))
}

func (f *fixture) timedOut(t *testing.T) {
	f.seed(t, func(s *stake.Session) {
		_, _ = s.RecordDeposit(f.alice, t0)
		_, _ = s.RecordDeposit(f.bob, t0)
		_, _ = s.OnMessage(f.alice, t0)
		require.Equal(t, stake.TransitionRoundExpired, s.ExpireRound(t0.Add(2*time.Minute)))
	})
}

func (f *fixture) session(t *testing.T) *stake.Session {
	t.Helper()
	s, err := f.repo.GetByPair(context.Background(), f.pair)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func (f *fixture) stakeSignature(t *testing.T, nonce int64) []byte {
	t.Helper()
	a, err := settlement.NewAuthorization(settlement.ActionStake, common.HexToAddress(f.alice), big.NewInt(nonce), contract, chainID)
	require.NoError(t, err)
	sig, err := settlement.Sign(a, f.aliceKey)
	require.NoError(t, err)
	return sig
}

func TestNonce(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.EXPECT().Nonce(gomock.Any(), common.HexToAddress(f.alice)).Return(big.NewInt(11), nil)

	n, err := f.svc.Nonce(context.Background(), strings.ToUpper(f.alice[2:]))
	require.NoError(t, err)
	assert.Equal(t, int64(11), n.Int64())

	_, err = f.svc.Nonce(context.Background(), "0x123")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestStake_RelaysAndRecordsDeposit(t *testing.T) {
	f := newFixture(t, nil)
	sig := f.stakeSignature(t, 4)

	f.ledger.EXPECT().Nonce(gomock.Any(), common.HexToAddress(f.alice)).Return(big.NewInt(4), nil)
	f.ledger.EXPECT().Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, a *settlement.Authorization) (*settlement.Receipt, error) {
			assert.Equal(t, settlement.ActionStake, a.Action)
			assert.Equal(t, common.HexToAddress(f.alice), a.Recipient)
			assert.Equal(t, "3000000000000000000", a.Amount.String())
			assert.Equal(t, sig, a.Signature)
			return &settlement.Receipt{TxHash: "0xstake", BlockNumber: 5}, nil
		})

	res, err := f.svc.Stake(context.Background(), StakeInput{User: f.alice, Peer: f.bob, Nonce: big.NewInt(4), Signature: sig})
	require.NoError(t, err)
	assert.Equal(t, "0xstake", res.Receipt.TxHash)
	require.NotNil(t, res.Session)
	assert.True(t, res.Session.HasDeposited(f.alice))
	assert.False(t, res.Session.HasDeposited(f.bob))
	assert.True(t, f.session(t).HasDeposited(f.alice))
}

func TestStake_RejectedBeforeRelay(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.EXPECT().Nonce(gomock.Any(), gomock.Any()).Return(big.NewInt(4), nil).AnyTimes()

	t.Run("stale nonce", func(t *testing.T) {
		_, err := f.svc.Stake(context.Background(), StakeInput{User: f.alice, Peer: f.bob, Nonce: big.NewInt(3), Signature: f.stakeSignature(t, 3)})
		assert.True(t, apperr.IsKind(err, apperr.KindAuthorizationRejected))
	})

	t.Run("signed over another nonce", func(t *testing.T) {
		_, err := f.svc.Stake(context.Background(), StakeInput{User: f.alice, Peer: f.bob, Signature: f.stakeSignature(t, 3)})
		assert.True(t, apperr.IsKind(err, apperr.KindAuthorizationRejected))
		assert.True(t, errors.Is(err, settlement.ErrSignerMismatch))
	})

	t.Run("malformed signature", func(t *testing.T) {
		_, err := f.svc.Stake(context.Background(), StakeInput{User: f.alice, Peer: f.bob, Signature: []byte{1, 2, 3}})
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
		assert.True(t, errors.Is(err, settlement.ErrBadSignature))
	})

	t.Run("same participant", func(t *testing.T) {
		_, err := f.svc.Stake(context.Background(), StakeInput{User: f.alice, Peer: f.alice, Signature: f.stakeSignature(t, 4)})
		assert.True(t, errors.Is(err, stake.ErrSameParticipant))
	})
}

func TestStake_EndedOrAlreadyDeposited(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, func(s *stake.Session) {
		_, _ = s.RecordDeposit(f.alice, t0)
	})

	_, err := f.svc.Stake(context.Background(), StakeInput{User: f.alice, Peer: f.bob, Signature: f.stakeSignature(t, 0)})
	assert.True(t, apperr.IsKind(err, apperr.KindStateConflict))

	f.seed(t, func(s *stake.Session) {
		_, _ = s.End(f.bob, t0)
	})
	_, err = f.svc.Stake(context.Background(), StakeInput{User: f.bob, Peer: f.alice, Signature: make([]byte, 65)})
	assert.True(t, errors.Is(err, stake.ErrSessionEnded))
}

func TestStake_LedgerFailureRecordsNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.EXPECT().Nonce(gomock.Any(), gomock.Any()).Return(big.NewInt(0), nil)
	f.ledger.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(nil, apperr.InsufficientFunds("ledger.Submit", errors.New("insufficient funds for gas")))

	_, err := f.svc.Stake(context.Background(), StakeInput{User: f.alice, Peer: f.bob, Signature: f.stakeSignature(t, 0)})
	assert.True(t, apperr.IsKind(err, apperr.KindInsufficientFunds))

	s, err := f.repo.GetByPair(context.Background(), f.pair)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestCompensate_PaysRoundStarter(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := notificationmocks.NewMockNotifier(ctrl)
	f := newFixture(t, notifier)
	f.timedOut(t)

	f.keys.EXPECT().AuthorizerKey(gomock.Any()).Return(f.authorizer, nil)
	f.ledger.EXPECT().Nonce(gomock.Any(), common.HexToAddress(f.alice)).Return(big.NewInt(9), nil)
	f.ledger.EXPECT().Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, a *settlement.Authorization) (*settlement.Receipt, error) {
			assert.Equal(t, settlement.ActionCompensate, a.Action)
			assert.Equal(t, int64(9), a.Nonce.Int64())
			assert.Equal(t, "5000000000000000000", a.Amount.String())
			ok, err := settlement.Verify(a, a.Signature, crypto.PubkeyToAddress(f.authorizer.PublicKey))
			require.NoError(t, err)
			assert.True(t, ok)
			return &settlement.Receipt{TxHash: "0xpay"}, nil
		})
	notifier.EXPECT().
		Notify(gomock.Any(), f.alice, notification.EventSettled, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ notification.Event, payload any) error {
			p, ok := payload.(notification.SettledPayload)
			require.True(t, ok)
			assert.Equal(t, "compensate", p.Action)
			assert.Equal(t, "0xpay", p.TxHash)
			return nil
		})

	res, err := f.svc.Compensate(context.Background(), f.alice, f.bob)
	require.NoError(t, err)
	assert.Equal(t, "0xpay", res.Receipt.TxHash)
	assert.True(t, res.Session.IsSettled(f.alice))
	assert.Equal(t, "0xpay", f.session(t).Settlements[f.alice])

	// a second claim is refused without touching the ledger
	_, err = f.svc.Compensate(context.Background(), f.alice, f.bob)
	assert.True(t, errors.Is(err, stake.ErrAlreadySettled))
}

func TestCompensate_NotEligible(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Compensate(context.Background(), f.alice, f.bob)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	f.timedOut(t)
	_, err = f.svc.Compensate(context.Background(), f.bob, f.alice)
	assert.True(t, apperr.IsKind(err, apperr.KindStateConflict))
	assert.True(t, errors.Is(err, stake.ErrNotEligible))

	_, err = f.svc.Refund(context.Background(), f.alice, f.bob)
	assert.True(t, errors.Is(err, stake.ErrNotEligible))
}

func TestRefund_VoluntaryEndPaysBoth(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, func(s *stake.Session) {
		_, _ = s.RecordDeposit(f.alice, t0)
		_, _ = s.RecordDeposit(f.bob, t0)
		_, _ = s.End(f.bob, t0)
	})

	f.keys.EXPECT().AuthorizerKey(gomock.Any()).Return(f.authorizer, nil).Times(2)
	f.ledger.EXPECT().Nonce(gomock.Any(), gomock.Any()).Return(big.NewInt(0), nil).Times(2)
	f.ledger.EXPECT().Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, a *settlement.Authorization) (*settlement.Receipt, error) {
			assert.Equal(t, settlement.ActionRefund, a.Action)
			return &settlement.Receipt{TxHash: "0x" + strings.ToLower(a.Recipient.Hex()[2:6])}, nil
		}).Times(2)

	_, err := f.svc.Refund(context.Background(), f.alice, f.bob)
	require.NoError(t, err)
	_, err = f.svc.Refund(context.Background(), f.bob, f.alice)
	require.NoError(t, err)

	s := f.session(t)
	assert.True(t, s.IsSettled(f.alice))
	assert.True(t, s.IsSettled(f.bob))
}

func TestRefund_ExpiredRefundTimer(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, func(s *stake.Session) {
		_, _ = s.RecordDeposit(f.alice, t0)
		_, _ = s.OnMessage(f.alice, t0)
		require.Equal(t, stake.TransitionRefundExpired, s.ExpireRefundTimer(t0.Add(2*time.Minute)))
	})

	_, err := f.svc.Refund(context.Background(), f.bob, f.alice)
	assert.True(t, errors.Is(err, stake.ErrNotEligible))

	f.keys.EXPECT().AuthorizerKey(gomock.Any()).Return(f.authorizer, nil)
	f.ledger.EXPECT().Nonce(gomock.Any(), gomock.Any()).Return(big.NewInt(2), nil)
	f.ledger.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&settlement.Receipt{TxHash: "0xrefund"}, nil)

	res, err := f.svc.Refund(context.Background(), f.alice, f.bob)
	require.NoError(t, err)
	assert.Equal(t, "0xrefund", res.Session.Settlements[f.alice])
}

func TestSignRefund_DoesNotSettle(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, func(s *stake.Session) {
		_, _ = s.RecordDeposit(f.alice, t0)
		_, _ = s.End(f.alice, t0)
	})
	f.keys.EXPECT().AuthorizerKey(gomock.Any()).Return(f.authorizer, nil)
	f.ledger.EXPECT().Nonce(gomock.Any(), gomock.Any()).Return(big.NewInt(6), nil)

	a, err := f.svc.SignRefund(context.Background(), f.alice, f.bob)
	require.NoError(t, err)
	assert.Equal(t, settlement.ActionRefund, a.Action)
	assert.Equal(t, contract, a.Contract)
	assert.Equal(t, chainID, a.ChainID)

	signer, err := settlement.RecoverSigner(a, a.Signature)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(f.authorizer.PublicKey), signer)
	s := f.session(t)
	assert.False(t, s.IsSettled(f.alice))
	pending, ok := s.PendingAuthorizationFor(f.alice)
	require.True(t, ok)
	assert.Equal(t, "6", pending.Nonce)
	assert.Equal(t, "refund", pending.Action)
}

func TestPayout_Failures(t *testing.T) {
	t.Run("authorizer key missing", func(t *testing.T) {
		f := newFixture(t, nil)
		f.timedOut(t)
		f.ledger.EXPECT().Nonce(gomock.Any(), gomock.Any()).Return(big.NewInt(0), nil)
		f.keys.EXPECT().AuthorizerKey(gomock.Any()).Return(nil, errors.New("key not configured"))

		_, err := f.svc.SignCompensation(context.Background(), f.alice, f.bob)
		assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
	})

	t.Run("ledger rejects", func(t *testing.T) {
		f := newFixture(t, nil)
		f.timedOut(t)
		f.ledger.EXPECT().Nonce(gomock.Any(), gomock.Any()).Return(big.NewInt(0), nil)
		f.keys.EXPECT().AuthorizerKey(gomock.Any()).Return(f.authorizer, nil)
		f.ledger.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(nil, apperr.AuthorizationRejected("ledger.Submit", errors.New("signature already used")))

		_, err := f.svc.Compensate(context.Background(), f.alice, f.bob)
		assert.True(t, apperr.IsKind(err, apperr.KindAuthorizationRejected))
		assert.False(t, f.session(t).IsSettled(f.alice))
	})

	t.Run("nonce read fails", func(t *testing.T) {
		f := newFixture(t, nil)
		f.timedOut(t)
		f.ledger.EXPECT().Nonce(gomock.Any(), gomock.Any()).
			Return(nil, apperr.ExternalService("ledger.Nonce", errors.New("connection refused")))

		_, err := f.svc.Compensate(context.Background(), f.alice, f.bob)
		assert.True(t, apperr.IsKind(err, apperr.KindExternalService))
	})
}

func TestSignCompensation_OneOutstandingAuthorization(t *testing.T) {
	f := newFixture(t, nil)
	f.timedOut(t)
	addr := common.HexToAddress(f.alice)

	f.keys.EXPECT().AuthorizerKey(gomock.Any()).Return(f.authorizer, nil).Times(2)
	gomock.InOrder(
		f.ledger.EXPECT().Nonce(gomock.Any(), addr).Return(big.NewInt(0), nil).Times(2),
		f.ledger.EXPECT().Nonce(gomock.Any(), addr).Return(big.NewInt(1), nil),
	)

	first, err := f.svc.SignCompensation(context.Background(), f.alice, f.bob)
	require.NoError(t, err)
	pending, ok := f.session(t).PendingAuthorizationFor(f.alice)
	require.True(t, ok)
	assert.Equal(t, "0", pending.Nonce)

	// not yet used on the ledger: the same nonce is handed out again
	again, err := f.svc.SignCompensation(context.Background(), f.alice, f.bob)
	require.NoError(t, err)
	assert.Equal(t, first.Nonce, again.Nonce)
	assert.Equal(t, first.Signature, again.Signature)

	// the ledger consumed nonce 0: the claim is closed
	_, err = f.svc.SignCompensation(context.Background(), f.alice, f.bob)
	assert.True(t, apperr.IsKind(err, apperr.KindStateConflict))
	assert.True(t, errors.Is(err, stake.ErrAlreadySettled))

	s := f.session(t)
	assert.Equal(t, stake.SelfSubmittedPrefix+"0", s.Settlements[f.alice])
	_, ok = s.PendingAuthorizationFor(f.alice)
	assert.False(t, ok)

	// relaying is refused too, without reading the ledger
	_, err = f.svc.Compensate(context.Background(), f.alice, f.bob)
	assert.True(t, errors.Is(err, stake.ErrAlreadySettled))
}

func TestCompensate_AfterSelfSubmittedAuthorization(t *testing.T) {
	f := newFixture(t, nil)
	f.timedOut(t)
	addr := common.HexToAddress(f.alice)

	f.keys.EXPECT().AuthorizerKey(gomock.Any()).Return(f.authorizer, nil)
	gomock.InOrder(
		f.ledger.EXPECT().Nonce(gomock.Any(), addr).Return(big.NewInt(3), nil),
		f.ledger.EXPECT().Nonce(gomock.Any(), addr).Return(big.NewInt(4), nil),
	)
	f.ledger.EXPECT().Submit(gomock.Any(), gomock.Any()).Times(0)

	_, err := f.svc.SignCompensation(context.Background(), f.alice, f.bob)
	require.NoError(t, err)

	_, err = f.svc.Compensate(context.Background(), f.alice, f.bob)
	assert.True(t, errors.Is(err, stake.ErrAlreadySettled))
	assert.True(t, f.session(t).IsSettled(f.alice))
}

func TestCompensate_RelaysUnusedAuthorizationNonce(t *testing.T) {
	f := newFixture(t, nil)
	f.timedOut(t)

	f.keys.EXPECT().AuthorizerKey(gomock.Any()).Return(f.authorizer, nil).Times(2)
	f.ledger.EXPECT().Nonce(gomock.Any(), gomock.Any()).Return(big.NewInt(7), nil).Times(2)
	f.ledger.EXPECT().Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, a *settlement.Authorization) (*settlement.Receipt, error) {
			assert.Equal(t, int64(7), a.Nonce.Int64())
			return &settlement.Receipt{TxHash: "0xrelayed"}, nil
		})

	_, err := f.svc.SignCompensation(context.Background(), f.alice, f.bob)
	require.NoError(t, err)

	res, err := f.svc.Compensate(context.Background(), f.alice, f.bob)
	require.NoError(t, err)
	assert.Equal(t, "0xrelayed", res.Session.Settlements[f.alice])
	_, ok := res.Session.PendingAuthorizationFor(f.alice)
	assert.False(t, ok)
}
