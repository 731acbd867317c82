package stake

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/OrsiniBr/DoTrust/internal/domain/apperr"
)

// Pair is an unordered pair of participants stored in canonical order (A < B).
type Pair struct {
	A string `json:"participantA"`
	B string `json:"participantB"`
}

// NormalizeIdentity lower-cases a wallet address and ensures the 0x prefix.
func NormalizeIdentity(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return "", apperr.Wrap(apperr.KindValidation, "stake.NormalizeIdentity", ErrInvalidIdentity)
	}
	if !strings.HasPrefix(id, "0x") {
		id = "0x" + id
	}
	if !common.IsHexAddress(id) {
		return "", apperr.Wrap(apperr.KindValidation, "stake.NormalizeIdentity", ErrInvalidIdentity)
	}
	return id, nil
}

// CanonicalPair builds the pair for two identities regardless of argument order.
// Every session lookup or creation goes through it.
func CanonicalPair(x, y string) (Pair, error) {
	a, err := NormalizeIdentity(x)
	if err != nil {
		return Pair{}, err
	}
	b, err := NormalizeIdentity(y)
	if err != nil {
		return Pair{}, err
	}
	if a == b {
		return Pair{}, apperr.Wrap(apperr.KindValidation, "stake.CanonicalPair", ErrSameParticipant)
	}
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}, nil
}

// Key is the lock and cache key of the pair.
func (p Pair) Key() string {
	return "stake:" + p.A + ":" + p.B
}

// Has reports whether id is one of the pair.
func (p Pair) Has(id string) bool {
	return id == p.A || id == p.B
}

// Other returns the counterpart of id, or "" when id is not in the pair.
func (p Pair) Other(id string) string {
	switch id {
	case p.A:
		return p.B
	case p.B:
		return p.A
	}
	return ""
}
