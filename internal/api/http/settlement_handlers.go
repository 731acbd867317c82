package httpapi

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	appSettlement "github.com/OrsiniBr/DoTrust/internal/application/settlement"
	"github.com/OrsiniBr/DoTrust/internal/domain/settlement"
)

type stakeRequest struct {
	Peer      string `json:"peer"`
	Nonce     string `json:"nonce,omitempty"`
	Signature string `json:"signature"`
}

// authorizationResponse renders big integers as decimal strings and the
// signature as 0x hex.
type authorizationResponse struct {
	Action    settlement.Action `json:"action"`
	Recipient string            `json:"recipient"`
	Nonce     string            `json:"nonce"`
	Amount    string            `json:"amount"`
	Contract  string            `json:"contract"`
	ChainID   string            `json:"chainId"`
	Signature string            `json:"signature"`
}

func toAuthorizationResponse(a *settlement.Authorization) authorizationResponse {
	return authorizationResponse{
		Action:    a.Action,
		Recipient: a.Recipient.Hex(),
		Nonce:     a.Nonce.String(),
		Amount:    a.Amount.String(),
		Contract:  a.Contract.Hex(),
		ChainID:   a.ChainID.String(),
		Signature: hexutil.Encode(a.Signature),
	}
}

func (s *Server) getNonce(w http.ResponseWriter, r *http.Request) {
	if !s.settlementEnabled(w) {
		return
	}
	address := chi.URLParam(r, "address")
	nonce, err := s.settlementSvc.Nonce(r.Context(), address)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"address": address,
		"nonce":   nonce.String(),
	})
}

func (s *Server) stake(w http.ResponseWriter, r *http.Request) {
	if !s.settlementEnabled(w) {
		return
	}
	var req stakeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Peer == "" || req.Signature == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "peer and signature are required")
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "signature must be 0x-prefixed hex")
		return
	}
	in := appSettlement.StakeInput{
		User:      participantFromContext(r.Context()),
		Peer:      req.Peer,
		Signature: sig,
	}
	if req.Nonce != "" {
		n, ok := new(big.Int).SetString(req.Nonce, 10)
		if !ok || n.Sign() < 0 {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "nonce must be a non-negative decimal integer")
			return
		}
		in.Nonce = n
	}

	res, err := s.settlementSvc.Stake(r.Context(), in)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) compensate(w http.ResponseWriter, r *http.Request) {
	if !s.settlementEnabled(w) {
		return
	}
	res, err := s.settlementSvc.Compensate(r.Context(), participantFromContext(r.Context()), peerParam(r))
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request) {
	if !s.settlementEnabled(w) {
		return
	}
	res, err := s.settlementSvc.Refund(r.Context(), participantFromContext(r.Context()), peerParam(r))
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) signCompensate(w http.ResponseWriter, r *http.Request) {
	if !s.settlementEnabled(w) {
		return
	}
	a, err := s.settlementSvc.SignCompensation(r.Context(), participantFromContext(r.Context()), peerParam(r))
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toAuthorizationResponse(a))
}

func (s *Server) signRefund(w http.ResponseWriter, r *http.Request) {
	if !s.settlementEnabled(w) {
		return
	}
	a, err := s.settlementSvc.SignRefund(r.Context(), participantFromContext(r.Context()), peerParam(r))
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toAuthorizationResponse(a))
}
