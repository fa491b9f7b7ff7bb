package httpapi

import (
	"context"
	"math"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/token_ledger/internal/errors"
	"github.com/R3E-Network/token_ledger/internal/httputil"
	"github.com/R3E-Network/token_ledger/internal/middleware"
	"github.com/R3E-Network/token_ledger/internal/token"
)

// Every admin route answers with the resulting token summary.

func (s *Server) respondInfo(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newTokenResponse(s.ledger.Info()))
}

// addressOp runs op with the caller and the decoded account raw.
func (s *Server) addressOp(w http.ResponseWriter, r *http.Request, raw string, op func(ctx context.Context, caller, addr util.Uint160) error) {
	caller, _ := middleware.Caller(r.Context())

	addr, err := token.ParseAccount(raw)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.respondInfo(w, r, op(r.Context(), caller, addr))
}

func (s *Server) handleSetFeeAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	s.addressOp(w, r, req.Address, s.ledger.SetFeeAddress)
}

func (s *Server) handleSetFeeRate(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.Caller(r.Context())

	var req feeRateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.RateBps == nil {
		httputil.WriteServiceError(w, r, errors.InvalidParameter("rate_bps is required"))
		return
	}
	if *req.RateBps < 0 || *req.RateBps > math.MaxUint16 {
		httputil.WriteServiceError(w, r, errors.InvalidParameter("rate_bps is out of range").WithDetails("rate_bps", *req.RateBps))
		return
	}

	s.respondInfo(w, r, s.ledger.SetBuySellFeePercentage(r.Context(), caller, uint16(*req.RateBps)))
}

func (s *Server) handleAddPair(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	s.addressOp(w, r, req.Address, s.ledger.AddLiquidityPair)
}

func (s *Server) handleRemovePair(w http.ResponseWriter, r *http.Request) {
	s.addressOp(w, r, mux.Vars(r)["address"], s.ledger.RemoveLiquidityPair)
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req ownershipRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	s.addressOp(w, r, req.NewOwner, s.ledger.TransferOwnership)
}

func (s *Server) handleConfirmOwnership(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.Caller(r.Context())
	s.respondInfo(w, r, s.ledger.ConfirmOwnershipTransfer(r.Context(), caller))
}

func (s *Server) handleCancelOwnership(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.Caller(r.Context())
	s.respondInfo(w, r, s.ledger.CancelOwnershipTransfer(r.Context(), caller))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.Caller(r.Context())
	s.respondInfo(w, r, s.ledger.Pause(r.Context(), caller))
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.Caller(r.Context())
	s.respondInfo(w, r, s.ledger.Unpause(r.Context(), caller))
}
