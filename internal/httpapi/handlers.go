package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/token_ledger/internal/errors"
	"github.com/R3E-Network/token_ledger/internal/events"
	"github.com/R3E-Network/token_ledger/internal/httputil"
	"github.com/R3E-Network/token_ledger/internal/middleware"
	"github.com/R3E-Network/token_ledger/internal/token"
)

// =============================================================================
// Reads
// =============================================================================

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, newTokenResponse(s.ledger.Info()))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := token.ParseAccount(mux.Vars(r)["address"])
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, balanceResponse{
		Address: token.FormatAccount(acct),
		Balance: token.FormatAmount(s.ledger.BalanceOf(acct)),
	})
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner, err := token.ParseAccount(vars["owner"])
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	spender, err := token.ParseAccount(vars["spender"])
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, allowanceResponse{
		Owner:     token.FormatAccount(owner),
		Spender:   token.FormatAccount(spender),
		Allowance: token.FormatAmount(s.ledger.Allowance(owner, spender)),
	})
}

func (s *Server) handleListPairs(w http.ResponseWriter, r *http.Request) {
	pairs := s.ledger.LiquidityPairs()
	resp := pairsResponse{Pairs: make([]string, 0, len(pairs))}
	for _, p := range pairs {
		resp.Pairs = append(resp.Pairs, token.FormatAccount(p))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIsPair(w http.ResponseWriter, r *http.Request) {
	acct, err := token.ParseAccount(mux.Vars(r)["address"])
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pairResponse{
		Address:         token.FormatAccount(acct),
		IsLiquidityPair: s.ledger.IsLiquidityPair(acct),
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := token.ParseAccount(q.Get("from"))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	to, err := token.ParseAccount(q.Get("to"))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	amount, err := token.ParseAmount(q.Get("amount"))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newReceiptResponse(s.ledger.QuoteFee(from, to, amount)))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultEventLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxEventLimit {
			httputil.WriteServiceError(w, r, errors.InvalidParameter("limit must be between 1 and "+strconv.Itoa(maxEventLimit)).
				WithDetails("limit", raw))
			return
		}
		limit = n
	}

	types, ok := s.parseEventTypes(w, r)
	if !ok {
		return
	}

	list := s.ledger.RecentEvents(limit, types...)
	if list == nil {
		list = []events.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, eventsResponse{Events: list, Count: len(list)})
}

// parseEventTypes reads the repeated "type" query parameter.
func (s *Server) parseEventTypes(w http.ResponseWriter, r *http.Request) ([]events.EventType, bool) {
	var types []events.EventType
	for _, raw := range r.URL.Query()["type"] {
		t, ok := events.ParseEventType(raw)
		if !ok {
			httputil.WriteServiceError(w, r, errors.InvalidParameter("unknown event type").WithDetails("type", raw))
			return nil, false
		}
		types = append(types, t)
	}
	return types, true
}

// =============================================================================
// Caller operations
// =============================================================================

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.Caller(r.Context())

	var req transferRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	to, amount, ok := parseRoute(w, r, req.To, req.Amount)
	if !ok {
		return
	}

	receipt, err := s.ledger.Transfer(r.Context(), caller, to, amount)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

func (s *Server) handleTransferFrom(w http.ResponseWriter, r *http.Request) {
	spender, _ := middleware.Caller(r.Context())

	var req transferFromRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	from, err := token.ParseAccount(req.From)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	to, amount, ok := parseRoute(w, r, req.To, req.Amount)
	if !ok {
		return
	}

	receipt, err := s.ledger.TransferFrom(r.Context(), spender, from, to, amount)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.allowanceChange(w, r, s.ledger.Approve)
}

func (s *Server) handleIncreaseAllowance(w http.ResponseWriter, r *http.Request) {
	s.allowanceChange(w, r, s.ledger.IncreaseAllowance)
}

func (s *Server) handleDecreaseAllowance(w http.ResponseWriter, r *http.Request) {
	s.allowanceChange(w, r, s.ledger.DecreaseAllowance)
}

type allowanceOp func(ctx context.Context, caller, spender util.Uint160, amount *uint256.Int) error

func (s *Server) allowanceChange(w http.ResponseWriter, r *http.Request, op allowanceOp) {
	caller, _ := middleware.Caller(r.Context())

	var req allowanceRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	spender, amount, ok := parseRoute(w, r, req.Spender, req.Amount)
	if !ok {
		return
	}

	if err := op(r.Context(), caller, spender, amount); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, allowanceResponse{
		Owner:     token.FormatAccount(caller),
		Spender:   token.FormatAccount(spender),
		Allowance: token.FormatAmount(s.ledger.Allowance(caller, spender)),
	})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.Caller(r.Context())

	var req burnRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	amount, err := token.ParseAmount(req.Amount)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	if err := s.ledger.Burn(r.Context(), caller, amount); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, balanceResponse{
		Address: token.FormatAccount(caller),
		Balance: token.FormatAmount(s.ledger.BalanceOf(caller)),
	})
}

// parseRoute decodes a counterparty address and an amount.
func parseRoute(w http.ResponseWriter, r *http.Request, addr, rawAmount string) (util.Uint160, *uint256.Int, bool) {
	acct, err := token.ParseAccount(addr)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return token.Null, nil, false
	}
	amount, err := token.ParseAmount(rawAmount)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return token.Null, nil, false
	}
	return acct, amount, true
}
