package httpapi

import (
	"github.com/R3E-Network/token_ledger/internal/events"
	"github.com/R3E-Network/token_ledger/internal/feeledger"
	"github.com/R3E-Network/token_ledger/internal/token"
)

// =============================================================================
// Requests
// =============================================================================

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type transferFromRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type allowanceRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type burnRequest struct {
	Amount string `json:"amount"`
}

type addressRequest struct {
	Address string `json:"address"`
}

type feeRateRequest struct {
	RateBps *int `json:"rate_bps"`
}

type ownershipRequest struct {
	NewOwner string `json:"new_owner"`
}

// =============================================================================
// Responses
// =============================================================================

type tokenResponse struct {
	Name           string `json:"name"`
	Symbol         string `json:"symbol"`
	Decimals       int    `json:"decimals"`
	TotalSupply    string `json:"total_supply"`
	Owner          string `json:"owner"`
	PendingOwner   string `json:"pending_owner,omitempty"`
	Paused         bool   `json:"paused"`
	FeeRateBps     uint16 `json:"fee_rate_bps"`
	FeeAddress     string `json:"fee_address,omitempty"`
	LiquidityPairs int    `json:"liquidity_pairs"`
}

func newTokenResponse(info feeledger.Info) tokenResponse {
	return tokenResponse{
		Name:           info.Name,
		Symbol:         info.Symbol,
		Decimals:       info.Decimals,
		TotalSupply:    token.FormatAmount(info.TotalSupply),
		Owner:          token.FormatAccount(info.Owner),
		PendingOwner:   token.FormatAccount(info.PendingOwner),
		Paused:         info.Paused,
		FeeRateBps:     info.FeeRateBps,
		FeeAddress:     token.FormatAccount(info.FeeAddress),
		LiquidityPairs: info.Pairs,
	}
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type allowanceResponse struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

type pairsResponse struct {
	Pairs []string `json:"pairs"`
}

type pairResponse struct {
	Address         string `json:"address"`
	IsLiquidityPair bool   `json:"is_liquidity_pair"`
}

type receiptResponse struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Amount     string `json:"amount"`
	Fee        string `json:"fee"`
	Net        string `json:"net"`
	RateBps    uint16 `json:"rate_bps"`
	FeeApplied bool   `json:"fee_applied"`
}

func newReceiptResponse(rc feeledger.Receipt) receiptResponse {
	return receiptResponse{
		From:       token.FormatAccount(rc.From),
		To:         token.FormatAccount(rc.To),
		Amount:     token.FormatAmount(rc.Amount),
		Fee:        token.FormatAmount(rc.Fee),
		Net:        token.FormatAmount(rc.Net),
		RateBps:    rc.RateBps,
		FeeApplied: rc.FeeApplied,
	}
}

type eventsResponse struct {
	Events []events.Event `json:"events"`
	Count  int            `json:"count"`
}
