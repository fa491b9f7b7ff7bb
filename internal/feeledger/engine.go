package feeledger

import (
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/token_ledger/internal/errors"
	"github.com/R3E-Network/token_ledger/internal/events"
	"github.com/R3E-Network/token_ledger/internal/token"
)

// Receipt describes how a transfer of Amount from From to To is split.
// Fee is zero unless FeeApplied.
type Receipt struct {
	From       util.Uint160
	To         util.Uint160
	Amount     *uint256.Int
	Fee        *uint256.Int
	Net        *uint256.Int
	RateBps    uint16
	FeeApplied bool
}

// QuoteFee previews the split of a transfer without touching state.
func (l *Ledger) QuoteFee(from, to util.Uint160, amount *uint256.Int) Receipt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.quoteLocked(from, to, amount)
}

// quoteLocked applies the fee iff either side of the transfer is a
// registered pair.
func (l *Ledger) quoteLocked(from, to util.Uint160, amount *uint256.Int) Receipt {
	r := Receipt{
		From:    from,
		To:      to,
		Amount:  new(uint256.Int).Set(amount),
		Fee:     new(uint256.Int),
		Net:     new(uint256.Int).Set(amount),
		RateBps: l.feeRate,
	}
	if !l.pairs.Contains(from) && !l.pairs.Contains(to) {
		return r
	}
	r.FeeApplied = true
	r.Fee, r.Net = ComputeFee(amount, l.feeRate)
	return r
}

// move routes amount from sender to recipient. When a fee applies, the fee
// leg to the sink is booked before the net leg.
func (l *Ledger) move(tx *txn, from, to util.Uint160, amount *uint256.Int) (Receipt, error) {
	r := l.quoteLocked(from, to, amount)

	if balance := l.core.BalanceOf(from); balance.Lt(amount) {
		return r, errors.InsufficientBalance(balance.Dec(), amount.Dec())
	}

	if r.FeeApplied {
		if token.IsNull(l.feeAddress) {
			return r, errors.InvalidConfiguration("fee address is not set")
		}
		if !r.Fee.IsZero() {
			if err := l.core.Transfer(from, l.feeAddress, r.Fee); err != nil {
				return r, err
			}
			tx.emit(events.NewEvent(events.EventTransfer).
				Route(token.FormatAccount(from), token.FormatAccount(l.feeAddress)).
				Amount(r.Fee.Dec()))
			// The recipient is the original one, not the sink.
			tx.emit(events.NewEvent(events.EventFeeCollected).
				Route(token.FormatAccount(from), token.FormatAccount(to)).
				Amount(r.Amount.Dec()).
				Fee(r.Fee.Dec(), r.Net.Dec()).
				Rate(r.RateBps))
		}
	}

	if err := l.core.Transfer(from, to, r.Net); err != nil {
		return r, err
	}
	tx.emit(events.NewEvent(events.EventTransfer).
		Route(token.FormatAccount(from), token.FormatAccount(to)).
		Amount(r.Net.Dec()))
	tx.transfers = append(tx.transfers, r.FeeApplied && !r.Fee.IsZero())
	return r, nil
}
