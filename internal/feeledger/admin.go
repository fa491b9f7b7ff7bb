package feeledger

import (
	"context"
	"strconv"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/token_ledger/internal/errors"
	"github.com/R3E-Network/token_ledger/internal/events"
	"github.com/R3E-Network/token_ledger/internal/ownership"
	"github.com/R3E-Network/token_ledger/internal/storage"
	"github.com/R3E-Network/token_ledger/internal/token"
)

// admin runs an owner-only call that changes the settings row.
func (l *Ledger) admin(ctx context.Context, op string, caller util.Uint160, fn func(tx *txn) error) error {
	return l.execute(ctx, op, caller, func(tx *txn) error {
		if err := l.owner.RequireOwner(caller); err != nil {
			return err
		}
		tx.admin = true
		return fn(tx)
	})
}

// SetFeeAddress points the fee sink at addr.
func (l *Ledger) SetFeeAddress(ctx context.Context, caller, addr util.Uint160) error {
	return l.admin(ctx, "set_fee_address", caller, func(tx *txn) error {
		if token.IsNull(addr) {
			return errors.InvalidAddress("fee_address")
		}
		prev := l.feeAddress
		l.feeAddress = addr
		tx.onRevert(func() { l.feeAddress = prev })
		tx.settings = true
		tx.emit(events.NewEvent(events.EventFeeAddressUpdated).
			Change(token.FormatAccount(prev), token.FormatAccount(addr)))
		return nil
	})
}

// SetBuySellFeePercentage sets the fee rate in basis points.
func (l *Ledger) SetBuySellFeePercentage(ctx context.Context, caller util.Uint160, bps uint16) error {
	return l.admin(ctx, "set_fee_rate", caller, func(tx *txn) error {
		if err := ValidateFeeRate(bps); err != nil {
			return err
		}
		prev := l.feeRate
		l.feeRate = bps
		tx.onRevert(func() { l.feeRate = prev })
		tx.settings = true
		tx.emit(events.NewEvent(events.EventFeeUpdated).
			Change(strconv.Itoa(int(prev)), strconv.Itoa(int(bps))).
			Rate(bps))
		return nil
	})
}

// AddLiquidityPair registers addr. Re-adding a pair is accepted and emits
// the notification again. Pairs cannot be registered while the fee sink is
// unset.
func (l *Ledger) AddLiquidityPair(ctx context.Context, caller, addr util.Uint160) error {
	return l.admin(ctx, "add_liquidity_pair", caller, func(tx *txn) error {
		if token.IsNull(addr) {
			return errors.InvalidAddress("pair")
		}
		if token.IsNull(l.feeAddress) {
			return errors.InvalidConfiguration("fee address must be set before liquidity pairs are registered")
		}
		if l.pairs.Add(addr) {
			tx.onRevert(func() { l.pairs.Remove(addr) })
		}
		tx.pairs = append(tx.pairs, storage.PairChange{Account: addr, Registered: true})
		tx.emit(events.NewEvent(events.EventPairAdded).Account(token.FormatAccount(addr)))
		return nil
	})
}

// RemoveLiquidityPair unregisters addr. Removing an unknown pair is
// accepted.
func (l *Ledger) RemoveLiquidityPair(ctx context.Context, caller, addr util.Uint160) error {
	return l.admin(ctx, "remove_liquidity_pair", caller, func(tx *txn) error {
		if token.IsNull(addr) {
			return errors.InvalidAddress("pair")
		}
		if l.pairs.Remove(addr) {
			tx.onRevert(func() { l.pairs.Add(addr) })
		}
		tx.pairs = append(tx.pairs, storage.PairChange{Account: addr, Registered: false})
		tx.emit(events.NewEvent(events.EventPairRemoved).Account(token.FormatAccount(addr)))
		return nil
	})
}

// TransferOwnership nominates newOwner. Ownership moves only when
// newOwner confirms.
func (l *Ledger) TransferOwnership(ctx context.Context, caller, newOwner util.Uint160) error {
	return l.execute(ctx, "transfer_ownership", caller, func(tx *txn) error {
		h, err := l.changeOwnership(tx, func() (ownership.Handoff, error) {
			return l.owner.TransferOwnership(caller, newOwner)
		})
		if err != nil {
			return err
		}
		tx.emit(events.NewEvent(events.EventOwnershipTransferStarted).
			Change(token.FormatAccount(h.Previous), token.FormatAccount(h.Current)))
		return nil
	})
}

// ConfirmOwnershipTransfer completes a pending handoff. Only the nominated
// owner may call it.
func (l *Ledger) ConfirmOwnershipTransfer(ctx context.Context, caller util.Uint160) error {
	return l.execute(ctx, "confirm_ownership_transfer", caller, func(tx *txn) error {
		h, err := l.changeOwnership(tx, func() (ownership.Handoff, error) {
			return l.owner.ConfirmOwnershipTransfer(caller)
		})
		if err != nil {
			return err
		}
		tx.emit(events.NewEvent(events.EventOwnershipTransferred).
			Change(token.FormatAccount(h.Previous), token.FormatAccount(h.Current)))
		return nil
	})
}

// CancelOwnershipTransfer withdraws a pending nomination.
func (l *Ledger) CancelOwnershipTransfer(ctx context.Context, caller util.Uint160) error {
	return l.execute(ctx, "cancel_ownership_transfer", caller, func(tx *txn) error {
		h, err := l.changeOwnership(tx, func() (ownership.Handoff, error) {
			return l.owner.CancelOwnershipTransfer(caller)
		})
		if err != nil {
			return err
		}
		tx.emit(events.NewEvent(events.EventOwnershipTransferCanceled).
			Change(token.FormatAccount(h.Previous), token.FormatAccount(h.Current)))
		return nil
	})
}

func (l *Ledger) changeOwnership(tx *txn, fn func() (ownership.Handoff, error)) (ownership.Handoff, error) {
	prev := l.owner.State()
	h, err := fn()
	if err != nil {
		return h, err
	}
	tx.onRevert(func() { l.owner.Restore(prev) })
	tx.settings = true
	tx.admin = true
	return h, nil
}

// Pause halts the transfer family. Pausing twice is a no-op.
func (l *Ledger) Pause(ctx context.Context, caller util.Uint160) error {
	return l.setPaused(ctx, "pause", caller, true, events.EventPaused)
}

// Unpause resumes the transfer family. Unpausing twice is a no-op.
func (l *Ledger) Unpause(ctx context.Context, caller util.Uint160) error {
	return l.setPaused(ctx, "unpause", caller, false, events.EventUnpaused)
}

func (l *Ledger) setPaused(ctx context.Context, op string, caller util.Uint160, paused bool, typ events.EventType) error {
	return l.admin(ctx, op, caller, func(tx *txn) error {
		if !l.pause.Set(paused) {
			return nil
		}
		tx.onRevert(func() { l.pause.Set(!paused) })
		tx.settings = true
		tx.emit(events.NewEvent(typ).Account(token.FormatAccount(caller)))
		return nil
	})
}
