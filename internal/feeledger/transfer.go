package feeledger

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/token_ledger/internal/errors"
	"github.com/R3E-Network/token_ledger/internal/events"
	"github.com/R3E-Network/token_ledger/internal/token"
)

func requirePositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return errors.InvalidAmount("amount must be greater than zero")
	}
	return nil
}

// Transfer moves amount from caller to to, applying the fee when either
// side is a registered pair.
func (l *Ledger) Transfer(ctx context.Context, caller, to util.Uint160, amount *uint256.Int) (Receipt, error) {
	var receipt Receipt
	err := l.execute(ctx, "transfer", caller, func(tx *txn) error {
		if err := l.pause.RequireActive(); err != nil {
			return err
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		if token.IsNull(caller) {
			return errors.InvalidAddress("from")
		}
		if token.IsNull(to) {
			return errors.InvalidAddress("to")
		}
		var err error
		receipt, err = l.move(tx, caller, to, amount)
		return err
	})
	return receipt, err
}

// TransferFrom moves amount from from to to on behalf of spender. The
// allowance is charged the full amount, fee included.
func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to util.Uint160, amount *uint256.Int) (Receipt, error) {
	var receipt Receipt
	err := l.execute(ctx, "transfer_from", spender, func(tx *txn) error {
		if err := l.pause.RequireActive(); err != nil {
			return err
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		if token.IsNull(from) {
			return errors.InvalidAddress("from")
		}
		if token.IsNull(to) {
			return errors.InvalidAddress("to")
		}
		if token.IsNull(spender) {
			return errors.InvalidAddress("spender")
		}
		if err := l.core.SpendAllowance(from, spender, amount); err != nil {
			return err
		}
		if !l.core.Allowance(from, spender).Eq(token.MaxAllowance) {
			tx.emit(events.NewEvent(events.EventApproval).
				Approval(token.FormatAccount(from), token.FormatAccount(spender)).
				Amount(l.core.Allowance(from, spender).Dec()))
		}
		var err error
		receipt, err = l.move(tx, from, to, amount)
		return err
	})
	return receipt, err
}

// Burn destroys amount of the owner's balance. It never applies a fee.
func (l *Ledger) Burn(ctx context.Context, caller util.Uint160, amount *uint256.Int) error {
	return l.execute(ctx, "burn", caller, func(tx *txn) error {
		if err := l.owner.RequireOwner(caller); err != nil {
			return err
		}
		if err := l.pause.RequireActive(); err != nil {
			return err
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		if err := l.core.Burn(caller, amount); err != nil {
			return err
		}
		tx.emit(events.NewEvent(events.EventBurn).
			Account(token.FormatAccount(caller)).
			Amount(amount.Dec()))
		tx.emit(events.NewEvent(events.EventTransfer).
			Route(token.FormatAccount(caller), "").
			Amount(amount.Dec()))
		return nil
	})
}

// Approve sets the allowance of spender over caller's balance. It is not
// gated by the pause switch.
func (l *Ledger) Approve(ctx context.Context, caller, spender util.Uint160, amount *uint256.Int) error {
	return l.execute(ctx, "approve", caller, func(tx *txn) error {
		if amount == nil {
			return errors.InvalidAmount("amount is required")
		}
		return l.approveLocked(tx, caller, spender, amount)
	})
}

// IncreaseAllowance adds delta to the allowance of spender.
func (l *Ledger) IncreaseAllowance(ctx context.Context, caller, spender util.Uint160, delta *uint256.Int) error {
	return l.execute(ctx, "increase_allowance", caller, func(tx *txn) error {
		if err := requirePositive(delta); err != nil {
			return err
		}
		next, overflow := new(uint256.Int).AddOverflow(l.core.Allowance(caller, spender), delta)
		if overflow {
			return errors.InvalidAmount("allowance would overflow")
		}
		return l.approveLocked(tx, caller, spender, next)
	})
}

// DecreaseAllowance subtracts delta from the allowance of spender.
func (l *Ledger) DecreaseAllowance(ctx context.Context, caller, spender util.Uint160, delta *uint256.Int) error {
	return l.execute(ctx, "decrease_allowance", caller, func(tx *txn) error {
		if err := requirePositive(delta); err != nil {
			return err
		}
		current := l.core.Allowance(caller, spender)
		if current.Lt(delta) {
			return errors.InsufficientAllowance(current.Dec(), delta.Dec())
		}
		return l.approveLocked(tx, caller, spender, new(uint256.Int).Sub(current, delta))
	})
}

func (l *Ledger) approveLocked(tx *txn, owner, spender util.Uint160, amount *uint256.Int) error {
	if err := l.core.Approve(owner, spender, amount); err != nil {
		return err
	}
	tx.emit(events.NewEvent(events.EventApproval).
		Approval(token.FormatAccount(owner), token.FormatAccount(spender)).
		Amount(amount.Dec()))
	return nil
}
