// Package token implements the balance bookkeeping primitives of a fungible
// token: balances, allowances and total supply. It has no notion of fees,
// ownership or pausing; those live in the controller that wraps it.
//
// Every mutation is recorded in an undo journal so the caller can take a
// snapshot, attempt a multi-leg operation, and revert the whole thing if any
// leg fails.
package token

import (
	"bytes"
	"sort"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/token_ledger/internal/errors"
)

// AllowanceKey identifies one (owner, spender) approval.
type AllowanceKey struct {
	Owner   util.Uint160
	Spender util.Uint160
}

// Allowance is a materialised approval.
type Allowance struct {
	Owner   util.Uint160
	Spender util.Uint160
	Amount  uint256.Int
}

// Balance is a materialised balance entry.
type Balance struct {
	Account util.Uint160
	Amount  uint256.Int
}

// Changes lists the current values of everything touched since the last
// Commit.
type Changes struct {
	Balances    []Balance
	Allowances  []Allowance
	TotalSupply *uint256.Int
}

// Empty reports whether nothing was touched.
func (c Changes) Empty() bool {
	return len(c.Balances) == 0 && len(c.Allowances) == 0 && c.TotalSupply == nil
}

type entryKind uint8

const (
	kindBalance entryKind = iota
	kindAllowance
	kindSupply
)

type journalEntry struct {
	kind    entryKind
	account util.Uint160
	key     AllowanceKey
	prev    uint256.Int
	existed bool
}

// Ledger holds balances, allowances and total supply. It is not safe for
// concurrent use; the owning controller serialises access.
type Ledger struct {
	balances   map[util.Uint160]uint256.Int
	allowances map[AllowanceKey]uint256.Int
	supply     uint256.Int
	journal    []journalEntry
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[util.Uint160]uint256.Int),
		allowances: make(map[AllowanceKey]uint256.Int),
	}
}

// Restore replaces the ledger contents with persisted state and clears the
// journal.
func (l *Ledger) Restore(balances []Balance, allowances []Allowance, supply *uint256.Int) {
	l.balances = make(map[util.Uint160]uint256.Int, len(balances))
	for _, b := range balances {
		l.balances[b.Account] = b.Amount
	}
	l.allowances = make(map[AllowanceKey]uint256.Int, len(allowances))
	for _, a := range allowances {
		l.allowances[AllowanceKey{Owner: a.Owner, Spender: a.Spender}] = a.Amount
	}
	l.supply.Clear()
	if supply != nil {
		l.supply.Set(supply)
	}
	l.journal = nil
}

// BalanceOf returns the balance of acct. Unknown accounts hold zero.
func (l *Ledger) BalanceOf(acct util.Uint160) *uint256.Int {
	v := l.balances[acct]
	return new(uint256.Int).Set(&v)
}

// TotalSupply returns the amount in circulation.
func (l *Ledger) TotalSupply() *uint256.Int {
	return new(uint256.Int).Set(&l.supply)
}

// Allowance returns what spender may still move on behalf of owner.
func (l *Ledger) Allowance(owner, spender util.Uint160) *uint256.Int {
	v := l.allowances[AllowanceKey{Owner: owner, Spender: spender}]
	return new(uint256.Int).Set(&v)
}

// Accounts returns every account with a balance entry, zero or not.
func (l *Ledger) Accounts() []util.Uint160 {
	out := make([]util.Uint160, 0, len(l.balances))
	for acct := range l.balances {
		out = append(out, acct)
	}
	sortAccounts(out)
	return out
}

// SumBalances adds up every balance entry.
func (l *Ledger) SumBalances() *uint256.Int {
	sum := new(uint256.Int)
	for _, v := range l.balances {
		sum.Add(sum, &v)
	}
	return sum
}

// Mint credits amount to acct and grows the supply.
func (l *Ledger) Mint(to util.Uint160, amount *uint256.Int) error {
	if IsNull(to) {
		return errors.InvalidAddress("to")
	}
	next, overflow := new(uint256.Int).AddOverflow(&l.supply, amount)
	if overflow {
		return errors.InvalidAmount("mint overflows total supply")
	}
	l.setSupply(next)
	l.credit(to, amount)
	return nil
}

// Burn debits amount from acct and shrinks the supply.
func (l *Ledger) Burn(from util.Uint160, amount *uint256.Int) error {
	if IsNull(from) {
		return errors.InvalidAddress("from")
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.setSupply(new(uint256.Int).Sub(&l.supply, amount))
	return nil
}

// Transfer moves amount from one account to another. Moving zero is a no-op.
func (l *Ledger) Transfer(from, to util.Uint160, amount *uint256.Int) error {
	if IsNull(from) {
		return errors.InvalidAddress("from")
	}
	if IsNull(to) {
		return errors.InvalidAddress("to")
	}
	if amount.IsZero() {
		return nil
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	return nil
}

// Approve sets the allowance of spender over owner's balance.
func (l *Ledger) Approve(owner, spender util.Uint160, amount *uint256.Int) error {
	if IsNull(owner) {
		return errors.InvalidAddress("owner")
	}
	if IsNull(spender) {
		return errors.InvalidAddress("spender")
	}
	l.setAllowance(AllowanceKey{Owner: owner, Spender: spender}, amount)
	return nil
}

// SpendAllowance consumes amount from the allowance of spender over owner.
// An infinite allowance is left untouched.
func (l *Ledger) SpendAllowance(owner, spender util.Uint160, amount *uint256.Int) error {
	key := AllowanceKey{Owner: owner, Spender: spender}
	current := l.allowances[key]
	if current.Eq(MaxAllowance) {
		return nil
	}
	if current.Lt(amount) {
		return errors.InsufficientAllowance(current.Dec(), amount.Dec())
	}
	l.setAllowance(key, new(uint256.Int).Sub(&current, amount))
	return nil
}

// TransferFrom spends amount of spender's allowance and moves it.
func (l *Ledger) TransferFrom(spender, from, to util.Uint160, amount *uint256.Int) error {
	snap := l.Snapshot()
	if err := l.SpendAllowance(from, spender, amount); err != nil {
		return err
	}
	if err := l.Transfer(from, to, amount); err != nil {
		l.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// Snapshot returns a marker for RevertToSnapshot.
func (l *Ledger) Snapshot() int {
	return len(l.journal)
}

// RevertToSnapshot undoes every mutation made after snap was taken.
func (l *Ledger) RevertToSnapshot(snap int) {
	for i := len(l.journal) - 1; i >= snap; i-- {
		e := l.journal[i]
		switch e.kind {
		case kindBalance:
			if e.existed {
				l.balances[e.account] = e.prev
			} else {
				delete(l.balances, e.account)
			}
		case kindAllowance:
			if e.existed {
				l.allowances[e.key] = e.prev
			} else {
				delete(l.allowances, e.key)
			}
		case kindSupply:
			l.supply = e.prev
		}
	}
	l.journal = l.journal[:snap]
}

// Pending returns the current values of everything touched since the last
// Commit, in a deterministic order.
func (l *Ledger) Pending() Changes {
	var (
		changes  Changes
		accounts = make(map[util.Uint160]struct{})
		keys     = make(map[AllowanceKey]struct{})
	)
	for _, e := range l.journal {
		switch e.kind {
		case kindBalance:
			accounts[e.account] = struct{}{}
		case kindAllowance:
			keys[e.key] = struct{}{}
		case kindSupply:
			changes.TotalSupply = new(uint256.Int).Set(&l.supply)
		}
	}

	touched := make([]util.Uint160, 0, len(accounts))
	for acct := range accounts {
		touched = append(touched, acct)
	}
	sortAccounts(touched)
	for _, acct := range touched {
		if v, ok := l.balances[acct]; ok {
			changes.Balances = append(changes.Balances, Balance{Account: acct, Amount: v})
		}
	}

	for key := range keys {
		if v, ok := l.allowances[key]; ok {
			changes.Allowances = append(changes.Allowances, Allowance{Owner: key.Owner, Spender: key.Spender, Amount: v})
		}
	}
	sort.Slice(changes.Allowances, func(i, j int) bool {
		a, b := changes.Allowances[i], changes.Allowances[j]
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Spender[:], b.Spender[:]) < 0
	})
	return changes
}

// Commit discards the journal, making every mutation since the last Commit
// permanent.
func (l *Ledger) Commit() {
	l.journal = l.journal[:0]
}

func (l *Ledger) debit(acct util.Uint160, amount *uint256.Int) error {
	current := l.balances[acct]
	if current.Lt(amount) {
		return errors.InsufficientBalance(current.Dec(), amount.Dec())
	}
	l.setBalance(acct, new(uint256.Int).Sub(&current, amount))
	return nil
}

// credit cannot overflow: every balance is bounded by the supply, which is
// itself checked on Mint.
func (l *Ledger) credit(acct util.Uint160, amount *uint256.Int) {
	current := l.balances[acct]
	l.setBalance(acct, new(uint256.Int).Add(&current, amount))
}

func (l *Ledger) setBalance(acct util.Uint160, v *uint256.Int) {
	prev, existed := l.balances[acct]
	l.journal = append(l.journal, journalEntry{kind: kindBalance, account: acct, prev: prev, existed: existed})
	l.balances[acct] = *v
}

func (l *Ledger) setAllowance(key AllowanceKey, v *uint256.Int) {
	prev, existed := l.allowances[key]
	l.journal = append(l.journal, journalEntry{kind: kindAllowance, key: key, prev: prev, existed: existed})
	l.allowances[key] = *v
}

func (l *Ledger) setSupply(v *uint256.Int) {
	l.journal = append(l.journal, journalEntry{kind: kindSupply, prev: l.supply})
	l.supply = *v
}

func sortAccounts(accts []util.Uint160) {
	sort.Slice(accts, func(i, j int) bool {
		return bytes.Compare(accts[i][:], accts[j][:]) < 0
	})
}
