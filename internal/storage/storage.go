// Package storage defines how ledger state is persisted. The controller
// loads a State once at startup and afterwards commits one Changeset per
// successful call; a Store must apply a Changeset atomically.
package storage

import (
	"context"
	"errors"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/token_ledger/internal/events"
	"github.com/R3E-Network/token_ledger/internal/token"
)

// ErrNoState is returned by Load when nothing has been persisted yet and the
// caller must perform genesis.
var ErrNoState = errors.New("storage: no persisted ledger state")

// RecentEventLimit bounds how many events Load returns for warming caches.
const RecentEventLimit = 256

// Settings holds the singleton administrative slots.
type Settings struct {
	Owner        util.Uint160
	PendingOwner util.Uint160
	FeeAddress   util.Uint160
	FeeRateBps   uint16
	Paused       bool
}

// PairChange flips the registration flag of one account.
type PairChange struct {
	Account    util.Uint160
	Registered bool
}

// State is the full persisted ledger.
type State struct {
	Settings     Settings
	Pairs        []util.Uint160
	Balances     []token.Balance
	Allowances   []token.Allowance
	TotalSupply  *uint256.Int
	LastSequence uint64
	RecentEvents []events.Event
}

// Changeset is everything one call changed. Nil Settings means the settings
// row is untouched.
type Changeset struct {
	token.Changes
	Settings *Settings
	Pairs    []PairChange
	Events   []events.Event
}

// Empty reports whether committing the changeset would be a no-op.
func (c Changeset) Empty() bool {
	return c.Changes.Empty() && c.Settings == nil && len(c.Pairs) == 0 && len(c.Events) == 0
}

// Store persists ledger state.
type Store interface {
	// Load returns the persisted state or ErrNoState.
	Load(ctx context.Context) (*State, error)
	// Commit applies cs atomically.
	Commit(ctx context.Context, cs Changeset) error
	// Close releases resources held by the store.
	Close() error
}
