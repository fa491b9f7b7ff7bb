package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/token_ledger/internal/events"
	"github.com/R3E-Network/token_ledger/internal/storage"
	"github.com/R3E-Network/token_ledger/internal/token"
)

// Store is an in-memory implementation of storage.Store. It is safe for
// concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu          sync.RWMutex
	initialized bool
	settings    storage.Settings
	supply      uint256.Int
	balances    map[util.Uint160]uint256.Int
	allowances  map[token.AllowanceKey]uint256.Int
	pairs       map[util.Uint160]struct{}
	events      []events.Event
	commits     int
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		balances:   make(map[util.Uint160]uint256.Int),
		allowances: make(map[token.AllowanceKey]uint256.Int),
		pairs:      make(map[util.Uint160]struct{}),
	}
}

// Load implements storage.Store.
func (s *Store) Load(_ context.Context) (*storage.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, storage.ErrNoState
	}

	state := &storage.State{
		Settings:    s.settings,
		TotalSupply: new(uint256.Int).Set(&s.supply),
	}
	for acct := range s.pairs {
		state.Pairs = append(state.Pairs, acct)
	}
	sort.Slice(state.Pairs, func(i, j int) bool {
		return bytes.Compare(state.Pairs[i][:], state.Pairs[j][:]) < 0
	})
	for acct, v := range s.balances {
		state.Balances = append(state.Balances, token.Balance{Account: acct, Amount: v})
	}
	for key, v := range s.allowances {
		state.Allowances = append(state.Allowances, token.Allowance{Owner: key.Owner, Spender: key.Spender, Amount: v})
	}
	if n := len(s.events); n > 0 {
		state.LastSequence = s.events[n-1].Sequence
		start := n - storage.RecentEventLimit
		if start < 0 {
			start = 0
		}
		state.RecentEvents = append([]events.Event(nil), s.events[start:]...)
	}
	return state, nil
}

// Commit implements storage.Store.
func (s *Store) Commit(_ context.Context, cs storage.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cs.Settings != nil {
		s.settings = *cs.Settings
		s.initialized = true
	}
	if cs.TotalSupply != nil {
		s.supply.Set(cs.TotalSupply)
	}
	for _, b := range cs.Balances {
		s.balances[b.Account] = b.Amount
	}
	for _, a := range cs.Allowances {
		s.allowances[token.AllowanceKey{Owner: a.Owner, Spender: a.Spender}] = a.Amount
	}
	for _, p := range cs.Pairs {
		if p.Registered {
			s.pairs[p.Account] = struct{}{}
		} else {
			delete(s.pairs, p.Account)
		}
	}
	s.events = append(s.events, cs.Events...)
	s.commits++
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return nil
}

// Events returns every committed event in commit order.
func (s *Store) Events() []events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]events.Event(nil), s.events...)
}

// Commits returns how many changesets were applied.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}
