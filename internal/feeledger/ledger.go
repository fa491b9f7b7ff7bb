// Package feeledger is the ledger controller. It wraps the token balance
// bookkeeping with two-step ownership, a pause switch, a liquidity-pair
// registry and a basis-point fee policy, and applies the fee on every
// transfer that touches a registered pair.
//
// All mutating calls run one at a time under a single writer lock. A call
// either commits every balance, setting and event it produced to the Store
// in one transaction, or fails and leaves no trace in memory or on disk.
package feeledger

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/token_ledger/internal/errors"
	"github.com/R3E-Network/token_ledger/internal/events"
	"github.com/R3E-Network/token_ledger/internal/logging"
	"github.com/R3E-Network/token_ledger/internal/metrics"
	"github.com/R3E-Network/token_ledger/internal/ownership"
	"github.com/R3E-Network/token_ledger/internal/storage"
	"github.com/R3E-Network/token_ledger/internal/token"
)

const (
	DefaultName            = "Pay It Forward"
	DefaultSymbol          = "PIF"
	DefaultEventBufferSize = 1024
)

// Core is the balance bookkeeping the controller decorates.
type Core interface {
	BalanceOf(acct util.Uint160) *uint256.Int
	TotalSupply() *uint256.Int
	Allowance(owner, spender util.Uint160) *uint256.Int
	Mint(to util.Uint160, amount *uint256.Int) error
	Burn(from util.Uint160, amount *uint256.Int) error
	Transfer(from, to util.Uint160, amount *uint256.Int) error
	Approve(owner, spender util.Uint160, amount *uint256.Int) error
	SpendAllowance(owner, spender util.Uint160, amount *uint256.Int) error
	Restore(balances []token.Balance, allowances []token.Allowance, supply *uint256.Int)
	Snapshot() int
	RevertToSnapshot(snap int)
	Pending() token.Changes
	Commit()
}

var _ Core = (*token.Ledger)(nil)

// Config describes the ledger created at genesis. It is ignored when the
// store already holds state.
type Config struct {
	Name       string
	Symbol     string
	Deployer   util.Uint160
	FeeRateBps uint16
	FeeAddress util.Uint160
	Pairs      []util.Uint160
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithCore replaces the default token.Ledger bookkeeping.
func WithCore(core Core) Option {
	return func(l *Ledger) { l.core = core }
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithEventBuffer sets the ring buffer backing RecentEvents and Subscribe.
func WithEventBuffer(rb *events.RingBuffer) Option {
	return func(l *Ledger) { l.feed = rb }
}

// WithPublisher mirrors every committed event to p.
func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) { l.sinks = append(l.sinks, p) }
}

// Ledger is the fee-applying token ledger.
type Ledger struct {
	mu sync.RWMutex

	name   string
	symbol string

	core       Core
	owner      *ownership.Ownable
	pause      PauseSwitch
	pairs      *PairRegistry
	feeRate    uint16
	feeAddress util.Uint160
	sequence   uint64

	store storage.Store
	feed  *events.RingBuffer
	sinks []events.Publisher
	log   *logging.Logger
}

// New loads the ledger from store, performing genesis from cfg when the
// store is empty.
func New(ctx context.Context, cfg Config, store storage.Store, opts ...Option) (*Ledger, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Symbol == "" {
		cfg.Symbol = DefaultSymbol
	}
	if cfg.FeeRateBps == 0 {
		cfg.FeeRateBps = DefaultFeeRateBps
	}

	l := &Ledger{
		name:   cfg.Name,
		symbol: cfg.Symbol,
		core:   token.NewLedger(),
		owner:  ownership.New(token.Null),
		pairs:  NewPairRegistry(),
		store:  store,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.feed == nil {
		l.feed = events.NewRingBuffer(DefaultEventBufferSize)
	}
	if l.log == nil {
		l.log = logging.Default("feeledger")
	}

	state, err := store.Load(ctx)
	switch {
	case stderrors.Is(err, storage.ErrNoState):
		if err := l.genesis(ctx, cfg); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, errors.Internal("failed to load ledger state", err)
	default:
		l.restore(state)
	}

	metrics.SetLedgerState(l.pause.Paused(), l.feeRate, l.pairs.Len())
	return l, nil
}

func (l *Ledger) genesis(ctx context.Context, cfg Config) error {
	if token.IsNull(cfg.Deployer) {
		return errors.InvalidConfiguration("deployer address is required")
	}
	if err := ValidateFeeRate(cfg.FeeRateBps); err != nil {
		return err
	}
	if len(cfg.Pairs) > 0 && token.IsNull(cfg.FeeAddress) {
		return errors.InvalidConfiguration("fee address must be set before liquidity pairs are registered")
	}

	err := l.execute(ctx, "genesis", cfg.Deployer, func(tx *txn) error {
		supply := token.InitialSupply()
		if err := l.core.Mint(cfg.Deployer, supply); err != nil {
			return err
		}
		tx.emit(events.NewEvent(events.EventTransfer).
			Route("", token.FormatAccount(cfg.Deployer)).
			Amount(supply.Dec()))

		l.owner.Restore(ownership.State{Owner: cfg.Deployer})
		tx.emit(events.NewEvent(events.EventOwnershipTransferred).
			Change("", token.FormatAccount(cfg.Deployer)))

		l.feeRate = cfg.FeeRateBps
		l.feeAddress = cfg.FeeAddress
		for _, p := range cfg.Pairs {
			if token.IsNull(p) {
				return errors.InvalidAddress("pair")
			}
			l.pairs.Add(p)
			tx.pairs = append(tx.pairs, storage.PairChange{Account: p, Registered: true})
			tx.emit(events.NewEvent(events.EventPairAdded).Account(token.FormatAccount(p)))
		}
		tx.settings = true
		return nil
	})
	if err != nil {
		return err
	}

	l.log.WithFields(map[string]interface{}{
		"deployer":     token.FormatAccount(cfg.Deployer),
		"total_supply": l.core.TotalSupply().Dec(),
		"fee_rate_bps": cfg.FeeRateBps,
		"pairs":        len(cfg.Pairs),
	}).Info("ledger genesis committed")
	return nil
}

func (l *Ledger) restore(state *storage.State) {
	l.core.Restore(state.Balances, state.Allowances, state.TotalSupply)
	l.owner.Restore(ownership.State{Owner: state.Settings.Owner, PendingOwner: state.Settings.PendingOwner})
	l.pause.Set(state.Settings.Paused)
	l.pairs = NewPairRegistry(state.Pairs...)
	l.feeRate = state.Settings.FeeRateBps
	l.feeAddress = state.Settings.FeeAddress
	l.sequence = state.LastSequence
	for _, e := range state.RecentEvents {
		l.feed.Publish(e)
	}

	l.log.WithFields(map[string]interface{}{
		"owner":         token.FormatAccount(state.Settings.Owner),
		"total_supply":  l.core.TotalSupply().Dec(),
		"accounts":      len(state.Balances),
		"last_sequence": state.LastSequence,
	}).Info("ledger state restored")
}

// txn collects what one call changed beyond the token journal.
type txn struct {
	ctx       context.Context
	caller    util.Uint160
	settings  bool
	admin     bool
	pairs     []storage.PairChange
	events    []events.Event
	transfers []bool
	undo      []func()
}

func (t *txn) emit(b *events.EventBuilder) {
	if !token.IsNull(t.caller) {
		b.Caller(token.FormatAccount(t.caller))
	}
	t.events = append(t.events, b.WithContext(t.ctx).Build())
}

func (t *txn) onRevert(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *txn) revert() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

// execute runs fn under the writer lock and commits its effects, or
// reverts all of them.
func (l *Ledger) execute(ctx context.Context, op string, caller util.Uint160, fn func(tx *txn) error) error {
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &txn{ctx: ctx, caller: caller}
	snap := l.core.Snapshot()

	err := fn(tx)
	if err == nil {
		err = l.persist(tx)
	}
	if err != nil {
		l.core.RevertToSnapshot(snap)
		tx.revert()
		l.reject(ctx, op, caller, err, start)
		return err
	}

	l.core.Commit()
	l.sequence += uint64(len(tx.events))
	for _, e := range tx.events {
		l.feed.Publish(e)
		for _, sink := range l.sinks {
			sink.Publish(e)
		}
	}

	for _, feeApplied := range tx.transfers {
		metrics.RecordTransfer(feeApplied)
	}
	metrics.RecordLedgerCall(op, "ok", time.Since(start))
	metrics.SetLedgerState(l.pause.Paused(), l.feeRate, l.pairs.Len())

	if tx.admin {
		l.log.WithContext(ctx).WithFields(map[string]interface{}{
			"operation": op,
			"caller":    token.FormatAccount(caller),
			"events":    len(tx.events),
		}).Info("ledger administration applied")
	}
	return nil
}

func (l *Ledger) persist(tx *txn) error {
	cs := storage.Changeset{Changes: l.core.Pending(), Pairs: tx.pairs}
	if tx.settings {
		s := l.settingsLocked()
		cs.Settings = &s
	}
	for i := range tx.events {
		tx.events[i].Sequence = l.sequence + uint64(i) + 1
	}
	cs.Events = tx.events

	if err := l.store.Commit(tx.ctx, cs); err != nil {
		return errors.Internal("failed to persist ledger changes", err)
	}
	return nil
}

func (l *Ledger) reject(ctx context.Context, op string, caller util.Uint160, err error, start time.Time) {
	code := errors.CodeOf(err)
	metrics.RecordLedgerCall(op, string(code), time.Since(start))

	entry := l.log.WithContext(ctx).WithFields(map[string]interface{}{
		"operation": op,
		"caller":    token.FormatAccount(caller),
		"code":      code,
	}).WithError(err)
	if code == errors.CodeInternal {
		entry.Error("ledger call failed")
		return
	}
	entry.Debug("ledger call rejected")
}

func (l *Ledger) settingsLocked() storage.Settings {
	own := l.owner.State()
	return storage.Settings{
		Owner:        own.Owner,
		PendingOwner: own.PendingOwner,
		FeeAddress:   l.feeAddress,
		FeeRateBps:   l.feeRate,
		Paused:       l.pause.Paused(),
	}
}

// Info is a point-in-time summary of the token and its settings.
type Info struct {
	Name         string
	Symbol       string
	Decimals     int
	TotalSupply  *uint256.Int
	Owner        util.Uint160
	PendingOwner util.Uint160
	Paused       bool
	FeeRateBps   uint16
	FeeAddress   util.Uint160
	Pairs        int
}

// Info returns the current token summary.
func (l *Ledger) Info() Info {
	l.mu.RLock()
	defer l.mu.RUnlock()
	own := l.owner.State()
	return Info{
		Name:         l.name,
		Symbol:       l.symbol,
		Decimals:     token.Decimals,
		TotalSupply:  l.core.TotalSupply(),
		Owner:        own.Owner,
		PendingOwner: own.PendingOwner,
		Paused:       l.pause.Paused(),
		FeeRateBps:   l.feeRate,
		FeeAddress:   l.feeAddress,
		Pairs:        l.pairs.Len(),
	}
}

func (l *Ledger) Name() string   { return l.name }
func (l *Ledger) Symbol() string { return l.symbol }
func (l *Ledger) Decimals() int  { return token.Decimals }

// TotalSupply returns the amount in circulation.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.core.TotalSupply()
}

// BalanceOf returns the balance of acct.
func (l *Ledger) BalanceOf(acct util.Uint160) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.core.BalanceOf(acct)
}

// Allowance returns what spender may still move on behalf of owner.
func (l *Ledger) Allowance(owner, spender util.Uint160) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.core.Allowance(owner, spender)
}

// Owner returns the current owner.
func (l *Ledger) Owner() util.Uint160 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owner.Owner()
}

// PendingOwner returns the nominated owner, or token.Null.
func (l *Ledger) PendingOwner() util.Uint160 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owner.PendingOwner()
}

// Paused reports whether the transfer family is halted.
func (l *Ledger) Paused() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pause.Paused()
}

// FeeRate returns the buy/sell fee in basis points.
func (l *Ledger) FeeRate() uint16 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.feeRate
}

// FeeAddress returns the fee sink, or token.Null while unset.
func (l *Ledger) FeeAddress() util.Uint160 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.feeAddress
}

// IsLiquidityPair reports whether acct is a registered pair.
func (l *Ledger) IsLiquidityPair(acct util.Uint160) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pairs.Contains(acct)
}

// LiquidityPairs lists the registered pairs.
func (l *Ledger) LiquidityPairs() []util.Uint160 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pairs.List()
}

// RecentEvents returns up to n committed events, newest first, optionally
// restricted to the given types.
func (l *Ledger) RecentEvents(n int, types ...events.EventType) []events.Event {
	if len(types) == 0 {
		return l.feed.Recent(n)
	}
	return l.feed.RecentFiltered(events.TypeFilter(types...), n)
}

// Subscribe registers handler for committed events passing filter. handler
// runs on the committing goroutine and must not block.
func (l *Ledger) Subscribe(filter events.EventFilter, handler events.EventHandler) func() {
	return l.feed.SubscribeFiltered(filter, handler)
}

// CheckInvariants verifies that the balances add up to the total supply.
func (l *Ledger) CheckInvariants() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	summer, ok := l.core.(interface{ SumBalances() *uint256.Int })
	if !ok {
		return nil
	}
	sum, supply := summer.SumBalances(), l.core.TotalSupply()
	if !sum.Eq(supply) {
		return errors.Internal("balances do not add up to total supply", nil).
			WithDetails("sum", sum.Dec()).
			WithDetails("total_supply", supply.Dec())
	}
	return nil
}
