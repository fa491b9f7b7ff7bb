package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/token_ledger/internal/events"
	"github.com/R3E-Network/token_ledger/internal/storage"
	"github.com/R3E-Network/token_ledger/internal/token"
)

// Store implements storage.Store backed by PostgreSQL. Accounts are stored
// as Neo addresses and amounts as NUMERIC(78,0).
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// Options tunes the connection pool opened by Open.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts Options) (*sql.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db.DB, nil
}

type settingsRow struct {
	Owner        string `db:"owner"`
	PendingOwner string `db:"pending_owner"`
	FeeAddress   string `db:"fee_address"`
	FeeRateBps   int    `db:"fee_rate_bps"`
	Paused       bool   `db:"paused"`
	TotalSupply  string `db:"total_supply"`
}

type balanceRow struct {
	Account string `db:"account"`
	Amount  string `db:"amount"`
}

type allowanceRow struct {
	Owner   string `db:"owner"`
	Spender string `db:"spender"`
	Amount  string `db:"amount"`
}

// Load implements storage.Store.
func (s *Store) Load(ctx context.Context) (*storage.State, error) {
	var settings settingsRow
	err := s.db.GetContext(ctx, &settings, `
		SELECT owner, pending_owner, fee_address, fee_rate_bps, paused, total_supply::TEXT AS total_supply
		FROM ledger_settings
		WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	state := &storage.State{}
	if state.Settings, err = decodeSettings(settings); err != nil {
		return nil, err
	}
	if state.TotalSupply, err = token.ParseAmount(settings.TotalSupply); err != nil {
		return nil, fmt.Errorf("decode total supply: %w", err)
	}

	var pairs []string
	if err := s.db.SelectContext(ctx, &pairs, `SELECT account FROM ledger_pairs ORDER BY account`); err != nil {
		return nil, fmt.Errorf("load pairs: %w", err)
	}
	for _, raw := range pairs {
		acct, err := token.ParseAccount(raw)
		if err != nil {
			return nil, fmt.Errorf("decode pair %q: %w", raw, err)
		}
		state.Pairs = append(state.Pairs, acct)
	}

	var balances []balanceRow
	if err := s.db.SelectContext(ctx, &balances, `SELECT account, amount::TEXT AS amount FROM ledger_balances`); err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	for _, row := range balances {
		acct, err := token.ParseAccount(row.Account)
		if err != nil {
			return nil, fmt.Errorf("decode balance account %q: %w", row.Account, err)
		}
		amount, err := token.ParseAmount(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("decode balance of %q: %w", row.Account, err)
		}
		state.Balances = append(state.Balances, token.Balance{Account: acct, Amount: *amount})
	}

	var allowances []allowanceRow
	if err := s.db.SelectContext(ctx, &allowances, `SELECT owner, spender, amount::TEXT AS amount FROM ledger_allowances`); err != nil {
		return nil, fmt.Errorf("load allowances: %w", err)
	}
	for _, row := range allowances {
		owner, err := token.ParseAccount(row.Owner)
		if err != nil {
			return nil, fmt.Errorf("decode allowance owner %q: %w", row.Owner, err)
		}
		spender, err := token.ParseAccount(row.Spender)
		if err != nil {
			return nil, fmt.Errorf("decode allowance spender %q: %w", row.Spender, err)
		}
		amount, err := token.ParseAmount(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("decode allowance amount: %w", err)
		}
		state.Allowances = append(state.Allowances, token.Allowance{Owner: owner, Spender: spender, Amount: *amount})
	}

	var last int64
	if err := s.db.GetContext(ctx, &last, `SELECT COALESCE(MAX(sequence), 0) FROM ledger_events`); err != nil {
		return nil, fmt.Errorf("load last event sequence: %w", err)
	}
	state.LastSequence = uint64(last)

	var payloads [][]byte
	if err := s.db.SelectContext(ctx, &payloads, `
		SELECT payload FROM ledger_events ORDER BY sequence DESC LIMIT $1
	`, storage.RecentEventLimit); err != nil {
		return nil, fmt.Errorf("load recent events: %w", err)
	}
	for i := len(payloads) - 1; i >= 0; i-- {
		var e events.Event
		if err := json.Unmarshal(payloads[i], &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		state.RecentEvents = append(state.RecentEvents, e)
	}

	return state, nil
}

// Commit implements storage.Store. Everything in cs is written in one
// transaction.
func (s *Store) Commit(ctx context.Context, cs storage.Changeset) (err error) {
	if cs.Empty() {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()

	if cs.Settings != nil {
		st := cs.Settings
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_settings (id, owner, pending_owner, fee_address, fee_rate_bps, paused, updated_at)
			VALUES (1, $1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE
			SET owner = EXCLUDED.owner, pending_owner = EXCLUDED.pending_owner,
			    fee_address = EXCLUDED.fee_address, fee_rate_bps = EXCLUDED.fee_rate_bps,
			    paused = EXCLUDED.paused, updated_at = EXCLUDED.updated_at
		`, token.FormatAccount(st.Owner), token.FormatAccount(st.PendingOwner), token.FormatAccount(st.FeeAddress),
			int(st.FeeRateBps), st.Paused, now); err != nil {
			return fmt.Errorf("upsert settings: %w", err)
		}
	}

	if cs.TotalSupply != nil {
		if _, err = tx.ExecContext(ctx, `
			UPDATE ledger_settings SET total_supply = $1, updated_at = $2 WHERE id = 1
		`, cs.TotalSupply.Dec(), now); err != nil {
			return fmt.Errorf("update total supply: %w", err)
		}
	}

	for _, b := range cs.Balances {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_balances (account, amount, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (account) DO UPDATE SET amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at
		`, token.FormatAccount(b.Account), b.Amount.Dec(), now); err != nil {
			return fmt.Errorf("upsert balance: %w", err)
		}
	}

	for _, a := range cs.Allowances {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_allowances (owner, spender, amount, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (owner, spender) DO UPDATE SET amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at
		`, token.FormatAccount(a.Owner), token.FormatAccount(a.Spender), a.Amount.Dec(), now); err != nil {
			return fmt.Errorf("upsert allowance: %w", err)
		}
	}

	for _, p := range cs.Pairs {
		if p.Registered {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO ledger_pairs (account, created_at) VALUES ($1, $2)
				ON CONFLICT (account) DO NOTHING
			`, token.FormatAccount(p.Account), now)
		} else {
			_, err = tx.ExecContext(ctx, `DELETE FROM ledger_pairs WHERE account = $1`, token.FormatAccount(p.Account))
		}
		if err != nil {
			return fmt.Errorf("update pair: %w", err)
		}
	}

	for _, e := range cs.Events {
		payload, mErr := json.Marshal(e)
		if mErr != nil {
			err = fmt.Errorf("encode event: %w", mErr)
			return err
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_events (id, sequence, type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, e.ID, int64(e.Sequence), string(e.Type), payload, e.Timestamp); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func decodeSettings(row settingsRow) (storage.Settings, error) {
	owner, err := token.ParseAccount(row.Owner)
	if err != nil {
		return storage.Settings{}, fmt.Errorf("decode owner: %w", err)
	}
	pending, err := token.ParseAccount(row.PendingOwner)
	if err != nil {
		return storage.Settings{}, fmt.Errorf("decode pending owner: %w", err)
	}
	feeAddress, err := token.ParseAccount(row.FeeAddress)
	if err != nil {
		return storage.Settings{}, fmt.Errorf("decode fee address: %w", err)
	}
	if row.FeeRateBps < 0 || row.FeeRateBps > int(^uint16(0)) {
		return storage.Settings{}, fmt.Errorf("decode fee rate: %d out of range", row.FeeRateBps)
	}
	return storage.Settings{
		Owner:        owner,
		PendingOwner: pending,
		FeeAddress:   feeAddress,
		FeeRateBps:   uint16(row.FeeRateBps),
		Paused:       row.Paused,
	}, nil
}
