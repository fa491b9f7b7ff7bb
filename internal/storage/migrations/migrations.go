// Package migrations creates the PostgreSQL schema used by the ledger store.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// statements are applied in order. Each is idempotent so Apply can run on
// every start.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS ledger_settings (
		id            SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		owner         TEXT NOT NULL,
		pending_owner TEXT NOT NULL DEFAULT '',
		fee_address   TEXT NOT NULL DEFAULT '',
		fee_rate_bps  INTEGER NOT NULL CHECK (fee_rate_bps > 0 AND fee_rate_bps <= 300),
		paused        BOOLEAN NOT NULL DEFAULT FALSE,
		total_supply  NUMERIC(78, 0) NOT NULL DEFAULT 0,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_balances (
		account    TEXT PRIMARY KEY,
		amount     NUMERIC(78, 0) NOT NULL CHECK (amount >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_allowances (
		owner      TEXT NOT NULL,
		spender    TEXT NOT NULL,
		amount     NUMERIC(78, 0) NOT NULL CHECK (amount >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (owner, spender)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_pairs (
		account    TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_events (
		id         UUID PRIMARY KEY,
		sequence   BIGINT NOT NULL UNIQUE,
		type       TEXT NOT NULL,
		payload    JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_events_type_idx ON ledger_events (type, sequence DESC)`,
}

// Apply runs every migration against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Count returns the number of migration statements.
func Count() int {
	return len(statements)
}
