package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"custody_ledger/internal/repository"
)

var (
	_ repository.AccountRepository   = (*AccountRepository)(nil)
	_ repository.OperationRepository = (*OperationRepository)(nil)
)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS custody_accounts (
	id             TEXT PRIMARY KEY,
	bank           TEXT NOT NULL,
	account_number TEXT NOT NULL,
	routing_alias  TEXT NOT NULL,
	currency       TEXT NOT NULL,
	owner          TEXT NOT NULL,
	owner_document TEXT NOT NULL,
	balance        NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	daily_limit    NUMERIC(20,2) NOT NULL,
	monthly_limit  NUMERIC(20,2) NOT NULL,
	status         TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	day_key        TEXT NOT NULL DEFAULT '',
	day_total      NUMERIC(20,2) NOT NULL DEFAULT 0,
	month_key      TEXT NOT NULL DEFAULT '',
	month_total    NUMERIC(20,2) NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS account_operation_refs (
	id           BIGSERIAL PRIMARY KEY,
	account_id   TEXT NOT NULL REFERENCES custody_accounts(id),
	operation_id TEXT NOT NULL,
	ts           TIMESTAMPTZ NOT NULL,
	amount       NUMERIC(20,2) NOT NULL,
	direction    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS account_operation_refs_account_idx
	ON account_operation_refs (account_id, ts);

CREATE TABLE IF NOT EXISTS custody_operations (
	id                TEXT PRIMARY KEY,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	direction         TEXT NOT NULL,
	source_currency   TEXT NOT NULL,
	target_currency   TEXT NOT NULL,
	source_account_id TEXT NOT NULL,
	target_account_id TEXT NOT NULL,
	source_amount     NUMERIC(20,2) NOT NULL,
	target_amount     NUMERIC(20,2) NOT NULL,
	rate_applied      NUMERIC(20,8) NOT NULL,
	status            TEXT NOT NULL,
	steps             JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS custody_operations_created_at_idx
	ON custody_operations (created_at);
`

// EnsureSchema creates the tables this package needs if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
