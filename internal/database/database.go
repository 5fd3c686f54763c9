package database

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id           UUID PRIMARY KEY,
	meter_id     TEXT NOT NULL,
	observed_at  BIGINT NOT NULL,
	value_kwh    DOUBLE PRECISION NOT NULL,
	amount_milli BIGINT NOT NULL,
	reading_kind TEXT NOT NULL,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL,
	tx_id        TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS submissions_meter_created_idx ON submissions (meter_id, created_at DESC);
`

// Migrate creates the submission audit table if it does not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
