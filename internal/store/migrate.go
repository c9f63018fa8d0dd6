package store

import (
	"context"
	"fmt"
	"time"
)

// migration is one step of the ordered schema sequence. Steps are keyed by
// id in schema_migrations, so re-running the sequence against an existing
// database is a no-op.
type migration struct {
	id   int
	name string
	stmt string
}

var migrations = []migration{
	{
		id:   1,
		name: "create transfer",
		stmt: `
		CREATE TABLE transfer (
			id TEXT NOT NULL,
			redis_key TEXT NOT NULL,
			success INTEGER,
			direction INTEGER NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			sender_id_type TEXT NOT NULL DEFAULT '',
			sender_id_sub_value TEXT NOT NULL DEFAULT '',
			sender_id_value TEXT NOT NULL DEFAULT '',
			recipient_name TEXT NOT NULL DEFAULT '',
			recipient_id_type TEXT NOT NULL DEFAULT '',
			recipient_id_sub_value TEXT NOT NULL DEFAULT '',
			recipient_id_value TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT '',
			dfsp TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			supported_currencies TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL DEFAULT 0,
			completed_at INTEGER,
			raw TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (id, redis_key)
		)`,
	},
	{
		id:   2,
		name: "create fx_quote",
		stmt: `
		CREATE TABLE fx_quote (
			conversion_request_id TEXT NOT NULL,
			conversion_id TEXT NOT NULL DEFAULT '',
			redis_key TEXT NOT NULL DEFAULT '',
			determining_transfer_id TEXT NOT NULL DEFAULT '',
			initiating_fsp TEXT NOT NULL DEFAULT '',
			counter_party_fsp TEXT NOT NULL DEFAULT '',
			amount_type TEXT NOT NULL DEFAULT '',
			source_amount TEXT NOT NULL DEFAULT '',
			source_currency TEXT NOT NULL DEFAULT '',
			target_amount TEXT NOT NULL DEFAULT '',
			target_currency TEXT NOT NULL DEFAULT '',
			expiration TEXT NOT NULL DEFAULT '',
			condition TEXT NOT NULL DEFAULT '',
			direction INTEGER NOT NULL DEFAULT 1,
			success INTEGER,
			created_at INTEGER NOT NULL DEFAULT 0,
			completed_at INTEGER,
			raw TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (conversion_request_id, conversion_id)
		)`,
	},
	{
		id:   3,
		name: "create fx_transfer",
		stmt: `
		CREATE TABLE fx_transfer (
			redis_key TEXT NOT NULL,
			commit_request_id TEXT NOT NULL,
			determining_transfer_id TEXT NOT NULL DEFAULT '',
			initiating_fsp TEXT NOT NULL DEFAULT '',
			counter_party_fsp TEXT NOT NULL DEFAULT '',
			source_amount TEXT NOT NULL DEFAULT '',
			source_currency TEXT NOT NULL DEFAULT '',
			target_amount TEXT NOT NULL DEFAULT '',
			target_currency TEXT NOT NULL DEFAULT '',
			condition TEXT NOT NULL DEFAULT '',
			expiration TEXT NOT NULL DEFAULT '',
			conversion_state TEXT NOT NULL DEFAULT '',
			fulfilment TEXT NOT NULL DEFAULT '',
			direction INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL DEFAULT 0,
			completed_timestamp INTEGER,
			PRIMARY KEY (redis_key, commit_request_id)
		)`,
	},
	{
		id:   4,
		name: "transfer indexes",
		stmt: `
		CREATE INDEX idx_transfer_created ON transfer(created_at);
		CREATE INDEX idx_transfer_success ON transfer(success);
		CREATE INDEX idx_transfer_dfsp ON transfer(dfsp);
		CREATE INDEX idx_transfer_redis_key ON transfer(redis_key)`,
	},
	{
		id:   5,
		name: "fx indexes",
		stmt: `
		CREATE INDEX idx_fx_quote_redis_key ON fx_quote(redis_key);
		CREATE INDEX idx_fx_quote_determining ON fx_quote(determining_transfer_id);
		CREATE INDEX idx_fx_transfer_determining ON fx_transfer(determining_transfer_id)`,
	},
}

// Migrate applies the migration sequence in order, skipping steps already
// recorded in schema_migrations. Each step runs in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE id = ?", m.id).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.id, err)
		}
		if count > 0 {
			continue
		}

		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.id, err)
		}
		if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.id, m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (id, name, applied_at) VALUES (?, ?, ?)",
			m.id, m.name, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.id, err)
		}
	}

	return nil
}
