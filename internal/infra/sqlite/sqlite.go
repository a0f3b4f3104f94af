// Package sqlite provides SQLite-backed persistence for accounts,
// transactions, delegations, redemptions, and tenants.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// DB wraps the SQLite handle. All store interfaces from the domain package
// are implemented on this type.
type DB struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer avoids most SQLITE_BUSY churn with the pure Go driver.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	d := &DB{db: db}
	if err := d.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate applies the schema. Statements are idempotent and run one at a time.
func (d *DB) Migrate() error {
	for _, stmt := range Migrations() {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tenant_domains (
			tenant_id TEXT NOT NULL,
			domain    TEXT NOT NULL,
			PRIMARY KEY (tenant_id, domain),
			FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			tenant_id  TEXT NOT NULL DEFAULT '',
			owner_ref  TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_tenant ON accounts(tenant_id, kind)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id                 TEXT PRIMARY KEY,
			account_id         TEXT NOT NULL,
			counter_account_id TEXT,
			amount             INTEGER NOT NULL,
			type               TEXT NOT NULL,
			status             TEXT NOT NULL,
			op_id              TEXT NOT NULL DEFAULT '',
			reference_note     TEXT NOT NULL DEFAULT '',
			created_by         TEXT NOT NULL DEFAULT '',
			created_at         TEXT NOT NULL,
			FOREIGN KEY (account_id) REFERENCES accounts(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_account ON transactions(account_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_op ON transactions(op_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_type ON transactions(type, created_at)`,

		`CREATE TABLE IF NOT EXISTS delegations (
			parent_account_id TEXT NOT NULL,
			child_account_id  TEXT NOT NULL,
			allocated_amount  INTEGER NOT NULL DEFAULT 0,
			spent_amount      INTEGER NOT NULL DEFAULT 0,
			monthly_cap       INTEGER NOT NULL DEFAULT 0,
			updated_at        TEXT NOT NULL,
			PRIMARY KEY (parent_account_id, child_account_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delegations_child ON delegations(child_account_id)`,

		`CREATE TABLE IF NOT EXISTS redemptions (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			wallet_account_id TEXT NOT NULL,
			item_type         TEXT NOT NULL,
			item_ref          TEXT NOT NULL,
			point_cost        INTEGER NOT NULL,
			status            TEXT NOT NULL,
			otp_hash          TEXT NOT NULL DEFAULT '',
			otp_expiry        TEXT,
			otp_attempts      INTEGER NOT NULL DEFAULT 0,
			debit_tx_id       TEXT NOT NULL DEFAULT '',
			delivery_json     TEXT,
			failure_reason    TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_user ON redemptions(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_status ON redemptions(status, updated_at)`,
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

// withTx runs fn inside a transaction, rolling back on error.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// retryBusy retries fn on SQLITE_BUSY with exponential backoff, up to five
// attempts, then surfaces the last error.
func retryBusy(fn func() error) error {
	var err error
	delay := 10 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
