package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// queryer is the subset of *sql.DB and *sql.Tx the store needs.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
	q  queryer
	tx *sql.Tx
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStore{db: db, q: db}, nil
}

func (s *SQLiteStore) Close(_ context.Context) error {
	return s.db.Close()
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	txStore := &SQLiteStore{db: s.db, q: tx, tx: tx}

	if err := fn(ctx, txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Migration is one versioned schema change.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial ledger schema",
		Up: execAll(
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				email TEXT NOT NULL,
				role TEXT NOT NULL
			)`,
			`CREATE INDEX idx_users_role ON users(role)`,

			`CREATE TABLE IF NOT EXISTS payment_methods (
				id TEXT PRIMARY KEY,
				code TEXT UNIQUE NOT NULL,
				name TEXT NOT NULL
			)`,

			`CREATE TABLE IF NOT EXISTS cases (
				id TEXT PRIMARY KEY,
				title_en TEXT NOT NULL,
				title_ar TEXT,
				description_en TEXT,
				description_ar TEXT,
				target_amount TEXT NOT NULL,
				current_amount TEXT NOT NULL DEFAULT '0',
				status TEXT NOT NULL,
				batch_id TEXT,
				created_by TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE INDEX idx_cases_batch ON cases(batch_id)`,

			`CREATE TABLE IF NOT EXISTS contributions (
				id TEXT PRIMARY KEY,
				case_id TEXT NOT NULL REFERENCES cases(id),
				donor_id TEXT,
				amount TEXT NOT NULL,
				payment_method_id TEXT NOT NULL,
				status TEXT NOT NULL,
				notes TEXT,
				revision_of TEXT,
				batch_id TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE INDEX idx_contributions_case ON contributions(case_id)`,
			`CREATE INDEX idx_contributions_batch ON contributions(batch_id)`,

			`CREATE TABLE IF NOT EXISTS approvals (
				id TEXT PRIMARY KEY,
				contribution_id TEXT UNIQUE NOT NULL REFERENCES contributions(id),
				status TEXT NOT NULL,
				admin_id TEXT,
				rejection_reason TEXT,
				admin_comment TEXT,
				donor_reply TEXT,
				donor_reply_at DATETIME,
				proof_ref TEXT,
				resubmission_count INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,

			`CREATE TABLE IF NOT EXISTS batch_uploads (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				status TEXT NOT NULL,
				source_ref TEXT,
				total_items INTEGER NOT NULL DEFAULT 0,
				processed_items INTEGER NOT NULL DEFAULT 0,
				successful_items INTEGER NOT NULL DEFAULT 0,
				failed_items INTEGER NOT NULL DEFAULT 0,
				errors TEXT,
				created_by TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				processed_at DATETIME
			)`,

			// Items outlive their batch on rollback, so no foreign keys here.
			`CREATE TABLE IF NOT EXISTS batch_items (
				id TEXT PRIMARY KEY,
				batch_id TEXT NOT NULL,
				row_no INTEGER NOT NULL,
				nickname TEXT NOT NULL,
				user_id TEXT,
				amount TEXT NOT NULL,
				case_key TEXT NOT NULL,
				case_title TEXT,
				case_month TEXT,
				status TEXT NOT NULL,
				case_id TEXT,
				contribution_id TEXT,
				error TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE INDEX idx_batch_items_batch ON batch_items(batch_id, row_no)`,
			`CREATE INDEX idx_batch_items_nickname ON batch_items(batch_id, nickname)`,
		),
	},
	{
		Version:     2,
		Description: "Add in-app notifications",
		Up: execAll(
			`CREATE TABLE IF NOT EXISTS notifications (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				title TEXT NOT NULL,
				message TEXT NOT NULL,
				contribution_id TEXT,
				case_id TEXT,
				is_read INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX idx_notifications_user ON notifications(user_id, is_read)`,
		),
	},
}

func execAll(queries ...string) func(*sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, query := range queries {
			if _, err := tx.Exec(query); err != nil {
				return fmt.Errorf("failed to execute query: %w", err)
			}
		}
		return nil
	}
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if s.tx != nil {
		return fmt.Errorf("migrations cannot be run within a transaction")
	}

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`, m.Version, m.Description); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
		slog.Info("Applied migration", "version", m.Version, "description", m.Description)
	}
	return nil
}

// --- column helpers ---

func nullID(id *primitive.ObjectID) any {
	if id == nil {
		return nil
	}
	return id.Hex()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func parseID(s string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid stored id %q: %w", s, err)
	}
	return id, nil
}

func parseNullID(ns sql.NullString) (*primitive.ObjectID, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	id, err := parseID(ns.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stored amount %q: %w", s, err)
	}
	return d, nil
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
