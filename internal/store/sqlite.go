// Package store implements tenant-scoped persistence for the
// reconciliation engine on SQLite.
//
// All write operations used by the orchestrator follow a full-replace
// pattern: previously unconfirmed rapprochements and open anomalies are
// deleted and re-inserted inside one transaction, which keeps a
// reconciliation run idempotent and safe to retry wholesale.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"facture-reconciliation-service/pkg/logger"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const txKey contextKey = "tx"

// executor is satisfied by both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	amount       TEXT NOT NULL,
	type         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	date         TEXT NOT NULL,
	category     TEXT
);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);

CREATE TABLE IF NOT EXISTS factures (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	numero_facture    TEXT,
	nom_fournisseur   TEXT,
	montant_ht        TEXT,
	tva               TEXT,
	montant_ttc       TEXT,
	date_facture      TEXT,
	validation_status TEXT NOT NULL,
	created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_factures_user ON factures(user_id);

CREATE TABLE IF NOT EXISTS rapprochements (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	facture_id        TEXT NOT NULL REFERENCES factures(id),
	transaction_id    TEXT NOT NULL REFERENCES transactions(id),
	amount_score      REAL NOT NULL,
	date_score        REAL NOT NULL,
	description_score REAL NOT NULL,
	history_bonus     REAL NOT NULL DEFAULT 0,
	total_score       REAL NOT NULL,
	type              TEXT NOT NULL,
	statut            TEXT NOT NULL,
	validated_by_user INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rapprochements_user ON rapprochements(user_id);

CREATE TABLE IF NOT EXISTS supplier_history (
	user_id              TEXT NOT NULL,
	supplier_normalized  TEXT NOT NULL,
	transaction_patterns TEXT NOT NULL DEFAULT '[]',
	iban_patterns        TEXT NOT NULL DEFAULT '[]',
	avg_amount           TEXT NOT NULL DEFAULT '0',
	match_count          INTEGER NOT NULL DEFAULT 0,
	updated_at           TEXT NOT NULL,
	PRIMARY KEY (user_id, supplier_normalized)
);

CREATE TABLE IF NOT EXISTS anomalies (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	type            TEXT NOT NULL,
	severity        TEXT NOT NULL,
	description     TEXT NOT NULL,
	transaction_id  TEXT,
	facture_id      TEXT,
	montant_attendu TEXT,
	montant_reel    TEXT,
	ecart           TEXT,
	statut          TEXT NOT NULL DEFAULT 'open',
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anomalies_user ON anomalies(user_id);

CREATE TABLE IF NOT EXISTS audit_log (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	rapprochement_id TEXT NOT NULL,
	action           TEXT NOT NULL,
	reversible       INTEGER NOT NULL DEFAULT 0,
	detail           TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);
`

// Store wraps the SQLite database handle
type Store struct {
	db  *sql.DB
	log logger.Logger
}

// Open opens (creating if needed) the SQLite database at path and
// ensures the schema exists. Use ":memory:" for an ephemeral database.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("store")

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// An in-memory database exists per connection; keep a single one so
	// every query sees the same schema.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.WithField("path", path).Debug("Database opened")
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTransaction executes fn inside a database transaction. Nested
// calls reuse the transaction already carried by the context.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := extractTx(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.WithError(rbErr).Error("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func extractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// getExecutor returns the transaction from the context when present,
// the plain database handle otherwise.
func (s *Store) getExecutor(ctx context.Context) executor {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return s.db
}
