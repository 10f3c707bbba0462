/*
Package sqlite provides a SQLite-backed inventory.Store.

PURPOSE:
  Single-node persistence for the stock engine. Items and the stock log live
  in one database file; every mutation is one transaction.

CONCURRENCY:
  The pool is limited to one connection, so SQLite's single writer is also
  the single Go-side writer. Mutations on different items queue behind each
  other; the version-checked UPDATE in sqlstore still guards the row.

APPEND-ONLY ENFORCEMENT:
  Triggers abort any UPDATE or DELETE on stock_log, so not even a manual
  statement can rewrite history.

WAL MODE:
  Opened with WAL and a busy timeout so readers from other processes
  (backups, the sqlite3 shell) don't fail writers.

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := inventory.NewEngine(store)

SEE ALSO:
  - store/sqlstore: the shared SQL implementation
  - store/mysql: multi-writer alternative
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/stock-engine/store/sqlstore"
)

// Store is a sqlstore.Store opened on SQLite.
type Store struct {
	*sqlstore.Store
}

// Dialect is the SQLite flavour of the shared schema.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	Schema:            schema,
	IsUniqueViolation: isUniqueConstraintError,
}

// New opens (or creates) the database at dbPath and migrates it.
// Use ":memory:" for a throwaway database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: a second one would see a different ":memory:" database
	// and would race the single SQLite writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{Store: sqlstore.New(db, Dialect)}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		sku TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		model_number TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		minimum_stock INTEGER NOT NULL DEFAULT 0 CHECK (minimum_stock >= 0),
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		reserved_quantity INTEGER NOT NULL DEFAULT 0
			CHECK (reserved_quantity >= 0 AND reserved_quantity <= quantity),
		active BOOLEAN NOT NULL DEFAULT 1,
		version INTEGER NOT NULL DEFAULT 1,
		created_by TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_active_name ON items(active, name)`,
	`CREATE INDEX IF NOT EXISTS idx_items_category ON items(category)`,

	`CREATE TABLE IF NOT EXISTS stock_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		item_id TEXT NOT NULL REFERENCES items(id),
		entry_type TEXT NOT NULL CHECK (entry_type IN
			('initial', 'received', 'allocated', 'committed', 'released', 'adjusted')),
		quantity_change INTEGER NOT NULL,
		created_by TEXT,
		notes TEXT,
		reference_document TEXT,
		idempotency_key TEXT UNIQUE,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_log_item_seq ON stock_log(item_id, seq)`,

	`CREATE TRIGGER IF NOT EXISTS stock_log_no_update
	BEFORE UPDATE ON stock_log
	BEGIN
		SELECT RAISE(ABORT, 'stock_log is append-only');
	END`,
	`CREATE TRIGGER IF NOT EXISTS stock_log_no_delete
	BEFORE DELETE ON stock_log
	BEGIN
		SELECT RAISE(ABORT, 'stock_log is append-only');
	END`,
}

// isUniqueConstraintError checks if an error is a SQLite UNIQUE violation.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
