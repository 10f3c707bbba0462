/*
Package mysql provides a MySQL/InnoDB-backed inventory.Store.

CONCURRENCY:
  Mutations read the item with SELECT ... FOR UPDATE, so writers on the same
  row queue in InnoDB while writers on other rows proceed in parallel. The
  version-checked UPDATE from sqlstore is kept as a second guard.

SCHEMA:
  Created on New(). MySQL 8.0.16+ enforces the CHECK constraints; older
  servers parse and ignore them, and the Go-side ApplyDelta check remains
  the authority either way.

TIME:
  The DSN is rewritten with parseTime=true and loc=UTC; timestamps are
  DATETIME(6) so microsecond precision round-trips.
*/
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/warp/stock-engine/store/sqlstore"
)

// erDupEntry is MySQL's ER_DUP_ENTRY.
const erDupEntry = 1062

type Store struct {
	*sqlstore.Store
}

var Dialect = sqlstore.Dialect{
	Name:              "mysql",
	Schema:            schema,
	LockClause:        " FOR UPDATE",
	IsUniqueViolation: isDuplicateEntry,
}

// New connects using dsn (go-sql-driver format) and migrates the schema.
func New(dsn string) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	store := &Store{Store: sqlstore.New(db, Dialect)}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		sku VARCHAR(128) NOT NULL DEFAULT '',
		category VARCHAR(128) NOT NULL DEFAULT '',
		model_number VARCHAR(128) NOT NULL DEFAULT '',
		location VARCHAR(255) NOT NULL DEFAULT '',
		minimum_stock BIGINT NOT NULL DEFAULT 0,
		quantity BIGINT NOT NULL,
		reserved_quantity BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		version BIGINT NOT NULL DEFAULT 1,
		created_by VARCHAR(255) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_items_active_name (active, name),
		INDEX idx_items_category (category),
		CONSTRAINT chk_items_minimum CHECK (minimum_stock >= 0),
		CONSTRAINT chk_items_quantity CHECK (quantity >= 0),
		CONSTRAINT chk_items_reserved CHECK (reserved_quantity >= 0 AND reserved_quantity <= quantity)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS stock_log (
		seq BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(64) NOT NULL,
		item_id VARCHAR(64) NOT NULL,
		entry_type VARCHAR(16) NOT NULL,
		quantity_change BIGINT NOT NULL,
		created_by VARCHAR(255) NULL,
		notes TEXT NULL,
		reference_document VARCHAR(255) NULL,
		idempotency_key VARCHAR(255) NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_stock_log_id (id),
		UNIQUE KEY uq_stock_log_idempotency (idempotency_key),
		INDEX idx_stock_log_item_seq (item_id, seq),
		CONSTRAINT fk_stock_log_item FOREIGN KEY (item_id) REFERENCES items(id)
	) ENGINE=InnoDB`,
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == erDupEntry
}
