/*
Package sqlstore implements inventory.Store on database/sql.

PURPOSE:
  One implementation of the item projection and the stock log shared by the
  SQLite and MySQL stores. The dialect supplies the schema, the row-lock
  clause and the unique-violation detector; everything else is plain SQL
  that both engines accept.

KEY TABLES:
  items:     current projection, one row per item, version column
  stock_log: append-only ledger, seq is the replay order

ATOMIC MUTATION:
  Mutate runs in one database transaction:
    1. SELECT the item row (FOR UPDATE on MySQL)
    2. decide + invariant check in Go (inventory.Prepare)
    3. UPDATE items ... WHERE id = ? AND version = ?
    4. INSERT INTO stock_log
    5. COMMIT
  A zero-row UPDATE means another writer won: ErrConcurrentModification.
  Projection and entry commit together or not at all.

IDEMPOTENCY:
  stock_log.idempotency_key is UNIQUE. A reused key fails the INSERT and the
  whole transaction rolls back.

SEE ALSO:
  - store/sqlite: SQLite dialect and opener
  - store/mysql:  MySQL dialect and opener
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/stock-engine/inventory"
)

// Dialect captures what differs between SQL engines.
type Dialect struct {
	Name string

	// Schema statements, executed one by one on Migrate.
	Schema []string

	// LockClause is appended to the SELECT that reads an item inside a
	// mutation, e.g. " FOR UPDATE". Empty for single-writer engines.
	LockClause string

	// IsUniqueViolation reports whether err is a unique-key failure.
	IsUniqueViolation func(err error) bool
}

// Store implements inventory.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ inventory.Store = (*Store)(nil)

// New wraps an open database. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// DB exposes the handle for health checks and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return inventory.Storage("ping", s.db.PingContext(ctx))
}

// =============================================================================
// ITEMS
// =============================================================================

const itemColumns = `id, name, sku, category, model_number, location, minimum_stock,
	quantity, reserved_quantity, active, version, created_by, created_at, updated_at`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) CreateItem(ctx context.Context, item inventory.Item, initial *inventory.StockLogEntry) (inventory.Item, error) {
	if err := item.CheckInvariants(); err != nil {
		return inventory.Item{}, err
	}

	err := s.withTx(ctx, "create item", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO items (`+itemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.Name, item.SKU, item.Category, item.ModelNumber, item.Location,
			item.MinimumStock, item.Quantity, item.ReservedQuantity, item.Active, item.Version,
			nullString(item.CreatedBy), item.CreatedAt.UTC(), item.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		if initial == nil {
			return nil
		}
		entry := *initial
		entry.ItemID = item.ID
		seq, err := s.appendEntry(ctx, tx, entry)
		if err != nil {
			return err
		}
		initial.Seq = seq
		return nil
	})
	if err != nil {
		return inventory.Item{}, err
	}
	return item, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (inventory.Item, error) {
	it, err := s.getItem(ctx, s.db, id, "")
	return it, inventory.Storage("get item", err)
}

func (s *Store) getItem(ctx context.Context, q queryer, id, lock string) (inventory.Item, error) {
	row := q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`+lock, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Item{}, fmt.Errorf("%w: %s", inventory.ErrNotFound, id)
	}
	if err != nil {
		return inventory.Item{}, fmt.Errorf("query item: %w", err)
	}
	return it, nil
}

func (s *Store) ListItems(ctx context.Context, filter inventory.ItemFilter) ([]inventory.Item, error) {
	active := true
	if filter.Active != nil {
		active = *filter.Active
	}
	where := []string{"active = ?"}
	args := []any{active}
	if filter.Category != "" {
		where = append(where, "LOWER(category) = LOWER(?)")
		args = append(args, filter.Category)
	}
	if term := strings.TrimSpace(filter.SearchTerm); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		where = append(where, "(LOWER(name) LIKE ? OR LOWER(sku) LIKE ? OR LOWER(model_number) LIKE ?)")
		args = append(args, like, like, like)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE `+strings.Join(where, " AND ")+` ORDER BY name, id`,
		args...,
	)
	if err != nil {
		return nil, inventory.Storage("list items", err)
	}
	defer rows.Close()

	items := []inventory.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, inventory.Storage("list items", err)
		}
		items = append(items, it)
	}
	return items, inventory.Storage("list items", rows.Err())
}

func (s *Store) UpdateItem(ctx context.Context, id string, fn func(*inventory.Item) error) (inventory.Item, error) {
	var updated inventory.Item
	err := s.withTx(ctx, "update item", func(tx *sql.Tx) error {
		cur, err := s.getItem(ctx, tx, id, s.dialect.LockClause)
		if err != nil {
			return err
		}
		next := cur
		if err := fn(&next); err != nil {
			return err
		}
		inventory.KeepCounters(cur, &next)
		next.Version = cur.Version + 1

		res, err := tx.ExecContext(ctx, `
			UPDATE items
			SET name = ?, sku = ?, category = ?, model_number = ?, location = ?,
			    active = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			next.Name, next.SKU, next.Category, next.ModelNumber, next.Location,
			next.Active, next.Version, next.UpdatedAt.UTC(),
			id, cur.Version,
		)
		if err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		if err := expectOneRow(res); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return inventory.Item{}, err
	}
	return updated, nil
}

// =============================================================================
// MUTATION
// =============================================================================

func (s *Store) Mutate(ctx context.Context, id string, decide inventory.DecideFunc) (inventory.Item, inventory.StockLogEntry, error) {
	var (
		next  inventory.Item
		entry inventory.StockLogEntry
	)
	err := s.withTx(ctx, "mutate item", func(tx *sql.Tx) error {
		cur, err := s.getItem(ctx, tx, id, s.dialect.LockClause)
		if err != nil {
			return err
		}
		next, entry, err = inventory.Prepare(cur, decide)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE items
			SET quantity = ?, reserved_quantity = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			next.Quantity, next.ReservedQuantity, next.Version, next.UpdatedAt.UTC(),
			id, cur.Version,
		)
		if err != nil {
			return fmt.Errorf("update stock: %w", err)
		}
		if err := expectOneRow(res); err != nil {
			return err
		}

		entry.Seq, err = s.appendEntry(ctx, tx, entry)
		return err
	})
	if err != nil {
		return inventory.Item{}, inventory.StockLogEntry{}, err
	}
	return next, entry, nil
}

func (s *Store) appendEntry(ctx context.Context, tx *sql.Tx, e inventory.StockLogEntry) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO stock_log
		(id, item_id, entry_type, quantity_change, created_by, notes,
		 reference_document, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ItemID, string(e.Type), e.QuantityChange,
		nullString(e.CreatedBy), nullString(e.Notes), nullString(e.Reference),
		nullString(e.IdempotencyKey), e.CreatedAt.UTC(),
	)
	if err != nil {
		if e.IdempotencyKey != "" && s.dialect.IsUniqueViolation(err) {
			return 0, inventory.ErrDuplicateIdempotencyKey
		}
		return 0, fmt.Errorf("append stock log: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("stock log seq: %w", err)
	}
	return seq, nil
}

// =============================================================================
// STOCK LOG
// =============================================================================

const entryColumns = `seq, id, item_id, entry_type, quantity_change, created_by, notes,
	reference_document, idempotency_key, created_at`

// noLimit stands in for "all rows"; both engines need a LIMIT before OFFSET.
const noLimit = 1<<31 - 1

func (s *Store) StockLog(ctx context.Context, id string, page inventory.Page) ([]inventory.StockLogEntry, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = noLimit
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	entries, err := s.queryEntries(ctx, s.db,
		`SELECT `+entryColumns+` FROM stock_log WHERE item_id = ? ORDER BY seq LIMIT ? OFFSET ?`,
		id, limit, offset,
	)
	return entries, inventory.Storage("stock log", err)
}

func (s *Store) History(ctx context.Context, id string) (inventory.Item, []inventory.StockLogEntry, error) {
	var (
		item    inventory.Item
		entries []inventory.StockLogEntry
	)
	err := s.withTx(ctx, "history", func(tx *sql.Tx) error {
		var err error
		item, err = s.getItem(ctx, tx, id, s.dialect.LockClause)
		if err != nil {
			return err
		}
		entries, err = s.queryEntries(ctx, tx,
			`SELECT `+entryColumns+` FROM stock_log WHERE item_id = ? ORDER BY seq`, id)
		return err
	})
	if err != nil {
		return inventory.Item{}, nil, err
	}
	return item, entries, nil
}

func (s *Store) queryEntries(ctx context.Context, q queryer, query string, args ...any) ([]inventory.StockLogEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stock log: %w", err)
	}
	defer rows.Close()

	entries := []inventory.StockLogEntry{}
	for rows.Next() {
		var (
			e                                           inventory.StockLogEntry
			entryType                                   string
			createdBy, notes, reference, idempotencyKey sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.ItemID, &entryType, &e.QuantityChange,
			&createdBy, &notes, &reference, &idempotencyKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock log: %w", err)
		}
		e.Type = inventory.EntryType(entryType)
		e.CreatedBy = createdBy.String
		e.Notes = notes.String
		e.Reference = reference.String
		e.IdempotencyKey = idempotencyKey.String
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// withTx runs fn in a transaction. Engine errors returned by fn pass through
// untouched; driver errors become StorageError.
func (s *Store) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.Storage(op, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return inventory.Storage(op, err)
	}
	if err := tx.Commit(); err != nil {
		return inventory.Storage(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (inventory.Item, error) {
	var (
		it        inventory.Item
		createdBy sql.NullString
	)
	err := row.Scan(&it.ID, &it.Name, &it.SKU, &it.Category, &it.ModelNumber, &it.Location,
		&it.MinimumStock, &it.Quantity, &it.ReservedQuantity, &it.Active, &it.Version,
		&createdBy, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return it, err
	}
	it.CreatedBy = createdBy.String
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	return it, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return inventory.ErrConcurrentModification
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
