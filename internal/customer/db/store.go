// Package db provides the durable local store for the customer cache.
//
// The store is an embedded SQLite database (ncruces/go-sqlite3, WAL mode)
// holding one table of customers keyed by id, with a unique index on the
// normalized name. That index is the storage-level guard for the cache's
// core invariant: at most one customer per trimmed, case-insensitive name.
//
// Architecture:
//   - Database file: .custcache/customers.db
//   - WAL mode: readers never block on the resync transaction
//   - Schema: customers, tombstones
//   - Indexes: unique name_key, name (ordered scans)
//
// The store does not serialize callers itself. The sync engine owns the
// single-writer discipline; the unique index catches anything that bypasses it.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mschirtzinger/custcache/internal/customer/schema"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection holding the customer cache.
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		db.now = now
	}
}

// Open creates a new database connection at the specified path.
//
// The database is opened in WAL mode. If the file doesn't exist it is
// created; call InitSchema before use.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := db.Open(".custcache/customers.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the schema if it doesn't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		role TEXT NOT NULL CHECK (role IN ('Admin', 'Manager')),
		name_key TEXT NOT NULL,  -- lower(trim(name)), computed in Go
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Ids deleted locally; cleared by a full resync
	CREATE TABLE IF NOT EXISTS tombstones (
		id TEXT PRIMARY KEY,
		deleted_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_name_key ON customers(name_key);
	CREATE INDEX IF NOT EXISTS idx_customers_name ON customers(name);
	CREATE INDEX IF NOT EXISTS idx_customers_role ON customers(role);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

const selectColumns = `id, name, email, role, created_at, updated_at`

// GetAll returns every customer ordered by name (ordinal comparison).
func (db *DB) GetAll(ctx context.Context) ([]schema.Customer, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM customers ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, storageErr("query customers", err)
	}
	defer rows.Close()

	return scanCustomers(rows)
}

// GetByID returns the customer with the given id, or nil if there is none.
func (db *DB) GetByID(ctx context.Context, id string) (*schema.Customer, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM customers WHERE id = ?`, id)
	return scanOne(row, "get customer "+id)
}

// GetByNormalizedName returns a customer whose normalized name matches name,
// skipping excludeID. Returns nil if there is none.
func (db *DB) GetByNormalizedName(ctx context.Context, name, excludeID string) (*schema.Customer, error) {
	return getByNameKey(ctx, db.conn, schema.NormalizeName(name), excludeID)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getByNameKey(ctx context.Context, q queryer, key, excludeID string) (*schema.Customer, error) {
	var row *sql.Row
	if excludeID != "" {
		row = q.QueryRowContext(ctx,
			`SELECT `+selectColumns+` FROM customers WHERE name_key = ? AND id != ? LIMIT 1`, key, excludeID)
	} else {
		row = q.QueryRowContext(ctx,
			`SELECT `+selectColumns+` FROM customers WHERE name_key = ? LIMIT 1`, key)
	}
	return scanOne(row, "look up customer by name")
}

// Insert adds a new customer.
//
// Returns *DuplicateNameError if another customer has the same normalized
// name, and ErrDeletedID if the id belongs to a deleted customer.
// CreatedAt and UpdatedAt are set on c.
func (db *DB) Insert(ctx context.Context, c *schema.Customer) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	var tombstoned int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tombstones WHERE id = ?`, c.ID).Scan(&tombstoned)
	if err != nil {
		return storageErr("check tombstones", err)
	}
	if tombstoned > 0 {
		return fmt.Errorf("failed to insert customer %s: %w", c.ID, ErrDeletedID)
	}

	existing, err := getByNameKey(ctx, tx, c.NameKey(), "")
	if err != nil {
		return err
	}
	if existing != nil {
		return &DuplicateNameError{Name: c.Name, ExistingID: existing.ID}
	}

	now := db.now().UTC()
	if err := insertRow(ctx, tx, c, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit insert", err)
	}

	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// Update overwrites the name, email and role of an existing customer.
//
// Returns *NotFoundError if the id doesn't exist (no upsert) and
// *DuplicateNameError if another customer holds the normalized name.
// CreatedAt is preserved; UpdatedAt is refreshed. Both are set on c.
func (db *DB) Update(ctx context.Context, c *schema.Customer) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	current, err := scanOne(tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM customers WHERE id = ?`, c.ID), "get customer "+c.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return &NotFoundError{ID: c.ID}
	}

	existing, err := getByNameKey(ctx, tx, c.NameKey(), c.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return &DuplicateNameError{Name: c.Name, ExistingID: existing.ID}
	}

	now := db.now().UTC()
	_, err = tx.ExecContext(ctx, `
	UPDATE customers
	SET name = ?, email = ?, role = ?, name_key = ?, updated_at = ?
	WHERE id = ?`,
		c.Name,
		emailToNull(c.Email),
		string(c.Role),
		c.NameKey(),
		formatTime(now),
		c.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &DuplicateNameError{Name: c.Name}
		}
		return storageErr("update customer "+c.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit update", err)
	}

	c.CreatedAt = current.CreatedAt
	c.UpdatedAt = now
	return nil
}

// Delete removes a customer and records its id as deleted.
// Returns nil if the customer doesn't exist (idempotent).
func (db *DB) Delete(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete customer "+id, err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO tombstones (id, deleted_at) VALUES (?, ?)`,
			id, formatTime(db.now().UTC()))
		if err != nil {
			return storageErr("record tombstone for "+id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit delete", err)
	}
	return nil
}

// IsTombstoned reports whether id was deleted locally since the last resync.
func (db *DB) IsTombstoned(ctx context.Context, id string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tombstones WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, storageErr("check tombstones", err)
	}
	return count > 0, nil
}

// ReplaceResult reports what ReplaceAll wrote.
type ReplaceResult struct {
	// Inserted is the number of customers now in the table.
	Inserted int
	// Skipped lists customers dropped as duplicates (by name or id) or for
	// having no id, in input order.
	Skipped []schema.Customer
}

// ReplaceAll clears the table and inserts customers in one transaction.
//
// Duplicates are resolved first occurrence wins, by normalized name and by
// id. A row the unique index still rejects is skipped rather than failing
// the replace. Any other error rolls back, leaving the previous contents.
// Tombstones are cleared: a resync is the only way a deleted id returns.
func (db *DB) ReplaceAll(ctx context.Context, customers []schema.Customer) (ReplaceResult, error) {
	var result ReplaceResult

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM customers`); err != nil {
		return result, storageErr("clear customers", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tombstones`); err != nil {
		return result, storageErr("clear tombstones", err)
	}

	now := db.now().UTC()
	seenNames := make(map[string]bool, len(customers))
	seenIDs := make(map[string]bool, len(customers))

	for i := range customers {
		c := customers[i]
		key := c.NameKey()
		if c.ID == "" || seenNames[key] || seenIDs[c.ID] {
			result.Skipped = append(result.Skipped, c)
			continue
		}
		seenNames[key] = true
		seenIDs[c.ID] = true

		if err := insertRow(ctx, tx, &c, now); err != nil {
			if errors.Is(err, ErrDuplicateName) {
				result.Skipped = append(result.Skipped, c)
				continue
			}
			return ReplaceResult{}, err
		}
		result.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return ReplaceResult{}, storageErr("commit replace", err)
	}

	return result, nil
}

func insertRow(ctx context.Context, q queryer, c *schema.Customer, now time.Time) error {
	_, err := q.ExecContext(ctx, `
	INSERT INTO customers (id, name, email, role, name_key, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.Name,
		emailToNull(c.Email),
		string(c.Role),
		c.NameKey(),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		if errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY) {
			return fmt.Errorf("failed to insert customer %s: %w", c.ID, ErrDuplicateID)
		}
		if isUniqueViolation(err) {
			return &DuplicateNameError{Name: c.Name}
		}
		return storageErr("insert customer "+c.ID, err)
	}
	return nil
}

// Count returns the number of customers.
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM customers").Scan(&count); err != nil {
		return 0, storageErr("count customers", err)
	}
	return count, nil
}

// Filter configures List.
type Filter struct {
	// Search matches customers whose normalized name contains it (empty = all).
	Search string
	// Role restricts to one role (empty = all roles).
	Role schema.Role
	// UpdatedSince keeps customers updated at or after it (zero = no bound).
	UpdatedSince time.Time
	// Limit restricts the number of results (0 = no limit).
	Limit int
	// Offset skips the first N results.
	Offset int
}

// List returns customers matching filter, ordered by name.
func (db *DB) List(ctx context.Context, filter Filter) ([]schema.Customer, error) {
	var conditions []string
	var args []any

	if q := schema.NormalizeName(filter.Search); q != "" {
		conditions = append(conditions, `name_key LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(q)+"%")
	}

	if filter.Role != "" {
		conditions = append(conditions, "role = ?")
		args = append(args, string(filter.Role))
	}

	if !filter.UpdatedSince.IsZero() {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, formatTime(filter.UpdatedSince.UTC()))
	}

	query := `SELECT ` + selectColumns + ` FROM customers`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY name ASC, id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list customers", err)
	}
	defer rows.Close()

	return scanCustomers(rows)
}

// Stats summarizes the cache contents.
type Stats struct {
	Total      int                 `json:"total"`
	ByRole     map[schema.Role]int `json:"by_role"`
	Tombstones int                 `json:"tombstones"`
}

// Stats returns customer counts by role.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByRole: make(map[schema.Role]int)}
	for _, r := range schema.Roles {
		stats.ByRole[r] = 0
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT role, COUNT(*) FROM customers GROUP BY role`)
	if err != nil {
		return stats, storageErr("count customers by role", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return stats, storageErr("scan role count", err)
		}
		stats.ByRole[schema.Role(role)] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return stats, storageErr("iterate role counts", err)
	}

	err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tombstones`).Scan(&stats.Tombstones)
	if err != nil {
		return stats, storageErr("count tombstones", err)
	}

	return stats, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(s rowScanner) (*schema.Customer, error) {
	var c schema.Customer
	var email sql.NullString
	var role, createdAt, updatedAt string

	if err := s.Scan(&c.ID, &c.Name, &email, &role, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	c.Email = email.String
	c.Role = schema.NormalizeRole(&role)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func scanOne(row *sql.Row, op string) (*schema.Customer, error) {
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(op, err)
	}
	return c, nil
}

func scanCustomers(rows *sql.Rows) ([]schema.Customer, error) {
	customers := []schema.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, storageErr("scan customer", err)
		}
		customers = append(customers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate customers", err)
	}
	return customers, nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, sqlite3.CONSTRAINT_UNIQUE)
}

func emailToNull(email string) sql.NullString {
	if email == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: email, Valid: true}
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
