// Package sqlite stores persisted stats records in a SQLite database, one
// table per mode keyed by participant name.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/siohaza/catchd/internal/persist"
	"github.com/siohaza/catchd/internal/stats"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed stats persistence.
type Store struct {
	sqlDB *sql.DB
}

var _ persist.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// one writer at a time; pragmas below apply to this connection
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000; PRAGMA synchronous = NORMAL;"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// EnsureTable creates the table if missing and adds columns the schema
// gained since the table was created.
func (s *Store) EnsureTable(ctx context.Context, table string, schema stats.Schema) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if !stats.ValidIdentifier(table) {
		return fmt.Errorf("invalid table name %q", table)
	}

	defs := make([]string, 0, schema.Len()+2)
	defs = append(defs, "name TEXT NOT NULL")
	for _, c := range schema.Columns() {
		defs = append(defs, columnDef(c))
	}
	defs = append(defs, "PRIMARY KEY (name)")

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
	if _, err := s.sqlDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	for _, c := range schema.Columns() {
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, columnDef(c))
		if _, err := s.sqlDB.ExecContext(ctx, query); err != nil && !isAlreadyExistsError(err) {
			return fmt.Errorf("add column %s.%s: %w", table, c.Name, err)
		}
	}
	return nil
}

func columnDef(c stats.Column) string {
	sqlType := c.SQLType
	if sqlType == "" {
		sqlType = "INTEGER"
	}
	return fmt.Sprintf("%s %s NOT NULL DEFAULT %d", c.Name, sqlType, c.Default)
}

func isAlreadyExistsError(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column name")
}

// Begin starts a transaction for one persistence request.
func (s *Store) Begin(ctx context.Context) (persist.Tx, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Select(ctx context.Context, table, name string, schema stats.Schema) ([]int64, bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE name = ?", strings.Join(schema.Names(), ", "), table)

	values := make([]int64, schema.Len())
	dest := make([]any, len(values))
	for i := range values {
		dest[i] = &values[i]
	}

	rows, err := t.tx.QueryContext(ctx, query, name)
	if err != nil {
		return nil, false, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var matched int64
	for rows.Next() {
		matched++
		if matched > 1 {
			continue
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, false, fmt.Errorf("scan %s: %w", table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("select %s: %w", table, err)
	}

	switch matched {
	case 0:
		return nil, false, nil
	case 1:
		return values, true, nil
	default:
		return nil, false, &persist.IntegrityError{Step: "select", Name: name, Table: table, Rows: matched}
	}
}

func (t *Tx) Insert(ctx context.Context, table, name string, schema stats.Schema, values []int64) error {
	names := schema.Names()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)+1), ", ")
	query := fmt.Sprintf("INSERT INTO %s (name, %s) VALUES (%s)", table, strings.Join(names, ", "), placeholders)

	args := make([]any, 0, len(values)+1)
	args = append(args, name)
	for _, v := range values {
		args = append(args, v)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (t *Tx) Update(ctx context.Context, table, name string, schema stats.Schema, values []int64) (int64, error) {
	names := schema.Names()
	sets := make([]string, len(names))
	for i, n := range names {
		sets[i] = n + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE name = ?", table, strings.Join(sets, ", "))

	args := make([]any, 0, len(values)+1)
	for _, v := range values {
		args = append(args, v)
	}
	args = append(args, name)

	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rows, nil
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
