package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/amosWeiskopf/metalcrawl/internal/models"

	_ "modernc.org/sqlite"
)

// SQLite stores each dataset as a table in a shared database file. A batch
// is one transaction, so it lands completely or not at all.
type SQLite struct {
	db     *sql.DB
	path   string
	table  string
	schema models.Schema
	insert string
}

// NewSQLite opens the database at path and creates the dataset table if needed.
func NewSQLite(path, table string, schema models.Schema) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, path: path, table: table, schema: schema}

	cols := make([]string, 0, schema.Width())
	placeholders := make([]string, 0, schema.Width())
	for i, c := range schema.Header() {
		def := quoteIdent(c) + " TEXT NOT NULL"
		if i == 0 {
			def += " UNIQUE"
		}
		cols = append(cols, def)
		placeholders = append(placeholders, "?")
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (seq INTEGER PRIMARY KEY AUTOINCREMENT, %s)",
		quoteIdent(table), strings.Join(cols, ", "))
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}

	quoted := make([]string, 0, schema.Width())
	for _, c := range schema.Header() {
		quoted = append(quoted, quoteIdent(c))
	}
	s.insert = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	return s, nil
}

func (s *SQLite) Location() string { return s.path + "#" + s.table }

func (s *SQLite) Close() error { return s.db.Close() }

// Keys returns the key column in insertion order.
func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	return queryKeys(ctx, s.db, s.table, s.schema.Key)
}

func queryKeys(ctx context.Context, db *sql.DB, table, key string) ([]string, error) {
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY seq", quoteIdent(key), quoteIdent(table))
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Append inserts the batch in one transaction.
func (s *SQLite) Append(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkWidth(s.schema, records); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		row := r.Row()
		args := make([]any, len(row))
		for i, v := range row {
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s: %w", r.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
