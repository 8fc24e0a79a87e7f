package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
)

// Reader is the read side of a sink.
type Reader interface {
	Keys(ctx context.Context) ([]string, error)
	Location() string
	Close() error
}

// OpenReader opens the records of dataset under dir without touching the
// files. A dataset that was never written reads as empty, and a torn CSV
// tail is skipped rather than repaired.
func OpenReader(kind, dir, dataset string, schema models.Schema) (Reader, error) {
	switch strings.ToLower(kind) {
	case "", TypeCSV:
		return &csvReader{path: filepath.Join(dir, dataset+".csv"), schema: schema}, nil
	case TypeSQLite:
		return openSQLiteReader(filepath.Join(dir, SQLiteFile), dataset, schema)
	default:
		return nil, fmt.Errorf("unknown storage type %q", kind)
	}
}

type csvReader struct {
	path   string
	schema models.Schema
}

func (r *csvReader) Keys(ctx context.Context) ([]string, error) {
	keys, err := readCSVKeys(ctx, r.path, r.schema)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return keys, err
}

func (r *csvReader) Location() string { return r.path }

func (r *csvReader) Close() error { return nil }

// sqliteReader holds no connection when the database file does not exist.
type sqliteReader struct {
	db     *sql.DB
	path   string
	table  string
	schema models.Schema
}

func openSQLiteReader(path, table string, schema models.Schema) (*sqliteReader, error) {
	r := &sqliteReader{path: path, table: table, schema: schema}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return r, nil
	} else if err != nil {
		return nil, fmt.Errorf("stat sqlite: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	r.db = db
	return r, nil
}

func (r *sqliteReader) Keys(ctx context.Context) ([]string, error) {
	if r.db == nil {
		return nil, nil
	}
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", r.table).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("lookup table %s: %w", r.table, err)
	}
	if n == 0 {
		return nil, nil
	}
	return queryKeys(ctx, r.db, r.table, r.schema.Key)
}

func (r *sqliteReader) Location() string { return r.path + "#" + r.table }

func (r *sqliteReader) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
