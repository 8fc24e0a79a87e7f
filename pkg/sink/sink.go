// Package sink persists records of one dataset and reads back the identity
// keys written by earlier runs.
package sink

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
)

// Sink is an append-only record store with a fixed schema.
type Sink interface {
	// Keys returns every stored identity key in write order.
	Keys(ctx context.Context) ([]string, error)
	// Append stores the whole batch or nothing.
	Append(ctx context.Context, records []models.Record) error
	// Location describes where the records live, for logs and reports.
	Location() string
	Close() error
}

// Storage backends.
const (
	TypeCSV    = "csv"
	TypeSQLite = "sqlite"
)

// SQLiteFile is the database file name used under the storage path.
const SQLiteFile = "metalcrawl.db"

// Open returns the sink of dataset under dir for the given backend.
func Open(kind, dir, dataset string, schema models.Schema) (Sink, error) {
	switch strings.ToLower(kind) {
	case "", TypeCSV:
		return NewCSV(filepath.Join(dir, dataset+".csv"), schema)
	case TypeSQLite:
		return NewSQLite(filepath.Join(dir, SQLiteFile), dataset, schema)
	default:
		return nil, fmt.Errorf("unknown storage type %q", kind)
	}
}

func checkWidth(schema models.Schema, records []models.Record) error {
	for _, r := range records {
		if strings.TrimSpace(r.Key) == "" {
			return fmt.Errorf("record without identity key: %v", r.Values)
		}
		if len(r.Values)+1 != schema.Width() {
			return fmt.Errorf("record %s has %d columns, schema has %d", r.Key, len(r.Values)+1, schema.Width())
		}
	}
	return nil
}
