package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSV is a flat file sink: a header row, then one line per record.
//
// A batch is encoded in memory and written with a single append followed by
// fsync. If the process dies mid-write, the torn last line is cut off the
// next time the file is opened.
type CSV struct {
	mu     sync.Mutex
	path   string
	schema models.Schema
}

// NewCSV opens or creates the CSV sink at path.
func NewCSV(path string, schema models.Schema) (*CSV, error) {
	s := &CSV{path: path, schema: schema}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}

	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist) || (err == nil && fi.Size() == 0):
		if err := s.writeHeader(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("stat sink: %w", err)
	}

	if err := repairTail(path); err != nil {
		return nil, fmt.Errorf("repair %s: %w", path, err)
	}
	if err := s.checkHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CSV) Location() string { return s.path }

func (s *CSV) Close() error { return nil }

func (s *CSV) writeHeader() error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(s.schema.Header()); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

func (s *CSV) checkHeader() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	header, err := newReader(f).Read()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", s.path, err)
	}
	if !slices.Equal(header, s.schema.Header()) {
		return fmt.Errorf("%s has columns %v, want %v", s.path, header, s.schema.Header())
	}
	return nil
}

// Keys reads the key column of every row.
func (s *CSV) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readCSVKeys(ctx, s.path, s.schema)
}

// readCSVKeys reads the key column of the complete lines of path. Bytes
// after the last newline belong to an unfinished write and are ignored.
func readCSVKeys(ctx context.Context, path string, schema models.Schema) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sink: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat sink: %w", err)
	}
	end, err := lastLineEnd(f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if end <= 0 {
		return nil, nil
	}

	r := newReader(io.NewSectionReader(f, 0, end))
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(header, schema.Header()) {
		return nil, fmt.Errorf("%s has columns %v, want %v", path, header, schema.Header())
	}

	var keys []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if len(row) == 0 {
			continue
		}
		if key := strings.TrimSpace(row[0]); key != "" {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// appendFile is the part of *os.File that Append needs.
type appendFile interface {
	io.Writer
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

var openAppend = func(path string) (appendFile, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
}

// Append writes all records with one write call. A failed write or sync is
// cut back off the file.
func (s *CSV) Append(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkWidth(s.schema, records); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, r := range records {
		if err := w.Write(singleLine(r.Row())); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := openAppend(s.path)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat sink: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return rollback(f, fi.Size(), fmt.Errorf("append: %w", err))
	}
	if err := f.Sync(); err != nil {
		return rollback(f, fi.Size(), fmt.Errorf("sync: %w", err))
	}
	return f.Close()
}

// rollback truncates f back to size after a failed append. If that fails
// too, the next open repairs the tail.
func rollback(f appendFile, size int64, cause error) error {
	if err := f.Truncate(size); err != nil {
		cause = errors.Join(cause, fmt.Errorf("truncate: %w", err))
	}
	return errors.Join(cause, f.Close())
}

// singleLine keeps one record per physical line so tail repair can work on
// line boundaries.
func singleLine(row []string) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(v)
	}
	return out
}

func newReader(f io.Reader) *csv.Reader {
	br := bufio.NewReader(f)
	if head, _ := br.Peek(len(utf8BOM)); bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	return r
}

// repairTail truncates everything after the last newline.
func repairTail(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if size == 0 {
		return nil
	}
	cut, err := lastLineEnd(f, size)
	if err != nil {
		return err
	}
	if cut < 0 {
		// No newline at all: not even the header survived.
		return errors.New("no complete line in file")
	}
	if cut == size {
		return nil
	}
	if err := f.Truncate(cut); err != nil {
		return err
	}
	return f.Sync()
}

// lastLineEnd returns the offset just past the last newline in the first
// size bytes of f, or -1 if there is none.
func lastLineEnd(f io.ReaderAt, size int64) (int64, error) {
	const chunk = 64 * 1024
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return -1, nil
}
