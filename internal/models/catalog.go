package models

import "time"

// Category is a partition of the remote catalog (a letter, a label ID, a band ID).
type Category string

// RawItem is one entry of a listing page, before any detail fetch
type RawItem struct {
	Category  Category `json:"category"`
	Key       string   `json:"key"`
	DetailURL string   `json:"detail_url,omitempty"`
	// Values holds the non-key columns already known from the listing, in schema order.
	Values []string `json:"values"`
}

// Record is the fully resolved row persisted to a sink.
type Record struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// Row returns the record as a flat row: key first, then the attribute columns.
func (r Record) Row() []string {
	row := make([]string, 0, len(r.Values)+1)
	row = append(row, r.Key)
	return append(row, r.Values...)
}

// Schema describes the fixed column layout of a dataset.
type Schema struct {
	Key     string   `json:"key"`
	Columns []string `json:"columns"`
}

// Header returns the key column followed by the attribute columns.
func (s Schema) Header() []string {
	header := make([]string, 0, len(s.Columns)+1)
	header = append(header, s.Key)
	return append(header, s.Columns...)
}

// Width is the number of columns of a row, key included.
func (s Schema) Width() int {
	return len(s.Columns) + 1
}

// Page is the result of one listing request.
type Page struct {
	Category Category  `json:"category"`
	Offset   int       `json:"offset"`
	Items    []RawItem `json:"items"`
}

// Empty reports whether the page is the terminal signal of its category.
func (p Page) Empty() bool {
	return len(p.Items) == 0
}

// Checkpoint is the persisted crawl position of a dataset.
type Checkpoint struct {
	Dataset   string    `json:"dataset"`
	Category  Category  `json:"category"`
	Offset    int       `json:"offset"`
	RunID     string    `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Response is the raw outcome of a catalog HTTP call.
type Response struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Body   []byte `json:"-"`
}
