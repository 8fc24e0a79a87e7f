package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
)

// Supported output formats.
const (
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// SinkReader is the read side of a persisted sink.
type SinkReader interface {
	Keys(ctx context.Context) ([]string, error)
	Location() string
}

// CheckpointReader loads a dataset's crawl position, nil when there is none.
type CheckpointReader interface {
	Load() (*models.Checkpoint, error)
}

// Target is one dataset to report on.
type Target struct {
	Dataset     string
	Sink        SinkReader
	Checkpoints CheckpointReader
}

// DatasetStatus is the state of one dataset on disk.
type DatasetStatus struct {
	Dataset    string             `json:"dataset"`
	Location   string             `json:"location"`
	Records    int                `json:"records"`
	Checkpoint *models.Checkpoint `json:"checkpoint,omitempty"`
}

// InProgress reports whether a crawl of the dataset was interrupted.
func (s DatasetStatus) InProgress() bool {
	return s.Checkpoint != nil
}

// Report is the status of every requested dataset.
type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Datasets    []DatasetStatus `json:"datasets"`
}

// Reporter handles report generation in various formats
type Reporter struct{}

// New creates a new Reporter instance
func New() *Reporter {
	return &Reporter{}
}

// Collect reads the record count and checkpoint of every target.
func (r *Reporter) Collect(ctx context.Context, targets []Target) (*Report, error) {
	report := &Report{GeneratedAt: time.Now().UTC()}
	for _, t := range targets {
		keys, err := t.Sink.Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: read sink: %w", t.Dataset, err)
		}
		cp, err := t.Checkpoints.Load()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Dataset, err)
		}
		report.Datasets = append(report.Datasets, DatasetStatus{
			Dataset:    t.Dataset,
			Location:   t.Sink.Location(),
			Records:    len(keys),
			Checkpoint: cp,
		})
	}
	return report, nil
}

// Generate renders report in the specified format
func (r *Reporter) Generate(report *Report, format string) (string, error) {
	switch format {
	case FormatJSON:
		return r.generateJSON(report)
	case FormatMarkdown:
		return r.generateMarkdown(report), nil
	case FormatTable, "":
		return r.generateTable(report), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// generateJSON creates a JSON formatted report
func (r *Reporter) generateJSON(report *Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	return string(data), nil
}

// generateMarkdown creates a Markdown formatted report
func (r *Reporter) generateMarkdown(report *Report) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Crawl Status\n\n")
	fmt.Fprintf(&buf, "*Generated on %s*\n\n", report.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(&buf, "| Dataset | Records | Position | Location |\n")
	fmt.Fprintf(&buf, "|---------|---------|----------|----------|\n")
	for _, ds := range report.Datasets {
		fmt.Fprintf(&buf, "| %s | %d | %s | %s |\n", ds.Dataset, ds.Records, position(ds), ds.Location)
	}
	return buf.String()
}

func (r *Reporter) generateTable(report *Report) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Dataset", "Records", "Position", "Updated", "Location"})
	for _, ds := range report.Datasets {
		updated := ""
		if ds.Checkpoint != nil {
			updated = ds.Checkpoint.UpdatedAt.Format(time.ANSIC)
		}
		t.AppendRow(table.Row{ds.Dataset, ds.Records, position(ds), updated, ds.Location})
	}
	t.SetStyle(table.StyleRounded)
	return t.Render()
}

func position(ds DatasetStatus) string {
	if !ds.InProgress() {
		return "idle"
	}
	return fmt.Sprintf("%s @ %d", ds.Checkpoint.Category, ds.Checkpoint.Offset)
}
