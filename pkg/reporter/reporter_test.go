package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
)

type fakeSink struct {
	keys []string
	err  error
}

func (s fakeSink) Keys(context.Context) ([]string, error) { return s.keys, s.err }
func (s fakeSink) Location() string                         { return "data/bands.csv" }

type fakeCheckpoints struct{ cp *models.Checkpoint }

func (f fakeCheckpoints) Load() (*models.Checkpoint, error) { return f.cp, nil }

func sampleTargets() []Target {
	return []Target{
		{
			Dataset:     "bands",
			Sink:        fakeSink{keys: []string{"1", "2", "3"}},
			Checkpoints: fakeCheckpoints{cp: &models.Checkpoint{Dataset: "bands", Category: "C", Offset: 1500, UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}},
		},
		{
			Dataset:     "labels",
			Sink:        fakeSink{},
			Checkpoints: fakeCheckpoints{},
		},
	}
}

func TestCollect(t *testing.T) {
	report, err := New().Collect(context.Background(), sampleTargets())
	require.NoError(t, err)
	require.Len(t, report.Datasets, 2)

	assert.Equal(t, 3, report.Datasets[0].Records)
	assert.True(t, report.Datasets[0].InProgress())
	assert.Equal(t, 0, report.Datasets[1].Records)
	assert.False(t, report.Datasets[1].InProgress())
}

func TestCollectSinkError(t *testing.T) {
	_, err := New().Collect(context.Background(), []Target{{
		Dataset:     "bands",
		Sink:        fakeSink{err: errors.New("corrupt")},
		Checkpoints: fakeCheckpoints{},
	}})
	assert.ErrorContains(t, err, "corrupt")
}

func TestGenerateFormats(t *testing.T) {
	r := New()
	report, err := r.Collect(context.Background(), sampleTargets())
	require.NoError(t, err)

	out, err := r.Generate(report, FormatJSON)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "C", string(decoded.Datasets[0].Checkpoint.Category))
	assert.Nil(t, decoded.Datasets[1].Checkpoint)

	out, err = r.Generate(report, FormatMarkdown)
	require.NoError(t, err)
	assert.Contains(t, out, "| bands | 3 | C @ 1500 | data/bands.csv |")
	assert.Contains(t, out, "| labels | 0 | idle |")

	out, err = r.Generate(report, FormatTable)
	require.NoError(t, err)
	assert.Contains(t, out, "C @ 1500")
	assert.Contains(t, out, "labels")

	_, err = r.Generate(report, "html")
	assert.Error(t, err)
}
