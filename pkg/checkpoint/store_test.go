package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
)

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore("", "bands")
	assert.Error(t, err)
	_, err = NewStore(t.TempDir(), " ")
	assert.Error(t, err)
}

func TestLoadAbsent(t *testing.T) {
	s, err := NewStore(t.TempDir(), "bands")
	require.NoError(t, err)

	cp, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestSaveLoadClear(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, "bands")
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(models.Checkpoint{Category: "C", Offset: 1000, RunID: "run-1", UpdatedAt: now}))
	require.NoError(t, s.Save(models.Checkpoint{Category: "D", Offset: 500, RunID: "run-1", UpdatedAt: now}))

	cp, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "bands", cp.Dataset)
	assert.Equal(t, models.Category("D"), cp.Category)
	assert.Equal(t, 500, cp.Offset)
	assert.True(t, now.Equal(cp.UpdatedAt))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "bands.json", entries[0].Name())

	require.NoError(t, s.Clear())
	cp, err = s.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)

	assert.NoError(t, s.Clear(), "clearing twice is fine")
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, "labels")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labels.json"), []byte(`{"category": "A", "off`), 0o644))

	_, err = s.Load()
	assert.Error(t, err)
}

func TestLoadRejectsForeignDataset(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, "labels")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labels.json"), []byte(`{"dataset":"bands","category":"A","offset":0}`), 0o644))

	_, err = s.Load()
	assert.ErrorContains(t, err, "bands")
}
