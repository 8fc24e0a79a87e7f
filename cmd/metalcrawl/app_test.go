package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/metalcrawl/internal/config"
	"github.com/amosWeiskopf/metalcrawl/internal/models"
	"github.com/amosWeiskopf/metalcrawl/pkg/catalog"
	"github.com/amosWeiskopf/metalcrawl/pkg/checkpoint"
	"github.com/amosWeiskopf/metalcrawl/pkg/reporter"
)

// fakeArchive serves two labels under "A" and a roster for label 12.
type fakeArchive struct {
	mu       sync.Mutex
	requests []string
}

func (f *fakeArchive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.URL.Path+"@"+r.URL.Query().Get("iDisplayStart"))
	f.mu.Unlock()

	start := r.URL.Query().Get("iDisplayStart")
	switch {
	case r.URL.Path == "/label/ajax-list/json/1/l/A" && start == "0":
		fmt.Fprint(w, `{"aaData": [
			["", "<a href='/labels/Moribund_Records/12'>Moribund Records</a>", "Black", "active", "United States", "", "Yes"],
			["", "<a href='/labels/Nuclear_War_Now/34'>Nuclear War Now!</a>", "War", "active", "United States", "", "Yes"]
		]}`)
	case r.URL.Path == "/label/ajax-bands/nbrPerPage/100/id/12" && start == "0":
		fmt.Fprint(w, `{"aaData": [
			["<a href='/bands/Judas_Iscariot/88'>Judas Iscariot</a>", "", ""],
			["<a href='/bands/Leviathan/99'>Leviathan</a>", "", ""]
		]}`)
	case strings.HasPrefix(r.URL.Path, "/band/discography/"):
		http.NotFound(w, r)
	default:
		fmt.Fprint(w, `{"aaData": []}`)
	}
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Crawler.BaseURL = baseURL
	cfg.Crawler.RequestsPerSecond = 1000
	cfg.Crawler.Burst = 100
	cfg.Crawler.FollowRobotsTxt = false
	cfg.Crawler.ProgressInterval = 0
	cfg.Backoff.RateLimitBase = time.Millisecond
	cfg.Backoff.TransientBase = time.Millisecond
	cfg.Storage.Path = dir
	cfg.Storage.CheckpointDir = filepath.Join(dir, "checkpoints")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestCrawlLabelsThenRosters(t *testing.T) {
	archive := &fakeArchive{}
	srv := httptest.NewServer(archive)
	defer srv.Close()

	a := newApp(testConfig(t, srv.URL), zerolog.Nop())
	ctx := context.Background()

	results, err := a.crawlAll(ctx, []string{catalog.Labels, catalog.Rosters})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, int64(2), results[0].Accepted)
	assert.False(t, results[0].Interrupted)
	assert.Equal(t, int64(2), results[1].Accepted)
	assert.Empty(t, results[1].Abandoned)

	rosters, err := os.ReadFile(filepath.Join(a.cfg.Storage.Path, "rosters.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Key,Label ID,Band ID\n12:88,12,88\n12:99,12,99\n", string(rosters))

	report, err := a.status(ctx, []string{catalog.Labels, catalog.Rosters})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Datasets[0].Records)
	assert.Equal(t, 2, report.Datasets[1].Records)
	assert.False(t, report.Datasets[0].InProgress(), "a finished crawl leaves no checkpoint")

	// A second run finds nothing new.
	again, err := a.crawl(ctx, catalog.Labels)
	require.NoError(t, err)
	assert.Zero(t, again.Accepted)
	assert.Equal(t, int64(2), again.Duplicates)
}

func TestCrawlDependentWithoutInput(t *testing.T) {
	srv := httptest.NewServer(&fakeArchive{})
	defer srv.Close()

	a := newApp(testConfig(t, srv.URL), zerolog.Nop())
	_, err := a.crawl(context.Background(), catalog.Rosters)
	assert.ErrorIs(t, err, catalog.ErrNoInput)
}

func TestCrawlResumesFromCheckpoint(t *testing.T) {
	archive := &fakeArchive{}
	srv := httptest.NewServer(archive)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	store, err := checkpoint.NewStore(cfg.Storage.CheckpointDir, catalog.Labels)
	require.NoError(t, err)
	require.NoError(t, store.Save(models.Checkpoint{Dataset: catalog.Labels, Category: "Y", Offset: 200}))

	a := newApp(cfg, zerolog.Nop())
	res, err := a.crawl(context.Background(), catalog.Labels)
	require.NoError(t, err)
	assert.Zero(t, res.Accepted, "letter A was finished before the checkpoint")
	assert.Equal(t, []string{
		"/label/ajax-list/json/1/l/Y@200",
		"/label/ajax-list/json/1/l/Z@0",
		"/label/ajax-list/json/1/l/NBR@0",
	}, archive.requests)

	cp, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestCrawlInterruptedBeforeStart(t *testing.T) {
	archive := &fakeArchive{}
	srv := httptest.NewServer(archive)
	defer srv.Close()

	a := newApp(testConfig(t, srv.URL), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := a.crawlAll(ctx, []string{catalog.Labels, catalog.Rosters})
	require.NoError(t, err)
	require.Len(t, results, 1, "later datasets are not started after an interruption")
	assert.True(t, results[0].Interrupted)
	assert.Empty(t, archive.requests)
}

func TestReset(t *testing.T) {
	cfg := testConfig(t, catalog.DefaultBaseURL)
	store, err := checkpoint.NewStore(cfg.Storage.CheckpointDir, catalog.Bands)
	require.NoError(t, err)
	require.NoError(t, store.Save(models.Checkpoint{Dataset: catalog.Bands, Category: "M", Offset: 1000}))

	a := newApp(cfg, zerolog.Nop())
	require.NoError(t, a.reset(catalog.Bands))
	cp, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)

	assert.Error(t, a.reset("reviews"))
}

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
storage:
  path: %s
logging:
  output_path: %s
`, filepath.Join(dir, "data"), filepath.Join(dir, "metalcrawl.log"))), 0o644))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"status", "bands", "labels", "--format", "json", "--config", cfgPath})
	require.NoError(t, root.Execute())

	var report reporter.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report.Datasets, 2)
	assert.Equal(t, catalog.Bands, report.Datasets[0].Dataset)
	assert.Zero(t, report.Datasets[0].Records)
}

func TestStatusLeavesSinksUntouched(t *testing.T) {
	a := newApp(testConfig(t, catalog.DefaultBaseURL), zerolog.Nop())
	labels := filepath.Join(a.cfg.Storage.Path, "labels.csv")
	torn := "ID,Name,Specialization,Status,Country,Website,Online Shopping\n" +
		"12,Moribund Records,Black,active,United States,,Yes\n" +
		"2,partial-row-being-written"
	require.NoError(t, os.WriteFile(labels, []byte(torn), 0o644))

	report, err := a.status(context.Background(), []string{catalog.Bands, catalog.Labels})
	require.NoError(t, err)
	assert.Zero(t, report.Datasets[0].Records)
	assert.Equal(t, 1, report.Datasets[1].Records)

	_, err = os.Stat(filepath.Join(a.cfg.Storage.Path, "bands.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist, "status must not create a missing sink")
	data, err := os.ReadFile(labels)
	require.NoError(t, err)
	assert.Equal(t, torn, string(data), "status must not repair a torn tail")
}

func TestCrawlDependentLeavesInputMissing(t *testing.T) {
	srv := httptest.NewServer(&fakeArchive{})
	defer srv.Close()

	a := newApp(testConfig(t, srv.URL), zerolog.Nop())
	_, err := a.crawl(context.Background(), catalog.Rosters)
	require.ErrorIs(t, err, catalog.ErrNoInput)

	_, err = os.Stat(filepath.Join(a.cfg.Storage.Path, "labels.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCrawlSummaryGoesToStderr(t *testing.T) {
	srv := httptest.NewServer(&fakeArchive{})
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
crawler:
  base_url: %s
  requests_per_second: 1000
  burst: 100
  follow_robots_txt: false
  progress_interval: 0s
storage:
  path: %s
logging:
  output_path: %s
`, srv.URL, filepath.Join(dir, "data"), filepath.Join(dir, "metalcrawl.log"))), 0o644))

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"crawl", "labels", "--config", cfgPath})
	require.NoError(t, root.Execute())

	assert.Contains(t, errOut.String(), "labels: 2 records added, 0 duplicates, 0 failures (complete)")
	assert.NotContains(t, out.String(), "records added")
}

func TestUnknownDatasetArgument(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"crawl", "reviews"})
	assert.Error(t, root.Execute())
}
