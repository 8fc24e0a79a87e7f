package source

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
	"github.com/amosWeiskopf/metalcrawl/pkg/backoff"
)

var fastPolicy = backoff.Policy{
	RateLimitBase:     time.Millisecond,
	TransientBase:     time.Millisecond,
	TransientAttempts: 2,
}

type step struct {
	status int
	body   string
	err    error
}

// scripted replays one step per call and repeats the last one forever.
type scripted struct {
	mu    sync.Mutex
	steps []step
	calls int
	urls  []string
}

func (s *scripted) next(url string) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	s.urls = append(s.urls, url)
	st := s.steps[i]
	if st.err != nil {
		return nil, st.err
	}
	return &models.Response{URL: url, Status: st.status, Body: []byte(st.body)}, nil
}

func (s *scripted) ListPage(_ context.Context, cat models.Category, offset int) (*models.Response, error) {
	return s.next(string(cat))
}

func (s *scripted) FetchDetail(_ context.Context, url string) (*models.Response, error) {
	return s.next(url)
}

func commaParser(cat models.Category, body []byte) ([]models.RawItem, error) {
	if string(body) == "garbage" {
		return nil, errors.New("not a listing")
	}
	var items []models.RawItem
	for _, k := range strings.Split(string(body), ",") {
		if k != "" {
			items = append(items, models.RawItem{Category: cat, Key: k})
		}
	}
	return items, nil
}

func newSource(t *testing.T, l Lister, paginated bool) *Source {
	t.Helper()
	s, err := New(Options{Lister: l, Parse: commaParser, Paginated: paginated, Policy: fastPolicy, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return s
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		resp *models.Response
		err  error
		want Outcome
	}{
		{"ok", ctx, &models.Response{Status: http.StatusOK}, nil, OK},
		{"rate limited", ctx, &models.Response{Status: http.StatusTooManyRequests}, nil, RateLimited},
		{"not found", ctx, &models.Response{Status: http.StatusNotFound}, nil, Fatal},
		{"server error", ctx, &models.Response{Status: http.StatusBadGateway}, nil, Fatal},
		{"connection reset", ctx, nil, errors.New("connection reset by peer"), Transient},
		{"robots", ctx, nil, ErrDisallowed, Fatal},
		{"cancelled", cancelled, nil, context.Canceled, Aborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Classify(tt.ctx, tt.resp, tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchPage(t *testing.T) {
	l := &scripted{steps: []step{{status: 200, body: "1,2,3"}}}
	page, err := newSource(t, l, true).Fetch(context.Background(), "A", 500)
	require.NoError(t, err)
	assert.Equal(t, 500, page.Offset)
	assert.Len(t, page.Items, 3)
	assert.False(t, page.Empty())
}

func TestFetchEmptyPage(t *testing.T) {
	l := &scripted{steps: []step{{status: 200, body: ""}}}
	page, err := newSource(t, l, true).Fetch(context.Background(), "A", 0)
	require.NoError(t, err)
	assert.True(t, page.Empty())
}

func TestFetchRateLimited(t *testing.T) {
	l := &scripted{steps: []step{{status: 429}}}
	_, err := newSource(t, l, true).Fetch(context.Background(), "A", 0)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, l.calls, "rate limits are retried by the caller")
}

func TestFetchCategoryFatal(t *testing.T) {
	l := &scripted{steps: []step{{status: 403}}}
	_, err := newSource(t, l, true).Fetch(context.Background(), "B", 200)

	var ce *CategoryError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.Category("B"), ce.Category)
	assert.Equal(t, 200, ce.Offset)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 403, se.Status)
}

func TestFetchUnparseableIsCategoryFatal(t *testing.T) {
	l := &scripted{steps: []step{{status: 200, body: "garbage"}}}
	_, err := newSource(t, l, true).Fetch(context.Background(), "B", 0)
	var ce *CategoryError
	assert.ErrorAs(t, err, &ce)
}

func TestFetchTransientRecovers(t *testing.T) {
	l := &scripted{steps: []step{
		{err: errors.New("connection reset")},
		{err: errors.New("timeout")},
		{status: 200, body: "9"},
	}}
	page, err := newSource(t, l, true).Fetch(context.Background(), "A", 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 3, l.calls)
}

func TestFetchTransientExhausted(t *testing.T) {
	l := &scripted{steps: []step{{err: errors.New("connection reset")}}}
	_, err := newSource(t, l, true).Fetch(context.Background(), "A", 0)
	assert.ErrorIs(t, err, ErrTransientExhausted)
	var ce *CategoryError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, fastPolicy.TransientAttempts+1, l.calls)
}

func TestFetchSinglePageEndpoint(t *testing.T) {
	l := &scripted{steps: []step{{status: 200, body: "1,2"}}}
	s := newSource(t, l, false)

	page, err := s.Fetch(context.Background(), "42", 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	page, err = s.Fetch(context.Background(), "42", 1000)
	require.NoError(t, err)
	assert.True(t, page.Empty())
	assert.Equal(t, 1, l.calls, "no request past the only page")
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Parse: commaParser})
	assert.Error(t, err)
	_, err = New(Options{Lister: &scripted{}})
	assert.Error(t, err)
}
