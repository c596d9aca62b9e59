package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gwi.com/wellbeing-companion/internal/store"
)

const testUserID = "65a1f0c2e4b0a1b2c3d4e5f6"

var errStoreDown = errors.New("store down")

func newSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// recordingCounters is a CounterStore that records calls and can be made
// to fail.
type recordingCounters struct {
	mu        sync.Mutex
	fail      bool
	sensitive map[string]int
	userKW    map[string]int
	selection map[string]int
	outcomes  map[string]int
}

func newRecordingCounters() *recordingCounters {
	return &recordingCounters{
		sensitive: map[string]int{},
		userKW:    map[string]int{},
		selection: map[string]int{},
		outcomes:  map[string]int{},
	}
}

func (r *recordingCounters) bump(m map[string]int, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errStoreDown
	}
	m[key]++
	return nil
}

func (r *recordingCounters) IncrementSensitiveWord(_ context.Context, userID, category string, _ time.Time) error {
	return r.bump(r.sensitive, userID+"/"+category)
}

func (r *recordingCounters) IncrementUserKeyword(_ context.Context, userID string, kw store.KeywordDefinition, _ time.Time) error {
	return r.bump(r.userKW, userID+"/"+kw.ID)
}

func (r *recordingCounters) IncrementKeywordSelection(_ context.Context, keywordID string, _ time.Time) error {
	return r.bump(r.selection, keywordID)
}

func (r *recordingCounters) IncrementOutcome(_ context.Context, entity string) error {
	return r.bump(r.outcomes, entity)
}

func (r *recordingCounters) OutcomeCount(_ context.Context, entity string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(r.outcomes[entity]), nil
}

func (r *recordingCounters) count(m map[string]int, key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return m[key]
}

// countingKeywords is a KeywordStore that counts list calls.
type countingKeywords struct {
	mu       sync.Mutex
	calls    int
	fail     bool
	keywords []store.KeywordDefinition
}

func (c *countingKeywords) ListKeywords(context.Context) ([]store.KeywordDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail {
		return nil, errStoreDown
	}
	return append([]store.KeywordDefinition(nil), c.keywords...), nil
}

func (c *countingKeywords) UpsertKeyword(_ context.Context, kw store.KeywordDefinition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keywords = append(c.keywords, kw)
	return nil
}

func (c *countingKeywords) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func waitTracker(t *testing.T, tr *Tracker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Wait(ctx))
}
