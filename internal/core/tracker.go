package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gwi.com/wellbeing-companion/internal/metrics"
	"gwi.com/wellbeing-companion/internal/store"
)

const defaultTrackingTimeout = 10 * time.Second

// Tracker applies best-effort counter updates in the background. Failures
// are logged and counted, never returned.
type Tracker struct {
	counters store.CounterStore
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	wg sync.WaitGroup
}

func NewTracker(counters store.CounterStore, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Tracker {
	if timeout <= 0 {
		timeout = defaultTrackingTimeout
	}
	return &Tracker{counters: counters, timeout: timeout, logger: logger, metrics: m, now: time.Now}
}

// Track schedules one increment per matched category and, per matched
// keyword, the user counter and the global selection counter.
func (t *Tracker) Track(userID string, categories []string, keywords []store.KeywordDefinition) {
	at := t.now().UTC()
	for _, category := range categories {
		t.spawn("sensitive", userID, func(ctx context.Context) error {
			return t.counters.IncrementSensitiveWord(ctx, userID, category, at)
		}, zap.String("category", category))
	}
	for _, kw := range keywords {
		t.spawn("user_keyword", userID, func(ctx context.Context) error {
			return t.counters.IncrementUserKeyword(ctx, userID, kw, at)
		}, zap.String("keyword_id", kw.ID))
		t.spawn("keyword_selection", userID, func(ctx context.Context) error {
			return t.counters.IncrementKeywordSelection(ctx, kw.ID, at)
		}, zap.String("keyword_id", kw.ID))
	}
}

// RecordOutcome increments the persisted Success/Failure counter.
func (t *Tracker) RecordOutcome(entity string) {
	t.metrics.TurnOutcome(entity)
	t.spawn("outcome", "", func(ctx context.Context) error {
		return t.counters.IncrementOutcome(ctx, entity)
	}, zap.String("entity", entity))
}

func (t *Tracker) spawn(kind, userID string, fn func(ctx context.Context) error, fields ...zap.Field) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			t.metrics.TrackingFailure(kind)
			t.logger.Error("tracking update failed",
				append(fields, zap.String("kind", kind), zap.String("user_id", userID), zap.Error(err))...)
		}
	}()
}

// Wait blocks until every scheduled update has finished or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
