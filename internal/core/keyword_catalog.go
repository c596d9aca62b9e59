package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"gwi.com/wellbeing-companion/internal/store"
)

const keywordFillTimeout = 10 * time.Second

// KeywordCatalog is a read-through, TTL-bounded cache of the keyword corpus.
// Concurrent misses share one store read. A zero TTL reads the store on
// every call.
type KeywordCatalog struct {
	store store.KeywordStore
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu         sync.RWMutex
	keywords   []store.KeywordDefinition
	loadedAt   time.Time
	valid      bool
	generation uint64
}

func NewKeywordCatalog(s store.KeywordStore, ttl time.Duration) *KeywordCatalog {
	return &KeywordCatalog{store: s, ttl: ttl, now: time.Now}
}

// Keywords returns the current keyword corpus.
func (c *KeywordCatalog) Keywords(ctx context.Context) ([]store.KeywordDefinition, error) {
	c.mu.RLock()
	if c.valid && c.now().Sub(c.loadedAt) < c.ttl {
		kws := c.keywords
		c.mu.RUnlock()
		return kws, nil
	}
	gen := c.generation
	c.mu.RUnlock()

	ch := c.group.DoChan("keywords", func() (any, error) {
		// Shared by every waiter, so detached from the caller that started it.
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), keywordFillTimeout)
		defer cancel()
		kws, err := c.store.ListKeywords(fillCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// A fill that raced with Invalidate must not repopulate stale data.
		if gen == c.generation {
			c.keywords = kws
			c.loadedAt = c.now()
			c.valid = true
		}
		c.mu.Unlock()
		return kws, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]store.KeywordDefinition), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the cached corpus.
func (c *KeywordCatalog) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.keywords = nil
	c.generation++
	c.mu.Unlock()
	c.group.Forget("keywords")
}

// Upsert writes a keyword definition and invalidates the cache. A missing id
// is generated; existing selection stats are kept.
func (c *KeywordCatalog) Upsert(ctx context.Context, kw store.KeywordDefinition) (store.KeywordDefinition, error) {
	if !hasName(kw.Name) {
		return kw, validationErrorf("keyword name is required")
	}
	if kw.ID == "" {
		kw.ID = store.NewID()
	}
	defer c.Invalidate()
	if err := c.store.UpsertKeyword(ctx, kw); err != nil {
		return kw, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return kw, nil
}

func hasName(names map[string]string) bool {
	for _, n := range names {
		if strings.TrimSpace(n) != "" {
			return true
		}
	}
	return false
}

// Match returns every keyword whose display name, in any language, occurs in
// text (case-insensitive substring match).
func (c *KeywordCatalog) Match(ctx context.Context, text string) ([]store.KeywordDefinition, error) {
	keywords, err := c.Keywords(ctx)
	if err != nil {
		return nil, err
	}
	return MatchKeywords(keywords, text), nil
}

func MatchKeywords(keywords []store.KeywordDefinition, text string) []store.KeywordDefinition {
	lower := strings.ToLower(text)
	var matched []store.KeywordDefinition
	for _, kw := range keywords {
		for _, name := range kw.Name {
			name = strings.ToLower(strings.TrimSpace(name))
			if name != "" && strings.Contains(lower, name) {
				matched = append(matched, kw)
				break
			}
		}
	}
	return matched
}
