package store

import (
	"context"
	"time"
)

// ChatHistoryStore is the session-partitioned message log.
type ChatHistoryStore interface {
	// AppendMessage appends msg to (userID, sessionID), creating the session
	// and the user profile when absent. Never creates duplicate sessions.
	AppendMessage(ctx context.Context, userID, sessionID, sessionType string, msg ChatMessage) (AppendResult, error)
	// GetSessionHistory returns the session with messages in append order,
	// or ErrNotFound.
	GetSessionHistory(ctx context.Context, userID, sessionID string) (*ChatSession, error)
}

// CounterStore holds the per-user and global counters. Every method is a
// single atomic increment-or-insert.
type CounterStore interface {
	IncrementSensitiveWord(ctx context.Context, userID, category string, at time.Time) error
	IncrementUserKeyword(ctx context.Context, userID string, kw KeywordDefinition, at time.Time) error
	IncrementKeywordSelection(ctx context.Context, keywordID string, at time.Time) error
	IncrementOutcome(ctx context.Context, entity string) error
	OutcomeCount(ctx context.Context, entity string) (int64, error)
}

// KeywordStore is the global keyword corpus.
type KeywordStore interface {
	ListKeywords(ctx context.Context) ([]KeywordDefinition, error)
	UpsertKeyword(ctx context.Context, kw KeywordDefinition) error
}

// ContentStore serves recommendable content.
type ContentStore interface {
	FindContentByKeywords(ctx context.Context, keywordIDs []string, limit int) ([]Content, error)
	MarkRecommended(ctx context.Context, contentIDs []string) error
	UpsertContent(ctx context.Context, c Content) error
}

// AnalyticsStore exposes sensitive-word occurrences for charting.
type AnalyticsStore interface {
	// ListSensitiveOccurrences returns every occurrence timestamp in [start, end).
	ListSensitiveOccurrences(ctx context.Context, start, end time.Time) ([]time.Time, error)
}

// ProfileStore reads the per-user aggregate.
type ProfileStore interface {
	GetUserProfile(ctx context.Context, userID string) (*UserProfile, error)
}

// Store is the full persistence surface a backend provides.
type Store interface {
	ChatHistoryStore
	CounterStore
	KeywordStore
	ContentStore
	AnalyticsStore
	ProfileStore
	Close() error
}
