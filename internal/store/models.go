package store

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const DefaultSessionType = "default"

// Outcome counter entities.
const (
	OutcomeSuccess = "Success"
	OutcomeFailure = "Failure"
)

// ValidUserID reports whether id is a well-formed user identifier
// (a 24 hex digit document id).
func ValidUserID(id string) bool {
	return len(id) == 24 && primitive.IsValidObjectID(id)
}

// NewID returns a fresh document id for keywords and content items.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

// ChatMessage is one completed chat turn. Immutable once stored.
type ChatMessage struct {
	ID              string    `json:"id" bson:"id"`
	Timestamp       time.Time `json:"timestamp" bson:"timestamp"`
	Query           string    `json:"query" bson:"query"`
	Response        string    `json:"response" bson:"response"`
	Recommendations []string  `json:"recommendations" bson:"recommendations"`
}

// ChatSession is an append-only conversation thread owned by one user.
type ChatSession struct {
	SessionID   string        `json:"sessionId" bson:"sessionId"`
	SessionType string        `json:"sessionType" bson:"sessionType"`
	Messages    []ChatMessage `json:"messages" bson:"chatMessages"`
	CreatedAt   time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt" bson:"updatedAt"`
}

// AppendResult tells whether AppendMessage created the session.
type AppendResult struct {
	Created bool
}

// SensitiveWordCounter counts how often a user triggered a lexicon category.
type SensitiveWordCounter struct {
	Category    string      `json:"category" bson:"category"`
	Count       int64       `json:"count" bson:"count"`
	Occurrences []time.Time `json:"occurrences" bson:"occurrences"`
}

// UserKeywordCounter counts how often a user's messages matched a keyword.
type UserKeywordCounter struct {
	KeywordID      string            `json:"keywordRef" bson:"keywordRef"`
	DisplayName    map[string]string `json:"displayName" bson:"displayName"`
	Count          int64             `json:"count" bson:"count"`
	LastSelectedAt time.Time         `json:"lastSelectedAt" bson:"lastSelectedAt"`
}

// UserProfile is the per-user aggregate.
type UserProfile struct {
	UserID         string                 `json:"userId"`
	ChatHistory    []ChatSession          `json:"chat_history"`
	SensitiveWords []SensitiveWordCounter `json:"sensitiveWords"`
	KeyWords       []UserKeywordCounter   `json:"keyWords"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// KeywordDefinition is a global, language-tagged topic term.
type KeywordDefinition struct {
	ID             string            `json:"id"`
	Name           map[string]string `json:"name"`
	SelectionCount int64             `json:"selectionCount"`
	LastSelectedAt *time.Time        `json:"lastSelectedAt,omitempty"`
}

// Content is a recommendable content item. Read-only to the chat core
// apart from the recommendation counter.
type Content struct {
	ID               string   `json:"id"`
	ContentID        string   `json:"contentId"`
	Language         string   `json:"language"`
	Title            string   `json:"title"`
	ContentType      string   `json:"contentType"`
	LinkURL          string   `json:"linkURL"`
	FileURL          string   `json:"fileUrl"`
	ThumbnailURL     string   `json:"thumbnailUrl"`
	Intro            string   `json:"intro"`
	Keywords         []string `json:"keywords"`
	Status           string   `json:"status"`
	RecommendedCount int64    `json:"recommendedCount"`
}
