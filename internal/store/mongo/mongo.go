// Package mongo implements the store interfaces on MongoDB, keeping one
// aggregate document per user the way the chatbot's collections are shaped.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"gwi.com/wellbeing-companion/internal/store"
)

const (
	profilesCollection = "aichatbots"
	keywordsCollection = "keywords"
	contentsCollection = "contents"
	countersCollection = "counters"

	// Upper bound on retries when two writers race to create the same
	// profile document.
	maxUpsertAttempts = 5
)

var errUpsertContention = errors.New("upsert contention")

type Store struct {
	client   *mongo.Client
	profiles *mongo.Collection
	keywords *mongo.Collection
	contents *mongo.Collection
	counters *mongo.Collection
}

var _ store.Store = (*Store)(nil)

type profileDoc struct {
	UserID         string                       `bson:"userId"`
	ChatHistory    []store.ChatSession          `bson:"chat_history"`
	SensitiveWords []store.SensitiveWordCounter `bson:"sensitiveWords"`
	KeyWords       []store.UserKeywordCounter   `bson:"keyWords"`
	CreatedAt      time.Time                    `bson:"createdAt"`
	UpdatedAt      time.Time                    `bson:"updatedAt"`
}

type keywordDoc struct {
	ID             string            `bson:"_id"`
	Name           map[string]string `bson:"name"`
	SelectionCount int64             `bson:"selectionCount"`
	LastSelectedAt *time.Time        `bson:"lastSelectedAt,omitempty"`
}

type contentDoc struct {
	ID               string   `bson:"_id"`
	ContentID        string   `bson:"contentId"`
	Language         string   `bson:"language"`
	Title            string   `bson:"title"`
	ContentType      string   `bson:"contentType"`
	LinkURL          string   `bson:"linkURL"`
	FileURL          string   `bson:"fileUrl"`
	ThumbnailURL     string   `bson:"thumbnailUrl"`
	Intro            string   `bson:"intro"`
	Keywords         []string `bson:"keywords"`
	Status           string   `bson:"status"`
	RecommendedCount int64    `bson:"recommendedCount"`
}

// New connects to uri, selects database and makes sure the indexes the
// atomic upserts rely on exist.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		profiles: db.Collection(profilesCollection),
		keywords: db.Collection(keywordsCollection),
		contents: db.Collection(contentsCollection),
		counters: db.Collection(countersCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := s.profiles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: unique,
	}); err != nil {
		return fmt.Errorf("failed to create profile index: %w", err)
	}
	if _, err := s.counters.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "entity", Value: 1}},
		Options: unique,
	}); err != nil {
		return fmt.Errorf("failed to create counter index: %w", err)
	}
	if _, err := s.contents.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "keywords", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create content index: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// profileDefaults seeds a freshly inserted profile, leaving out the array
// the same update is pushing to.
func profileDefaults(pushed string, now time.Time) bson.M {
	defaults := bson.M{"createdAt": now}
	for _, field := range []string{"chat_history", "sensitiveWords", "keyWords"} {
		if field != pushed {
			defaults[field] = bson.A{}
		}
	}
	return defaults
}

// upsertElement updates the element of array whose keyField equals key, or
// pushes fresh when no such element exists, creating the profile if needed.
// Each step is a single-document atomic update; the $ne guard on the push
// makes a concurrent duplicate push impossible, and a lost race on profile
// creation surfaces as a duplicate key error that is retried.
func (s *Store) upsertElement(ctx context.Context, userID, array, keyField, key string, existing bson.M, fresh any, now time.Time) (bool, error) {
	path := array + "." + keyField
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		res, err := s.profiles.UpdateOne(ctx, bson.M{"userId": userID, path: key}, existing)
		if err != nil {
			return false, fmt.Errorf("failed to update %s element: %w", array, err)
		}
		if res.MatchedCount > 0 {
			return false, nil
		}

		res, err = s.profiles.UpdateOne(ctx,
			bson.M{"userId": userID, path: bson.M{"$ne": key}},
			bson.M{
				"$push":        bson.M{array: fresh},
				"$set":         bson.M{"updatedAt": now},
				"$setOnInsert": profileDefaults(array, now),
			},
			options.Update().SetUpsert(true))
		if mongo.IsDuplicateKeyError(err) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to push %s element: %w", array, err)
		}
		if res.MatchedCount > 0 || res.UpsertedCount > 0 {
			return true, nil
		}
		// Another writer pushed the element between the two steps.
	}
	return false, fmt.Errorf("%s %s for user %s: %w", array, key, userID, errUpsertContention)
}

// Chat history methods
func (s *Store) AppendMessage(ctx context.Context, userID, sessionID, sessionType string, msg store.ChatMessage) (store.AppendResult, error) {
	if sessionType == "" {
		sessionType = store.DefaultSessionType
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	if msg.Recommendations == nil {
		msg.Recommendations = []string{}
	}

	existing := bson.M{
		"$push": bson.M{"chat_history.$.chatMessages": msg},
		"$set":  bson.M{"chat_history.$.updatedAt": now, "updatedAt": now},
	}
	fresh := store.ChatSession{
		SessionID:   sessionID,
		SessionType: sessionType,
		Messages:    []store.ChatMessage{msg},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := s.upsertElement(ctx, userID, "chat_history", "sessionId", sessionID, existing, fresh, now)
	if err != nil {
		return store.AppendResult{}, err
	}
	return store.AppendResult{Created: created}, nil
}

func (s *Store) GetSessionHistory(ctx context.Context, userID, sessionID string) (*store.ChatSession, error) {
	var doc profileDoc
	err := s.profiles.FindOne(ctx,
		bson.M{"userId": userID, "chat_history.sessionId": sessionID},
		options.FindOne().SetProjection(bson.M{"chat_history.$": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find chat session: %w", err)
	}
	if len(doc.ChatHistory) == 0 {
		return nil, store.ErrNotFound
	}
	session := doc.ChatHistory[0]
	if session.Messages == nil {
		session.Messages = []store.ChatMessage{}
	}
	return &session, nil
}

// Counter methods
func (s *Store) IncrementSensitiveWord(ctx context.Context, userID, category string, at time.Time) error {
	at = at.UTC()
	existing := bson.M{
		"$inc":  bson.M{"sensitiveWords.$.count": 1},
		"$push": bson.M{"sensitiveWords.$.occurrences": at},
		"$set":  bson.M{"updatedAt": at},
	}
	fresh := store.SensitiveWordCounter{Category: category, Count: 1, Occurrences: []time.Time{at}}
	_, err := s.upsertElement(ctx, userID, "sensitiveWords", "category", category, existing, fresh, at)
	return err
}

func (s *Store) IncrementUserKeyword(ctx context.Context, userID string, kw store.KeywordDefinition, at time.Time) error {
	at = at.UTC()
	existing := bson.M{
		"$inc": bson.M{"keyWords.$.count": 1},
		"$set": bson.M{
			"keyWords.$.displayName":    kw.Name,
			"keyWords.$.lastSelectedAt": at,
			"updatedAt":                 at,
		},
	}
	fresh := store.UserKeywordCounter{KeywordID: kw.ID, DisplayName: kw.Name, Count: 1, LastSelectedAt: at}
	_, err := s.upsertElement(ctx, userID, "keyWords", "keywordRef", kw.ID, existing, fresh, at)
	return err
}

func (s *Store) IncrementKeywordSelection(ctx context.Context, keywordID string, at time.Time) error {
	res, err := s.keywords.UpdateOne(ctx,
		bson.M{"_id": keywordID},
		bson.M{"$inc": bson.M{"selectionCount": 1}, "$set": bson.M{"lastSelectedAt": at.UTC()}})
	if err != nil {
		return fmt.Errorf("failed to increment keyword selection: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("keyword %s: %w", keywordID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) IncrementOutcome(ctx context.Context, entity string) error {
	_, err := s.counters.UpdateOne(ctx,
		bson.M{"entity": entity},
		bson.M{"$inc": bson.M{"count": 1}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to increment outcome counter: %w", err)
	}
	return nil
}

func (s *Store) OutcomeCount(ctx context.Context, entity string) (int64, error) {
	var doc struct {
		Count int64 `bson:"count"`
	}
	err := s.counters.FindOne(ctx, bson.M{"entity": entity}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read outcome counter: %w", err)
	}
	return doc.Count, nil
}

// Keyword methods
func (s *Store) ListKeywords(ctx context.Context) ([]store.KeywordDefinition, error) {
	cur, err := s.keywords.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query keywords: %w", err)
	}
	var docs []keywordDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode keywords: %w", err)
	}

	out := make([]store.KeywordDefinition, 0, len(docs))
	for _, d := range docs {
		out = append(out, store.KeywordDefinition{
			ID:             d.ID,
			Name:           d.Name,
			SelectionCount: d.SelectionCount,
			LastSelectedAt: d.LastSelectedAt,
		})
	}
	return out, nil
}

func (s *Store) UpsertKeyword(ctx context.Context, kw store.KeywordDefinition) error {
	_, err := s.keywords.UpdateOne(ctx,
		bson.M{"_id": kw.ID},
		bson.M{"$set": bson.M{"name": kw.Name}, "$setOnInsert": bson.M{"selectionCount": 0}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert keyword: %w", err)
	}
	return nil
}

// Content methods
func (s *Store) FindContentByKeywords(ctx context.Context, keywordIDs []string, limit int) ([]store.Content, error) {
	if len(keywordIDs) == 0 || limit <= 0 {
		return []store.Content{}, nil
	}
	cur, err := s.contents.Find(ctx,
		bson.M{"keywords": bson.M{"$in": keywordIDs}},
		options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to query contents: %w", err)
	}
	var docs []contentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode contents: %w", err)
	}

	out := make([]store.Content, 0, len(docs))
	for _, d := range docs {
		out = append(out, store.Content(d))
	}
	return out, nil
}

func (s *Store) MarkRecommended(ctx context.Context, contentIDs []string) error {
	if len(contentIDs) == 0 {
		return nil
	}
	_, err := s.contents.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": contentIDs}},
		bson.M{"$inc": bson.M{"recommendedCount": 1}})
	if err != nil {
		return fmt.Errorf("failed to mark contents recommended: %w", err)
	}
	return nil
}

func (s *Store) UpsertContent(ctx context.Context, c store.Content) error {
	keywords := c.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	_, err := s.contents.UpdateOne(ctx,
		bson.M{"_id": c.ID},
		bson.M{
			"$set": bson.M{
				"contentId":    c.ContentID,
				"language":     c.Language,
				"title":        c.Title,
				"contentType":  c.ContentType,
				"linkURL":      c.LinkURL,
				"fileUrl":      c.FileURL,
				"thumbnailUrl": c.ThumbnailURL,
				"intro":        c.Intro,
				"keywords":     keywords,
				"status":       c.Status,
			},
			"$setOnInsert": bson.M{"recommendedCount": 0},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert content: %w", err)
	}
	return nil
}

// Analytics methods
func (s *Store) ListSensitiveOccurrences(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$unwind", Value: "$sensitiveWords"}},
		{{Key: "$unwind", Value: "$sensitiveWords.occurrences"}},
		{{Key: "$match", Value: bson.M{"sensitiveWords.occurrences": bson.M{"$gte": start.UTC(), "$lt": end.UTC()}}}},
		{{Key: "$project", Value: bson.M{"_id": 0, "at": "$sensitiveWords.occurrences"}}},
		{{Key: "$sort", Value: bson.M{"at": 1}}},
	}
	cur, err := s.profiles.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sensitive occurrences: %w", err)
	}
	var rows []struct {
		At time.Time `bson:"at"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode sensitive occurrences: %w", err)
	}

	out := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.At.UTC())
	}
	return out, nil
}

// Profile methods
func (s *Store) GetUserProfile(ctx context.Context, userID string) (*store.UserProfile, error) {
	var doc profileDoc
	err := s.profiles.FindOne(ctx, bson.M{"userId": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user profile: %w", err)
	}
	return &store.UserProfile{
		UserID:         doc.UserID,
		ChatHistory:    doc.ChatHistory,
		SensitiveWords: doc.SensitiveWords,
		KeyWords:       doc.KeyWords,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}, nil
}
