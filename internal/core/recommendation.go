package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gwi.com/wellbeing-companion/internal/store"
)

const DefaultRecommendationLimit = 3

// ContentRecommendation is the client view of a recommended content item.
type ContentRecommendation struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	ContentType  string   `json:"contentType"`
	LinkURL      string   `json:"linkURL"`
	FileURL      string   `json:"fileUrl"`
	ThumbnailURL string   `json:"thumbnailUrl"`
	Intro        string   `json:"intro"`
	Keywords     []string `json:"keywords"`
}

// RecommendationService matches stored content against keyword ids.
type RecommendationService struct {
	contents store.ContentStore
	limit    int
	logger   *zap.Logger
}

func NewRecommendationService(contents store.ContentStore, limit int, logger *zap.Logger) *RecommendationService {
	if limit <= 0 {
		limit = DefaultRecommendationLimit
	}
	return &RecommendationService{contents: contents, limit: limit, logger: logger}
}

func (s *RecommendationService) Recommend(ctx context.Context, userID string, keywordIDs []string) ([]ContentRecommendation, error) {
	if !store.ValidUserID(userID) {
		return nil, validationErrorf("invalid userId %q", userID)
	}
	ids := dedupe(keywordIDs)
	if len(ids) == 0 {
		return nil, validationErrorf("keywords must be a non-empty array")
	}

	items, err := s.contents.FindContentByKeywords(ctx, ids, s.limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	out := make([]ContentRecommendation, 0, len(items))
	contentIDs := make([]string, 0, len(items))
	for _, c := range items {
		keywords := c.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		out = append(out, ContentRecommendation{
			ID:           c.ID,
			Title:        c.Title,
			ContentType:  c.ContentType,
			LinkURL:      c.LinkURL,
			FileURL:      c.FileURL,
			ThumbnailURL: c.ThumbnailURL,
			Intro:        c.Intro,
			Keywords:     keywords,
		})
		contentIDs = append(contentIDs, c.ID)
	}

	if err := s.contents.MarkRecommended(ctx, contentIDs); err != nil {
		s.logger.Warn("failed to update recommendation counters", zap.String("user_id", userID), zap.Error(err))
	}
	return out, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
