package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gwi.com/wellbeing-companion/internal/store"
)

func seedContents(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	for _, c := range []store.Content{
		{ID: "c1", Title: "Sleep basics", ContentType: "video", LinkURL: "https://example.org/sleep", Keywords: []string{"kw-sleep"}},
		{ID: "c2", Title: "Exam calm", ContentType: "article", Intro: "Breathe.", Keywords: []string{"kw-exam"}},
		{ID: "c3", Title: "Rest and revision", ContentType: "pdf", FileURL: "https://example.org/r.pdf", Keywords: []string{"kw-sleep", "kw-exam"}},
		{ID: "c4", Title: "Night routine", ContentType: "video", Keywords: []string{"kw-sleep"}},
		{ID: "c5", Title: "Friendships", ContentType: "article", Keywords: []string{"kw-friends"}},
	} {
		require.NoError(t, s.UpsertContent(ctx, c))
	}
}

func TestRecommend_MatchesAndLimits(t *testing.T) {
	s := newSQLiteStore(t)
	seedContents(t, s)
	svc := NewRecommendationService(s, 0, zaptest.NewLogger(t))

	recs, err := svc.Recommend(context.Background(), testUserID, []string{"kw-sleep", "kw-exam", "kw-sleep"})
	require.NoError(t, err)
	require.Len(t, recs, DefaultRecommendationLimit)
	for _, r := range recs {
		assert.NotEqual(t, "c5", r.ID)
		assert.NotEmpty(t, r.Keywords)
	}
	assert.Equal(t, "c1", recs[0].ID)
	assert.Equal(t, "https://example.org/sleep", recs[0].LinkURL)

	// Returned items have their recommendation counter bumped.
	found, err := s.FindContentByKeywords(context.Background(), []string{"kw-sleep", "kw-exam"}, 10)
	require.NoError(t, err)
	counts := map[string]int64{}
	for _, c := range found {
		counts[c.ID] = c.RecommendedCount
	}
	for _, r := range recs {
		assert.EqualValues(t, 1, counts[r.ID], r.ID)
	}
}

func TestRecommend_NoMatchesIsEmpty(t *testing.T) {
	s := newSQLiteStore(t)
	seedContents(t, s)
	recs, err := NewRecommendationService(s, 3, zaptest.NewLogger(t)).
		Recommend(context.Background(), testUserID, []string{"kw-unknown"})
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestRecommend_Validation(t *testing.T) {
	svc := NewRecommendationService(newSQLiteStore(t), 3, zaptest.NewLogger(t))
	_, err := svc.Recommend(context.Background(), "not-an-id", []string{"kw-sleep"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Recommend(context.Background(), testUserID, nil)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Recommend(context.Background(), testUserID, []string{" ", ""})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecommend_StoreFailure(t *testing.T) {
	s := newSQLiteStore(t)
	svc := NewRecommendationService(s, 3, zaptest.NewLogger(t))
	require.NoError(t, s.Close())
	_, err := svc.Recommend(context.Background(), testUserID, []string{"kw-sleep"})
	assert.ErrorIs(t, err, ErrPersistence)
}
