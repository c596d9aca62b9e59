package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "65a1f0c2e4b0a1b2c3d4e5f6"

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestValidUserID(t *testing.T) {
	assert.True(t, ValidUserID(testUser))
	assert.False(t, ValidUserID(""))
	assert.False(t, ValidUserID("not-an-id"))
	assert.False(t, ValidUserID("65a1f0c2e4b0a1b2c3d4e5fz"))
}

func TestAppendMessage_SingleSessionPerKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, err := s.AppendMessage(ctx, testUser, "s1", "", ChatMessage{Query: "hi", Response: "hello"})
	require.NoError(t, err)
	assert.True(t, res.Created)

	res, err = s.AppendMessage(ctx, testUser, "s1", "", ChatMessage{Query: "how are you", Response: "fine", Recommendations: []string{"rest"}})
	require.NoError(t, err)
	assert.False(t, res.Created)

	var sessions int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM chat_sessions WHERE user_id = ?", testUser).Scan(&sessions))
	assert.Equal(t, 1, sessions)

	session, err := s.GetSessionHistory(ctx, testUser, "s1")
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, DefaultSessionType, session.SessionType)
	assert.Equal(t, "hi", session.Messages[0].Query)
	assert.Equal(t, []string{}, session.Messages[0].Recommendations)
	assert.Equal(t, "how are you", session.Messages[1].Query)
	assert.Equal(t, []string{"rest"}, session.Messages[1].Recommendations)
	assert.NotEmpty(t, session.Messages[0].ID)
}

func TestAppendMessage_SessionsArePerUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	other := "65a1f0c2e4b0a1b2c3d4e5f7"

	_, err := s.AppendMessage(ctx, testUser, "shared", "journal", ChatMessage{Query: "a", Response: "b"})
	require.NoError(t, err)
	res, err := s.AppendMessage(ctx, other, "shared", "", ChatMessage{Query: "c", Response: "d"})
	require.NoError(t, err)
	assert.True(t, res.Created)

	mine, err := s.GetSessionHistory(ctx, testUser, "shared")
	require.NoError(t, err)
	assert.Equal(t, "journal", mine.SessionType)
	assert.Len(t, mine.Messages, 1)
}

func TestGetSessionHistory_NotFound(t *testing.T) {
	_, err := newTestStore(t).GetSessionHistory(context.Background(), testUser, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrementSensitiveWord_SequentialCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	const n = 25
	for i := 0; i < n; i++ {
		require.NoError(t, s.IncrementSensitiveWord(ctx, testUser, "anxiety", base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, s.IncrementSensitiveWord(ctx, testUser, "depression", base))

	profile, err := s.GetUserProfile(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, profile.SensitiveWords, 2)

	anxiety := profile.SensitiveWords[0]
	assert.Equal(t, "anxiety", anxiety.Category)
	assert.EqualValues(t, n, anxiety.Count)
	assert.Len(t, anxiety.Occurrences, n)
	assert.True(t, anxiety.Occurrences[0].Equal(base))

	assert.EqualValues(t, 1, profile.SensitiveWords[1].Count)
}

func TestIncrementSensitiveWord_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() { errs <- s.IncrementSensitiveWord(ctx, testUser, "suicidal", time.Now()) }()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	var rows, count int
	require.NoError(t, s.db.QueryRow(
		"SELECT COUNT(*), MAX(count) FROM sensitive_word_counters WHERE user_id = ? AND category = ?",
		testUser, "suicidal").Scan(&rows, &count))
	assert.Equal(t, 1, rows)
	assert.Equal(t, n, count)
}

func TestKeywordCounters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	kw := KeywordDefinition{ID: "kw1", Name: map[string]string{"en": "Sleep", "hi": "नींद"}}
	require.NoError(t, s.UpsertKeyword(ctx, kw))

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.IncrementUserKeyword(ctx, testUser, kw, now))
		require.NoError(t, s.IncrementKeywordSelection(ctx, kw.ID, now))
	}

	keywords, err := s.ListKeywords(ctx)
	require.NoError(t, err)
	require.Len(t, keywords, 1)
	assert.EqualValues(t, 3, keywords[0].SelectionCount)
	require.NotNil(t, keywords[0].LastSelectedAt)
	assert.Equal(t, "नींद", keywords[0].Name["hi"])

	// Renaming keeps the statistics.
	kw.Name["en"] = "Sleep hygiene"
	require.NoError(t, s.UpsertKeyword(ctx, kw))
	keywords, err = s.ListKeywords(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, keywords[0].SelectionCount)
	assert.Equal(t, "Sleep hygiene", keywords[0].Name["en"])

	profile, err := s.GetUserProfile(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, profile.KeyWords, 1)
	assert.EqualValues(t, 3, profile.KeyWords[0].Count)
	assert.Equal(t, "Sleep", profile.KeyWords[0].DisplayName["en"])

	err = s.IncrementKeywordSelection(ctx, "missing", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOutcomeCounters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.OutcomeCount(ctx, OutcomeSuccess)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.IncrementOutcome(ctx, OutcomeSuccess))
	require.NoError(t, s.IncrementOutcome(ctx, OutcomeSuccess))
	require.NoError(t, s.IncrementOutcome(ctx, OutcomeFailure))

	n, err = s.OutcomeCount(ctx, OutcomeSuccess)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestContentRecommendationQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, c := range []Content{
		{ID: "c1", Title: "Sleep basics", Keywords: []string{"sleep"}},
		{ID: "c2", Title: "Exam stress", Keywords: []string{"stress", "exams"}},
		{ID: "c3", Title: "Night routine", Keywords: []string{"sleep", "stress"}},
		{ID: "c4", Title: "Unrelated", Keywords: []string{"cooking"}},
	} {
		require.NoError(t, s.UpsertContent(ctx, c))
	}

	found, err := s.FindContentByKeywords(ctx, []string{"sleep", "stress"}, 3)
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, "c1", found[0].ID)
	assert.Equal(t, []string{"sleep", "stress"}, found[2].Keywords)

	found, err = s.FindContentByKeywords(ctx, []string{"sleep", "stress"}, 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	require.NoError(t, s.MarkRecommended(ctx, []string{"c1", "c3"}))
	found, err = s.FindContentByKeywords(ctx, []string{"sleep"}, 3)
	require.NoError(t, err)
	for _, c := range found {
		assert.EqualValues(t, 1, c.RecommendedCount, c.ID)
	}
}

func TestListSensitiveOccurrences_EndExclusive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	day := func(d int) time.Time { return time.Date(2024, 1, d, 10, 0, 0, 0, time.UTC) }

	require.NoError(t, s.IncrementSensitiveWord(ctx, testUser, "anxiety", day(1)))
	require.NoError(t, s.IncrementSensitiveWord(ctx, testUser, "anxiety", day(2)))
	require.NoError(t, s.IncrementSensitiveWord(ctx, testUser, "anxiety", day(4)))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	got, err := s.ListSensitiveOccurrences(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Equal(day(2)))
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	data := `{
	  "keywords": [{"id": "kw-sleep", "name": {"en": "sleep"}}, {"name": {"en": "stress"}}],
	  "contents": [{"title": "Wind down", "keywords": ["kw-sleep"], "contentType": "video"}]
	}`

	kws, contents, err := Seed(ctx, s, strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 2, kws)
	assert.Equal(t, 1, contents)

	keywords, err := s.ListKeywords(ctx)
	require.NoError(t, err)
	require.Len(t, keywords, 2)
	for _, kw := range keywords {
		assert.NotEmpty(t, kw.ID)
	}

	found, err := s.FindContentByKeywords(ctx, []string{"kw-sleep"}, 3)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, ValidUserID(found[0].ID), "generated ids are document ids")

	_, _, err = Seed(ctx, s, strings.NewReader(`{"keywords":[{"id":"x"}]}`))
	assert.Error(t, err)
}
