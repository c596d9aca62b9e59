package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gwi.com/wellbeing-companion/internal/chunker"
	"gwi.com/wellbeing-companion/internal/store"
)

// scriptedGenerator returns reply (or err) and records the prompts it saw.
type scriptedGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	block   bool
	prompts []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.reply, g.err
}

func (g *scriptedGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// keywordEmbed gives every text a 2-d vector: [mentions sleep, mentions exam].
func keywordEmbed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	v := []float32{0.01, 0.01}
	if strings.Contains(lower, "sleep") {
		v[0] = 1
	}
	if strings.Contains(lower, "exam") {
		v[1] = 1
	}
	return v, nil
}

type chatFixture struct {
	svc       *ChatService
	store     *store.SQLiteStore
	generator *scriptedGenerator
	tracker   *Tracker
	retriever *Retriever
}

func newChatFixture(t *testing.T, build bool) *chatFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	s := newSQLiteStore(t)
	require.NoError(t, s.UpsertKeyword(context.Background(), store.KeywordDefinition{
		ID: "kw-sleep", Name: map[string]string{"en": "sleep"},
	}))

	gen := &scriptedGenerator{reply: "```json\n{\"answer\":\"Try a wind-down routine.\",\"recommendations\":[\"Sleep routine ideas.\"]}\n```"}
	retriever := NewRetriever(NewEmbeddingGateway(keywordEmbed, 32000, logger), chunker.New(0, 0, 0), 0, logger)
	if build {
		_, err := retriever.Build(context.Background(), docs(
			"Sleep hygiene: keep a regular bedtime.",
			"Exam stress: break revision into short blocks.",
		))
		require.NoError(t, err)
	}
	tracker := NewTracker(s, time.Second, logger, nil)
	analyzer := NewAnalyzer(DefaultLexicon(), NewKeywordCatalog(s, time.Minute), tracker, logger, nil)

	svc := NewChatService(ChatDeps{
		History:           s,
		Retriever:         retriever,
		Prompts:           NewPromptAssembler("CTX[{context}] HIST[{chat_history}] Q[{question}]"),
		Generator:         gen,
		Analyzer:          analyzer,
		Tracker:           tracker,
		TopK:              1,
		GenerationTimeout: 200 * time.Millisecond,
		Logger:            logger,
	})
	return &chatFixture{svc: svc, store: s, generator: gen, tracker: tracker, retriever: retriever}
}

func TestHandleTurn_Validation(t *testing.T) {
	f := newChatFixture(t, true)
	for _, req := range []ChatRequest{
		{UserID: testUserID, SessionID: "s1", Query: "  "},
		{UserID: testUserID, SessionID: "", Query: "hello"},
	} {
		_, err := f.svc.HandleTurn(context.Background(), req)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestHandleTurn_NotReady(t *testing.T) {
	f := newChatFixture(t, false)
	assert.False(t, f.svc.Ready())
	_, err := f.svc.HandleTurn(context.Background(), ChatRequest{UserID: testUserID, SessionID: "s1", Query: "hi"})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestHandleTurn_FullPipeline(t *testing.T) {
	f := newChatFixture(t, true)
	ctx := context.Background()

	res, err := f.svc.HandleTurn(ctx, ChatRequest{UserID: testUserID, SessionID: "s1", Query: "I can't sleep before exams"})
	require.NoError(t, err)
	waitTracker(t, f.tracker)

	assert.Equal(t, "Try a wind-down routine.", res.Response)
	assert.Equal(t, []string{"Sleep routine ideas."}, res.Recommendations)
	assert.Equal(t, []string{"kw-sleep"}, res.Keywords)
	assert.True(t, res.SessionCreated)

	prompt := f.generator.lastPrompt()
	assert.Contains(t, prompt, "Q[I can't sleep before exams]")
	assert.Contains(t, prompt, "HIST[]")
	assert.Contains(t, prompt, "CTX[Sleep hygiene")

	session, err := f.store.GetSessionHistory(ctx, testUserID, "s1")
	require.NoError(t, err)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, "Try a wind-down routine.", session.Messages[0].Response)

	n, err := f.store.OutcomeCount(ctx, store.OutcomeSuccess)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// The second turn loads the stored history.
	res, err = f.svc.HandleTurn(ctx, ChatRequest{UserID: testUserID, SessionID: "s1", Query: "what else?"})
	require.NoError(t, err)
	waitTracker(t, f.tracker)
	assert.False(t, res.SessionCreated)
	assert.Contains(t, f.generator.lastPrompt(), "HIST[Human: I can't sleep before exams\nAI: Try a wind-down routine.]")
}

func TestHandleTurn_ClientHistoryWins(t *testing.T) {
	f := newChatFixture(t, true)
	ctx := context.Background()
	_, err := f.store.AppendMessage(ctx, testUserID, "s1", "", store.ChatMessage{Query: "stored", Response: "stored answer"})
	require.NoError(t, err)

	_, err = f.svc.HandleTurn(ctx, ChatRequest{
		UserID: testUserID, SessionID: "s1", Query: "next",
		History: []Exchange{{Question: "client q", Answer: "client a"}},
	})
	require.NoError(t, err)
	waitTracker(t, f.tracker)
	assert.Contains(t, f.generator.lastPrompt(), "HIST[Human: client q\nAI: client a]")

	// An empty client history falls back to the stored session.
	_, err = f.svc.HandleTurn(ctx, ChatRequest{UserID: testUserID, SessionID: "s1", Query: "again", History: []Exchange{}})
	require.NoError(t, err)
	waitTracker(t, f.tracker)
	assert.Contains(t, f.generator.lastPrompt(), "HIST[Human: stored\nAI: stored answer\nHuman: next\nAI: Try a wind-down routine.]")
}

func TestHandleTurn_MalformedUserIDAnsweredWithoutPersisting(t *testing.T) {
	f := newChatFixture(t, true)
	ctx := context.Background()

	res, err := f.svc.HandleTurn(ctx, ChatRequest{UserID: "guest", SessionID: "s1", Query: "I can't sleep"})
	require.NoError(t, err)
	waitTracker(t, f.tracker)

	assert.Equal(t, "Try a wind-down routine.", res.Response)
	assert.False(t, res.SessionCreated)
	assert.Contains(t, f.generator.lastPrompt(), "HIST[]")

	_, err = f.store.GetSessionHistory(ctx, "guest", "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.store.GetUserProfile(ctx, "guest")
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := f.store.OutcomeCount(ctx, store.OutcomeSuccess)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestHandleTurn_MalformedModelOutputFallsBack(t *testing.T) {
	f := newChatFixture(t, true)
	f.generator.reply = "I am not JSON"

	res, err := f.svc.HandleTurn(context.Background(), ChatRequest{UserID: testUserID, SessionID: "s1", Query: "hello"})
	require.NoError(t, err)
	waitTracker(t, f.tracker)
	assert.Equal(t, FallbackAnswer, res.Response)
	assert.Equal(t, []string{}, res.Recommendations)
}

func TestHandleTurn_RetrievalFailureDegrades(t *testing.T) {
	logger := zaptest.NewLogger(t)
	f := newChatFixture(t, false)
	// Embeds the corpus but fails for the query.
	failing := func(ctx context.Context, text string) ([]float32, error) {
		if text == "query that breaks embedding" {
			return nil, errors.New("embedding backend down")
		}
		return keywordEmbed(ctx, text)
	}
	f.svc.retriever = NewRetriever(NewEmbeddingGateway(failing, 32000, logger), chunker.New(0, 0, 0), 0, logger)
	_, err := f.svc.retriever.Build(context.Background(), docs("some context"))
	require.NoError(t, err)

	res, err := f.svc.HandleTurn(context.Background(), ChatRequest{UserID: testUserID, SessionID: "s1", Query: "query that breaks embedding"})
	require.NoError(t, err)
	waitTracker(t, f.tracker)
	assert.Equal(t, "Try a wind-down routine.", res.Response)
	assert.Contains(t, f.generator.lastPrompt(), "CTX[]")
}

func TestHandleTurn_GenerationFailure(t *testing.T) {
	f := newChatFixture(t, true)
	f.generator.err = errors.New("quota exceeded")
	ctx := context.Background()

	_, err := f.svc.HandleTurn(ctx, ChatRequest{UserID: testUserID, SessionID: "s1", Query: "I feel hopeless"})
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	waitTracker(t, f.tracker)

	// Nothing persisted for the turn, but tracking and the Failure counter ran.
	_, err = f.store.GetSessionHistory(ctx, testUserID, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	profile, err := f.store.GetUserProfile(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, profile.SensitiveWords, 1)
	assert.Equal(t, "depression", profile.SensitiveWords[0].Category)

	n, err := f.store.OutcomeCount(ctx, store.OutcomeFailure)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestHandleTurn_GenerationTimeout(t *testing.T) {
	f := newChatFixture(t, true)
	f.generator.block = true

	start := time.Now()
	_, err := f.svc.HandleTurn(context.Background(), ChatRequest{UserID: testUserID, SessionID: "s1", Query: "hello"})
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)
	waitTracker(t, f.tracker)
}

// Persistence is best-effort: the computed answer is still returned.
func TestHandleTurn_PersistenceFailureIsSwallowed(t *testing.T) {
	f := newChatFixture(t, true)
	f.svc.history = failingHistory{}

	res, err := f.svc.HandleTurn(context.Background(), ChatRequest{UserID: testUserID, SessionID: "s1", Query: "hello"})
	require.NoError(t, err)
	waitTracker(t, f.tracker)
	assert.Equal(t, "Try a wind-down routine.", res.Response)
	assert.False(t, res.SessionCreated)
}

type failingHistory struct{}

func (failingHistory) AppendMessage(context.Context, string, string, string, store.ChatMessage) (store.AppendResult, error) {
	return store.AppendResult{}, errStoreDown
}

func (failingHistory) GetSessionHistory(context.Context, string, string) (*store.ChatSession, error) {
	return nil, errStoreDown
}
