package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gwi.com/wellbeing-companion/internal/metrics"
	"gwi.com/wellbeing-companion/internal/store"
)

const defaultGenerationTimeout = 30 * time.Second

// ChatRequest is one inbound chat turn. An empty History means the stored
// session history is used instead.
type ChatRequest struct {
	UserID      string
	SessionID   string
	SessionType string
	Query       string
	History     []Exchange
}

// ChatResult is the reply to one chat turn.
type ChatResult struct {
	Response        string
	Recommendations []string
	Keywords        []string
	Severity        string
	SessionCreated  bool
}

// ChatDeps wires the collaborators of a ChatService.
type ChatDeps struct {
	History           store.ChatHistoryStore
	Retriever         *Retriever
	Prompts           *PromptAssembler
	Generator         Generator
	Analyzer          *Analyzer
	Tracker           *Tracker
	TopK              int
	GenerationTimeout time.Duration
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
}

// ChatService runs the retrieval-augmented chat turn pipeline.
type ChatService struct {
	history           store.ChatHistoryStore
	retriever         *Retriever
	prompts           *PromptAssembler
	generator         Generator
	analyzer          *Analyzer
	tracker           *Tracker
	topK              int
	generationTimeout time.Duration
	logger            *zap.Logger
	metrics           *metrics.Metrics
}

func NewChatService(d ChatDeps) *ChatService {
	if d.TopK <= 0 {
		d.TopK = DefaultTopK
	}
	if d.GenerationTimeout <= 0 {
		d.GenerationTimeout = defaultGenerationTimeout
	}
	if d.Prompts == nil {
		d.Prompts = NewPromptAssembler("")
	}
	return &ChatService{
		history:           d.History,
		retriever:         d.Retriever,
		prompts:           d.Prompts,
		generator:         d.Generator,
		analyzer:          d.Analyzer,
		tracker:           d.Tracker,
		topK:              d.TopK,
		generationTimeout: d.GenerationTimeout,
		logger:            d.Logger,
		metrics:           d.Metrics,
	}
}

// Ready reports whether the retriever corpus has been built.
func (s *ChatService) Ready() bool {
	return s.retriever.Ready()
}

// HandleTurn runs history load, retrieval, generation, parsing, tracking and
// persistence in order. Retrieval and persistence failures degrade; a
// generation failure fails the turn.
func (s *ChatService) HandleTurn(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, validationErrorf("query is required")
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, validationErrorf("sessionId is required")
	}
	if !s.retriever.Ready() {
		return nil, ErrNotReady
	}

	log := s.logger.With(zap.String("user_id", req.UserID), zap.String("session_id", req.SessionID))
	// Unknown users are answered but nothing is read from or written to
	// their profile.
	knownUser := store.ValidUserID(req.UserID)
	if !knownUser {
		log.Warn("malformed user id, answering without stored history")
	}

	history := s.loadHistory(ctx, req, knownUser, log)

	start := time.Now()
	docs, err := s.retriever.Query(ctx, req.Query, s.topK)
	s.metrics.ObserveStage(metrics.StageRetrieval, start)
	if err != nil {
		log.Warn("retrieval failed, continuing without context", zap.String("stage", metrics.StageRetrieval), zap.Error(err))
		docs = nil
	}

	prompt := s.prompts.Render(FormatDocuments(docs), history, req.Query)

	start = time.Now()
	raw, err := s.generate(ctx, prompt)
	s.metrics.ObserveStage(metrics.StageGeneration, start)
	if err != nil {
		// Tracking depends only on the query, so it still runs.
		s.analyzer.Analyze(ctx, req.UserID, req.Query)
		s.tracker.RecordOutcome(store.OutcomeFailure)
		log.Error("generation failed", zap.String("stage", metrics.StageGeneration), zap.Error(err))
		return nil, err
	}
	parsed := ParseResponse(raw)

	start = time.Now()
	analysis := s.analyzer.Analyze(ctx, req.UserID, req.Query)
	s.metrics.ObserveStage(metrics.StageTracking, start)

	result := &ChatResult{
		Response:        parsed.Answer,
		Recommendations: parsed.Recommendations,
		Keywords:        analysis.KeywordIDs(),
		Severity:        analysis.Severity,
	}

	if knownUser {
		result.SessionCreated = s.persist(ctx, req, parsed, log)
	}

	s.tracker.RecordOutcome(store.OutcomeSuccess)
	return result, nil
}

// persist saves the turn and reports whether it opened a new session.
// Failures are logged and swallowed.
func (s *ChatService) persist(ctx context.Context, req ChatRequest, parsed ParsedResponse, log *zap.Logger) bool {
	start := time.Now()
	appended, err := s.history.AppendMessage(ctx, req.UserID, req.SessionID, req.SessionType, store.ChatMessage{
		Timestamp:       time.Now().UTC(),
		Query:           req.Query,
		Response:        parsed.Answer,
		Recommendations: parsed.Recommendations,
	})
	s.metrics.ObserveStage(metrics.StagePersist, start)
	if err != nil {
		s.metrics.TrackingFailure("chat_history")
		log.Error("failed to persist chat turn", zap.String("stage", metrics.StagePersist), zap.Error(err))
		return false
	}
	return appended.Created
}

// loadHistory prefers client-supplied history. An empty one falls back to
// the stored session.
func (s *ChatService) loadHistory(ctx context.Context, req ChatRequest, knownUser bool, log *zap.Logger) []Turn {
	if len(req.History) > 0 {
		return TurnsFromExchanges(req.History)
	}
	if !knownUser {
		return nil
	}

	start := time.Now()
	defer s.metrics.ObserveStage(metrics.StageHistory, start)

	session, err := s.history.GetSessionHistory(ctx, req.UserID, req.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		log.Warn("failed to load session history, continuing without it", zap.String("stage", metrics.StageHistory), zap.Error(err))
		return nil
	}
	return TurnsFromMessages(session.Messages)
}

func (s *ChatService) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.generationTimeout)
	defer cancel()

	raw, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timed out after %s", ErrGenerationUnavailable, s.generationTimeout)
		}
		return "", fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}
	return raw, nil
}
