package core

import (
	"context"

	"go.uber.org/zap"

	"gwi.com/wellbeing-companion/internal/metrics"
	"gwi.com/wellbeing-companion/internal/store"
)

// Analysis is the outcome of scanning one user message.
type Analysis struct {
	Matches               map[string][]string       `json:"matches"`
	HasSensitiveContent   bool                      `json:"hasSensitiveContent"`
	CategoriesWithMatches []string                  `json:"categoriesWithMatches"`
	MatchedKeywords       []store.KeywordDefinition `json:"matchedKeywords"`
	Severity              string                    `json:"severity"`
}

func neutralAnalysis() Analysis {
	return Analysis{
		Matches:               map[string][]string{},
		CategoriesWithMatches: []string{},
		MatchedKeywords:       []store.KeywordDefinition{},
		Severity:              SeverityNone,
	}
}

// KeywordIDs lists the ids of the matched keywords.
func (a Analysis) KeywordIDs() []string {
	ids := make([]string, 0, len(a.MatchedKeywords))
	for _, kw := range a.MatchedKeywords {
		ids = append(ids, kw.ID)
	}
	return ids
}

// Analyzer detects sensitive content and keywords and schedules the
// per-user counter updates.
type Analyzer struct {
	lexicon *Lexicon
	catalog *KeywordCatalog
	tracker *Tracker
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewAnalyzer(lexicon *Lexicon, catalog *KeywordCatalog, tracker *Tracker, logger *zap.Logger, m *metrics.Metrics) *Analyzer {
	if lexicon == nil || lexicon.Empty() {
		lexicon = DefaultLexicon()
	}
	return &Analyzer{lexicon: lexicon, catalog: catalog, tracker: tracker, logger: logger, metrics: m}
}

// Analyze never fails: invalid input yields a neutral result and a failed
// keyword lookup only drops keyword matches.
func (a *Analyzer) Analyze(ctx context.Context, userID, text string) Analysis {
	if text == "" {
		a.logger.Warn("skipping sensitive content analysis: empty text", zap.String("user_id", userID))
		return neutralAnalysis()
	}
	if !store.ValidUserID(userID) {
		a.logger.Warn("skipping sensitive content analysis: invalid user id", zap.String("user_id", userID))
		return neutralAnalysis()
	}

	result := neutralAnalysis()
	result.Matches = a.lexicon.Match(text)
	for _, category := range a.lexicon.Categories() {
		if _, ok := result.Matches[category]; ok {
			result.CategoriesWithMatches = append(result.CategoriesWithMatches, category)
			a.metrics.SensitiveMatch(category)
		}
	}
	result.HasSensitiveContent = len(result.CategoriesWithMatches) > 0
	result.Severity = Severity(result.CategoriesWithMatches)

	if a.catalog != nil {
		keywords, err := a.catalog.Match(ctx, text)
		if err != nil {
			a.metrics.TrackingFailure("keyword_lookup")
			a.logger.Error("failed to load keyword corpus", zap.String("user_id", userID), zap.Error(err))
		} else if len(keywords) > 0 {
			result.MatchedKeywords = keywords
			a.metrics.KeywordMatches(len(keywords))
		}
	}

	if result.HasSensitiveContent {
		a.logger.Info("sensitive content detected",
			zap.String("user_id", userID),
			zap.Strings("categories", result.CategoriesWithMatches),
			zap.String("severity", result.Severity))
	}
	if a.tracker != nil {
		a.tracker.Track(userID, result.CategoriesWithMatches, result.MatchedKeywords)
	}
	return result
}
