package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const maxTranslationBytes = 10000

type languagePair struct {
	source string
	target string
}

var translationTypes = map[string]languagePair{
	"hindi":              {"en", "hi"},
	"english-to-hindi":   {"en", "hi"},
	"kannada":            {"en", "kn"},
	"english-to-kannada": {"en", "kn"},
	"hindi-to-english":   {"hi", "en"},
	"kannada-to-english": {"kn", "en"},
}

var languageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"kn": "Kannada",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// SupportedTranslationTypes lists the accepted type values in sorted order.
func SupportedTranslationTypes() []string {
	types := make([]string, 0, len(translationTypes))
	for t := range translationTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// TranslationResult is the outcome of one translation request.
type TranslationResult struct {
	OriginalText    string `json:"originalText"`
	TranslatedText  string `json:"translatedText"`
	TranslationType string `json:"translationType"`
	SourceLanguage  string `json:"sourceLanguage"`
	TargetLanguage  string `json:"targetLanguage"`
}

type TranslationService struct {
	translator Translator
	logger     *zap.Logger
}

func NewTranslationService(translator Translator, logger *zap.Logger) *TranslationService {
	return &TranslationService{translator: translator, logger: logger}
}

func (s *TranslationService) Translate(ctx context.Context, translationType, text string) (*TranslationResult, error) {
	translationType = strings.ToLower(strings.TrimSpace(translationType))
	if translationType == "" {
		return nil, validationErrorf("type is required")
	}
	pair, ok := translationTypes[translationType]
	if !ok {
		return nil, validationErrorf("unsupported translation type %q", translationType)
	}
	if strings.TrimSpace(text) == "" {
		return nil, validationErrorf("text is required")
	}
	if len(text) > maxTranslationBytes {
		return nil, validationErrorf("text exceeds %d bytes", maxTranslationBytes)
	}

	translated, err := s.translator.Translate(ctx, text, pair.source, pair.target)
	if err != nil {
		s.logger.Error("translation failed", zap.String("type", translationType), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrTranslationUnavailable, err)
	}
	return &TranslationResult{
		OriginalText:    text,
		TranslatedText:  translated,
		TranslationType: translationType,
		SourceLanguage:  pair.source,
		TargetLanguage:  pair.target,
	}, nil
}
