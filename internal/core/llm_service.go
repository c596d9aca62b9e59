package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"gwi.com/wellbeing-companion/internal/config"
)

const (
	defaultChatModelName        = "gemini-1.5-pro"
	defaultEmbeddingModelName   = "embedding-001"
	defaultTranslationModelName = "gemini-1.5-flash"

	translationSystemInstruction = "You are a professional translator. Translate the user's text faithfully, " +
		"keeping its tone and meaning. Return only the translated text, with no quotes, notes or explanations."
)

// Generator produces model output for a rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Translator translates text between language codes.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// LLMService is the Gemini-backed embedding, generation and translation
// client.
type LLMService struct {
	client           *genai.Client
	chatModel        string
	embeddingModel   string
	translationModel string
	logger           *zap.Logger
}

func NewLLMService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &LLMService{
		client:           client,
		chatModel:        orDefault(cfg.ChatModel, defaultChatModelName),
		embeddingModel:   orDefault(cfg.EmbeddingModel, defaultEmbeddingModelName),
		translationModel: orDefault(cfg.TranslationModel, defaultTranslationModelName),
		logger:           logger,
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Warn("error closing GenAI client", zap.Error(err))
		} else {
			s.logger.Info("GenAI client closed")
		}
	}
}

// Embed satisfies EmbedFunc.
func (s *LLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(s.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// Generate sends a fully rendered prompt and returns the raw text reply.
func (s *LLMService) Generate(ctx context.Context, prompt string) (string, error) {
	model := s.client.GenerativeModel(s.chatModel)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generation request failed: %w", err)
	}
	return s.responseText(resp)
}

func (s *LLMService) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	model := s.client.GenerativeModel(s.translationModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(translationSystemInstruction)},
	}
	model.SetTemperature(0.2)

	prompt := fmt.Sprintf("Translate the following text from %s to %s:\n\n%s",
		languageName(sourceLang), languageName(targetLang), text)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini translation request failed: %w", err)
	}
	out, err := s.responseText(resp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (s *LLMService) responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini response was empty or had no valid candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			s.logger.Debug("gemini response part was not text", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}

	if text.Len() == 0 {
		return "", fmt.Errorf("gemini response contained no text")
	}
	return text.String(), nil
}
