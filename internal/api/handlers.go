package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"gwi.com/wellbeing-companion/internal/auth"
	"gwi.com/wellbeing-companion/internal/core"
	"gwi.com/wellbeing-companion/internal/store"
)

const maxBodyBytes = 1 << 20

// Services are the domain services the handlers delegate to.
type Services struct {
	Chat           *core.ChatService
	Recommendation *core.RecommendationService
	Translation    *core.TranslationService
	Analytics      *core.AnalyticsService
	Keywords       *core.KeywordCatalog
	Profiles       store.ProfileStore
}

type APIHandler struct {
	chat           *core.ChatService
	recommendation *core.RecommendationService
	translation    *core.TranslationService
	analytics      *core.AnalyticsService
	keywords       *core.KeywordCatalog
	profiles       store.ProfileStore
	adminSecret    string
	validate       *validator.Validate
	logger         *zap.Logger
}

// NewAPIHandler wires the handlers. An empty adminSecret leaves the
// admin endpoints open.
func NewAPIHandler(svc Services, adminSecret string, logger *zap.Logger) *APIHandler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &APIHandler{
		chat:           svc.Chat,
		recommendation: svc.Recommendation,
		translation:    svc.Translation,
		analytics:      svc.Analytics,
		keywords:       svc.Keywords,
		profiles:       svc.Profiles,
		adminSecret:    adminSecret,
		validate:       v,
		logger:         logger,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return errors.New(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s item(s)", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type ChatRequest struct {
	Query       string          `json:"query" validate:"required"`
	SessionID   string          `json:"sessionId" validate:"required"`
	SessionType string          `json:"sessionType"`
	ChatHistory []core.Exchange `json:"chat_history"`
}

type ChatResponse struct {
	Response        string   `json:"response"`
	Recommendations []string `json:"recommendations"`
	Keywords        []string `json:"keywords"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var req ChatRequest
	if err := h.decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := h.chat.HandleTurn(r.Context(), core.ChatRequest{
		UserID:      userID,
		SessionID:   req.SessionID,
		SessionType: req.SessionType,
		Query:       req.Query,
		History:     req.ChatHistory,
	})
	if err != nil {
		status := statusFor(err)
		switch status {
		case http.StatusBadRequest:
			writeJSON(w, status, errorResponse{Error: err.Error()})
		case http.StatusServiceUnavailable:
			writeJSON(w, status, errorResponse{Error: "Knowledge base is still loading, try again shortly"})
		default:
			h.logger.Error("chat turn failed", zap.String("user_id", userID), zap.String("session_id", req.SessionID), zap.Error(err))
			writeJSON(w, status, errorResponse{Error: "Failed to process chat message", Details: err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Response:        res.Response,
		Recommendations: res.Recommendations,
		Keywords:        res.Keywords,
	})
}

type RecommendationRequest struct {
	UserID   string   `json:"userId" validate:"required"`
	Keywords []string `json:"keywords" validate:"required,min=1"`
}

type RecommendationResponse struct {
	Recommendations []core.ContentRecommendation `json:"recommendations"`
}

func (h *APIHandler) RecommendationHandler(w http.ResponseWriter, r *http.Request) {
	var req RecommendationRequest
	if err := h.decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	recs, err := h.recommendation.Recommend(r.Context(), req.UserID, req.Keywords)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadRequest {
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("content recommendation failed", zap.String("user_id", req.UserID), zap.Error(err))
		writeJSON(w, status, errorResponse{Error: "Failed to fetch recommendations", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, RecommendationResponse{Recommendations: recs})
}

type TranslateRequest struct {
	Type string `json:"type" validate:"required"`
	Text string `json:"text" validate:"required"`
}

type translateResponse struct {
	Success        bool                    `json:"success"`
	Data           *core.TranslationResult `json:"data,omitempty"`
	Error          string                  `json:"error,omitempty"`
	Details        string                  `json:"details,omitempty"`
	SupportedTypes []string                `json:"supportedTypes,omitempty"`
}

func (h *APIHandler) TranslateHandler(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if err := h.decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, translateResponse{
			Error:          err.Error(),
			SupportedTypes: core.SupportedTranslationTypes(),
		})
		return
	}

	res, err := h.translation.Translate(r.Context(), req.Type, req.Text)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadRequest {
			writeJSON(w, status, translateResponse{Error: err.Error(), SupportedTypes: core.SupportedTranslationTypes()})
			return
		}
		h.logger.Error("translation failed", zap.String("type", req.Type), zap.Error(err))
		writeJSON(w, status, translateResponse{Error: "Translation failed", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, translateResponse{Success: true, Data: res})
}

type sensitiveCountResponse struct {
	Response string `json:"response"`
	Message  string `json:"message,omitempty"`
	*core.SensitiveTrend
}

func (h *APIHandler) SensitiveCountHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	trend, err := h.analytics.SensitiveTrend(r.Context(), q.Get("start"), q.Get("end"), q.Get("granularity"))
	if err != nil {
		status := statusFor(err)
		if status != http.StatusBadRequest {
			h.logger.Error("sensitive count query failed", zap.Error(err))
		}
		writeJSON(w, status, sensitiveCountResponse{Response: "failed", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sensitiveCountResponse{Response: "success", SensitiveTrend: trend})
}

type KeywordRequest struct {
	ID   string            `json:"id"`
	Name map[string]string `json:"name" validate:"required,min=1"`
}

// KeywordUpsertHandler creates or renames a keyword. The analyzer sees the
// change on its next turn.
func (h *APIHandler) KeywordUpsertHandler(w http.ResponseWriter, r *http.Request) {
	var req KeywordRequest
	if err := h.decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	saved, err := h.keywords.Upsert(r.Context(), store.KeywordDefinition{ID: req.ID, Name: req.Name})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadRequest {
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("keyword upsert failed", zap.String("keyword_id", req.ID), zap.Error(err))
		writeJSON(w, status, errorResponse{Error: "Failed to save keyword", Details: err.Error()})
		return
	}

	status := http.StatusOK
	if req.ID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

func (h *APIHandler) UserProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !store.ValidUserID(userID) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "userId must be a 24-character hex id"})
		return
	}

	profile, err := h.profiles.GetUserProfile(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "User profile not found"})
		return
	}
	if err != nil {
		h.logger.Error("profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to load profile", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// AdminAuthMiddleware requires a bearer token signed with the admin secret.
// It passes everything through when no secret is configured.
func (h *APIHandler) AdminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			writeJSON(w, http.StatusUnauthorized, sensitiveCountResponse{Response: "failed", Message: "Authorization header is required"})
			return
		}
		subject, err := auth.ValidateJWT(h.adminSecret, tokenString)
		if err != nil {
			h.logger.Warn("rejected admin token", zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, sensitiveCountResponse{Response: "failed", Message: "Invalid token"})
			return
		}
		h.logger.Debug("admin request authorized", zap.String("subject", subject))
		next.ServeHTTP(w, r)
	})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ready": h.chat.Ready()})
}
