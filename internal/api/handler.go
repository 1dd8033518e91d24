package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/quillback/mnemo/internal/analytics"
	"github.com/quillback/mnemo/internal/memory"
	"github.com/quillback/mnemo/internal/persona"
	"github.com/quillback/mnemo/internal/prompt"
	"github.com/quillback/mnemo/internal/provider"
)

// Generator produces raw completions outside the chat template. Only the
// local daemon supports this path.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, temperature float64) (string, error)
}

// MetricsStore records and serves per-agent performance data.
type MetricsStore interface {
	RecordMetric(ctx context.Context, m *analytics.Metric) (string, error)
	RecordAnalysis(ctx context.Context, a *analytics.InteractionAnalysis) (string, error)
	MetricsSince(ctx context.Context, agentID string, since time.Time) ([]*analytics.Metric, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	memories  *memory.Manager
	personas  *persona.Registry
	router    *provider.Router
	prompts   *prompt.Builder
	generator Generator
	metrics   MetricsStore
	logger    *zap.Logger
}

// NewHandler creates a new API handler. generator and metrics may be nil;
// their routes answer 503 until wired.
func NewHandler(
	memories *memory.Manager,
	personas *persona.Registry,
	router *provider.Router,
	prompts *prompt.Builder,
	generator Generator,
	metrics MetricsStore,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		memories:  memories,
		personas:  personas,
		router:    router,
		prompts:   prompts,
		generator: generator,
		metrics:   metrics,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/personas", h.listPersonas)

		// Memory routes
		r.Post("/memories", h.storeMemory)
		r.Get("/context", h.getContext)
		r.Post("/interactions", h.recordInteraction)
		r.Post("/consolidation/{userID}", h.runConsolidation)
		r.Get("/analytics/memory", h.memoryAnalytics)

		// Chat routes
		r.Post("/chat/{personaID}", h.chat)
		r.Post("/generate", h.generate)

		// Performance routes
		r.Post("/metrics", h.recordMetric)
		r.Post("/analyses", h.recordAnalysis)
		r.Get("/analytics/agents/{agentID}", h.agentReport)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "mnemo"})
}

func (h *Handler) listPersonas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.personas.List())
}

type storeMemoryRequest struct {
	UserID     string                 `json:"user_id"`
	AgentID    string                 `json:"agent_id"`
	Content    map[string]interface{} `json:"content"`
	MemoryType string                 `json:"memory_type"`
	Importance float64                `json:"importance"`
}

func (h *Handler) storeMemory(w http.ResponseWriter, r *http.Request) {
	var req storeMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.UserID == "" || req.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and agent_id are required"})
		return
	}

	id, err := h.memories.Store(r.Context(), req.UserID, req.AgentID,
		req.Content, memory.Type(req.MemoryType), req.Importance)
	if err != nil {
		if errors.Is(err, memory.ErrInvalidType) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		// Stored in the short-term buffer even when persistence failed.
		if errors.Is(err, memory.ErrStorageUnavailable) && id != "" {
			writeJSON(w, http.StatusAccepted, map[string]string{
				"memory_id": id,
				"status":    "buffered",
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"memory_id": id, "status": "stored"})
}

func (h *Handler) getContext(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	agentID := r.URL.Query().Get("agent_id")
	if userID == "" || agentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and agent_id are required"})
		return
	}
	bundle := h.memories.GetContext(r.Context(), userID, agentID, r.URL.Query().Get("query"))
	writeJSON(w, http.StatusOK, bundle)
}

type interactionRequest struct {
	UserID   string             `json:"user_id"`
	AgentID  string             `json:"agent_id"`
	Message  string             `json:"message"`
	Response string             `json:"response"`
	Emotions map[string]float64 `json:"emotions,omitempty"`
}

func (h *Handler) recordInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.UserID == "" || req.AgentID == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id, agent_id and message are required"})
		return
	}

	id, err := h.memories.RecordInteraction(r.Context(), req.UserID, req.AgentID, req.Message, req.Response, req.Emotions)
	if err != nil && !errors.Is(err, memory.ErrStorageUnavailable) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"memory_id": id})
}

func (h *Handler) runConsolidation(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	agentID := r.URL.Query().Get("agent_id")

	result, err := h.memories.RunConsolidation(r.Context(), userID, agentID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) memoryAnalytics(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	agentID := r.URL.Query().Get("agent_id")
	if userID == "" || agentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and agent_id are required"})
		return
	}

	result, err := h.memories.Analyze(r.Context(), userID, agentID)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Response  string             `json:"response"`
	PersonaID string             `json:"persona_id"`
	Model     string             `json:"model"`
	MemoryID  string             `json:"memory_id,omitempty"`
	Emotions  map[string]float64 `json:"emotions,omitempty"`
	Usage     provider.Usage     `json:"usage"`
}

// chat runs one full turn: retrieve context, build the prompt, generate,
// analyse emotion, then record the exchange back into memory.
func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")
	p, ok := h.personas.Get(personaID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "persona not found"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.UserID == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and message are required"})
		return
	}

	bundle := h.memories.GetContext(r.Context(), req.UserID, personaID, req.Message)
	msgs := h.prompts.Build(p, bundle, req.Message)

	resp, err := h.router.Route(r.Context(), personaID, &provider.ChatRequest{
		Model:       p.Model,
		Messages:    msgs,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	})
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	emotions := h.analyzeEmotion(r.Context(), req.Message)

	memID, err := h.memories.RecordInteraction(r.Context(), req.UserID, personaID, req.Message, resp.Content, emotions)
	if err != nil && !errors.Is(err, memory.ErrStorageUnavailable) {
		h.logger.Warn("recording interaction failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, &chatResponse{
		Response:  resp.Content,
		PersonaID: personaID,
		Model:     resp.Model,
		MemoryID:  memID,
		Emotions:  emotions,
		Usage:     resp.Usage,
	})
}

// analyzeEmotion asks the emotion persona to score the message. Best
// effort: no emotion persona, a provider failure, or an unparseable
// reply all yield nil.
func (h *Handler) analyzeEmotion(ctx context.Context, message string) map[string]float64 {
	p, ok := h.personas.Get("emotion")
	if !ok {
		return nil
	}

	resp, err := h.router.Route(ctx, p.ID, &provider.ChatRequest{
		Model: p.Model,
		Messages: []provider.Message{
			{Role: "system", Content: p.SystemPrompt},
			{Role: "user", Content: message},
		},
		Temperature: p.Temperature,
	})
	if err != nil {
		h.logger.Debug("emotion analysis failed", zap.Error(err))
		return nil
	}

	parsed := provider.ParseOrDefault(resp.Content, nil)
	if parsed == nil {
		return nil
	}
	emotions := make(map[string]float64)
	for k, v := range parsed {
		if f, ok := v.(float64); ok && f >= 0 && f <= 1 {
			emotions[k] = f
		}
	}
	return emotions
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	if h.generator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "generation backend not configured"})
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Model == "" || req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "model and prompt are required"})
		return
	}

	out, err := h.generator.Generate(r.Context(), req.Model, req.Prompt, req.Temperature)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": out, "model": req.Model})
}

func (h *Handler) recordMetric(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "metrics store not configured"})
		return
	}

	var m analytics.Metric
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if m.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id is required"})
		return
	}

	id, err := h.metrics.RecordMetric(r.Context(), &m)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"metric_id": id})
}

func (h *Handler) recordAnalysis(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "metrics store not configured"})
		return
	}

	var a analytics.InteractionAnalysis
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if a.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id is required"})
		return
	}

	id, err := h.metrics.RecordAnalysis(r.Context(), &a)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"analysis_id": id})
}

func (h *Handler) agentReport(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "metrics store not configured"})
		return
	}

	agentID := chi.URLParam(r, "agentID")
	window := 7 * 24 * time.Hour
	if d := r.URL.Query().Get("window"); d != "" {
		parsed, err := time.ParseDuration(d)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid window duration"})
			return
		}
		window = parsed
	}

	metrics, err := h.metrics.MetricsSince(r.Context(), agentID, time.Now().Add(-window))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, analytics.Aggregate(agentID, metrics))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
