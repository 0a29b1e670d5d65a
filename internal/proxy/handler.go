package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bloopai/model-router/internal/provider"
	"github.com/bloopai/model-router/internal/registry"
	"github.com/bloopai/model-router/internal/router"
	"github.com/bloopai/model-router/internal/usage"
)

type Handler struct {
	router   *router.Router
	registry *registry.Registry
	usage    usage.Store
	tracer   trace.Tracer
	log      *zap.Logger
}

func NewHandler(rt *router.Router, reg *registry.Registry, store usage.Store, tracer trace.Tracer, log *zap.Logger) *Handler {
	return &Handler{
		router:   rt,
		registry: reg,
		usage:    store,
		tracer:   tracer,
		log:      log,
	}
}

type fallbackPayload struct {
	OriginalProvider string `json:"originalProvider"`
	Reason           string `json:"reason"`
}

type completionPayload struct {
	ID            string           `json:"id"`
	Content       string           `json:"content"`
	Provider      string           `json:"provider"`
	SelectedModel string           `json:"selectedModel"`
	DurationMs    int64            `json:"duration_ms"`
	FinishReason  string           `json:"finish_reason,omitempty"`
	Usage         provider.Usage   `json:"usage"`
	Fallback      *fallbackPayload `json:"fallback,omitempty"`
}

// HandleComplete serves the non-streaming endpoint: one atomic JSON
// body per request, 503 with per-provider details on total failure.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	requestID, req, ok := h.decode(w, r)
	if !ok {
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "router.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("model", req.Model),
	)

	result, err := h.router.Execute(ctx, req)
	if err != nil {
		h.writeRoutingError(w, err)
		return
	}
	span.SetAttributes(attribute.String("provider", result.Provider))

	// Persist the outcome off the request path.
	go func() {
		_ = h.usage.LogRequest(context.Background(), &usage.Record{
			RequestID:    requestID,
			Provider:     result.Provider,
			Model:        result.Model,
			InputTokens:  result.Response.Usage.InputTokens,
			OutputTokens: result.Response.Usage.OutputTokens,
			LatencyMs:    result.Duration.Milliseconds(),
			FellBack:     result.Fallback != nil,
			Attempts:     len(result.Attempts),
		})
	}()

	respID := result.Response.ID
	if respID == "" {
		respID = uuid.New().String()
	}

	payload := completionPayload{
		ID:            respID,
		Content:       result.Response.Content,
		Provider:      result.Provider,
		SelectedModel: result.Model,
		DurationMs:    result.Duration.Milliseconds(),
		FinishReason:  result.Response.FinishReason,
		Usage:         result.Response.Usage,
	}
	if result.Fallback != nil {
		payload.Fallback = &fallbackPayload{
			OriginalProvider: result.Fallback.OriginalProvider,
			Reason:           result.Fallback.Reason,
		}
	}

	writeJSON(w, http.StatusOK, payload)
}

// HandleCompleteStream serves the streaming endpoint: one JSON event
// per line, flushed as produced, connection closed right after the
// terminal event.
func (h *Handler) HandleCompleteStream(w http.ResponseWriter, r *http.Request) {
	requestID, req, ok := h.decode(w, r)
	if !ok {
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "router.complete_stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("model", req.Model),
	)

	events, err := h.router.Stream(ctx, req)
	if err != nil {
		h.writeRoutingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			// Caller went away; the relay observes ctx and stops.
			return
		}
		flusher.Flush()

		if ev.Type == router.EventDone {
			go func(ev router.StreamEvent) {
				rec := &usage.Record{
					RequestID: requestID,
					Provider:  ev.Provider,
					Model:     ev.Model,
				}
				if ev.Usage != nil {
					rec.InputTokens = ev.Usage.InputTokens
					rec.OutputTokens = ev.Usage.OutputTokens
				}
				_ = h.usage.LogRequest(context.Background(), rec)
			}(ev)
		}
	}
}

// HandleModels lists the catalog with per-provider availability.
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	available := make(map[string]bool)
	for _, name := range h.registry.Available() {
		available[name] = true
	}

	type modelPayload struct {
		Provider     string `json:"provider"`
		Model        string `json:"model"`
		Available    bool   `json:"available"`
		Capabilities any    `json:"capabilities"`
	}

	entries := h.registry.Catalog().Entries()
	models := make([]modelPayload, 0, len(entries))
	for _, e := range entries {
		models = append(models, modelPayload{
			Provider:     e.Provider,
			Model:        e.Model,
			Available:    available[e.Provider],
			Capabilities: e.Capabilities,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"models":          models,
		"total_available": len(available),
		"total_providers": h.registry.Count(),
	})
}

// HandleProviderUsage summarizes the logged outcomes for one provider
// over a time window. Defaults to the last 24 hours; from/to accept
// RFC 3339 timestamps.
func (h *Handler) HandleProviderUsage(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	to := time.Now()
	from := to.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid from timestamp"})
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid to timestamp"})
			return
		}
		to = t
	}

	records, err := h.usage.GetByProvider(r.Context(), providerName, from, to)
	if err != nil {
		h.log.Error("failed to query usage", zap.String("provider", providerName), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	var inputTokens, outputTokens, fallbacks int
	var latencyMs int64
	for _, rec := range records {
		inputTokens += rec.InputTokens
		outputTokens += rec.OutputTokens
		latencyMs += rec.LatencyMs
		if rec.FellBack {
			fallbacks++
		}
	}

	summary := map[string]any{
		"provider":      providerName,
		"from":          from,
		"to":            to,
		"requests":      len(records),
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
		"fallbacks":     fallbacks,
	}
	if len(records) > 0 {
		summary["avg_latency_ms"] = latencyMs / int64(len(records))
	}

	writeJSON(w, http.StatusOK, summary)
}

// HandleHealth reports whether at least one provider is available.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	availableCount := len(h.registry.Available())
	status := http.StatusOK
	state := "ok"
	if availableCount == 0 {
		status = http.StatusServiceUnavailable
		state = "unavailable"
	}
	writeJSON(w, status, map[string]any{
		"status":               state,
		"providers_available":  availableCount,
		"providers_configured": h.registry.Count(),
	})
}

// decode parses and validates the request body. Validation happens
// before any routing: an empty messages array never reaches a
// provider.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (string, *provider.Request, bool) {
	requestID := chimiddleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var req provider.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return "", nil, false
	}

	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages must not be empty"})
		return "", nil, false
	}

	return requestID, &req, true
}

func (h *Handler) writeRoutingError(w http.ResponseWriter, err error) {
	var allFailed *router.AllFailedError
	switch {
	case errors.Is(err, router.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, router.ErrNoProviders), errors.Is(err, router.ErrNoneAvailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.As(err, &allFailed):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":   allFailed.Error(),
			"details": allFailed.Details(),
		})
	default:
		h.log.Error("routing failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
