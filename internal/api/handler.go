package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/felipepmaragno/chat-gateway/internal/auth"
	"github.com/felipepmaragno/chat-gateway/internal/budget"
	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/gateway"
	"github.com/felipepmaragno/chat-gateway/internal/metrics"
	"github.com/felipepmaragno/chat-gateway/internal/provider"
	"github.com/felipepmaragno/chat-gateway/internal/ratelimit"
	"github.com/felipepmaragno/chat-gateway/internal/registry"
	"github.com/felipepmaragno/chat-gateway/internal/stream"
	"github.com/felipepmaragno/chat-gateway/internal/telemetry"
	"github.com/felipepmaragno/chat-gateway/internal/usage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	chatEndpoint        = "chat"
	defaultChatLimit    = 60
	defaultBodyLimit    = 1 << 20
	defaultReadyTimeout = 5 * time.Second
	maxCorrelationIDLen = 128
)

// Preparer runs every pre-dispatch gate for a turn.
type Preparer interface {
	Prepare(ctx context.Context, requestID, userID string, req domain.ChatTurnRequest) (*gateway.Turn, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req provider.Request) (io.ReadCloser, domain.WireFormat, error)
	Configured(p domain.Provider) bool
	ConfiguredProviders() []string
}

// Reconciler receives each finished stream. Go must not block the response.
type Reconciler interface {
	Go(ctx context.Context, turn usage.Turn)
}

type HandlerConfig struct {
	Verifier      auth.Verifier
	RateLimiter   ratelimit.RateLimiter
	ChatRateLimit int
	Pipeline      Preparer
	Dispatcher    Dispatcher
	Registry      *registry.Registry
	Reconciler    Reconciler
	Checkers      []HealthChecker
	BreakerStates func(ctx context.Context) map[string]string
	AllowOrigin   string
	BodyLimit     int64
	Version       string
}

type Handler struct {
	verifier      auth.Verifier
	rateLimiter   ratelimit.RateLimiter
	chatLimit     int
	pipeline      Preparer
	dispatcher    Dispatcher
	registry      *registry.Registry
	reconciler    Reconciler
	breakerStates func(ctx context.Context) map[string]string
	allowOrigin   string
	bodyLimit     int64
	version       string
	now           func() time.Time
	mux           *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	chatLimit := cfg.ChatRateLimit
	if chatLimit <= 0 {
		chatLimit = defaultChatLimit
	}
	bodyLimit := cfg.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = defaultBodyLimit
	}
	allowOrigin := cfg.AllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	version := cfg.Version
	if version == "" {
		version = telemetry.ServiceVersion
	}

	h := &Handler{
		verifier:      cfg.Verifier,
		rateLimiter:   cfg.RateLimiter,
		chatLimit:     chatLimit,
		pipeline:      cfg.Pipeline,
		dispatcher:    cfg.Dispatcher,
		registry:      cfg.Registry,
		reconciler:    cfg.Reconciler,
		breakerStates: cfg.BreakerStates,
		allowOrigin:   allowOrigin,
		bodyLimit:     bodyLimit,
		version:       version,
		now:           time.Now,
		mux:           http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /chat", h.handleChat)
	h.mux.HandleFunc("GET /models", h.handleListModels)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReadyWithCheckers(cfg.Checkers, defaultReadyTimeout, version))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

// ServeHTTP sets CORS headers on every response and answers preflight
// requests before any routing or authentication.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", h.allowOrigin)
	hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
	hdr.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Model, X-Provider, X-Dialect, X-Dialect-Confidence, X-Budget-Warning, X-Budget-Usage-Percent, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	start := h.now()

	// The request id keys the usage event, so it is always minted here. A
	// client-supplied id is only carried along for correlation.
	requestID := uuid.New().String()
	clientRequestID := correlationID(r.Header.Get("X-Request-ID"))
	w.Header().Set("X-Request-ID", requestID)

	ctx, span := telemetry.StartSpan(r.Context(), "chat.turn")
	defer span.End()

	userID, err := h.verifier.Verify(ctx, auth.BearerToken(r))
	if err != nil {
		slog.WarnContext(ctx, "authentication failed", "request_id", requestID, "client_request_id", clientRequestID, "error", err)
		writeError(w, err)
		return
	}

	if !h.allow(ctx, w, userID, requestID) {
		return
	}

	var req domain.ChatTurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.bodyLimit)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrInvalidRequest))
		return
	}

	telemetry.AddTurnAttributes(span, requestID, userID, string(req.Mode))

	turn, err := h.pipeline.Prepare(ctx, requestID, userID, req)
	if err != nil {
		h.logRejection(ctx, requestID, userID, err)
		telemetry.AddErrorAttribute(span, err)
		writeError(w, err)
		return
	}

	telemetry.AddModelAttributes(span, string(turn.Model.Provider), turn.Model.ID, turn.Substituted)
	telemetry.AddDialectAttributes(span, string(turn.Dialect.Dialect), confidence(turn))

	dispatchCtx, dispatchSpan := telemetry.StartSpan(ctx, "provider.dispatch")
	body, format, err := h.dispatcher.Dispatch(dispatchCtx, provider.Request{
		Model:     turn.Model,
		Messages:  turn.Messages,
		MaxTokens: turn.MaxTokens,
	})
	if err != nil {
		telemetry.AddErrorAttribute(dispatchSpan, err)
		dispatchSpan.End()
		slog.ErrorContext(ctx, "provider dispatch failed",
			"request_id", requestID,
			"user_id", userID,
			"provider", turn.Model.Provider,
			"model", turn.Model.ID,
			"error", err,
		)
		metrics.RecordTurn(string(turn.Model.Provider), turn.Model.ID, "error", time.Since(start).Seconds())
		writeError(w, err)
		return
	}
	dispatchSpan.End()
	defer body.Close()

	res := h.streamTurn(ctx, w, turn, clientRequestID, body, format, start)
	telemetry.AddTokenAttributes(span, res.Usage.InputTokens, res.Usage.OutputTokens)
}

// allow applies the per-user chat rate limit. A limiter backend failure
// admits the request.
func (h *Handler) allow(ctx context.Context, w http.ResponseWriter, userID, requestID string) bool {
	if h.rateLimiter == nil {
		return true
	}

	allowed, remaining, resetAt, err := h.rateLimiter.Allow(ctx, ratelimit.Key(userID, chatEndpoint), h.chatLimit)
	if err != nil {
		slog.WarnContext(ctx, "rate limiter unavailable, admitting request", "request_id", requestID, "error", err)
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.chatLimit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", resetAt.Format(time.RFC3339))

	if !allowed {
		metrics.RecordRateLimitHit(chatEndpoint)
		slog.WarnContext(ctx, "rate limit exceeded", "request_id", requestID, "user_id", userID)
		writeRateLimited(w, ratelimit.RetryAfter(resetAt, h.now()))
		return false
	}
	return true
}

func (h *Handler) streamTurn(ctx context.Context, w http.ResponseWriter, turn *gateway.Turn, clientRequestID string, body io.Reader, format domain.WireFormat, start time.Time) stream.Result {
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Model", turn.Model.ID)
	hdr.Set("X-Provider", string(turn.Model.Provider))
	hdr.Set("X-Dialect", string(turn.Dialect.Dialect))
	if c := confidence(turn); c != "" {
		hdr.Set("X-Dialect-Confidence", c)
	}
	if turn.Warning != nil {
		hdr.Set("X-Budget-Warning", budget.WarningCode)
		hdr.Set("X-Budget-Usage-Percent", strconv.FormatFloat(turn.Warning.Percent, 'f', 1, 64))
	}
	w.WriteHeader(http.StatusOK)

	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
		flush()
	}

	metrics.IncrementActiveStreams()
	res := stream.Pump(ctx, body, format, w, flush)
	metrics.DecrementActiveStreams()

	prov, model := string(turn.Model.Provider), turn.Model.ID
	status := "ok"
	if res.Aborted {
		status = "aborted"
	}
	latency := time.Since(start)
	metrics.RecordTurn(prov, model, status, latency.Seconds())
	if res.Deltas > 0 {
		metrics.RecordFirstToken(prov, model, res.FirstToken.Seconds())
	}

	slog.InfoContext(ctx, "turn completed",
		"request_id", turn.RequestID,
		"client_request_id", clientRequestID,
		"user_id", turn.UserID,
		"provider", prov,
		"model", model,
		"dialect", turn.Dialect.Dialect,
		"status", status,
		"deltas", res.Deltas,
		"latency_ms", latency.Milliseconds(),
	)

	if h.reconciler != nil {
		metadata := turn.Metadata()
		if clientRequestID != "" {
			metadata["client_request_id"] = clientRequestID
		}
		h.reconciler.Go(ctx, usage.Turn{
			RequestID:     turn.RequestID,
			UserID:        turn.UserID,
			ProjectID:     turn.ProjectID,
			Model:         turn.Model,
			Usage:         res.Usage,
			UsageCaptured: res.UsageCaptured,
			Aborted:       res.Aborted,
			Metadata:      metadata,
		})
	}
	return res
}

// correlationID returns the client's X-Request-ID when it is short and made of
// token characters, and "" otherwise.
func correlationID(v string) string {
	if v == "" || len(v) > maxCorrelationIDLen {
		return ""
	}
	for _, c := range v {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return ""
		}
	}
	return v
}

func (h *Handler) logRejection(ctx context.Context, requestID, userID string, err error) {
	var exceeded *budget.ExceededError
	switch {
	case errors.As(err, &exceeded):
		slog.InfoContext(ctx, "turn rejected by budget guard", "request_id", requestID, "user_id", userID, "reason", exceeded.Reason)
	case errors.Is(err, domain.ErrInvalidRequest):
		slog.InfoContext(ctx, "invalid chat request", "request_id", requestID, "user_id", userID, "error", err)
	default:
		slog.ErrorContext(ctx, "turn preparation failed", "request_id", requestID, "user_id", userID, "error", err)
	}
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	if _, err := h.verifier.Verify(r.Context(), auth.BearerToken(r)); err != nil {
		writeError(w, err)
		return
	}

	available := h.registry.ListAvailable(h.dispatcher.Configured)
	resp := domain.ModelsResponse{
		Object: "list",
		Data:   make([]domain.ModelInfo, 0, len(available)),
	}
	for _, m := range available {
		resp.Data = append(resp.Data, domain.ModelInfo{
			ID:          m.ID,
			Provider:    m.Provider,
			DisplayName: m.DisplayName,
			MaxTokens:   m.MaxOutputTokens,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	providers := h.dispatcher.ConfiguredProviders()
	status := "healthy"
	if len(providers) == 0 {
		status = "degraded"
	}

	resp := map[string]any{
		"status":    status,
		"version":   h.version,
		"providers": providers,
	}
	if h.breakerStates != nil {
		resp["circuit_breakers"] = h.breakerStates(r.Context())
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func confidence(turn *gateway.Turn) string {
	if turn.Dialect.Detection == nil {
		return ""
	}
	return string(turn.Dialect.Detection.Confidence)
}
