package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cardgate/internal/platform/metrics"
	"cardgate/internal/platform/middleware"
	"cardgate/internal/verify"
	dErrors "cardgate/pkg/domain-errors"
	"cardgate/pkg/platform/httputil"
)

// Service defines the interface for verification queries.
type Service interface {
	Verify(ctx context.Context, agentID, cardRef string) (verify.Result, error)
}

// Handler exposes the public verification endpoint. It is unauthenticated and
// browser-reachable, so it carries permissive CORS headers and an optional
// rate limit.
type Handler struct {
	service Service
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter func(http.Handler) http.Handler
}

// New constructs a verify handler. limiter may be nil when rate limiting is
// not configured.
func New(service Service, logger *slog.Logger, metrics *metrics.Metrics, limiter func(http.Handler) http.Handler) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		metrics: metrics,
		limiter: limiter,
	}
}

// Register mounts the verification endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(cors)
		if h.limiter != nil {
			r.Use(h.limiter)
		}
		r.Get("/verify-card", h.handleVerify)
		r.Options("/verify-card", h.handleOptions)
	})
}

// cors marks the endpoint callable from any origin with GET only.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handleVerify handles GET /verify-card?agent_id=&card_ref= requests.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "agent_id query parameter is required"))
		return
	}
	cardRef := r.URL.Query().Get("card_ref")

	result, err := h.service.Verify(ctx, agentID, cardRef)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification failed",
			"request_id", middleware.GetRequestID(ctx),
			"agent_id", agentID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.metrics.Verifications.WithLabelValues(string(result.EntityStatus)).Inc()
	h.metrics.VerifyDuration.Observe(time.Since(start).Seconds())
	h.logger.InfoContext(ctx, "verification answered",
		"request_id", middleware.GetRequestID(ctx),
		"agent_id", agentID,
		"entity_status", result.EntityStatus,
		"active_use_cards", len(result.ActiveUseCards),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}
