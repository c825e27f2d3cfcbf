package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cardgate/internal/platform/middleware"
	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
	audit "cardgate/pkg/platform/audit"
	"cardgate/pkg/platform/httputil"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// Reader is the read side of the audit log the trail endpoints expose.
type Reader interface {
	ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Entry, error)
	ListByActor(ctx context.Context, actor id.MemberID, limit int) ([]audit.Entry, error)
}

// Handler exposes the audit trail read endpoints.
type Handler struct {
	reader       Reader
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

// New constructs an audit trail handler with its dependencies.
func New(reader Reader, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		reader:       reader,
		logger:       logger,
		jwtValidator: jwtValidator,
	}
}

// Register mounts audit trail endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Get("/audit/recent", h.handleRecent)
		r.Get("/audit/{entityType}/{entityID}", h.handleTrail)
	})
}

// handleTrail handles GET /audit/{entityType}/{entityID} requests: the full
// history of one entity, newest first.
func (h *Handler) handleTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityID")

	switch entityType {
	case audit.EntityCardForm, audit.EntityCardInstance, audit.EntityCardIssuance:
	default:
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "unknown entity type %q", entityType))
		return
	}
	if _, err := uuid.Parse(entityID); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "entityID must be a valid UUID"))
		return
	}

	entries, err := h.reader.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit trail lookup failed",
			"request_id", middleware.GetRequestID(ctx),
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to load audit trail"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": fromEntries(entries),
	})
}

// handleRecent handles GET /audit/recent?limit= requests: the caller's own
// recent activity.
func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	memberID := middleware.GetMemberID(ctx)
	if memberID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxRecentLimit)
	}

	entries, err := h.reader.ListByActor(ctx, memberID, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "recent audit lookup failed",
			"request_id", middleware.GetRequestID(ctx),
			"member_id", memberID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to load recent activity"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": fromEntries(entries),
	})
}

// EntryResponse is one audit entry on the wire. ActorID is null for
// system-initiated entries.
type EntryResponse struct {
	ID               string         `json:"id"`
	Action           string         `json:"action"`
	ActorID          *string        `json:"actor_id"`
	EntityType       string         `json:"entity_type"`
	EntityID         string         `json:"entity_id"`
	LifecycleContext map[string]any `json:"lifecycle_context,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func fromEntries(entries []audit.Entry) []EntryResponse {
	out := make([]EntryResponse, 0, len(entries))
	for _, entry := range entries {
		resp := EntryResponse{
			ID:               entry.ID.String(),
			Action:           string(entry.Action),
			EntityType:       entry.EntityType,
			EntityID:         entry.EntityID,
			LifecycleContext: entry.LifecycleContext,
			CreatedAt:        entry.CreatedAt,
		}
		if entry.ActorID != nil {
			actor := entry.ActorID.String()
			resp.ActorID = &actor
		}
		out = append(out, resp)
	}
	return out
}
