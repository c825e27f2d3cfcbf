package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cardgate/internal/instance"
	"cardgate/internal/platform/metrics"
	"cardgate/internal/platform/middleware"
	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
	"cardgate/pkg/platform/httputil"
)

// Service defines the interface for instance operations.
type Service interface {
	Create(ctx context.Context, formID id.FormID, payload json.RawMessage, owner id.MemberID) (id.InstanceID, error)
	Supersede(ctx context.Context, oldInstanceID id.InstanceID, newPayload json.RawMessage, owner id.MemberID) (id.InstanceID, error)
	Lineage(ctx context.Context, instanceID id.InstanceID) ([]instance.LineageEntry, error)
}

// Handler wires instance endpoints to the instance service.
type Handler struct {
	service      Service
	logger       *slog.Logger
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New constructs an instance handler with its dependencies.
func New(service Service, logger *slog.Logger, metrics *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		service:      service,
		logger:       logger,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register mounts instance endpoints on the router. All of them require a
// member bearer token.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/cards/instances", h.handleCreate)
		r.Post("/cards/instances/{instanceID}/supersede", h.handleSupersede)
		r.Get("/cards/instances/{instanceID}/lineage", h.handleLineage)
	})
}

// handleCreate handles POST /cards/instances requests.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	memberID, ok := h.member(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[CreateInstanceRequest](w, r)
	if !ok {
		return
	}

	instanceID, err := h.service.Create(ctx, req.ParsedFormID(), req.Payload, memberID)
	if err != nil {
		h.logger.WarnContext(ctx, "instance creation failed",
			"request_id", requestID,
			"form_id", req.FormID,
			"member_id", memberID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.metrics.InstancesCreated.Inc()
	h.logger.InfoContext(ctx, "instance created",
		"request_id", requestID,
		"instance_id", instanceID,
		"form_id", req.FormID,
		"member_id", memberID,
	)
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"instance_id": instanceID.String(),
	})
}

// handleSupersede handles POST /cards/instances/{instanceID}/supersede
// requests.
func (h *Handler) handleSupersede(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	memberID, ok := h.member(w, r)
	if !ok {
		return
	}
	instanceID, ok := h.instanceID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[SupersedeRequest](w, r)
	if !ok {
		return
	}

	successorID, err := h.service.Supersede(ctx, instanceID, req.Payload, memberID)
	if err != nil {
		h.logger.WarnContext(ctx, "supersession failed",
			"request_id", requestID,
			"instance_id", instanceID,
			"member_id", memberID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.metrics.CardsSuperseded.Inc()
	h.logger.InfoContext(ctx, "instance superseded",
		"request_id", requestID,
		"instance_id", instanceID,
		"successor_id", successorID,
		"member_id", memberID,
	)
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"instance_id": successorID.String(),
		"supersedes":  instanceID.String(),
	})
}

// handleLineage handles GET /cards/instances/{instanceID}/lineage requests.
func (h *Handler) handleLineage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	instanceID, ok := h.instanceID(w, r)
	if !ok {
		return
	}

	entries, err := h.service.Lineage(ctx, instanceID)
	if err != nil {
		h.logger.WarnContext(ctx, "lineage lookup failed",
			"request_id", middleware.GetRequestID(ctx),
			"instance_id", instanceID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"lineage": FromLineage(entries),
	})
}

func (h *Handler) member(w http.ResponseWriter, r *http.Request) (id.MemberID, bool) {
	memberID := middleware.GetMemberID(r.Context())
	if memberID.IsNil() {
		h.logger.ErrorContext(r.Context(), "member missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return id.MemberID{}, false
	}
	return memberID, true
}

func (h *Handler) instanceID(w http.ResponseWriter, r *http.Request) (id.InstanceID, bool) {
	instanceID, err := id.ParseInstanceID(chi.URLParam(r, "instanceID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "instanceID must be a valid UUID"))
		return id.InstanceID{}, false
	}
	return instanceID, true
}
