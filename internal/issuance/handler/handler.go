package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cardgate/internal/instance"
	"cardgate/internal/issuance"
	issuanceservice "cardgate/internal/issuance/service"
	"cardgate/internal/platform/metrics"
	"cardgate/internal/platform/middleware"
	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
	"cardgate/pkg/platform/httputil"
)

// Service defines the interface for issuance operations.
type Service interface {
	Issue(ctx context.Context, instanceID id.InstanceID, recipient issuance.RecipientRef, issuer id.MemberID) (issuanceservice.IssueResult, error)
	Resolve(ctx context.Context, issuanceID id.IssuanceID, resolution issuance.Status, recipient issuance.RecipientRef) error
	Revoke(ctx context.Context, issuanceID id.IssuanceID, issuer id.MemberID) error
	IssuedInstance(ctx context.Context, issuanceID id.IssuanceID, caller issuance.RecipientRef) (instance.CardInstance, error)
}

// Handler wires issuance endpoints to the issuance service.
type Handler struct {
	service      Service
	logger       *slog.Logger
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New constructs an issuance handler with its dependencies.
func New(service Service, logger *slog.Logger, metrics *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		service:      service,
		logger:       logger,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register mounts issuance endpoints on the router. All of them require a
// member bearer token.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/cards/issuances", h.handleIssue)
		r.Post("/cards/issuances/{issuanceID}/resolve", h.handleResolve)
		r.Post("/cards/issuances/{issuanceID}/revoke", h.handleRevoke)
		r.Get("/cards/issuances/{issuanceID}/instance", h.handleIssuedInstance)
	})
}

// handleIssue handles POST /cards/issuances requests.
func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	memberID, ok := h.member(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[IssueRequest](w, r)
	if !ok {
		return
	}

	result, err := h.service.Issue(ctx, req.ParsedInstanceID(), req.ParsedRecipient(), memberID)
	if err != nil {
		h.logger.WarnContext(ctx, "issuance failed",
			"request_id", requestID,
			"instance_id", req.InstanceID,
			"member_id", memberID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.metrics.CardsIssued.Inc()
	h.logger.InfoContext(ctx, "card issued",
		"request_id", requestID,
		"issuance_id", result.IssuanceID,
		"instance_id", req.InstanceID,
		"member_id", memberID,
	)
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"issuance_id": result.IssuanceID.String(),
		"delivery_id": result.DeliveryID.String(),
		"status":      string(issuance.StatusIssued),
	})
}

// handleResolve handles POST /cards/issuances/{issuanceID}/resolve requests.
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	memberID, ok := h.member(w, r)
	if !ok {
		return
	}
	issuanceID, ok := h.issuanceID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[ResolveRequest](w, r)
	if !ok {
		return
	}

	err := h.service.Resolve(ctx, issuanceID, req.ParsedResolution(), issuance.RecipientRef{MemberID: &memberID})
	if err != nil {
		h.logger.WarnContext(ctx, "resolution failed",
			"request_id", middleware.GetRequestID(ctx),
			"issuance_id", issuanceID,
			"resolution", req.Resolution,
			"member_id", memberID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "issuance resolved",
		"request_id", middleware.GetRequestID(ctx),
		"issuance_id", issuanceID,
		"resolution", req.Resolution,
		"member_id", memberID,
	)
	w.WriteHeader(http.StatusNoContent)
}

// handleRevoke handles POST /cards/issuances/{issuanceID}/revoke requests.
func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	memberID, ok := h.member(w, r)
	if !ok {
		return
	}
	issuanceID, ok := h.issuanceID(w, r)
	if !ok {
		return
	}

	if err := h.service.Revoke(ctx, issuanceID, memberID); err != nil {
		h.logger.WarnContext(ctx, "revocation failed",
			"request_id", middleware.GetRequestID(ctx),
			"issuance_id", issuanceID,
			"member_id", memberID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "issuance revoked",
		"request_id", middleware.GetRequestID(ctx),
		"issuance_id", issuanceID,
		"member_id", memberID,
	)
	w.WriteHeader(http.StatusNoContent)
}

// handleIssuedInstance handles GET /cards/issuances/{issuanceID}/instance
// requests: the recipient's pending-review view of the offered card.
func (h *Handler) handleIssuedInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	memberID, ok := h.member(w, r)
	if !ok {
		return
	}
	issuanceID, ok := h.issuanceID(w, r)
	if !ok {
		return
	}

	inst, err := h.service.IssuedInstance(ctx, issuanceID, issuance.RecipientRef{MemberID: &memberID})
	if err != nil {
		h.logger.WarnContext(ctx, "issued instance lookup failed",
			"request_id", middleware.GetRequestID(ctx),
			"issuance_id", issuanceID,
			"member_id", memberID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, issuedInstanceResponse{
		InstanceID: inst.ID.String(),
		FormID:     inst.FormID.String(),
		Payload:    inst.Payload,
		IsCurrent:  inst.IsCurrent,
		CreatedAt:  inst.CreatedAt,
	})
}

type issuedInstanceResponse struct {
	InstanceID string          `json:"instance_id"`
	FormID     string          `json:"form_id"`
	Payload    json.RawMessage `json:"payload"`
	IsCurrent  bool            `json:"is_current"`
	CreatedAt  time.Time       `json:"created_at"`
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

func (h *Handler) issuanceID(w http.ResponseWriter, r *http.Request) (id.IssuanceID, bool) {
	issuanceID, err := id.ParseIssuanceID(chi.URLParam(r, "issuanceID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "issuanceID must be a valid UUID"))
		return id.IssuanceID{}, false
	}
	return issuanceID, true
}
