package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cardgate/internal/platform/metrics"
	"cardgate/internal/platform/middleware"
	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
	"cardgate/pkg/platform/httputil"
)

// Service defines the interface for form registry operations.
type Service interface {
	Register(ctx context.Context, name string, formType id.FormType, definition json.RawMessage, actor *id.MemberID) (id.FormID, error)
}

// Handler wires form registry endpoints to the form service.
type Handler struct {
	service      Service
	logger       *slog.Logger
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
	systemKey    string
}

// New constructs a form handler with its dependencies.
func New(service Service, logger *slog.Logger, metrics *metrics.Metrics, jwtValidator middleware.JWTValidator, systemKey string) *Handler {
	return &Handler{
		service:      service,
		logger:       logger,
		metrics:      metrics,
		jwtValidator: jwtValidator,
		systemKey:    systemKey,
	}
}

// Register mounts form registry endpoints on the router. The system path
// authenticates with a shared service key, the member path with a bearer
// token.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSystemKey(h.systemKey, h.logger))
		r.Post("/system/register-form", h.handleSystemRegister)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/cards/forms", h.handleMemberRegister)
	})
}

// handleSystemRegister handles POST /system/register-form requests.
func (h *Handler) handleSystemRegister(w http.ResponseWriter, r *http.Request) {
	h.register(w, r, nil)
}

// handleMemberRegister handles POST /cards/forms requests.
func (h *Handler) handleMemberRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	memberID := middleware.GetMemberID(ctx)
	if memberID.IsNil() {
		h.logger.ErrorContext(ctx, "member missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	h.register(w, r, &memberID)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request, actor *id.MemberID) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.Decode[RegisterFormRequest](w, r)
	if !ok {
		return
	}

	formID, err := h.service.Register(ctx, req.Name, req.ParsedFormType(), req.SchemaDefinition, actor)
	if err != nil {
		h.logger.WarnContext(ctx, "form registration failed",
			"request_id", requestID,
			"form_name", req.Name,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.metrics.FormsRegistered.Inc()
	h.logger.InfoContext(ctx, "form registered",
		"request_id", requestID,
		"form_id", formID,
		"form_name", req.Name,
		"form_type", req.FormType,
	)
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"form_id": formID.String(),
		"status":  "registered",
	})
}
