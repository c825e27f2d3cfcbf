package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cardgate/internal/form"
	"cardgate/internal/instance"
	"cardgate/internal/issuance"
	issuanceservice "cardgate/internal/issuance/service"
	"cardgate/internal/platform/metrics"
	"cardgate/internal/platform/middleware"
	id "cardgate/pkg/domain"
	auditmem "cardgate/pkg/platform/audit/store/memory"
	"cardgate/pkg/platform/tx"
)

var testMetrics = metrics.New()

type fixture struct {
	router    chi.Router
	instances *instance.InMemoryStore
	issuer    id.MemberID
	recipient id.MemberID
}

// newFixture wires the handler against real memory stores; tests inject the
// caller via request context instead of the auth middleware.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	forms := form.NewInMemoryStore()
	instances := instance.NewInMemoryStore(forms)
	store := issuance.NewInMemoryStore()
	service := issuanceservice.New(store, instances, auditmem.NewInMemoryStore(), tx.NewMutexRunner())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := New(service, logger, testMetrics, nil)

	router := chi.NewRouter()
	router.Post("/cards/issuances", handler.handleIssue)
	router.Post("/cards/issuances/{issuanceID}/resolve", handler.handleResolve)
	router.Post("/cards/issuances/{issuanceID}/revoke", handler.handleRevoke)
	router.Get("/cards/issuances/{issuanceID}/instance", handler.handleIssuedInstance)

	return &fixture{
		router:    router,
		instances: instances,
		issuer:    id.MemberID(uuid.New()),
		recipient: id.MemberID(uuid.New()),
	}
}

func (f *fixture) newInstance(t *testing.T) id.InstanceID {
	t.Helper()
	inst := instance.CardInstance{
		ID:        id.NewInstanceID(),
		FormID:    id.NewFormID(),
		OwnerID:   f.issuer,
		Payload:   json.RawMessage(`{"card":{"id":"agent-1"}}`),
		IsCurrent: true,
		CreatedAt: time.Now(),
	}
	if err := f.instances.Insert(context.Background(), inst); err != nil {
		t.Fatalf("insert instance: %v", err)
	}
	return inst.ID
}

func (f *fixture) do(t *testing.T, member id.MemberID, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req = req.WithContext(middleware.WithMemberID(req.Context(), member))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) issue(t *testing.T) string {
	t.Helper()
	rec := f.do(t, f.issuer, http.MethodPost, "/cards/issuances", map[string]string{
		"instance_id":         f.newInstance(t).String(),
		"recipient_member_id": f.recipient.String(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 issuing, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		IssuanceID string `json:"issuance_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.IssuanceID
}

func TestIssueEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, f.issuer, http.MethodPost, "/cards/issuances", map[string]string{
		"instance_id":         f.newInstance(t).String(),
		"recipient_member_id": f.recipient.String(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		IssuanceID string `json:"issuance_id"`
		DeliveryID string `json:"delivery_id"`
		Status     string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.IssuanceID == "" || resp.DeliveryID == "" {
		t.Fatalf("expected issuance and delivery IDs, got %+v", resp)
	}
	if resp.Status != "issued" {
		t.Fatalf("expected status issued, got %q", resp.Status)
	}
}

func TestIssueRejectsAmbiguousRecipient(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, f.issuer, http.MethodPost, "/cards/issuances", map[string]string{
		"instance_id":         f.newInstance(t).String(),
		"recipient_member_id": f.recipient.String(),
		"invitee_locator":     "ada@example.org",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for ambiguous recipient, got %d", rec.Code)
	}
}

func TestResolveEndpoint(t *testing.T) {
	f := newFixture(t)
	issuanceID := f.issue(t)

	rec := f.do(t, f.recipient, http.MethodPost, "/cards/issuances/"+issuanceID+"/resolve", map[string]string{
		"resolution": "accepted",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	// A second resolution hits the terminal state.
	rec = f.do(t, f.recipient, http.MethodPost, "/cards/issuances/"+issuanceID+"/resolve", map[string]string{
		"resolution": "rejected",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 resolving twice, got %d", rec.Code)
	}
}

func TestResolveRejectsStranger(t *testing.T) {
	f := newFixture(t)
	issuanceID := f.issue(t)

	rec := f.do(t, id.MemberID(uuid.New()), http.MethodPost, "/cards/issuances/"+issuanceID+"/resolve", map[string]string{
		"resolution": "accepted",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-recipient, got %d", rec.Code)
	}
}

func TestRevokeEndpoint(t *testing.T) {
	f := newFixture(t)
	issuanceID := f.issue(t)

	rec := f.do(t, f.issuer, http.MethodPost, "/cards/issuances/"+issuanceID+"/revoke", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, f.recipient, http.MethodPost, "/cards/issuances/"+issuanceID+"/resolve", map[string]string{
		"resolution": "accepted",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 resolving a revoked issuance, got %d", rec.Code)
	}
}

func TestIssuedInstanceEndpoint(t *testing.T) {
	f := newFixture(t)
	issuanceID := f.issue(t)

	rec := f.do(t, f.recipient, http.MethodGet, "/cards/issuances/"+issuanceID+"/instance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		InstanceID string          `json:"instance_id"`
		Payload    json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.InstanceID == "" || len(resp.Payload) == 0 {
		t.Fatalf("expected instance payload, got %+v", resp)
	}

	rec = f.do(t, id.MemberID(uuid.New()), http.MethodGet, "/cards/issuances/"+issuanceID+"/instance", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-recipient, got %d", rec.Code)
	}
}
