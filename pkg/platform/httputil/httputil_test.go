package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dErrors "cardgate/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error_code"] != "internal" {
			t.Fatalf("expected error code internal, got %q", body["error_code"])
		}
		if _, ok := body["error_message"]; ok {
			t.Fatalf("expected error_message to be omitted for internal errors")
		}
	})

	t.Run("bad request includes message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error_code"] != "bad_request" {
			t.Fatalf("expected error code bad_request, got %q", body["error_code"])
		}
		if body["error_message"] != "invalid input" {
			t.Fatalf("expected error_message to be returned for bad request")
		}
	})

	t.Run("payload errors carry per-field detail", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := dErrors.New(dErrors.CodePayloadInvalid, "payload does not match form schema").
			WithFields(map[string]string{"/card/id": "is required"})
		WriteError(w, err)

		var body struct {
			Fields map[string]string `json:"fields"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body.Fields["/card/id"] != "is required" {
			t.Fatalf("expected field detail, got %v", body.Fields)
		}
	})
}

type decodeRequest struct {
	Name string `json:"name"`
}

func (r *decodeRequest) Validate() error {
	if r.Name == "" {
		return dErrors.New(dErrors.CodeBadRequest, "name is required")
	}
	return nil
}

func TestDecode(t *testing.T) {
	t.Run("valid body passes validation", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok"}`))

		req, ok := Decode[decodeRequest](w, r)
		if !ok {
			t.Fatalf("expected decode to succeed, body %s", w.Body.String())
		}
		if req.Name != "ok" {
			t.Fatalf("expected name ok, got %q", req.Name)
		}
	})

	t.Run("malformed json is a bad request", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))

		if _, ok := Decode[decodeRequest](w, r); ok {
			t.Fatalf("expected decode to fail")
		}
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("validation failure writes the domain error", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))

		if _, ok := Decode[decodeRequest](w, r); ok {
			t.Fatalf("expected decode to fail")
		}
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}
