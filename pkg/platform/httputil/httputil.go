package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "cardgate/pkg/domain-errors"
)

// errorEnvelope is the JSON shape every error response uses. Fields carries
// per-field detail for payload validation failures.
type errorEnvelope struct {
	ErrorCode    string            `json:"error_code"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into its HTTP status and envelope.
// Internal errors keep their message out of the response body.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	envelope := errorEnvelope{ErrorCode: string(code)}
	if code != dErrors.CodeInternal {
		var domainErr *dErrors.DomainError
		if errors.As(err, &domainErr) {
			envelope.ErrorMessage = domainErr.Message
		}
		envelope.Fields = dErrors.FieldsOf(err)
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), envelope)
}

// Validatable is implemented by request types that validate and parse
// themselves after decoding.
type Validatable interface {
	Validate() error
}

// Decode reads a JSON request body into T and runs its validation. On failure
// it writes the error response and returns false; the handler should return
// immediately.
func Decode[T any, P interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request) (*T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}
	if err := P(&req).Validate(); err != nil {
		WriteError(w, err)
		return nil, false
	}
	return &req, true
}
