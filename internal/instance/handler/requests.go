package handler

import (
	"encoding/json"

	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
)

// CreateInstanceRequest is the HTTP request body for POST /cards/instances.
type CreateInstanceRequest struct {
	FormID  string          `json:"form_id"`
	Payload json.RawMessage `json:"payload"`

	parsedFormID id.FormID
}

// Validate validates and parses the request.
func (r *CreateInstanceRequest) Validate() error {
	formID, err := id.ParseFormID(r.FormID)
	if err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "form_id must be a valid UUID")
	}
	r.parsedFormID = formID
	if len(r.Payload) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "payload is required")
	}
	return nil
}

// ParsedFormID returns the validated form ID.
func (r *CreateInstanceRequest) ParsedFormID() id.FormID {
	return r.parsedFormID
}

// SupersedeRequest is the HTTP request body for supersession. The target
// instance comes from the URL.
type SupersedeRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// Validate validates the request.
func (r *SupersedeRequest) Validate() error {
	if len(r.Payload) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "payload is required")
	}
	return nil
}
