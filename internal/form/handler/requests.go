package handler

import (
	"encoding/json"
	"strings"

	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
)

// RegisterFormRequest is the HTTP request body for form registration, shared
// by the system and member paths.
type RegisterFormRequest struct {
	Name             string          `json:"name"`
	FormType         string          `json:"form_type"`
	SchemaDefinition json.RawMessage `json:"schema_definition"`

	parsedFormType id.FormType
}

// Validate validates and parses the request.
func (r *RegisterFormRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeBadRequest, "name is required")
	}
	formType := id.FormType(r.FormType)
	if !formType.Valid() {
		return dErrors.Newf(dErrors.CodeInvalidFormType, "form_type must be entity, data, or use, got %q", r.FormType)
	}
	r.parsedFormType = formType
	if len(r.SchemaDefinition) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "schema_definition is required")
	}
	return nil
}

// ParsedFormType returns the validated form type.
func (r *RegisterFormRequest) ParsedFormType() id.FormType {
	return r.parsedFormType
}
