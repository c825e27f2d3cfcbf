// Package schema is the payload-validation boundary. The instance service
// treats the validator as an external collaborator: it hands over a form's
// schema definition and a candidate payload and gets back valid/invalid plus
// per-field detail, without knowing how validation is performed.
package schema

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FieldError reports one validation failure at a payload location.
type FieldError struct {
	Path    string
	Message string
}

// Validator checks schema well-formedness and payload conformance.
type Validator interface {
	// CheckSchema reports whether definition is a well-formed JSON Schema.
	CheckSchema(definition json.RawMessage) error
	// ValidatePayload returns the field-level failures of payload against
	// definition. An empty slice and nil error means the payload is valid.
	ValidatePayload(definition, payload json.RawMessage) ([]FieldError, error)
}

// JSONSchemaValidator implements Validator with draft 2020-12 semantics.
type JSONSchemaValidator struct{}

func NewJSONSchemaValidator() *JSONSchemaValidator { return &JSONSchemaValidator{} }

const schemaResource = "schema.json"

func (v *JSONSchemaValidator) compile(definition json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResource, strings.NewReader(string(definition))); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaResource)
}

func (v *JSONSchemaValidator) CheckSchema(definition json.RawMessage) error {
	_, err := v.compile(definition)
	return err
}

func (v *JSONSchemaValidator) ValidatePayload(definition, payload json.RawMessage) ([]FieldError, error) {
	sch, err := v.compile(definition)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return []FieldError{{Path: "/", Message: "payload is not valid JSON"}}, nil
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil, nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, err
	}
	return flatten(ve), nil
}

// flatten walks the validation error tree and keeps the leaf causes, which
// carry the most specific location and message.
func flatten(ve *jsonschema.ValidationError) []FieldError {
	if len(ve.Causes) == 0 {
		path := ve.InstanceLocation
		if path == "" {
			path = "/"
		}
		return []FieldError{{Path: path, Message: ve.Message}}
	}
	var out []FieldError
	for _, cause := range ve.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}
