// Package domainerrors defines coded errors returned by domain services.
// Stores return sentinel errors (pkg/platform/sentinel); services translate
// those facts into one of the codes below so transport layers can map them to
// HTTP statuses without string matching.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	// Validation: caller-correctable, reported with detail, no partial state.
	CodeInvalidFormType Code = "invalid_form_type"
	CodeInvalidSchema   Code = "invalid_schema"
	CodePayloadInvalid  Code = "payload_invalid"
	CodeBadRequest      Code = "bad_request"

	// Authorization: caller lacks rights over the target. Kept generic so the
	// response does not leak whether the target exists.
	CodeNotOwner     Code = "not_owner"
	CodeNotIssuer    Code = "not_issuer"
	CodeNotRecipient Code = "not_recipient"
	CodeUnauthorized Code = "unauthorized"

	// State conflict: the requested transition is illegal in the current
	// lifecycle state. Message carries the current state.
	CodeAlreadySuperseded Code = "already_superseded"
	CodeInvalidStatus     Code = "invalid_status"
	CodeFormNotRegistered Code = "form_not_registered"
	CodeInvalidRecipient  Code = "invalid_recipient"

	CodeNotFound Code = "not_found"
	CodeTimeout  Code = "timeout"
	CodeInternal Code = "internal"
)

// DomainError carries a machine-readable code alongside the message. Fields
// holds per-field validation messages for payload_invalid errors.
type DomainError struct {
	Code    Code
	Message string
	Fields  map[string]string
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.cause }

func New(code Code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, code Code, message string) *DomainError {
	return &DomainError{Code: code, Message: message, cause: err}
}

// WithFields attaches per-field validation messages.
func (e *DomainError) WithFields(fields map[string]string) *DomainError {
	e.Fields = fields
	return e
}

// HasCode reports whether err is a DomainError with the given code.
func HasCode(err error, code Code) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to internal.
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// FieldsOf extracts per-field detail from err, if any.
func FieldsOf(err error) map[string]string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Fields
	}
	return nil
}

// ToHTTPStatus maps a domain code to the HTTP status the transport layer
// should respond with.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidFormType, CodeInvalidSchema, CodePayloadInvalid,
		CodeBadRequest, CodeInvalidRecipient:
		return http.StatusBadRequest
	case CodeNotOwner, CodeNotIssuer, CodeNotRecipient:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeAlreadySuperseded, CodeInvalidStatus, CodeFormNotRegistered:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
