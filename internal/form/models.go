package form

import (
	"context"
	"encoding/json"
	"time"

	id "cardgate/pkg/domain"
)

// Status tracks the form lifecycle. Registered is terminal: a registered
// form's name, type, and schema definition never change.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusRegistered Status = "registered"
)

// CardForm is a named CARD form definition. Instances are created against a
// registered form and validated by its schema definition.
type CardForm struct {
	ID               id.FormID
	Name             string
	FormType         id.FormType
	SchemaDefinition json.RawMessage
	Status           Status
	RegisteredAt     *time.Time
	CreatedAt        time.Time
}

// Store persists card forms. GetByID returns sentinel.ErrNotFound when no
// form exists for the ID.
type Store interface {
	Save(ctx context.Context, form CardForm) error
	GetByID(ctx context.Context, formID id.FormID) (CardForm, error)
}
