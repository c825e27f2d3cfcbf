package service

import (
	"context"
	"encoding/json"
	"time"

	"cardgate/internal/form"
	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
	audit "cardgate/pkg/platform/audit"
	"cardgate/pkg/platform/tx"
)

// SchemaChecker is the slice of the payload validator the registry needs:
// well-formedness of a candidate schema definition.
type SchemaChecker interface {
	CheckSchema(definition json.RawMessage) error
}

// Service registers card forms. Both the privileged system path and the
// member path route through Register; they differ only in the actor recorded
// on the audit entry.
type Service struct {
	store   form.Store
	checker SchemaChecker
	auditor audit.Store
	runner  tx.Runner
	now     func() time.Time
}

func New(store form.Store, checker SchemaChecker, auditor audit.Store, runner tx.Runner) *Service {
	return &Service{
		store:   store,
		checker: checker,
		auditor: auditor,
		runner:  runner,
		now:     time.Now,
	}
}

// Register validates and persists a form, moving it straight to registered.
// actor is nil for system-originated (bootstrap) registration. The audit
// append is part of the same transaction as the form write.
func (s *Service) Register(ctx context.Context, name string, formType id.FormType, definition json.RawMessage, actor *id.MemberID) (id.FormID, error) {
	if name == "" {
		return id.FormID{}, dErrors.New(dErrors.CodeBadRequest, "name must not be empty")
	}
	if !formType.Valid() {
		return id.FormID{}, dErrors.Newf(dErrors.CodeInvalidFormType, "form_type must be entity, data, or use, got %q", formType)
	}
	if err := s.checker.CheckSchema(definition); err != nil {
		return id.FormID{}, dErrors.Wrap(err, dErrors.CodeInvalidSchema, "schema_definition is not a well-formed JSON Schema")
	}

	now := s.now()
	registered := form.CardForm{
		ID:               id.NewFormID(),
		Name:             name,
		FormType:         formType,
		SchemaDefinition: definition,
		Status:           form.StatusRegistered,
		RegisteredAt:     &now,
		CreatedAt:        now,
	}

	lifecycleContext := map[string]any{
		"form_name": name,
		"form_type": string(formType),
	}
	var entry audit.Entry
	if actor == nil {
		lifecycleContext["registration_mode"] = "system_alpha"
		entry = audit.SystemEntry(audit.ActionFormRegistered, audit.EntityCardForm, registered.ID.String(), lifecycleContext)
	} else {
		entry = audit.MemberEntry(audit.ActionFormRegistered, *actor, audit.EntityCardForm, registered.ID.String(), lifecycleContext)
	}
	entry.CreatedAt = now

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Save(ctx, registered); err != nil {
			return err
		}
		return s.auditor.Append(ctx, entry)
	})
	if err != nil {
		return id.FormID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register form")
	}
	return registered.ID, nil
}
