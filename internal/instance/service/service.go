package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cardgate/internal/form"
	"cardgate/internal/instance"
	"cardgate/internal/schema"
	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
	audit "cardgate/pkg/platform/audit"
	"cardgate/pkg/platform/sentinel"
	"cardgate/pkg/platform/tx"
)

// PayloadValidator is the slice of the schema validator the versioning engine
// needs: payload conformance with per-field detail.
type PayloadValidator interface {
	ValidatePayload(definition, payload json.RawMessage) ([]schema.FieldError, error)
}

// Service creates and supersedes card instances and answers lineage queries.
type Service struct {
	instances instance.Store
	forms     form.Store
	validator PayloadValidator
	auditor   audit.Store
	runner    tx.Runner
	now       func() time.Time
}

func New(instances instance.Store, forms form.Store, validator PayloadValidator, auditor audit.Store, runner tx.Runner) *Service {
	return &Service{
		instances: instances,
		forms:     forms,
		validator: validator,
		auditor:   auditor,
		runner:    runner,
		now:       time.Now,
	}
}

// Create validates payload against the form's schema and persists a new
// current instance. A create attempt against an unregistered form is refused
// and leaves an audit trace of the refusal.
func (s *Service) Create(ctx context.Context, formID id.FormID, payload json.RawMessage, owner id.MemberID) (id.InstanceID, error) {
	f, err := s.forms.GetByID(ctx, formID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return id.InstanceID{}, dErrors.New(dErrors.CodeNotFound, "form not found")
		}
		return id.InstanceID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load form")
	}
	if f.Status != form.StatusRegistered {
		// The refusal itself is audited. This append is independent of any
		// mutation, so it is not transactional.
		blocked := audit.MemberEntry(audit.ActionInstanceCreateBlocked, owner, audit.EntityCardForm, formID.String(), map[string]any{
			"form_id":     formID.String(),
			"form_status": string(f.Status),
		})
		blocked.CreatedAt = s.now()
		_ = s.auditor.Append(ctx, blocked)
		return id.InstanceID{}, dErrors.Newf(dErrors.CodeFormNotRegistered, "form is %s, not registered", f.Status)
	}

	if err := s.validatePayload(f, payload); err != nil {
		return id.InstanceID{}, err
	}

	now := s.now()
	inst := instance.CardInstance{
		ID:        id.NewInstanceID(),
		FormID:    formID,
		OwnerID:   owner,
		Payload:   payload,
		IsCurrent: true,
		CreatedAt: now,
	}
	entry := audit.MemberEntry(audit.ActionInstanceCreated, owner, audit.EntityCardInstance, inst.ID.String(), map[string]any{
		"form_id":   formID.String(),
		"form_type": string(f.FormType),
	})
	entry.CreatedAt = now

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.instances.Insert(ctx, inst); err != nil {
			return err
		}
		return s.auditor.Append(ctx, entry)
	})
	if err != nil {
		return id.InstanceID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create instance")
	}
	return inst.ID, nil
}

// Supersede retires the current instance of a lineage and installs a new
// version in its place. The old-instance update and the new-instance insert
// are one atomic unit; a concurrent supersession of the same tail loses with
// already_superseded.
func (s *Service) Supersede(ctx context.Context, oldInstanceID id.InstanceID, newPayload json.RawMessage, owner id.MemberID) (id.InstanceID, error) {
	old, err := s.instances.GetByID(ctx, oldInstanceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return id.InstanceID{}, dErrors.New(dErrors.CodeNotFound, "instance not found")
		}
		return id.InstanceID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load instance")
	}
	if old.OwnerID != owner {
		return id.InstanceID{}, dErrors.New(dErrors.CodeNotOwner, "caller does not own this instance")
	}
	if !old.IsCurrent {
		return id.InstanceID{}, dErrors.New(dErrors.CodeAlreadySuperseded, "instance has already been superseded")
	}

	f, err := s.forms.GetByID(ctx, old.FormID)
	if err != nil {
		return id.InstanceID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load form")
	}
	if f.Status != form.StatusRegistered {
		return id.InstanceID{}, dErrors.Newf(dErrors.CodeFormNotRegistered, "form is %s, not registered", f.Status)
	}
	if err := s.validatePayload(f, newPayload); err != nil {
		return id.InstanceID{}, err
	}

	now := s.now()
	successor := instance.CardInstance{
		ID:        id.NewInstanceID(),
		FormID:    old.FormID,
		OwnerID:   old.OwnerID,
		Payload:   newPayload,
		IsCurrent: true,
		CreatedAt: now,
	}
	entry := audit.MemberEntry(audit.ActionCardSuperseded, owner, audit.EntityCardInstance, successor.ID.String(), map[string]any{
		"old_instance_id": old.ID.String(),
		"new_instance_id": successor.ID.String(),
	})
	entry.CreatedAt = now

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.instances.MarkSuperseded(ctx, old.ID, successor.ID, now); err != nil {
			return err
		}
		if err := s.instances.Insert(ctx, successor); err != nil {
			return err
		}
		return s.auditor.Append(ctx, entry)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return id.InstanceID{}, dErrors.New(dErrors.CodeAlreadySuperseded, "instance has already been superseded")
		}
		return id.InstanceID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to supersede instance")
	}
	return successor.ID, nil
}

// Lineage returns the full version chain containing instanceID, root first,
// each entry tagged with its 1-based version number.
func (s *Service) Lineage(ctx context.Context, instanceID id.InstanceID) ([]instance.LineageEntry, error) {
	chain, err := s.instances.Lineage(ctx, instanceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "instance not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load lineage")
	}
	entries := make([]instance.LineageEntry, 0, len(chain))
	for i, inst := range chain {
		entries = append(entries, instance.LineageEntry{
			InstanceID:    inst.ID,
			FormID:        inst.FormID,
			Payload:       inst.Payload,
			VersionNumber: i + 1,
			IsCurrent:     inst.IsCurrent,
			SupersededBy:  inst.SupersededBy,
			SupersededAt:  inst.SupersededAt,
			CreatedAt:     inst.CreatedAt,
		})
	}
	return entries, nil
}

func (s *Service) validatePayload(f form.CardForm, payload json.RawMessage) error {
	fields, err := s.validator.ValidatePayload(f.SchemaDefinition, payload)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "payload validation failed")
	}
	if len(fields) > 0 {
		detail := make(map[string]string, len(fields))
		for _, fe := range fields {
			detail[fe.Path] = fe.Message
		}
		return dErrors.New(dErrors.CodePayloadInvalid, "payload does not match form schema").WithFields(detail)
	}
	return nil
}
