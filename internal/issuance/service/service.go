package service

import (
	"context"
	"errors"
	"time"

	"cardgate/internal/instance"
	"cardgate/internal/issuance"
	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
	audit "cardgate/pkg/platform/audit"
	"cardgate/pkg/platform/sentinel"
	"cardgate/pkg/platform/tx"
)

// InstanceReader is the slice of the instance store the delivery engine
// needs.
type InstanceReader interface {
	GetByID(ctx context.Context, instanceID id.InstanceID) (instance.CardInstance, error)
}

// Service drives the issuance state machine and keeps deliveries in step.
type Service struct {
	store     issuance.Store
	instances InstanceReader
	auditor   audit.Store
	runner    tx.Runner
	now       func() time.Time
}

func New(store issuance.Store, instances InstanceReader, auditor audit.Store, runner tx.Runner) *Service {
	return &Service{
		store:     store,
		instances: instances,
		auditor:   auditor,
		runner:    runner,
		now:       time.Now,
	}
}

// IssueResult carries the two IDs created by one issue call.
type IssueResult struct {
	IssuanceID id.IssuanceID
	DeliveryID id.DeliveryID
}

// Issue offers an instance to a recipient. Issuance, delivery, and audit
// entry are one transaction; a delivery without its issuance (or the reverse)
// is never observable.
func (s *Service) Issue(ctx context.Context, instanceID id.InstanceID, recipient issuance.RecipientRef, issuer id.MemberID) (IssueResult, error) {
	if err := recipient.Validate(); err != nil {
		return IssueResult{}, err
	}
	if _, err := s.instances.GetByID(ctx, instanceID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return IssueResult{}, dErrors.New(dErrors.CodeNotFound, "instance not found")
		}
		return IssueResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load instance")
	}

	now := s.now()
	iss := issuance.CardIssuance{
		ID:                id.NewIssuanceID(),
		InstanceID:        instanceID,
		IssuerID:          issuer,
		RecipientMemberID: recipient.MemberID,
		InviteeLocator:    recipient.InviteeLocator,
		Status:            issuance.StatusIssued,
		IssuedAt:          now,
	}
	del := issuance.CardDelivery{
		ID:                id.NewDeliveryID(),
		IssuanceID:        iss.ID,
		RecipientMemberID: recipient.MemberID,
		InviteeLocator:    recipient.InviteeLocator,
		Status:            issuance.StatusIssued,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	lifecycleContext := map[string]any{
		"instance_id": instanceID.String(),
		"issuer_id":   issuer.String(),
	}
	if recipient.MemberID != nil {
		lifecycleContext["recipient_member_id"] = recipient.MemberID.String()
	} else {
		lifecycleContext["invitee_locator"] = recipient.InviteeLocator
	}
	entry := audit.MemberEntry(audit.ActionCardIssued, issuer, audit.EntityCardIssuance, iss.ID.String(), lifecycleContext)
	entry.CreatedAt = now

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertIssuance(ctx, iss); err != nil {
			return err
		}
		if err := s.store.InsertDelivery(ctx, del); err != nil {
			return err
		}
		return s.auditor.Append(ctx, entry)
	})
	if err != nil {
		return IssueResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue card")
	}
	return IssueResult{IssuanceID: iss.ID, DeliveryID: del.ID}, nil
}

// Resolve records the recipient's accept/reject decision. Only the addressed
// recipient may resolve, and only while the issuance is still in issued.
func (s *Service) Resolve(ctx context.Context, issuanceID id.IssuanceID, resolution issuance.Status, recipient issuance.RecipientRef) error {
	if resolution != issuance.StatusAccepted && resolution != issuance.StatusRejected {
		return dErrors.Newf(dErrors.CodeBadRequest, "resolution must be accepted or rejected, got %q", resolution)
	}

	iss, err := s.store.GetIssuance(ctx, issuanceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "issuance not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load issuance")
	}
	if !recipient.Matches(iss) {
		return dErrors.New(dErrors.CodeNotRecipient, "caller is not the addressed recipient")
	}
	if iss.Status != issuance.StatusIssued {
		return dErrors.Newf(dErrors.CodeInvalidStatus, "issuance is %s, expected issued", iss.Status)
	}

	action := audit.ActionCardAccepted
	if resolution == issuance.StatusRejected {
		action = audit.ActionCardRejected
	}
	now := s.now()
	entry := s.resolutionEntry(action, iss, recipient, map[string]any{
		"instance_id": iss.InstanceID.String(),
		"resolution":  string(resolution),
	})
	entry.CreatedAt = now

	return s.transition(ctx, iss, resolution, now, entry)
}

// Revoke withdraws an issuance. Only the issuer may revoke, and only from
// issued or accepted. Revocation is terminal.
func (s *Service) Revoke(ctx context.Context, issuanceID id.IssuanceID, issuer id.MemberID) error {
	iss, err := s.store.GetIssuance(ctx, issuanceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "issuance not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load issuance")
	}
	if iss.IssuerID != issuer {
		return dErrors.New(dErrors.CodeNotIssuer, "caller did not issue this card")
	}
	if iss.Status != issuance.StatusIssued && iss.Status != issuance.StatusAccepted {
		return dErrors.Newf(dErrors.CodeInvalidStatus, "issuance is %s, expected issued or accepted", iss.Status)
	}

	now := s.now()
	entry := audit.MemberEntry(audit.ActionCardRevoked, issuer, audit.EntityCardIssuance, iss.ID.String(), map[string]any{
		"instance_id": iss.InstanceID.String(),
		"revoked_at":  now.UTC().Format(time.RFC3339),
	})
	entry.CreatedAt = now

	return s.transition(ctx, iss, issuance.StatusRevoked, now, entry)
}

// IssuedInstance returns the instance behind an issuance, scoped to its
// recipient (the pending-review view).
func (s *Service) IssuedInstance(ctx context.Context, issuanceID id.IssuanceID, caller issuance.RecipientRef) (instance.CardInstance, error) {
	iss, err := s.store.GetIssuance(ctx, issuanceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return instance.CardInstance{}, dErrors.New(dErrors.CodeNotFound, "issuance not found")
		}
		return instance.CardInstance{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load issuance")
	}
	if !caller.Matches(iss) {
		return instance.CardInstance{}, dErrors.New(dErrors.CodeNotRecipient, "caller is not the addressed recipient")
	}
	inst, err := s.instances.GetByID(ctx, iss.InstanceID)
	if err != nil {
		return instance.CardInstance{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load instance")
	}
	return inst, nil
}

// transition runs the conditional status write plus audit append as one unit.
// A lost race surfaces as invalid_status with the then-current state.
func (s *Service) transition(ctx context.Context, iss issuance.CardIssuance, target issuance.Status, at time.Time, entry audit.Entry) error {
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Transition(ctx, iss.ID, target, at); err != nil {
			return err
		}
		return s.auditor.Append(ctx, entry)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			current := iss.Status
			if latest, lookupErr := s.store.GetIssuance(ctx, iss.ID); lookupErr == nil {
				current = latest.Status
			}
			return dErrors.Newf(dErrors.CodeInvalidStatus, "issuance is %s, transition to %s refused", current, target)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update issuance")
	}
	return nil
}

func (s *Service) resolutionEntry(action audit.Action, iss issuance.CardIssuance, recipient issuance.RecipientRef, lifecycleContext map[string]any) audit.Entry {
	if recipient.MemberID != nil && !recipient.MemberID.IsNil() {
		return audit.MemberEntry(action, *recipient.MemberID, audit.EntityCardIssuance, iss.ID.String(), lifecycleContext)
	}
	// Invitee recipients have no member identity; the entry is recorded as
	// system-actored with the locator in context.
	lifecycleContext["invitee_locator"] = recipient.InviteeLocator
	return audit.SystemEntry(action, audit.EntityCardIssuance, iss.ID.String(), lifecycleContext)
}
