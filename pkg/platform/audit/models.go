package audit

import (
	"context"
	"time"

	id "cardgate/pkg/domain"
)

// Action names a lifecycle transition recorded in the audit trail.
type Action string

const (
	ActionFormRegistered Action = "form_registered"
	ActionInstanceCreated Action = "instance_created"
	// ActionInstanceCreateBlocked records a create attempt against an
	// unregistered form. Written even though the create itself fails.
	ActionInstanceCreateBlocked Action = "instance_create_blocked_unregistered_form"
	ActionCardSuperseded        Action = "card_superseded"
	ActionCardIssued            Action = "card_issued"
	ActionCardAccepted          Action = "card_accepted"
	ActionCardRejected          Action = "card_rejected"
	ActionCardRevoked           Action = "card_revoked"
	ActionVerificationQueried   Action = "verification_queried"
)

// Entity types referenced by audit entries.
const (
	EntityCardForm     = "card_form"
	EntityCardInstance = "card_instance"
	EntityCardIssuance = "card_issuance"
)

// Entry is one append-only audit record. ActorID is nil for system-initiated
// actions (bootstrap form registration, verification queries).
type Entry struct {
	ID               id.AuditID
	Action           Action
	ActorID          *id.MemberID
	EntityType       string
	EntityID         string
	LifecycleContext map[string]any
	CreatedAt        time.Time
}

// SystemEntry builds an entry with no actor.
func SystemEntry(action Action, entityType, entityID string, lifecycleContext map[string]any) Entry {
	return Entry{
		ID:               id.NewAuditID(),
		Action:           action,
		EntityType:       entityType,
		EntityID:         entityID,
		LifecycleContext: lifecycleContext,
	}
}

// MemberEntry builds an entry attributed to actor.
func MemberEntry(action Action, actor id.MemberID, entityType, entityID string, lifecycleContext map[string]any) Entry {
	return Entry{
		ID:               id.NewAuditID(),
		Action:           action,
		ActorID:          &actor,
		EntityType:       entityType,
		EntityID:         entityID,
		LifecycleContext: lifecycleContext,
	}
}

// Store is the append-only audit log. Append must never update or delete;
// entries are immutable once written. Postgres implementations participate in
// an ambient transaction via pkg/platform/tx so lifecycle appends commit or
// roll back with the mutation they describe.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]Entry, error)
	ListByActor(ctx context.Context, actor id.MemberID, limit int) ([]Entry, error)
}
