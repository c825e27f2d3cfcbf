package issuance

import (
	"context"
	"time"

	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
)

// Status is the issuance lifecycle state. Transitions are one-way:
// issued → accepted | rejected | revoked, accepted → revoked. Nothing leaves
// rejected or revoked.
type Status string

const (
	StatusIssued   Status = "issued"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusRevoked  Status = "revoked"
)

// AllowedSources returns the statuses from which a transition to target is
// legal.
func AllowedSources(target Status) []Status {
	switch target {
	case StatusAccepted, StatusRejected:
		return []Status{StatusIssued}
	case StatusRevoked:
		return []Status{StatusIssued, StatusAccepted}
	default:
		return nil
	}
}

// CardIssuance records offering an instance to a recipient. Exactly one of
// RecipientMemberID / InviteeLocator is set.
type CardIssuance struct {
	ID                id.IssuanceID
	InstanceID        id.InstanceID
	IssuerID          id.MemberID
	RecipientMemberID *id.MemberID
	InviteeLocator    string
	Status            Status
	IssuedAt          time.Time
	ResolvedAt        *time.Time
}

// CardDelivery is the recipient-facing mirror of an issuance, kept
// status-synchronized with it.
type CardDelivery struct {
	ID                id.DeliveryID
	IssuanceID        id.IssuanceID
	RecipientMemberID *id.MemberID
	InviteeLocator    string
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RecipientRef addresses a recipient: either a known member or an external
// invitee identified by an opaque locator (email, external identifier).
type RecipientRef struct {
	MemberID       *id.MemberID
	InviteeLocator string
}

// Validate enforces the exactly-one-of rule.
func (r RecipientRef) Validate() error {
	hasMember := r.MemberID != nil && !r.MemberID.IsNil()
	hasInvitee := r.InviteeLocator != ""
	if hasMember == hasInvitee {
		return dErrors.New(dErrors.CodeInvalidRecipient, "exactly one of recipient_member_id and invitee_locator must be set")
	}
	return nil
}

// Matches reports whether r is the recipient the issuance is addressed to.
func (r RecipientRef) Matches(iss CardIssuance) bool {
	if r.MemberID != nil && !r.MemberID.IsNil() {
		return iss.RecipientMemberID != nil && *iss.RecipientMemberID == *r.MemberID
	}
	return r.InviteeLocator != "" && iss.InviteeLocator == r.InviteeLocator
}

// Store persists issuances and their deliveries.
//
// Transition is the conditional status write guarding the state machine: it
// moves the issuance (and its delivery) to target only while the current
// status is one of AllowedSources(target), returning sentinel.ErrConflict
// when a concurrent writer got there first.
type Store interface {
	InsertIssuance(ctx context.Context, iss CardIssuance) error
	InsertDelivery(ctx context.Context, del CardDelivery) error
	GetIssuance(ctx context.Context, issuanceID id.IssuanceID) (CardIssuance, error)
	Transition(ctx context.Context, issuanceID id.IssuanceID, target Status, at time.Time) error
	// ListByInstance returns issuances of an instance, most recent first.
	ListByInstance(ctx context.Context, instanceID id.InstanceID) ([]CardIssuance, error)
	ListByStatus(ctx context.Context, status Status) ([]CardIssuance, error)
}
