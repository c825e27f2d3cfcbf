package domain

import (
	"github.com/google/uuid"

	dErrors "cardgate/pkg/domain-errors"
)

// Typed IDs for the CARD aggregates. Wrapping uuid.UUID keeps the compiler from
// letting an issuance ID wander into an instance lookup.
type (
	MemberID   uuid.UUID
	FormID     uuid.UUID
	InstanceID uuid.UUID
	IssuanceID uuid.UUID
	DeliveryID uuid.UUID
	AuditID    uuid.UUID
)

func NewFormID() FormID         { return FormID(uuid.New()) }
func NewInstanceID() InstanceID { return InstanceID(uuid.New()) }
func NewIssuanceID() IssuanceID { return IssuanceID(uuid.New()) }
func NewDeliveryID() DeliveryID { return DeliveryID(uuid.New()) }
func NewAuditID() AuditID       { return AuditID(uuid.New()) }

func (id MemberID) String() string   { return uuid.UUID(id).String() }
func (id FormID) String() string     { return uuid.UUID(id).String() }
func (id InstanceID) String() string { return uuid.UUID(id).String() }
func (id IssuanceID) String() string { return uuid.UUID(id).String() }
func (id DeliveryID) String() string { return uuid.UUID(id).String() }
func (id AuditID) String() string    { return uuid.UUID(id).String() }

func (id MemberID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id FormID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id InstanceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id IssuanceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// parseUUID enforces the invariant that IDs crossing a trust boundary are
// valid, non-nil UUIDs.
func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "id must not be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "id must not be the nil UUID")
	}
	return parsed, nil
}

func ParseMemberID(raw string) (MemberID, error) {
	parsed, err := parseUUID(raw)
	return MemberID(parsed), err
}

func ParseFormID(raw string) (FormID, error) {
	parsed, err := parseUUID(raw)
	return FormID(parsed), err
}

func ParseInstanceID(raw string) (InstanceID, error) {
	parsed, err := parseUUID(raw)
	return InstanceID(parsed), err
}

func ParseIssuanceID(raw string) (IssuanceID, error) {
	parsed, err := parseUUID(raw)
	return IssuanceID(parsed), err
}
