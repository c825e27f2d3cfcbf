package instance

import (
	"context"
	"encoding/json"
	"time"

	id "cardgate/pkg/domain"
)

// CardInstance is one payload-bound version of a CARD. A lineage is the chain
// of instances linked by SupersededBy; exactly one instance per lineage is
// current, and it is always the chain's tail. SupersededBy is set at most once
// and never cleared.
type CardInstance struct {
	ID           id.InstanceID
	FormID       id.FormID
	OwnerID      id.MemberID
	Payload      json.RawMessage
	IsCurrent    bool
	SupersededBy *id.InstanceID
	SupersededAt *time.Time
	CreatedAt    time.Time
}

// LineageEntry is a lineage member tagged with its 1-based position.
type LineageEntry struct {
	InstanceID    id.InstanceID
	FormID        id.FormID
	Payload       json.RawMessage
	VersionNumber int
	IsCurrent     bool
	SupersededBy  *id.InstanceID
	SupersededAt  *time.Time
	CreatedAt     time.Time
}

// Store persists card instances.
//
// MarkSuperseded is the conditional write that serializes concurrent
// supersessions: it retires old only while old is still current with no
// successor, returning sentinel.ErrConflict when another writer won the race.
// Lineage returns the full chain containing the given instance, ordered root
// to tail.
type Store interface {
	Insert(ctx context.Context, inst CardInstance) error
	GetByID(ctx context.Context, instanceID id.InstanceID) (CardInstance, error)
	MarkSuperseded(ctx context.Context, old id.InstanceID, successor id.InstanceID, at time.Time) error
	Lineage(ctx context.Context, instanceID id.InstanceID) ([]CardInstance, error)
	// RegisteredByFormType returns instances whose form has the given type
	// and is registered. Used by the verification service.
	RegisteredByFormType(ctx context.Context, formType id.FormType) ([]CardInstance, error)
}
