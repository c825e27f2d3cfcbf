package verify

import "time"

// EntityStatus is the derived trust state of an agent's entity CARD.
type EntityStatus string

const (
	EntityActive    EntityStatus = "active"
	EntityRevoked   EntityStatus = "revoked"
	EntitySuspended EntityStatus = "suspended"
	EntityUnknown   EntityStatus = "unknown"
)

// Operator identifies who operates the agent, extracted from the entity
// payload.
type Operator struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Resource is one resource a use card grants access to.
type Resource struct {
	URI   string `json:"uri"`
	Label string `json:"label,omitempty"`
}

// ScopeSummary normalizes the grant shape out of a use-card payload.
type ScopeSummary struct {
	Resources []Resource `json:"resources"`
	Actions   []string   `json:"actions"`
	Purpose   []string   `json:"purpose"`
}

// Effective is the validity window of a use card. From falls back to the
// issuance time when the payload carries no window; To is null when
// open-ended.
type Effective struct {
	From string  `json:"from"`
	To   *string `json:"to"`
}

// Prohibition is one restriction attached to a use card.
type Prohibition struct {
	Code            string `json:"code"`
	EnforcementTier string `json:"enforcement_tier"`
}

// ActiveUseCard is one currently-effective usage grant.
type ActiveUseCard struct {
	CardRef      string       `json:"card_ref"`
	IssuanceID   string       `json:"issuance_id"`
	ScopeSummary ScopeSummary `json:"scope_summary"`
	Effective    Effective    `json:"effective"`
	Prohibitions []Prohibition `json:"prohibitions"`
}

// Result is the full verification answer. An unmatched agent is a legitimate
// result with EntityStatus unknown, not an error.
type Result struct {
	AgentID        string          `json:"agent_id"`
	EntityStatus   EntityStatus    `json:"entity_status"`
	Operator       Operator        `json:"operator"`
	ActiveUseCards []ActiveUseCard `json:"active_use_cards"`
	VerifiedAt     time.Time       `json:"verified_at"`
}
