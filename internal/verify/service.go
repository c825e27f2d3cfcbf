package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"cardgate/internal/instance"
	"cardgate/internal/issuance"
	"cardgate/internal/platform/middleware"
	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
	audit "cardgate/pkg/platform/audit"
)

// InstanceSource is the slice of the instance store the verifier reads.
type InstanceSource interface {
	RegisteredByFormType(ctx context.Context, formType id.FormType) ([]instance.CardInstance, error)
}

// IssuanceSource is the slice of the issuance store the verifier reads.
type IssuanceSource interface {
	ListByInstance(ctx context.Context, instanceID id.InstanceID) ([]issuance.CardIssuance, error)
	ListByStatus(ctx context.Context, status issuance.Status) ([]issuance.CardIssuance, error)
}

// Service answers trust queries about an agent. It holds no state of its own;
// every answer is reconstructed from current instances and issuances at query
// time.
type Service struct {
	instances InstanceSource
	issuances IssuanceSource
	auditor   audit.Store
	logger    *slog.Logger
	now       func() time.Time
}

func New(instances InstanceSource, issuances IssuanceSource, auditor audit.Store, logger *slog.Logger) *Service {
	return &Service{
		instances: instances,
		issuances: issuances,
		auditor:   auditor,
		logger:    logger,
		now:       time.Now,
	}
}

// Verify resolves an agent reference to its entity card, derives the entity
// status from the latest issuance, and collects the currently-effective use
// cards. An unmatched agent yields entity_status unknown with an empty grant
// list, not an error.
func (s *Service) Verify(ctx context.Context, agentID, cardRef string) (Result, error) {
	if agentID == "" {
		return Result{}, dErrors.New(dErrors.CodeBadRequest, "agent_id is required")
	}
	now := s.now().UTC()
	result := Result{
		AgentID:        agentID,
		EntityStatus:   EntityUnknown,
		Operator:       Operator{DisplayName: "Unknown"},
		ActiveUseCards: []ActiveUseCard{},
		VerifiedAt:     now,
	}

	entities, err := s.instances.RegisteredByFormType(ctx, id.FormTypeEntity)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entity cards")
	}
	entity, found := matchEntity(entities, agentID)
	if found {
		status, err := s.entityStatus(ctx, entity.ID)
		if err != nil {
			return Result{}, err
		}
		result.EntityStatus = status
		result.Operator = extractOperator(entity.Payload)
	}

	useCards, err := s.activeUseCards(ctx, agentID, cardRef, entity, found, now)
	if err != nil {
		return Result{}, err
	}
	result.ActiveUseCards = useCards

	if found {
		s.recordQuery(ctx, entity.ID, agentID, cardRef, result)
	}
	return result, nil
}

// matchEntity resolves an agent reference against current registered entity
// cards by instance ID, its urn:uuid: form, or the card.id claimed in the
// payload.
func matchEntity(entities []instance.CardInstance, agentID string) (instance.CardInstance, bool) {
	bare := id.StripURN(agentID)
	for _, inst := range entities {
		if !inst.IsCurrent {
			continue
		}
		if inst.ID.String() == bare {
			return inst, true
		}
		cardID := gjson.GetBytes(inst.Payload, "card.id").String()
		if cardID != "" && (cardID == agentID || id.StripURN(cardID) == bare) {
			return inst, true
		}
	}
	return instance.CardInstance{}, false
}

// entityStatus derives the trust state from the newest issuance of the entity
// card. An entity card that was never issued is self-asserted and counts as
// active.
func (s *Service) entityStatus(ctx context.Context, entityID id.InstanceID) (EntityStatus, error) {
	issuances, err := s.issuances.ListByInstance(ctx, entityID)
	if err != nil {
		return EntityUnknown, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entity issuances")
	}
	if len(issuances) == 0 {
		return EntityActive, nil
	}
	switch issuances[0].Status {
	case issuance.StatusAccepted:
		return EntityActive, nil
	case issuance.StatusRevoked, issuance.StatusRejected:
		return EntityRevoked, nil
	case issuance.StatusIssued:
		return EntitySuspended, nil
	}
	return EntityActive, nil
}

// activeUseCards walks accepted issuances of use cards and keeps those
// addressed to the agent, inside their effective window, and matching an
// optional card_ref filter.
func (s *Service) activeUseCards(ctx context.Context, agentID, cardRef string, entity instance.CardInstance, entityFound bool, now time.Time) ([]ActiveUseCard, error) {
	useInstances, err := s.instances.RegisteredByFormType(ctx, id.FormTypeUse)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load use cards")
	}
	byID := make(map[id.InstanceID]instance.CardInstance, len(useInstances))
	for _, inst := range useInstances {
		// Superseded use cards no longer grant anything, whatever their
		// issuance says.
		if inst.IsCurrent {
			byID[inst.ID] = inst
		}
	}

	accepted, err := s.issuances.ListByStatus(ctx, issuance.StatusAccepted)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load accepted issuances")
	}

	refs := agentRefs(agentID, entity, entityFound)
	cardRefBare := id.StripURN(cardRef)

	out := []ActiveUseCard{}
	for _, iss := range accepted {
		inst, ok := byID[iss.InstanceID]
		if !ok {
			continue
		}
		if !useCardAddressesAgent(inst, iss, refs, entity, entityFound) {
			continue
		}
		if cardRef != "" && inst.ID.String() != cardRefBare {
			continue
		}
		effective, active := effectiveWindow(inst.Payload, iss.IssuedAt, now)
		if !active {
			continue
		}
		out = append(out, ActiveUseCard{
			CardRef:      id.URN(inst.ID),
			IssuanceID:   iss.ID.String(),
			ScopeSummary: extractScope(inst.Payload),
			Effective:    effective,
			Prohibitions: extractProhibitions(inst.Payload),
		})
	}
	return out, nil
}

// agentRefs collects every identifier that counts as "this agent" when read
// out of a use-card payload.
func agentRefs(agentID string, entity instance.CardInstance, entityFound bool) map[string]struct{} {
	refs := map[string]struct{}{}
	add := func(ref string) {
		if ref == "" {
			return
		}
		refs[id.StripURN(ref)] = struct{}{}
	}
	add(agentID)
	if entityFound {
		add(entity.ID.String())
		add(gjson.GetBytes(entity.Payload, "card.id").String())
	}
	return refs
}

func useCardAddressesAgent(inst instance.CardInstance, iss issuance.CardIssuance, refs map[string]struct{}, entity instance.CardInstance, entityFound bool) bool {
	for _, path := range []string{"parties.agent.id", "card.agent.id"} {
		ref := gjson.GetBytes(inst.Payload, path).String()
		if ref == "" {
			continue
		}
		if _, ok := refs[id.StripURN(ref)]; ok {
			return true
		}
	}
	if !entityFound {
		return false
	}
	// A use card with no matching agent claim still counts when it belongs to
	// the member who owns the matched entity card, or was issued to them.
	if inst.OwnerID == entity.OwnerID {
		return true
	}
	if iss.RecipientMemberID != nil && *iss.RecipientMemberID == entity.OwnerID {
		return true
	}
	return false
}

// effectiveWindow reads lifecycle.effective out of the payload. A missing or
// unparseable "from" falls back to the issuance time; a missing "to" leaves
// the grant open-ended.
func effectiveWindow(payload []byte, issuedAt, now time.Time) (Effective, bool) {
	from := issuedAt.UTC()
	fromRaw := gjson.GetBytes(payload, "lifecycle.effective.from").String()
	if parsed, ok := parseWhen(fromRaw); ok {
		from = parsed
	}
	if now.Before(from) {
		return Effective{}, false
	}

	effective := Effective{From: from.Format(time.RFC3339)}
	toRaw := gjson.GetBytes(payload, "lifecycle.effective.to").String()
	if to, ok := parseWhen(toRaw); ok {
		if now.After(to) {
			return Effective{}, false
		}
		formatted := to.Format(time.RFC3339)
		effective.To = &formatted
	}
	return effective, true
}

func parseWhen(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// extractOperator reads the operator out of an entity payload, trying the
// parties block before the card block.
func extractOperator(payload []byte) Operator {
	for _, path := range []string{"parties.operator", "card.operator"} {
		op := gjson.GetBytes(payload, path)
		if !op.Exists() {
			continue
		}
		operator := Operator{
			ID:          op.Get("id").String(),
			DisplayName: op.Get("display_name").String(),
		}
		if operator.DisplayName == "" {
			operator.DisplayName = op.Get("name").String()
		}
		if operator.ID != "" || operator.DisplayName != "" {
			if operator.DisplayName == "" {
				operator.DisplayName = "Unknown"
			}
			return operator
		}
	}
	return Operator{DisplayName: "Unknown"}
}

func extractScope(payload []byte) ScopeSummary {
	scope := ScopeSummary{
		Resources: []Resource{},
		Actions:   []string{},
		Purpose:   []string{},
	}

	for _, item := range gjson.GetBytes(payload, "claims.items").Array() {
		uri := item.Get("resource.uri").String()
		if uri == "" {
			continue
		}
		label := item.Get("resource.label").String()
		if label == "" {
			label = item.Get("resource.display_name").String()
		}
		scope.Resources = append(scope.Resources, Resource{URI: uri, Label: label})
	}

	scope.Actions = stringList(payload, "claims.allowed_actions", "policy.allowed_actions")
	scope.Purpose = stringList(payload, "policy.purpose", "claims.purpose")
	return scope
}

// stringList reads the first present path as either a single string or an
// array of strings.
func stringList(payload []byte, paths ...string) []string {
	for _, path := range paths {
		value := gjson.GetBytes(payload, path)
		if !value.Exists() {
			continue
		}
		if value.IsArray() {
			out := []string{}
			for _, el := range value.Array() {
				if s := el.String(); s != "" {
					out = append(out, s)
				}
			}
			return out
		}
		if s := value.String(); s != "" {
			return []string{s}
		}
	}
	return []string{}
}

func extractProhibitions(payload []byte) []Prohibition {
	out := []Prohibition{}
	for _, el := range gjson.GetBytes(payload, "policy.prohibitions").Array() {
		p := Prohibition{EnforcementTier: "contractual"}
		if el.IsObject() {
			p.Code = el.Get("code").String()
			if p.Code == "" {
				p.Code = el.Get("type").String()
			}
			if tier := el.Get("enforcement_tier").String(); tier != "" {
				p.EnforcementTier = tier
			}
		} else {
			p.Code = el.String()
		}
		if p.Code != "" {
			out = append(out, p)
		}
	}
	return out
}

// recordQuery appends a verification_queried entry. The append is best effort:
// a verification answer is never withheld because the audit write failed.
func (s *Service) recordQuery(ctx context.Context, entityID id.InstanceID, agentID, cardRef string, result Result) {
	var cardRefValue any
	if cardRef != "" {
		cardRefValue = cardRef
	}
	var callerIP any
	if ip := middleware.GetClientIP(ctx); ip != "" {
		callerIP = ip
	}
	lifecycleContext := map[string]any{
		"agent_id":              agentID,
		"card_ref":              cardRefValue,
		"entity_status":         string(result.EntityStatus),
		"active_use_card_count": len(result.ActiveUseCards),
		"queried_at":            result.VerifiedAt.Format(time.RFC3339),
		"caller_ip":             callerIP,
	}
	entry := audit.SystemEntry(audit.ActionVerificationQueried, audit.EntityCardInstance, entityID.String(), lifecycleContext)
	entry.CreatedAt = result.VerifiedAt
	if err := s.auditor.Append(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "verification audit append failed", "entity_id", entityID.String(), "error", err)
	}
}
