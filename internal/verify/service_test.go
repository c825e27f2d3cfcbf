package verify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"cardgate/internal/form"
	"cardgate/internal/instance"
	"cardgate/internal/issuance"
	"cardgate/internal/platform/middleware"
	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
	audit "cardgate/pkg/platform/audit"
	auditmem "cardgate/pkg/platform/audit/store/memory"
)

type VerifyServiceSuite struct {
	suite.Suite
	forms     *form.InMemoryStore
	instances *instance.InMemoryStore
	issuances *issuance.InMemoryStore
	auditor   *auditmem.InMemoryStore
	service   *Service
	owner     id.MemberID
	issuer    id.MemberID
	now       time.Time
}

func TestVerifyServiceSuite(t *testing.T) {
	suite.Run(t, new(VerifyServiceSuite))
}

func (s *VerifyServiceSuite) SetupTest() {
	s.forms = form.NewInMemoryStore()
	s.instances = instance.NewInMemoryStore(s.forms)
	s.issuances = issuance.NewInMemoryStore()
	s.auditor = auditmem.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = New(s.instances, s.issuances, s.auditor, logger)
	s.now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	s.service.now = func() time.Time { return s.now }
	s.owner = id.MemberID(uuid.New())
	s.issuer = id.MemberID(uuid.New())
}

func (s *VerifyServiceSuite) registerForm(formType id.FormType) id.FormID {
	registeredAt := s.now.Add(-time.Hour)
	f := form.CardForm{
		ID:               id.NewFormID(),
		Name:             string(formType) + "-card-v1",
		FormType:         formType,
		SchemaDefinition: json.RawMessage(`{"type":"object"}`),
		Status:           form.StatusRegistered,
		RegisteredAt:     &registeredAt,
		CreatedAt:        registeredAt,
	}
	s.Require().NoError(s.forms.Save(context.Background(), f))
	return f.ID
}

func (s *VerifyServiceSuite) addInstance(formID id.FormID, owner id.MemberID, payload string) instance.CardInstance {
	inst := instance.CardInstance{
		ID:        id.NewInstanceID(),
		FormID:    formID,
		OwnerID:   owner,
		Payload:   json.RawMessage(payload),
		IsCurrent: true,
		CreatedAt: s.now.Add(-30 * time.Minute),
	}
	s.Require().NoError(s.instances.Insert(context.Background(), inst))
	return inst
}

func (s *VerifyServiceSuite) addIssuance(instanceID id.InstanceID, recipient *id.MemberID, status issuance.Status, issuedAt time.Time) issuance.CardIssuance {
	iss := issuance.CardIssuance{
		ID:                id.NewIssuanceID(),
		InstanceID:        instanceID,
		IssuerID:          s.issuer,
		RecipientMemberID: recipient,
		Status:            status,
		IssuedAt:          issuedAt,
	}
	s.Require().NoError(s.issuances.InsertIssuance(context.Background(), iss))
	return iss
}

func (s *VerifyServiceSuite) TestEntityResolution() {
	ctx := context.Background()
	entityForm := s.registerForm(id.FormTypeEntity)

	s.Run("unknown agent is a result, not an error", func() {
		result, err := s.service.Verify(ctx, uuid.NewString(), "")
		s.Require().NoError(err)
		s.Equal(EntityUnknown, result.EntityStatus)
		s.Equal(Operator{DisplayName: "Unknown"}, result.Operator)
		s.Empty(result.ActiveUseCards)
		s.Empty(s.auditor.All())
	})

	s.Run("matches by instance id and reads the operator", func() {
		entity := s.addInstance(entityForm, s.owner, `{"parties":{"operator":{"id":"op-1","display_name":"Hatch Labs"}}}`)

		result, err := s.service.Verify(ctx, entity.ID.String(), "")
		s.Require().NoError(err)
		s.Equal(EntityActive, result.EntityStatus)
		s.Equal(Operator{ID: "op-1", DisplayName: "Hatch Labs"}, result.Operator)
		s.Equal(s.now, result.VerifiedAt)
	})

	s.Run("matches by urn form and payload card id", func() {
		entity := s.addInstance(entityForm, s.owner, `{"card":{"id":"agent-7"}}`)

		result, err := s.service.Verify(ctx, id.URN(entity.ID), "")
		s.Require().NoError(err)
		s.Equal(EntityActive, result.EntityStatus)

		result, err = s.service.Verify(ctx, "agent-7", "")
		s.Require().NoError(err)
		s.Equal(EntityActive, result.EntityStatus)
	})

	s.Run("superseded entity cards no longer match", func() {
		entity := s.addInstance(entityForm, s.owner, `{}`)
		successor := s.addInstance(entityForm, s.owner, `{}`)
		s.Require().NoError(s.instances.MarkSuperseded(ctx, entity.ID, successor.ID, s.now))

		result, err := s.service.Verify(ctx, entity.ID.String(), "")
		s.Require().NoError(err)
		s.Equal(EntityUnknown, result.EntityStatus)
	})

	s.Run("empty agent id is refused", func() {
		_, err := s.service.Verify(ctx, "", "")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *VerifyServiceSuite) TestEntityStatusFromIssuance() {
	ctx := context.Background()
	entityForm := s.registerForm(id.FormTypeEntity)
	recipient := id.MemberID(uuid.New())

	cases := []struct {
		name   string
		status issuance.Status
		want   EntityStatus
	}{
		{"accepted issuance keeps the entity active", issuance.StatusAccepted, EntityActive},
		{"pending issuance suspends the entity", issuance.StatusIssued, EntitySuspended},
		{"revoked issuance revokes the entity", issuance.StatusRevoked, EntityRevoked},
		{"rejected issuance revokes the entity", issuance.StatusRejected, EntityRevoked},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			entity := s.addInstance(entityForm, s.owner, `{}`)
			s.addIssuance(entity.ID, &recipient, tc.status, s.now.Add(-time.Hour))

			result, err := s.service.Verify(ctx, entity.ID.String(), "")
			s.Require().NoError(err)
			s.Equal(tc.want, result.EntityStatus)
		})
	}

	s.Run("the newest issuance wins", func() {
		entity := s.addInstance(entityForm, s.owner, `{}`)
		s.addIssuance(entity.ID, &recipient, issuance.StatusRevoked, s.now.Add(-2*time.Hour))
		s.addIssuance(entity.ID, &recipient, issuance.StatusAccepted, s.now.Add(-time.Hour))

		result, err := s.service.Verify(ctx, entity.ID.String(), "")
		s.Require().NoError(err)
		s.Equal(EntityActive, result.EntityStatus)
	})
}

func (s *VerifyServiceSuite) TestActiveUseCards() {
	ctx := context.Background()
	entityForm := s.registerForm(id.FormTypeEntity)
	useForm := s.registerForm(id.FormTypeUse)

	s.Run("collects an accepted use card with its scope", func() {
		owner := id.MemberID(uuid.New())
		entity := s.addInstance(entityForm, owner, `{}`)
		payload := `{
			"parties": {"agent": {"id": "` + id.URN(entity.ID) + `"}},
			"claims": {
				"items": [{"resource": {"uri": "https://api.example.org/orders", "label": "Orders API"}}],
				"allowed_actions": ["read", "list"]
			},
			"policy": {
				"purpose": "fulfilment",
				"prohibitions": [{"code": "no_resale"}, {"code": "no_profiling", "enforcement_tier": "technical"}]
			},
			"lifecycle": {"effective": {"from": "2026-01-01T00:00:00Z", "to": "2026-12-31T00:00:00Z"}}
		}`
		useCard := s.addInstance(useForm, owner, payload)
		iss := s.addIssuance(useCard.ID, &owner, issuance.StatusAccepted, s.now.Add(-time.Hour))

		result, err := s.service.Verify(ctx, entity.ID.String(), "")
		s.Require().NoError(err)
		s.Require().Len(result.ActiveUseCards, 1)

		card := result.ActiveUseCards[0]
		s.Equal(id.URN(useCard.ID), card.CardRef)
		s.Equal(iss.ID.String(), card.IssuanceID)
		s.Equal([]Resource{{URI: "https://api.example.org/orders", Label: "Orders API"}}, card.ScopeSummary.Resources)
		s.Equal([]string{"read", "list"}, card.ScopeSummary.Actions)
		s.Equal([]string{"fulfilment"}, card.ScopeSummary.Purpose)
		s.Equal("2026-01-01T00:00:00Z", card.Effective.From)
		s.Require().NotNil(card.Effective.To)
		s.Equal("2026-12-31T00:00:00Z", *card.Effective.To)
		s.Equal([]Prohibition{
			{Code: "no_resale", EnforcementTier: "contractual"},
			{Code: "no_profiling", EnforcementTier: "technical"},
		}, card.Prohibitions)
	})

	s.Run("issued and rejected use cards do not grant", func() {
		owner := id.MemberID(uuid.New())
		entity := s.addInstance(entityForm, owner, `{}`)
		payload := `{"parties":{"agent":{"id":"` + entity.ID.String() + `"}}}`
		pending := s.addInstance(useForm, owner, payload)
		rejected := s.addInstance(useForm, owner, payload)
		s.addIssuance(pending.ID, &owner, issuance.StatusIssued, s.now.Add(-time.Hour))
		s.addIssuance(rejected.ID, &owner, issuance.StatusRejected, s.now.Add(-time.Hour))

		result, err := s.service.Verify(ctx, entity.ID.String(), "")
		s.Require().NoError(err)
		s.Empty(result.ActiveUseCards)
	})

	s.Run("cards outside their effective window are excluded", func() {
		owner := id.MemberID(uuid.New())
		entity := s.addInstance(entityForm, owner, `{}`)
		agentClaim := `"parties":{"agent":{"id":"` + entity.ID.String() + `"}}`
		future := s.addInstance(useForm, owner, `{`+agentClaim+`,"lifecycle":{"effective":{"from":"2027-01-01T00:00:00Z"}}}`)
		expired := s.addInstance(useForm, owner, `{`+agentClaim+`,"lifecycle":{"effective":{"from":"2025-01-01T00:00:00Z","to":"2025-06-01T00:00:00Z"}}}`)
		s.addIssuance(future.ID, &owner, issuance.StatusAccepted, s.now.Add(-time.Hour))
		s.addIssuance(expired.ID, &owner, issuance.StatusAccepted, s.now.Add(-time.Hour))

		result, err := s.service.Verify(ctx, entity.ID.String(), "")
		s.Require().NoError(err)
		s.Empty(result.ActiveUseCards)
	})

	s.Run("missing window falls back to the issuance time", func() {
		owner := id.MemberID(uuid.New())
		entity := s.addInstance(entityForm, owner, `{}`)
		useCard := s.addInstance(useForm, owner, `{"parties":{"agent":{"id":"`+entity.ID.String()+`"}}}`)
		issuedAt := s.now.Add(-time.Hour)
		s.addIssuance(useCard.ID, &owner, issuance.StatusAccepted, issuedAt)

		result, err := s.service.Verify(ctx, entity.ID.String(), "")
		s.Require().NoError(err)
		s.Require().Len(result.ActiveUseCards, 1)
		s.Equal(issuedAt.UTC().Format(time.RFC3339), result.ActiveUseCards[0].Effective.From)
		s.Nil(result.ActiveUseCards[0].Effective.To)
	})

	s.Run("card_ref narrows the answer to one card", func() {
		owner := id.MemberID(uuid.New())
		entity := s.addInstance(entityForm, owner, `{}`)
		payload := `{"parties":{"agent":{"id":"` + entity.ID.String() + `"}}}`
		first := s.addInstance(useForm, owner, payload)
		second := s.addInstance(useForm, owner, payload)
		s.addIssuance(first.ID, &owner, issuance.StatusAccepted, s.now.Add(-2*time.Hour))
		s.addIssuance(second.ID, &owner, issuance.StatusAccepted, s.now.Add(-time.Hour))

		result, err := s.service.Verify(ctx, entity.ID.String(), id.URN(first.ID))
		s.Require().NoError(err)
		s.Require().Len(result.ActiveUseCards, 1)
		s.Equal(id.URN(first.ID), result.ActiveUseCards[0].CardRef)
	})

	s.Run("a card owned by the entity member counts even when issued elsewhere", func() {
		owner := id.MemberID(uuid.New())
		thirdParty := id.MemberID(uuid.New())
		entity := s.addInstance(entityForm, owner, `{}`)
		useCard := s.addInstance(useForm, owner, `{"claims":{"allowed_actions":["read"]}}`)
		s.addIssuance(useCard.ID, &thirdParty, issuance.StatusAccepted, s.now.Add(-time.Hour))

		result, err := s.service.Verify(ctx, entity.ID.String(), "")
		s.Require().NoError(err)
		s.Require().Len(result.ActiveUseCards, 1)
		s.Equal(id.URN(useCard.ID), result.ActiveUseCards[0].CardRef)
	})

	s.Run("a card owned elsewhere with no agent claim does not grant", func() {
		owner := id.MemberID(uuid.New())
		stranger := id.MemberID(uuid.New())
		thirdParty := id.MemberID(uuid.New())
		entity := s.addInstance(entityForm, owner, `{}`)
		useCard := s.addInstance(useForm, stranger, `{"claims":{"allowed_actions":["read"]}}`)
		s.addIssuance(useCard.ID, &thirdParty, issuance.StatusAccepted, s.now.Add(-time.Hour))

		result, err := s.service.Verify(ctx, entity.ID.String(), "")
		s.Require().NoError(err)
		s.Empty(result.ActiveUseCards)
	})

	s.Run("a card without an agent claim counts when issued to the entity owner", func() {
		owner := id.MemberID(uuid.New())
		entity := s.addInstance(entityForm, owner, `{}`)
		useCard := s.addInstance(useForm, owner, `{"claims":{"allowed_actions":["read"]}}`)
		s.addIssuance(useCard.ID, &owner, issuance.StatusAccepted, s.now.Add(-time.Hour))

		result, err := s.service.Verify(ctx, entity.ID.String(), "")
		s.Require().NoError(err)
		s.Require().Len(result.ActiveUseCards, 1)
		s.Equal([]string{"read"}, result.ActiveUseCards[0].ScopeSummary.Actions)
	})
}

func (s *VerifyServiceSuite) TestQueryAudit() {
	ctx := context.Background()
	entityForm := s.registerForm(id.FormTypeEntity)

	s.Run("matched queries leave a system-actored trail entry", func() {
		entity := s.addInstance(entityForm, s.owner, `{}`)
		queryCtx := middleware.WithClientIP(ctx, "203.0.113.9")

		_, err := s.service.Verify(queryCtx, entity.ID.String(), "")
		s.Require().NoError(err)

		entries, err := s.auditor.ListByEntity(ctx, audit.EntityCardInstance, entity.ID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionVerificationQueried, entries[0].Action)
		s.Nil(entries[0].ActorID)

		lifecycleContext := entries[0].LifecycleContext
		s.Equal("active", lifecycleContext["entity_status"])
		s.Equal(0, lifecycleContext["active_use_card_count"])
		s.Equal(s.now.Format(time.RFC3339), lifecycleContext["queried_at"])
		s.Equal("203.0.113.9", lifecycleContext["caller_ip"])
		s.Nil(lifecycleContext["card_ref"])
	})

	s.Run("caller ip is null when the context carries none", func() {
		entity := s.addInstance(entityForm, s.owner, `{}`)

		_, err := s.service.Verify(ctx, entity.ID.String(), "")
		s.Require().NoError(err)

		entries, err := s.auditor.ListByEntity(ctx, audit.EntityCardInstance, entity.ID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Nil(entries[0].LifecycleContext["caller_ip"])
	})
}
