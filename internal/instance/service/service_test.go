package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"cardgate/internal/form"
	"cardgate/internal/instance"
	"cardgate/internal/schema"
	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
	audit "cardgate/pkg/platform/audit"
	auditmem "cardgate/pkg/platform/audit/store/memory"
	"cardgate/pkg/platform/tx"
)

type InstanceServiceSuite struct {
	suite.Suite
	forms     *form.InMemoryStore
	instances *instance.InMemoryStore
	auditor   *auditmem.InMemoryStore
	service   *Service
	owner     id.MemberID
}

func TestInstanceServiceSuite(t *testing.T) {
	suite.Run(t, new(InstanceServiceSuite))
}

func (s *InstanceServiceSuite) SetupTest() {
	s.forms = form.NewInMemoryStore()
	s.instances = instance.NewInMemoryStore(s.forms)
	s.auditor = auditmem.NewInMemoryStore()
	s.service = New(s.instances, s.forms, schema.NewJSONSchemaValidator(), s.auditor, tx.NewMutexRunner())
	s.owner = id.MemberID(uuid.New())
}

var cardSchema = json.RawMessage(`{
	"type": "object",
	"required": ["card"],
	"properties": {
		"card": {
			"type": "object",
			"required": ["id"],
			"properties": {"id": {"type": "string"}}
		}
	}
}`)

func (s *InstanceServiceSuite) registerForm(status form.Status) id.FormID {
	now := time.Now()
	f := form.CardForm{
		ID:               id.NewFormID(),
		Name:             "Agent Use",
		FormType:         id.FormTypeUse,
		SchemaDefinition: cardSchema,
		Status:           status,
		CreatedAt:        now,
	}
	if status == form.StatusRegistered {
		f.RegisteredAt = &now
	}
	s.Require().NoError(s.forms.Save(context.Background(), f))
	return f.ID
}

func payload(cardID string) json.RawMessage {
	return json.RawMessage(`{"card":{"id":"` + cardID + `"}}`)
}

func (s *InstanceServiceSuite) TestCreate() {
	ctx := context.Background()

	s.Run("creates current instance and audits it", func() {
		formID := s.registerForm(form.StatusRegistered)
		instanceID, err := s.service.Create(ctx, formID, payload("card-1"), s.owner)
		s.Require().NoError(err)

		inst, err := s.instances.GetByID(ctx, instanceID)
		s.Require().NoError(err)
		s.True(inst.IsCurrent)
		s.Nil(inst.SupersededBy)
		s.Equal(s.owner, inst.OwnerID)

		entries, err := s.auditor.ListByEntity(ctx, audit.EntityCardInstance, instanceID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionInstanceCreated, entries[0].Action)
	})

	s.Run("refuses unregistered form, audits the refusal, persists nothing", func() {
		formID := s.registerForm(form.StatusDraft)
		_, err := s.service.Create(ctx, formID, payload("card-2"), s.owner)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeFormNotRegistered))

		entries, err := s.auditor.ListByEntity(ctx, audit.EntityCardForm, formID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionInstanceCreateBlocked, entries[0].Action)
		s.Require().NotNil(entries[0].ActorID)
		s.Equal(s.owner, *entries[0].ActorID)
		s.Equal(formID.String(), entries[0].LifecycleContext["form_id"])

		for _, e := range s.auditor.All() {
			if e.Action == audit.ActionInstanceCreated {
				s.NotEqual(formID.String(), e.LifecycleContext["form_id"])
			}
		}
	})

	s.Run("reports per-field payload errors, persists nothing", func() {
		formID := s.registerForm(form.StatusRegistered)
		_, err := s.service.Create(ctx, formID, json.RawMessage(`{"card":{}}`), s.owner)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePayloadInvalid))
		s.NotEmpty(dErrors.FieldsOf(err))
	})

	s.Run("unknown form yields not_found", func() {
		_, err := s.service.Create(ctx, id.NewFormID(), payload("card-3"), s.owner)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *InstanceServiceSuite) TestSupersede() {
	ctx := context.Background()
	formID := s.registerForm(form.StatusRegistered)

	s.Run("retires old version and installs successor atomically", func() {
		oldID, err := s.service.Create(ctx, formID, payload("v1"), s.owner)
		s.Require().NoError(err)

		newID, err := s.service.Supersede(ctx, oldID, payload("v2"), s.owner)
		s.Require().NoError(err)

		old, err := s.instances.GetByID(ctx, oldID)
		s.Require().NoError(err)
		s.False(old.IsCurrent)
		s.Require().NotNil(old.SupersededBy)
		s.Equal(newID, *old.SupersededBy)
		s.NotNil(old.SupersededAt)

		successor, err := s.instances.GetByID(ctx, newID)
		s.Require().NoError(err)
		s.True(successor.IsCurrent)
		s.Equal(s.owner, successor.OwnerID)

		entries, err := s.auditor.ListByEntity(ctx, audit.EntityCardInstance, newID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audit.ActionCardSuperseded, entries[0].Action)
		s.Equal(oldID.String(), entries[0].LifecycleContext["old_instance_id"])
		s.Equal(newID.String(), entries[0].LifecycleContext["new_instance_id"])
	})

	s.Run("rejects caller who does not own the instance", func() {
		oldID, err := s.service.Create(ctx, formID, payload("v1"), s.owner)
		s.Require().NoError(err)

		stranger := id.MemberID(uuid.New())
		_, err = s.service.Supersede(ctx, oldID, payload("v2"), stranger)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotOwner))
	})

	s.Run("rejects superseding a retired version", func() {
		oldID, err := s.service.Create(ctx, formID, payload("v1"), s.owner)
		s.Require().NoError(err)
		_, err = s.service.Supersede(ctx, oldID, payload("v2"), s.owner)
		s.Require().NoError(err)

		_, err = s.service.Supersede(ctx, oldID, payload("v3"), s.owner)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadySuperseded))
	})

	s.Run("validates the new payload against the form", func() {
		oldID, err := s.service.Create(ctx, formID, payload("v1"), s.owner)
		s.Require().NoError(err)

		_, err = s.service.Supersede(ctx, oldID, json.RawMessage(`{}`), s.owner)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePayloadInvalid))
	})

	s.Run("exactly one concurrent supersession wins", func() {
		oldID, err := s.service.Create(ctx, formID, payload("v1"), s.owner)
		s.Require().NoError(err)

		const racers = 8
		var wg sync.WaitGroup
		errs := make([]error, racers)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.service.Supersede(ctx, oldID, payload("v2"), s.owner)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			s.True(dErrors.HasCode(err, dErrors.CodeAlreadySuperseded))
		}
		s.Equal(1, wins)
	})
}

func (s *InstanceServiceSuite) TestLineage() {
	ctx := context.Background()
	formID := s.registerForm(form.StatusRegistered)

	v1, err := s.service.Create(ctx, formID, payload("v1"), s.owner)
	s.Require().NoError(err)
	v2, err := s.service.Supersede(ctx, v1, payload("v2"), s.owner)
	s.Require().NoError(err)
	v3, err := s.service.Supersede(ctx, v2, payload("v3"), s.owner)
	s.Require().NoError(err)

	s.Run("returns the full chain from any member", func() {
		for _, start := range []id.InstanceID{v1, v2, v3} {
			entries, err := s.service.Lineage(ctx, start)
			s.Require().NoError(err)
			s.Require().Len(entries, 3)

			s.Equal(v1, entries[0].InstanceID)
			s.Equal(v2, entries[1].InstanceID)
			s.Equal(v3, entries[2].InstanceID)
			for i, e := range entries {
				s.Equal(i+1, e.VersionNumber)
			}
			s.False(entries[0].IsCurrent)
			s.False(entries[1].IsCurrent)
			s.True(entries[2].IsCurrent)
		}
	})

	s.Run("unknown instance yields not_found", func() {
		_, err := s.service.Lineage(ctx, id.NewInstanceID())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
