package publisher

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	id "cardgate/pkg/domain"
	audit "cardgate/pkg/platform/audit"
	auditmem "cardgate/pkg/platform/audit/store/memory"
)

func TestNilClientIsPassThrough(t *testing.T) {
	inner := auditmem.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(inner, nil, "cardgate.audit", logger)
	defer p.Close()

	member := id.MemberID(uuid.New())
	entry := audit.MemberEntry(audit.ActionCardIssued, member, audit.EntityCardIssuance, uuid.NewString(), nil)

	if err := p.Append(context.Background(), entry); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := p.ListByEntity(context.Background(), audit.EntityCardIssuance, entry.EntityID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry in the durable store, got %d", len(entries))
	}

	byActor, err := p.ListByActor(context.Background(), member, 10)
	if err != nil {
		t.Fatalf("list by actor: %v", err)
	}
	if len(byActor) != 1 {
		t.Fatalf("expected 1 entry by actor, got %d", len(byActor))
	}
}

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Entry) error { return context.DeadlineExceeded }
func (failingStore) ListByEntity(context.Context, string, string) ([]audit.Entry, error) {
	return nil, nil
}
func (failingStore) ListByActor(context.Context, id.MemberID, int) ([]audit.Entry, error) {
	return nil, nil
}

func TestAppendFailurePropagates(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(failingStore{}, nil, "cardgate.audit", logger)
	defer p.Close()

	entry := audit.SystemEntry(audit.ActionVerificationQueried, audit.EntityCardInstance, uuid.NewString(), nil)
	if err := p.Append(context.Background(), entry); err == nil {
		t.Fatalf("expected the durable store failure to surface")
	}
}
