// Package publisher mirrors audit entries to Kafka for downstream consumers
// (SIEM, retention pipelines). The mirror is strictly best-effort and the
// durable record is the audit_log table: a slow or unreachable broker must
// never fail or delay a lifecycle mutation, entries may be dropped under
// backpressure, and entries appended inside a transaction are mirrored before
// the transaction commits, so a rollback can leave a mirror record with no
// durable counterpart. Consumers must treat the stream as a hint and the
// audit_log table as the source of truth.
package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	id "cardgate/pkg/domain"
	audit "cardgate/pkg/platform/audit"
)

const defaultBuffer = 256

// Publisher decorates an audit.Store, forwarding every appended entry to a
// Kafka topic from a background worker. With a nil client it is a transparent
// pass-through.
type Publisher struct {
	inner  audit.Store
	client *kgo.Client
	topic  string
	logger *slog.Logger

	buf  chan audit.Entry
	wg   sync.WaitGroup
	once sync.Once
}

type Option func(*Publisher)

// WithBuffer sets the async mirror buffer size.
func WithBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buf = make(chan audit.Entry, n)
		}
	}
}

func New(inner audit.Store, client *kgo.Client, topic string, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		inner:  inner,
		client: client,
		topic:  topic,
		logger: logger,
		buf:    make(chan audit.Entry, defaultBuffer),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Publisher) Append(ctx context.Context, entry audit.Entry) error {
	if err := p.inner.Append(ctx, entry); err != nil {
		return err
	}
	if p.client == nil {
		return nil
	}
	select {
	case p.buf <- entry:
	default:
		// Buffer full: drop the mirror copy rather than block the mutation.
		p.logger.Warn("audit mirror buffer full, dropping entry",
			"action", string(entry.Action),
			"entity_id", entry.EntityID,
		)
	}
	return nil
}

func (p *Publisher) ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	return p.inner.ListByEntity(ctx, entityType, entityID)
}

func (p *Publisher) ListByActor(ctx context.Context, actor id.MemberID, limit int) ([]audit.Entry, error) {
	return p.inner.ListByActor(ctx, actor, limit)
}

// Close drains buffered entries and stops the worker.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.buf)
	})
	p.wg.Wait()
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for entry := range p.buf {
		p.publish(entry)
	}
}

type mirrorPayload struct {
	ID               string         `json:"id"`
	Action           string         `json:"action"`
	ActorID          *string        `json:"actor_id"`
	EntityType       string         `json:"entity_type"`
	EntityID         string         `json:"entity_id"`
	LifecycleContext map[string]any `json:"lifecycle_context,omitempty"`
	CreatedAt        string         `json:"created_at"`
}

func (p *Publisher) publish(entry audit.Entry) {
	payload := mirrorPayload{
		ID:               entry.ID.String(),
		Action:           string(entry.Action),
		EntityType:       entry.EntityType,
		EntityID:         entry.EntityID,
		LifecycleContext: entry.LifecycleContext,
		CreatedAt:        entry.CreatedAt.Format(time.RFC3339Nano),
	}
	if entry.ActorID != nil {
		actor := entry.ActorID.String()
		payload.ActorID = &actor
	}

	value, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("marshal audit mirror payload", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(entry.EntityID),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.logger.Warn("audit mirror publish failed",
			"error", err,
			"action", string(entry.Action),
		)
	}
}
