package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "cardgate/pkg/domain"
	audit "cardgate/pkg/platform/audit"
	txcontext "cardgate/pkg/platform/tx"
)

// Store persists audit entries in the audit_log table. Append joins any
// ambient transaction carried in the context, which is how lifecycle appends
// commit atomically with the mutation they describe.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	contextBytes, err := json.Marshal(entry.LifecycleContext)
	if err != nil {
		return fmt.Errorf("marshal lifecycle context: %w", err)
	}

	var actorID *uuid.UUID
	if entry.ActorID != nil {
		actor := uuid.UUID(*entry.ActorID)
		actorID = &actor
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO audit_log (id, action, actor_id, entity_type, entity_id, lifecycle_context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		string(entry.Action),
		actorID,
		entry.EntityType,
		entry.EntityID,
		contextBytes,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	query := `
		SELECT id, action, actor_id, entity_type, entity_id, lifecycle_context, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *Store) ListByActor(ctx context.Context, actor id.MemberID, limit int) ([]audit.Entry, error) {
	query := `
		SELECT id, action, actor_id, entity_type, entity_id, lifecycle_context, created_at
		FROM audit_log
		WHERE actor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(actor), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var (
			entry        audit.Entry
			entryID      uuid.UUID
			action       string
			actorID      *uuid.UUID
			contextBytes []byte
		)
		err := rows.Scan(
			&entryID,
			&action,
			&actorID,
			&entry.EntityType,
			&entry.EntityID,
			&contextBytes,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.ID = id.AuditID(entryID)
		entry.Action = audit.Action(action)
		if actorID != nil {
			actor := id.MemberID(*actorID)
			entry.ActorID = &actor
		}
		if len(contextBytes) > 0 {
			if err := json.Unmarshal(contextBytes, &entry.LifecycleContext); err != nil {
				return nil, fmt.Errorf("unmarshal lifecycle context: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
