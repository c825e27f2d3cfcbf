package instance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "cardgate/pkg/domain"
	"cardgate/pkg/platform/sentinel"
	txcontext "cardgate/pkg/platform/tx"
)

// PostgresStore persists instances in the card_instances table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) handle(ctx context.Context) dbHandle {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const instanceColumns = `id, form_id, member_id, payload, is_current, superseded_by, superseded_at, created_at`

func (s *PostgresStore) Insert(ctx context.Context, inst CardInstance) error {
	query := `
		INSERT INTO card_instances (` + instanceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	var supersededBy *uuid.UUID
	if inst.SupersededBy != nil {
		u := uuid.UUID(*inst.SupersededBy)
		supersededBy = &u
	}
	_, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(inst.ID),
		uuid.UUID(inst.FormID),
		uuid.UUID(inst.OwnerID),
		[]byte(inst.Payload),
		inst.IsCurrent,
		supersededBy,
		inst.SupersededAt,
		inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert card instance: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, instanceID id.InstanceID) (CardInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM card_instances WHERE id = $1`
	row := s.handle(ctx).QueryRowContext(ctx, query, uuid.UUID(instanceID))
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CardInstance{}, sentinel.ErrNotFound
		}
		return CardInstance{}, fmt.Errorf("get card instance: %w", err)
	}
	return inst, nil
}

// MarkSuperseded retires old only while it is still the current tail. Losing
// a supersession race shows up as zero affected rows.
func (s *PostgresStore) MarkSuperseded(ctx context.Context, old id.InstanceID, successor id.InstanceID, at time.Time) error {
	query := `
		UPDATE card_instances
		SET is_current = FALSE, superseded_by = $2, superseded_at = $3
		WHERE id = $1 AND is_current = TRUE AND superseded_by IS NULL
	`
	result, err := s.handle(ctx).ExecContext(ctx, query, uuid.UUID(old), uuid.UUID(successor), at)
	if err != nil {
		return fmt.Errorf("mark instance superseded: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark instance superseded: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetByID(ctx, old); errors.Is(err, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Lineage(ctx context.Context, instanceID id.InstanceID) ([]CardInstance, error) {
	// Walk back to the chain root, then forward to the tail.
	query := `
		WITH RECURSIVE ancestors AS (
			SELECT ` + instanceColumns + ` FROM card_instances WHERE id = $1
			UNION ALL
			SELECT ci.id, ci.form_id, ci.member_id, ci.payload, ci.is_current,
			       ci.superseded_by, ci.superseded_at, ci.created_at
			FROM card_instances ci
			JOIN ancestors a ON ci.superseded_by = a.id
		), chain AS (
			SELECT ` + instanceColumns + ` FROM card_instances
			WHERE id = (SELECT id FROM ancestors ORDER BY created_at ASC LIMIT 1)
			UNION ALL
			SELECT ci.id, ci.form_id, ci.member_id, ci.payload, ci.is_current,
			       ci.superseded_by, ci.superseded_at, ci.created_at
			FROM card_instances ci
			JOIN chain c ON ci.id = c.superseded_by
		)
		SELECT ` + instanceColumns + ` FROM chain ORDER BY created_at ASC
	`
	rows, err := s.handle(ctx).QueryContext(ctx, query, uuid.UUID(instanceID))
	if err != nil {
		return nil, fmt.Errorf("query lineage: %w", err)
	}
	defer rows.Close()

	chain, err := scanInstances(rows)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return chain, nil
}

func (s *PostgresStore) RegisteredByFormType(ctx context.Context, formType id.FormType) ([]CardInstance, error) {
	query := `
		SELECT ci.id, ci.form_id, ci.member_id, ci.payload, ci.is_current,
		       ci.superseded_by, ci.superseded_at, ci.created_at
		FROM card_instances ci
		JOIN card_forms cf ON cf.id = ci.form_id
		WHERE cf.form_type = $1 AND cf.status = 'registered'
		ORDER BY ci.created_at ASC
	`
	rows, err := s.handle(ctx).QueryContext(ctx, query, string(formType))
	if err != nil {
		return nil, fmt.Errorf("query instances by form type: %w", err)
	}
	defer rows.Close()

	return scanInstances(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (CardInstance, error) {
	var (
		inst         CardInstance
		instID       uuid.UUID
		formID       uuid.UUID
		ownerID      uuid.UUID
		payload      []byte
		supersededBy *uuid.UUID
	)
	err := row.Scan(&instID, &formID, &ownerID, &payload, &inst.IsCurrent,
		&supersededBy, &inst.SupersededAt, &inst.CreatedAt)
	if err != nil {
		return CardInstance{}, err
	}
	inst.ID = id.InstanceID(instID)
	inst.FormID = id.FormID(formID)
	inst.OwnerID = id.MemberID(ownerID)
	inst.Payload = payload
	if supersededBy != nil {
		successor := id.InstanceID(*supersededBy)
		inst.SupersededBy = &successor
	}
	return inst, nil
}

func scanInstances(rows *sql.Rows) ([]CardInstance, error) {
	var out []CardInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card instance: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate card instances: %w", err)
	}
	return out, nil
}
