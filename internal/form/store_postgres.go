package form

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "cardgate/pkg/domain"
	"cardgate/pkg/platform/sentinel"
	txcontext "cardgate/pkg/platform/tx"
)

// PostgresStore persists card forms in the card_forms table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Save(ctx context.Context, form CardForm) error {
	query := `
		INSERT INTO card_forms (id, name, form_type, schema_definition, status, registered_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, registered_at = EXCLUDED.registered_at
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(form.ID),
		form.Name,
		string(form.FormType),
		[]byte(form.SchemaDefinition),
		string(form.Status),
		form.RegisteredAt,
		form.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save card form: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, formID id.FormID) (CardForm, error) {
	query := `
		SELECT id, name, form_type, schema_definition, status, registered_at, created_at
		FROM card_forms
		WHERE id = $1
	`
	row := s.db.QueryRowContext(ctx, query, uuid.UUID(formID))

	var (
		form       CardForm
		rowID      uuid.UUID
		formType   string
		status     string
		definition []byte
	)
	err := row.Scan(&rowID, &form.Name, &formType, &definition, &status, &form.RegisteredAt, &form.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CardForm{}, sentinel.ErrNotFound
		}
		return CardForm{}, fmt.Errorf("get card form: %w", err)
	}
	form.ID = id.FormID(rowID)
	form.FormType = id.FormType(formType)
	form.Status = Status(status)
	form.SchemaDefinition = definition
	return form, nil
}
