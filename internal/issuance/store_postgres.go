package issuance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	id "cardgate/pkg/domain"
	"cardgate/pkg/platform/sentinel"
	txcontext "cardgate/pkg/platform/tx"
)

// PostgresStore persists issuances and deliveries in the card_issuances and
// card_deliveries tables.
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

const issuanceColumns = `id, instance_id, issuer_id, recipient_member_id, invitee_locator, status, issued_at, resolved_at`

func (s *PostgresStore) InsertIssuance(ctx context.Context, iss CardIssuance) error {
	query := `
		INSERT INTO card_issuances (` + issuanceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(iss.ID),
		uuid.UUID(iss.InstanceID),
		uuid.UUID(iss.IssuerID),
		memberIDOrNil(iss.RecipientMemberID),
		nullString(iss.InviteeLocator),
		string(iss.Status),
		iss.IssuedAt,
		iss.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert card issuance: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertDelivery(ctx context.Context, del CardDelivery) error {
	query := `
		INSERT INTO card_deliveries (id, issuance_id, recipient_member_id, invitee_locator, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(del.ID),
		uuid.UUID(del.IssuanceID),
		memberIDOrNil(del.RecipientMemberID),
		nullString(del.InviteeLocator),
		string(del.Status),
		del.CreatedAt,
		del.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert card delivery: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIssuance(ctx context.Context, issuanceID id.IssuanceID) (CardIssuance, error) {
	query := `SELECT ` + issuanceColumns + ` FROM card_issuances WHERE id = $1`
	row := s.handle(ctx).QueryRowContext(ctx, query, uuid.UUID(issuanceID))
	iss, err := scanIssuance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CardIssuance{}, sentinel.ErrNotFound
		}
		return CardIssuance{}, fmt.Errorf("get card issuance: %w", err)
	}
	return iss, nil
}

// Transition performs the conditional status write and keeps the delivery
// mirror in step. The status list is built from our own constants, never from
// caller input.
func (s *PostgresStore) Transition(ctx context.Context, issuanceID id.IssuanceID, target Status, at time.Time) error {
	sources := AllowedSources(target)
	if len(sources) == 0 {
		return sentinel.ErrInvalidState
	}
	quoted := make([]string, len(sources))
	for i, src := range sources {
		quoted[i] = "'" + string(src) + "'"
	}

	query := `
		UPDATE card_issuances
		SET status = $2, resolved_at = $3
		WHERE id = $1 AND status IN (` + strings.Join(quoted, ", ") + `)
	`
	result, err := s.handle(ctx).ExecContext(ctx, query, uuid.UUID(issuanceID), string(target), at)
	if err != nil {
		return fmt.Errorf("transition issuance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition issuance: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetIssuance(ctx, issuanceID); errors.Is(err, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}

	deliveryQuery := `
		UPDATE card_deliveries
		SET status = $2, updated_at = $3
		WHERE issuance_id = $1
	`
	if _, err := s.handle(ctx).ExecContext(ctx, deliveryQuery, uuid.UUID(issuanceID), string(target), at); err != nil {
		return fmt.Errorf("sync delivery status: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByInstance(ctx context.Context, instanceID id.InstanceID) ([]CardIssuance, error) {
	query := `
		SELECT ` + issuanceColumns + ` FROM card_issuances
		WHERE instance_id = $1
		ORDER BY issued_at DESC
	`
	rows, err := s.handle(ctx).QueryContext(ctx, query, uuid.UUID(instanceID))
	if err != nil {
		return nil, fmt.Errorf("query issuances by instance: %w", err)
	}
	defer rows.Close()
	return scanIssuances(rows)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status) ([]CardIssuance, error) {
	query := `
		SELECT ` + issuanceColumns + ` FROM card_issuances
		WHERE status = $1
		ORDER BY issued_at DESC
	`
	rows, err := s.handle(ctx).QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("query issuances by status: %w", err)
	}
	defer rows.Close()
	return scanIssuances(rows)
}

func memberIDOrNil(member *id.MemberID) *uuid.UUID {
	if member == nil {
		return nil
	}
	u := uuid.UUID(*member)
	return &u
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssuance(row rowScanner) (CardIssuance, error) {
	var (
		iss       CardIssuance
		issID     uuid.UUID
		instID    uuid.UUID
		issuerID  uuid.UUID
		recipient *uuid.UUID
		invitee   *string
		status    string
	)
	err := row.Scan(&issID, &instID, &issuerID, &recipient, &invitee, &status, &iss.IssuedAt, &iss.ResolvedAt)
	if err != nil {
		return CardIssuance{}, err
	}
	iss.ID = id.IssuanceID(issID)
	iss.InstanceID = id.InstanceID(instID)
	iss.IssuerID = id.MemberID(issuerID)
	if recipient != nil {
		member := id.MemberID(*recipient)
		iss.RecipientMemberID = &member
	}
	if invitee != nil {
		iss.InviteeLocator = *invitee
	}
	iss.Status = Status(status)
	return iss, nil
}

func scanIssuances(rows *sql.Rows) ([]CardIssuance, error) {
	var out []CardIssuance
	for rows.Next() {
		iss, err := scanIssuance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card issuance: %w", err)
		}
		out = append(out, iss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate card issuances: %w", err)
	}
	return out, nil
}
