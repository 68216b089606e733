package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hybridprotocol/newsletter/internal/newsletter"
)

const recipientColumns = `id, email, first_name, last_name, source, is_subscribed, bounced, is_active, created_at`

const (
	recipientsEligibleSQL = `SELECT ` + recipientColumns + ` FROM recipients
		WHERE is_subscribed AND NOT bounced AND is_active
		ORDER BY id`
	recipientInsertSQL = `INSERT INTO recipients (email, first_name, last_name, source, is_subscribed, bounced, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO NOTHING
		RETURNING ` + recipientColumns
	recipientByEmailSQL     = `SELECT ` + recipientColumns + ` FROM recipients WHERE email = $1`
	recipientUnsubscribeSQL = `UPDATE recipients SET is_subscribed = FALSE WHERE id = $1`
)

// Recipients is the PostgreSQL newsletter.RecipientStore.
type Recipients struct {
	db DBTX
}

func NewRecipients(db DBTX) *Recipients {
	return &Recipients{db: db}
}

func scanRecipient(row pgx.Row) (newsletter.Recipient, error) {
	var r newsletter.Recipient
	err := row.Scan(
		&r.ID,
		&r.Email,
		&r.FirstName,
		&r.LastName,
		&r.Source,
		&r.IsSubscribed,
		&r.Bounced,
		&r.IsActive,
		&r.CreatedAt,
	)
	return r, err
}

func (s *Recipients) Eligible(ctx context.Context) ([]newsletter.Recipient, error) {
	rows, err := s.db.Query(ctx, recipientsEligibleSQL)
	if err != nil {
		return nil, fmt.Errorf("repository: eligible recipients: %w", err)
	}
	defer rows.Close()

	var out []newsletter.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindOrCreate inserts r unless its email exists, then returns the stored row.
func (s *Recipients) FindOrCreate(ctx context.Context, r newsletter.Recipient) (newsletter.Recipient, error) {
	email := newsletter.NormalizeEmail(r.Email)
	if r.Source == "" {
		r.Source = "website"
	}

	created, err := scanRecipient(s.db.QueryRow(ctx, recipientInsertSQL,
		email, r.FirstName, r.LastName, r.Source, r.IsSubscribed, r.Bounced, r.IsActive,
	))
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return newsletter.Recipient{}, fmt.Errorf("repository: create recipient: %w", err)
	}

	existing, err := scanRecipient(s.db.QueryRow(ctx, recipientByEmailSQL, email))
	if err != nil {
		return newsletter.Recipient{}, fmt.Errorf("repository: find recipient: %w", err)
	}
	return existing, nil
}

func (s *Recipients) Unsubscribe(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, recipientUnsubscribeSQL, id)
	if err != nil {
		return fmt.Errorf("repository: unsubscribe: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return newsletter.ErrRecipientNotFound
	}
	return nil
}
