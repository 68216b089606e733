package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hybridprotocol/newsletter/internal/newsletter"
)

const newsletterColumns = `id, send_key, slug, subject, preheader, body, scheduled_for, sent_at, dispatch_failed_at, created_at`

const (
	newsletterBySendKeySQL = `SELECT ` + newsletterColumns + ` FROM newsletters WHERE send_key = $1`
	newsletterByIDSQL      = `SELECT ` + newsletterColumns + ` FROM newsletters WHERE id = $1`
	newsletterMarkSentSQL  = `UPDATE newsletters SET sent_at = $2 WHERE id = $1 AND sent_at IS NULL`
	newsletterExistsSQL    = `SELECT EXISTS (SELECT 1 FROM newsletters WHERE id = $1)`
	newsletterFailedSQL    = `UPDATE newsletters SET dispatch_failed_at = $2 WHERE send_key = $1 AND sent_at IS NULL`
	newsletterDueSQL       = `SELECT ` + newsletterColumns + ` FROM newsletters
		WHERE sent_at IS NULL AND dispatch_failed_at IS NULL
		AND scheduled_for IS NOT NULL AND scheduled_for <= $1
		ORDER BY scheduled_for, id
		LIMIT $2`
	newsletterInsertSQL = `INSERT INTO newsletters (send_key, slug, subject, preheader, body, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + newsletterColumns
)

// Newsletters is the PostgreSQL newsletter.NewsletterStore.
type Newsletters struct {
	db DBTX
}

func NewNewsletters(db DBTX) *Newsletters {
	return &Newsletters{db: db}
}

func scanNewsletter(row pgx.Row) (newsletter.Newsletter, error) {
	var n newsletter.Newsletter
	err := row.Scan(
		&n.ID,
		&n.SendKey,
		&n.Slug,
		&n.Subject,
		&n.Preheader,
		&n.Body,
		&n.ScheduledFor,
		&n.SentAt,
		&n.DispatchFailedAt,
		&n.CreatedAt,
	)
	return n, err
}

func (s *Newsletters) get(ctx context.Context, query string, arg any) (newsletter.Newsletter, error) {
	n, err := scanNewsletter(s.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return newsletter.Newsletter{}, newsletter.ErrNewsletterNotFound
	}
	if err != nil {
		return newsletter.Newsletter{}, fmt.Errorf("repository: get newsletter: %w", err)
	}
	return n, nil
}

func (s *Newsletters) BySendKey(ctx context.Context, sendKey string) (newsletter.Newsletter, error) {
	return s.get(ctx, newsletterBySendKeySQL, sendKey)
}

func (s *Newsletters) ByID(ctx context.Context, id int64) (newsletter.Newsletter, error) {
	return s.get(ctx, newsletterByIDSQL, id)
}

// MarkSent is a conditional update so sent_at is written exactly once.
func (s *Newsletters) MarkSent(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.db.Exec(ctx, newsletterMarkSentSQL, id, at)
	if err != nil {
		return fmt.Errorf("repository: mark sent: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, newsletterExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("repository: mark sent: %w", err)
	}
	if !exists {
		return newsletter.ErrNewsletterNotFound
	}
	return newsletter.ErrAlreadySent
}

func (s *Newsletters) MarkDispatchFailed(ctx context.Context, sendKey string, at time.Time) error {
	if _, err := s.db.Exec(ctx, newsletterFailedSQL, sendKey, at); err != nil {
		return fmt.Errorf("repository: mark dispatch failed: %w", err)
	}
	return nil
}

func (s *Newsletters) Due(ctx context.Context, now time.Time, limit int) ([]newsletter.Newsletter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, newsletterDueSQL, now, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: due newsletters: %w", err)
	}
	defer rows.Close()

	var out []newsletter.Newsletter
	for rows.Next() {
		n, err := scanNewsletter(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan newsletter: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Create inserts a newsletter. Authoring happens elsewhere; this backs the
// operator CLI and tests.
func (s *Newsletters) Create(ctx context.Context, n newsletter.Newsletter) (newsletter.Newsletter, error) {
	created, err := scanNewsletter(s.db.QueryRow(ctx, newsletterInsertSQL,
		n.SendKey, n.Slug, n.Subject, n.Preheader, n.Body, n.ScheduledFor,
	))
	if err != nil {
		return newsletter.Newsletter{}, fmt.Errorf("repository: create newsletter: %w", err)
	}
	return created, nil
}
