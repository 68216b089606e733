package repository

import (
	"context"
	"fmt"

	"github.com/hybridprotocol/newsletter/internal/newsletter"
)

const (
	ledgerRecordedSQL = `SELECT recipient_id FROM delivery_log
		WHERE newsletter_id = $1 AND recipient_id = ANY($2)`
	ledgerAppendSQL = `INSERT INTO delivery_log (id, newsletter_id, recipient_id, status, provider_message_id, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (newsletter_id, recipient_id) DO NOTHING`
	ledgerListSQL = `SELECT id, newsletter_id, recipient_id, status, provider_message_id, error, created_at
		FROM delivery_log
		WHERE newsletter_id = $1 AND recipient_id > $2
		ORDER BY recipient_id
		LIMIT $3`
	ledgerStatsSQL = `SELECT
		count(*) FILTER (WHERE status = 'sent'),
		count(*) FILTER (WHERE status = 'failed')
		FROM delivery_log WHERE newsletter_id = $1`
)

// Ledger is the PostgreSQL newsletter.Ledger over the delivery_log table.
type Ledger struct {
	db DBTX
}

func NewLedger(db DBTX) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Recorded(ctx context.Context, newsletterID int64, recipientIDs []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	if len(recipientIDs) == 0 {
		return out, nil
	}

	rows, err := l.db.Query(ctx, ledgerRecordedSQL, newsletterID, recipientIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: recorded deliveries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return nil, fmt.Errorf("repository: scan delivery: %w", err)
		}
		out[rid] = struct{}{}
	}
	return out, rows.Err()
}

// Append relies on the (newsletter_id, recipient_id) unique constraint so
// concurrent writers cannot record the same pair twice.
func (l *Ledger) Append(ctx context.Context, e newsletter.DeliveryLogEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	tag, err := l.db.Exec(ctx, ledgerAppendSQL,
		e.ID,
		e.NewsletterID,
		e.RecipientID,
		string(e.Status),
		nullString(e.ProviderMessageID),
		nullString(e.Error),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: append delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return newsletter.ErrEntryExists
	}
	return nil
}

func (l *Ledger) List(ctx context.Context, newsletterID, afterRecipientID int64, limit int) ([]newsletter.DeliveryLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(ctx, ledgerListSQL, newsletterID, afterRecipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: list deliveries: %w", err)
	}
	defer rows.Close()

	var out []newsletter.DeliveryLogEntry
	for rows.Next() {
		var (
			e         newsletter.DeliveryLogEntry
			status    string
			messageID *string
			errText   *string
		)
		if err := rows.Scan(&e.ID, &e.NewsletterID, &e.RecipientID, &status, &messageID, &errText, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan delivery: %w", err)
		}
		e.Status = newsletter.DeliveryStatus(status)
		e.ProviderMessageID = deref(messageID)
		e.Error = deref(errText)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *Ledger) Stats(ctx context.Context, newsletterID int64) (newsletter.DeliveryStats, error) {
	var s newsletter.DeliveryStats
	if err := l.db.QueryRow(ctx, ledgerStatsSQL, newsletterID).Scan(&s.Sent, &s.Failed); err != nil {
		return newsletter.DeliveryStats{}, fmt.Errorf("repository: delivery stats: %w", err)
	}
	return s, nil
}
