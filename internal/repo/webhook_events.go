package repo

import (
	"context"
	"database/sql"
	"fmt"

	"gigline/internal/domain"
)

const webhookColumns = `seq,provider_event_id,payment_id,status,outcome,received_at,processed_at`

func scanWebhookEvent(row scanner) (domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	var processed sql.NullString
	err := row.Scan(&ev.Seq, &ev.ProviderEventID, &ev.PaymentID, &ev.Status, &ev.Outcome, &ev.ReceivedAt, &processed)
	if err == sql.ErrNoRows {
		return ev, ErrNotFound
	}
	if err != nil {
		return ev, err
	}
	ev.ProcessedAt = stringPtr(processed)
	return ev, nil
}

// InsertWebhookEvent records a provider delivery. It returns the assigned sequence, or
// false when the provider event id was seen before.
func (r Repo) InsertWebhookEvent(ctx context.Context, tx *sql.Tx, ev domain.WebhookEvent) (int64, bool, error) {
	var seq int64
	err := r.queryRow(ctx, tx, `INSERT INTO webhook_events(provider_event_id,payment_id,status,outcome,received_at)
VALUES (?,?,?,?,?) ON CONFLICT(provider_event_id) DO NOTHING RETURNING seq`,
		ev.ProviderEventID, ev.PaymentID, string(ev.Status), string(ev.Outcome), ev.ReceivedAt).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert webhook event: %w", err)
	}
	return seq, true, nil
}

func (r Repo) GetWebhookEvent(ctx context.Context, tx *sql.Tx, providerEventID string) (domain.WebhookEvent, error) {
	return scanWebhookEvent(r.queryRow(ctx, tx, `SELECT `+webhookColumns+` FROM webhook_events WHERE provider_event_id=?`, providerEventID))
}

func (r Repo) SetWebhookOutcome(ctx context.Context, tx *sql.Tx, seq int64, outcome domain.WebhookOutcome, processedAt string) error {
	_, err := r.exec(ctx, tx, `UPDATE webhook_events SET outcome=?, processed_at=? WHERE seq=?`, string(outcome), processedAt, seq)
	return err
}

// ListDeferredWebhooks returns out-of-order deliveries for a payment in receipt order.
func (r Repo) ListDeferredWebhooks(ctx context.Context, tx *sql.Tx, paymentID string) ([]domain.WebhookEvent, error) {
	return r.listWebhooks(ctx, tx, `SELECT `+webhookColumns+` FROM webhook_events WHERE payment_id=? AND outcome=? ORDER BY seq ASC`,
		paymentID, string(domain.WebhookOutOfOrder))
}

// ListWebhookEvents returns all deliveries for a payment in receipt order.
func (r Repo) ListWebhookEvents(ctx context.Context, paymentID string) ([]domain.WebhookEvent, error) {
	return r.listWebhooks(ctx, nil, `SELECT `+webhookColumns+` FROM webhook_events WHERE payment_id=? ORDER BY seq ASC`, paymentID)
}

func (r Repo) listWebhooks(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]domain.WebhookEvent, error) {
	rows, err := r.query(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WebhookEvent
	for rows.Next() {
		ev, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}
