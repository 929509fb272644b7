package repo

import (
	"context"
	"database/sql"
	"fmt"

	"gigline/internal/domain"
)

const paymentColumns = `id,mission_id,idempotency_key,amount_cents,currency,status,provider_ref,last_error,attempts,created_at,updated_at`

func scanPayment(row scanner) (domain.Payment, error) {
	var p domain.Payment
	var ref, lastErr sql.NullString
	err := row.Scan(&p.ID, &p.MissionID, &p.IdempotencyKey, &p.AmountCents, &p.Currency, &p.Status, &ref, &lastErr,
		&p.Attempts, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.ProviderRef = stringPtr(ref)
	p.LastError = stringPtr(lastErr)
	return p, nil
}

// InsertPaymentIfAbsent inserts a CREATED payment. It reports false when the idempotency
// key is taken or the mission already has an active payment.
func (r Repo) InsertPaymentIfAbsent(ctx context.Context, tx *sql.Tx, p domain.Payment) (bool, error) {
	inserted, err := r.execAffected(ctx, tx, `INSERT INTO payments(id,mission_id,idempotency_key,amount_cents,currency,status,attempts,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?) ON CONFLICT DO NOTHING`,
		p.ID, p.MissionID, p.IdempotencyKey, p.AmountCents, p.Currency, string(p.Status), p.Attempts, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}
	return inserted, nil
}

func (r Repo) GetPayment(ctx context.Context, tx *sql.Tx, id string) (domain.Payment, error) {
	return scanPayment(r.queryRow(ctx, tx, `SELECT `+paymentColumns+` FROM payments WHERE id=?`, id))
}

func (r Repo) GetPaymentByKey(ctx context.Context, tx *sql.Tx, key string) (domain.Payment, error) {
	return scanPayment(r.queryRow(ctx, tx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key=?`, key))
}

// ListPaymentsForMission returns every payment attempt for a mission, oldest first.
func (r Repo) ListPaymentsForMission(ctx context.Context, missionID string) ([]domain.Payment, error) {
	rows, err := r.query(ctx, nil, `SELECT `+paymentColumns+` FROM payments WHERE mission_id=? ORDER BY created_at ASC, id ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// TransitionPayment moves id from -> to while the stored status still equals from. A
// non-nil providerRef replaces the stored one; last_error is cleared.
func (r Repo) TransitionPayment(ctx context.Context, tx *sql.Tx, id string, from, to domain.PaymentStatus, providerRef *string, now string) (bool, error) {
	return r.execAffected(ctx, tx, `UPDATE payments SET status=?, provider_ref=COALESCE(?, provider_ref), last_error=NULL, updated_at=?
WHERE id=? AND status=?`,
		string(to), nullableStringPtr(providerRef), now, id, string(from))
}

// RecordPaymentError marks a CREATED payment as having failed to reach the provider.
func (r Repo) RecordPaymentError(ctx context.Context, tx *sql.Tx, id, msg, now string) (bool, error) {
	return r.execAffected(ctx, tx, `UPDATE payments SET last_error=?, updated_at=? WHERE id=? AND status=?`,
		msg, now, id, string(domain.PaymentCreated))
}

// ClaimPaymentRetry takes ownership of re-driving a CREATED payment. attempts acts as the
// version; only one caller observing a given value wins.
func (r Repo) ClaimPaymentRetry(ctx context.Context, tx *sql.Tx, id string, attempts int, now string) (bool, error) {
	return r.execAffected(ctx, tx, `UPDATE payments SET attempts=attempts+1, last_error=NULL, updated_at=?
WHERE id=? AND status=? AND attempts=?`,
		now, id, string(domain.PaymentCreated), attempts)
}
