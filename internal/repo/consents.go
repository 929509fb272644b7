package repo

import (
	"context"
	"database/sql"

	"gigline/internal/domain"
)

// RecordConsent stores acceptance of a terms version; re-accepting is a no-op.
func (r Repo) RecordConsent(ctx context.Context, tx *sql.Tx, c domain.LegalConsent) error {
	_, err := r.exec(ctx, tx, `INSERT INTO legal_consents(actor_id,version,accepted_at) VALUES (?,?,?) ON CONFLICT(actor_id,version) DO NOTHING`,
		c.ActorID, c.Version, c.AcceptedAt)
	return err
}

func (r Repo) HasConsent(ctx context.Context, actorID, version string) (bool, error) {
	var n int
	err := r.queryRow(ctx, nil, `SELECT 1 FROM legal_consents WHERE actor_id=? AND version=? LIMIT 1`, actorID, version).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListConsents(ctx context.Context, actorID string) ([]domain.LegalConsent, error) {
	rows, err := r.query(ctx, nil, `SELECT actor_id,version,accepted_at FROM legal_consents WHERE actor_id=? ORDER BY accepted_at DESC`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LegalConsent
	for rows.Next() {
		var c domain.LegalConsent
		if err := rows.Scan(&c.ActorID, &c.Version, &c.AcceptedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
