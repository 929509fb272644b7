package repo

import (
	"context"
	"database/sql"
	"fmt"

	"gigline/internal/domain"
)

const contractColumns = `id,mission_id,nonce,signed_by_worker,signed_by_employer,amount_cents,hourly_rate_cents,start_at,end_at,status,created_at,updated_at`

func scanContract(row scanner) (domain.Contract, error) {
	var c domain.Contract
	var worker, employer int
	var hourly sql.NullInt64
	var startAt, endAt sql.NullString
	err := row.Scan(&c.ID, &c.MissionID, &c.Nonce, &worker, &employer, &c.AmountCents, &hourly, &startAt, &endAt,
		&c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.SignedByWorker = worker != 0
	c.SignedByEmployer = employer != 0
	c.HourlyRateCents = int64Ptr(hourly)
	c.StartAt = stringPtr(startAt)
	c.EndAt = stringPtr(endAt)
	return c, nil
}

// InsertContractIfAbsent creates the mission's contract unless one already exists.
func (r Repo) InsertContractIfAbsent(ctx context.Context, tx *sql.Tx, c domain.Contract) (bool, error) {
	inserted, err := r.execAffected(ctx, tx, `INSERT INTO contracts(id,mission_id,nonce,signed_by_worker,signed_by_employer,amount_cents,hourly_rate_cents,start_at,end_at,status,created_at,updated_at)
VALUES (?,?,?,0,0,?,?,?,?,?,?,?) ON CONFLICT(mission_id) DO NOTHING`,
		c.ID, c.MissionID, c.Nonce, c.AmountCents, nullableInt64Ptr(c.HourlyRateCents), nullableStringPtr(c.StartAt), nullableStringPtr(c.EndAt),
		string(c.Status), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert contract: %w", err)
	}
	return inserted, nil
}

func (r Repo) GetContractByMission(ctx context.Context, tx *sql.Tx, missionID string) (domain.Contract, error) {
	return scanContract(r.queryRow(ctx, tx, `SELECT `+contractColumns+` FROM contracts WHERE mission_id=?`, missionID))
}

func signedColumn(role domain.Role) (string, error) {
	switch role {
	case domain.RoleWorker:
		return "signed_by_worker", nil
	case domain.RoleEmployer:
		return "signed_by_employer", nil
	}
	return "", fmt.Errorf("role %s cannot sign", role)
}

// SignContract sets role's flag and swaps presented for next in one conditional write.
// It matches only while the stored nonce and status are the ones the caller observed.
func (r Repo) SignContract(ctx context.Context, tx *sql.Tx, id string, role domain.Role, presented, next string, from, to domain.ContractStatus, now string) (bool, error) {
	col, err := signedColumn(role)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`UPDATE contracts SET %[1]s=1, nonce=?, status=?, updated_at=?
WHERE id=? AND nonce=? AND %[1]s=0 AND status=?`, col)
	return r.execAffected(ctx, tx, query, next, string(to), now, id, presented, string(from))
}

// RejectContract consumes the presented nonce and moves the contract to REJECTED.
func (r Repo) RejectContract(ctx context.Context, tx *sql.Tx, id, presented, next string, from domain.ContractStatus, now string) (bool, error) {
	return r.execAffected(ctx, tx, `UPDATE contracts SET nonce=?, status=?, updated_at=? WHERE id=? AND nonce=? AND status=?`,
		next, string(domain.ContractRejected), now, id, presented, string(from))
}

// TransitionContractForMission moves the mission's contract to `to` if it is currently in
// one of from. Missing contracts are not an error.
func (r Repo) TransitionContractForMission(ctx context.Context, tx *sql.Tx, missionID string, from []domain.ContractStatus, to domain.ContractStatus, now string) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	placeholders := "?"
	args := []any{string(to), now, missionID, string(from[0])}
	for _, s := range from[1:] {
		placeholders += ",?"
		args = append(args, string(s))
	}
	return r.execAffected(ctx, tx, `UPDATE contracts SET status=?, updated_at=? WHERE mission_id=? AND status IN (`+placeholders+`)`, args...)
}
