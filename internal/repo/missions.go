package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gigline/internal/domain"
)

const missionColumns = `id,title,COALESCE(description,''),COALESCE(category,''),price_cents,lat,lng,status,created_by,assigned_to,reserved_by,reserved_at,paid_at,created_at,updated_at`

func scanMission(row scanner) (domain.Mission, error) {
	var m domain.Mission
	var assigned, reservedBy, reservedAt, paidAt sql.NullString
	err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.PriceCents, &m.Location.Lat, &m.Location.Lng,
		&m.Status, &m.CreatedBy, &assigned, &reservedBy, &reservedAt, &paidAt, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.AssignedTo = stringPtr(assigned)
	m.ReservedBy = stringPtr(reservedBy)
	m.ReservedAt = stringPtr(reservedAt)
	m.PaidAt = stringPtr(paidAt)
	return m, nil
}

func (r Repo) InsertMission(ctx context.Context, tx *sql.Tx, m domain.Mission) error {
	_, err := r.exec(ctx, tx, `INSERT INTO missions(id,title,description,category,price_cents,lat,lng,status,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Title, nullable(m.Description), nullable(m.Category), m.PriceCents, m.Location.Lat, m.Location.Lng,
		string(m.Status), m.CreatedBy, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert mission: %w", err)
	}
	return nil
}

func (r Repo) GetMission(ctx context.Context, tx *sql.Tx, id string) (domain.Mission, error) {
	return scanMission(r.queryRow(ctx, tx, `SELECT `+missionColumns+` FROM missions WHERE id=?`, id))
}

type MissionFilters struct {
	Status     string
	CreatedBy  string
	AssignedTo string
	Category   string
	Limit      int
	CursorTS   string
	CursorID   string
}

// ListMissions returns missions newest first, keyset-paginated on (created_at, id).
func (r Repo) ListMissions(ctx context.Context, f MissionFilters) ([]domain.Mission, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.CursorTS != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorTS, f.CursorTS, f.CursorID)
	}
	query := `SELECT ` + missionColumns + ` FROM missions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ReserveMission holds an open, unassigned mission for workerID. Creators cannot hold
// their own missions.
func (r Repo) ReserveMission(ctx context.Context, tx *sql.Tx, id, workerID, now string) (bool, error) {
	return r.execAffected(ctx, tx, `UPDATE missions SET status=?, reserved_by=?, reserved_at=?, updated_at=?
WHERE id=? AND status=? AND assigned_to IS NULL AND created_by<>?`,
		string(domain.MissionReserved), workerID, now, now, id, string(domain.MissionOpen), workerID)
}

// ClaimMission assigns the mission to workerID when it is open, or reserved by that same
// worker. Read and write are one statement; a lost race affects zero rows.
func (r Repo) ClaimMission(ctx context.Context, tx *sql.Tx, id, workerID, now string) (bool, error) {
	return r.execAffected(ctx, tx, `UPDATE missions SET status=?, assigned_to=?, updated_at=?
WHERE id=? AND assigned_to IS NULL AND created_by<>? AND (status=? OR (status=? AND reserved_by=?))`,
		string(domain.MissionAssigned), workerID, now,
		id, workerID, string(domain.MissionOpen), string(domain.MissionReserved), workerID)
}

// TransitionMission moves id from -> to when the stored status still equals from.
func (r Repo) TransitionMission(ctx context.Context, tx *sql.Tx, id string, from, to domain.MissionStatus, now string) (bool, error) {
	return r.execAffected(ctx, tx, `UPDATE missions SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(to), now, id, string(from))
}

// CancelMission cancels from the observed status. The assignee is cleared only when
// work has not started.
func (r Repo) CancelMission(ctx context.Context, tx *sql.Tx, id string, from domain.MissionStatus, clearAssignee bool, now string) (bool, error) {
	query := `UPDATE missions SET status=?, updated_at=? WHERE id=? AND status=?`
	if clearAssignee {
		query = `UPDATE missions SET status=?, updated_at=?, assigned_to=NULL, reserved_by=NULL, reserved_at=NULL WHERE id=? AND status=?`
	}
	return r.execAffected(ctx, tx, query, string(domain.MissionCancelled), now, id, string(from))
}

// ListLapsedReservations returns reserved missions whose hold started before cutoff.
func (r Repo) ListLapsedReservations(ctx context.Context, tx *sql.Tx, cutoff string, limit int) ([]string, error) {
	rows, err := r.query(ctx, tx, `SELECT id FROM missions WHERE status=? AND reserved_at < ? ORDER BY reserved_at ASC LIMIT ?`,
		string(domain.MissionReserved), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReleaseReservation reopens a lapsed reservation. The cutoff is re-checked in the
// write so a concurrent claim wins cleanly.
func (r Repo) ReleaseReservation(ctx context.Context, tx *sql.Tx, id, cutoff, now string) (bool, error) {
	return r.execAffected(ctx, tx, `UPDATE missions SET status=?, reserved_by=NULL, reserved_at=NULL, updated_at=?
WHERE id=? AND status=? AND reserved_at < ?`,
		string(domain.MissionOpen), now, id, string(domain.MissionReserved), cutoff)
}

// MarkMissionPaid stamps paid_at once.
func (r Repo) MarkMissionPaid(ctx context.Context, tx *sql.Tx, id, now string) (bool, error) {
	return r.execAffected(ctx, tx, `UPDATE missions SET paid_at=?, updated_at=? WHERE id=? AND paid_at IS NULL`, now, now, id)
}

// CountMissionsByStatus returns the number of missions per status.
func (r Repo) CountMissionsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.query(ctx, nil, `SELECT status, COUNT(*) FROM missions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}
