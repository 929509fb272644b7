package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gigline/internal/domain"
	"gigline/internal/engine/auth"
	"gigline/internal/events"
	"gigline/internal/repo"
	"gigline/internal/state"
	"gigline/internal/telemetry"
)

// MissionCreateOptions are parameters for posting a mission.
type MissionCreateOptions struct {
	Title       string
	Description string
	Category    string
	PriceCents  int64
	Location    domain.Location
}

func (e Engine) CreateMission(ctx context.Context, opts MissionCreateOptions, actor auth.Actor) (domain.Mission, error) {
	if !actor.Is(domain.RoleEmployer, domain.RoleAdmin) {
		return domain.Mission{}, fail(ErrForbidden, "only employers can post missions")
	}
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Mission{}, fail(ErrBadRequest, "title is required")
	}
	if opts.PriceCents <= 0 {
		return domain.Mission{}, fail(ErrBadRequest, "price_cents must be positive")
	}
	if opts.Location.Lat < -90 || opts.Location.Lat > 90 || opts.Location.Lng < -180 || opts.Location.Lng > 180 {
		return domain.Mission{}, fail(ErrBadRequest, "location out of range")
	}
	if err := e.requireConsent(ctx, actor); err != nil {
		return domain.Mission{}, err
	}
	now := e.ts()
	m := domain.Mission{
		ID:          uuid.NewString(),
		Title:       opts.Title,
		Description: opts.Description,
		Category:    opts.Category,
		PriceCents:  opts.PriceCents,
		Location:    opts.Location,
		Status:      domain.MissionOpen,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertMission(ctx, tx, m); err != nil {
		return domain.Mission{}, err
	}
	if err := e.append(ctx, tx, "mission.created", "mission", m.ID, actor.ID, events.EventPayload{
		"title": m.Title, "price_cents": m.PriceCents, "status": m.Status,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	telemetry.MissionTransitions.WithLabelValues(string(domain.MissionOpen)).Inc()
	return m, nil
}

func (e Engine) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	m, err := e.Repo.GetMission(ctx, nil, id)
	if err != nil {
		return m, notFound(err, "mission %s not found", id)
	}
	return m, nil
}

func (e Engine) ListMissions(ctx context.Context, f repo.MissionFilters) ([]domain.Mission, error) {
	if f.Status != "" && !state.Missions.Known(domain.MissionStatus(f.Status)) {
		return nil, fail(ErrBadRequest, "unknown mission status %s", f.Status)
	}
	return e.Repo.ListMissions(ctx, f)
}

// classifyHold explains why a reserve or claim write matched nothing.
func (e Engine) classifyHold(ctx context.Context, tx *sql.Tx, id string, worker auth.Actor) error {
	m, err := e.Repo.GetMission(ctx, tx, id)
	if err != nil {
		return notFound(err, "mission %s not found", id)
	}
	if m.CreatedBy == worker.ID {
		return fail(ErrForbidden, "cannot take your own mission")
	}
	if m.IsAssignee(worker.ID) {
		return fail(ErrAlreadyClaimed, "mission %s already assigned to you", id)
	}
	return fail(ErrAlreadyClaimed, "mission %s is %s", id, m.Status)
}

// ReserveMission places a short hold on an open mission. The hold lapses after
// missions.reservation_window unless the same worker claims it.
func (e Engine) ReserveMission(ctx context.Context, missionID string, worker auth.Actor) (domain.Mission, error) {
	if worker.Role != domain.RoleWorker {
		return domain.Mission{}, fail(ErrForbidden, "only workers can reserve missions")
	}
	if err := e.requireConsent(ctx, worker); err != nil {
		return domain.Mission{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	now := e.ts()
	ok, err := e.Repo.ReserveMission(ctx, tx, missionID, worker.ID, now)
	if err != nil {
		return domain.Mission{}, err
	}
	if !ok {
		return domain.Mission{}, e.classifyHold(ctx, tx, missionID, worker)
	}
	if err := e.append(ctx, tx, "mission.reserved", "mission", missionID, worker.ID, events.EventPayload{
		"status": domain.MissionReserved, "reserved_at": now,
	}); err != nil {
		return domain.Mission{}, err
	}
	return e.commitMission(ctx, tx, missionID, domain.MissionReserved)
}

// ClaimMission binds the mission to worker. Exactly one of any number of concurrent
// callers wins; the rest get ALREADY_CLAIMED.
func (e Engine) ClaimMission(ctx context.Context, missionID string, worker auth.Actor) (domain.Mission, error) {
	if worker.Role != domain.RoleWorker {
		return domain.Mission{}, fail(ErrForbidden, "only workers can claim missions")
	}
	if err := e.requireConsent(ctx, worker); err != nil {
		return domain.Mission{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.ClaimMission(ctx, tx, missionID, worker.ID, e.ts())
	if err != nil {
		return domain.Mission{}, err
	}
	if !ok {
		cerr := e.classifyHold(ctx, tx, missionID, worker)
		if ee, isEngine := AsError(cerr); isEngine && ee.Code == CodeAlreadyClaimed {
			telemetry.ClaimConflicts.Inc()
		}
		return domain.Mission{}, cerr
	}
	if err := e.append(ctx, tx, "mission.claimed", "mission", missionID, worker.ID, events.EventPayload{
		"status": domain.MissionAssigned, "assigned_to": worker.ID,
	}); err != nil {
		return domain.Mission{}, err
	}
	m, err := e.commitMission(ctx, tx, missionID, domain.MissionAssigned)
	if err != nil {
		return m, err
	}
	e.log().WithFields(logrus.Fields{"mission_id": missionID, "worker_id": worker.ID}).Info("mission claimed")
	return m, nil
}

func (e Engine) StartMission(ctx context.Context, missionID string, worker auth.Actor) (domain.Mission, error) {
	if err := e.requireConsent(ctx, worker); err != nil {
		return domain.Mission{}, err
	}
	return e.advanceMission(ctx, missionID, worker, domain.MissionInProgress, "mission.started", func(m domain.Mission) bool {
		return worker.Role == domain.RoleWorker && m.IsAssignee(worker.ID)
	})
}

// CompleteMission finishes an in-progress mission. An accepted contract completes with it.
func (e Engine) CompleteMission(ctx context.Context, missionID string, caller auth.Actor) (domain.Mission, error) {
	if err := e.requireConsent(ctx, caller); err != nil {
		return domain.Mission{}, err
	}
	return e.advanceMission(ctx, missionID, caller, domain.MissionCompleted, "mission.completed", func(m domain.Mission) bool {
		return m.IsAssignee(caller.ID) || m.CreatedBy == caller.ID
	})
}

// CancelMission is open to the creator and admins. Cancelling before work starts frees the
// assignee; any open contract is cancelled alongside.
func (e Engine) CancelMission(ctx context.Context, missionID string, caller auth.Actor) (domain.Mission, error) {
	if err := e.requireConsent(ctx, caller); err != nil {
		return domain.Mission{}, err
	}
	return e.advanceMission(ctx, missionID, caller, domain.MissionCancelled, "mission.cancelled", func(m domain.Mission) bool {
		return m.CreatedBy == caller.ID || caller.IsAdmin()
	})
}

// advanceMission applies one actor-driven mission transition: authorization, then the
// transition table, then the conditional write.
func (e Engine) advanceMission(ctx context.Context, missionID string, actor auth.Actor, to domain.MissionStatus, evtType string, authorized func(domain.Mission) bool) (domain.Mission, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMission(ctx, tx, missionID)
	if err != nil {
		return m, notFound(err, "mission %s not found", missionID)
	}
	if !authorized(m) {
		return domain.Mission{}, fail(ErrForbidden, "actor %s may not move mission %s to %s", actor.ID, missionID, to)
	}
	if !state.Missions.Allowed(m.Status, to) {
		return domain.Mission{}, fail(ErrInvalidState, "mission %s cannot go from %s to %s", missionID, m.Status, to)
	}
	now := e.ts()
	var ok bool
	payload := events.EventPayload{"from": m.Status, "status": to}
	if to == domain.MissionCancelled {
		release := state.MissionPrecedes(m.Status, domain.MissionInProgress)
		ok, err = e.Repo.CancelMission(ctx, tx, missionID, m.Status, release, now)
		payload["released_assignee"] = release && m.AssignedTo != nil
	} else {
		ok, err = e.Repo.TransitionMission(ctx, tx, missionID, m.Status, to, now)
	}
	if err != nil {
		return domain.Mission{}, err
	}
	if !ok {
		return domain.Mission{}, fail(ErrConflict, "mission %s changed concurrently", missionID)
	}
	if err := e.append(ctx, tx, evtType, "mission", missionID, actor.ID, payload); err != nil {
		return domain.Mission{}, err
	}
	if err := e.followContract(ctx, tx, missionID, actor.ID, to, now); err != nil {
		return domain.Mission{}, err
	}
	return e.commitMission(ctx, tx, missionID, to)
}

// followContract keeps the contract in step with a terminal mission transition.
func (e Engine) followContract(ctx context.Context, tx *sql.Tx, missionID, actorID string, to domain.MissionStatus, now string) error {
	var from []domain.ContractStatus
	var target domain.ContractStatus
	switch to {
	case domain.MissionCompleted:
		from, target = []domain.ContractStatus{domain.ContractAccepted}, domain.ContractCompleted
	case domain.MissionCancelled:
		from, target = []domain.ContractStatus{domain.ContractDraft, domain.ContractPending, domain.ContractAccepted}, domain.ContractCancelled
	default:
		return nil
	}
	moved, err := e.Repo.TransitionContractForMission(ctx, tx, missionID, from, target, now)
	if err != nil || !moved {
		return err
	}
	c, err := e.Repo.GetContractByMission(ctx, tx, missionID)
	if err != nil {
		return err
	}
	return e.append(ctx, tx, "contract."+strings.ToLower(string(target)), "contract", c.ID, actorID, events.EventPayload{
		"mission_id": missionID, "status": target,
	})
}

func (e Engine) commitMission(ctx context.Context, tx *sql.Tx, missionID string, to domain.MissionStatus) (domain.Mission, error) {
	m, err := e.Repo.GetMission(ctx, tx, missionID)
	if err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	telemetry.MissionTransitions.WithLabelValues(string(to)).Inc()
	return m, nil
}

// ExpireReservations returns lapsed reservations to OPEN and reports how many were
// released. Each release re-checks the cutoff in its own conditional write, so a claim
// that lands first is left alone.
func (e Engine) ExpireReservations(ctx context.Context) (int, error) {
	window := 15 * time.Minute
	if e.Config != nil && e.Config.Missions.ReservationWindow > 0 {
		window = e.Config.Missions.ReservationWindow
	}
	cutoff := e.now().Add(-window).UTC().Format(time.RFC3339)
	tx, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ids, err := e.Repo.ListLapsedReservations(ctx, tx, cutoff, 200)
	if err != nil {
		return 0, err
	}
	now := e.ts()
	released := 0
	for _, id := range ids {
		ok, err := e.Repo.ReleaseReservation(ctx, tx, id, cutoff, now)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if err := e.append(ctx, tx, "mission.reservation_expired", "mission", id, auth.System.ID, events.EventPayload{"status": domain.MissionOpen}); err != nil {
			return 0, err
		}
		released++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if released > 0 {
		telemetry.ReservationsExpired.Add(float64(released))
		e.log().WithField("released", released).Info("reservations expired")
	}
	return released, nil
}
