package engine

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gigline/internal/domain"
	"gigline/internal/engine/auth"
	"gigline/internal/events"
	"gigline/internal/repo"
	"gigline/internal/state"
	"gigline/internal/telemetry"
)

// contractable lists mission statuses for which a contract may be created.
var contractable = map[domain.MissionStatus]bool{
	domain.MissionAssigned:   true,
	domain.MissionInProgress: true,
	domain.MissionCompleted:  true,
}

// GetOrCreateContract returns the mission's contract, creating it with a fresh nonce on
// first access. Reads never rotate the nonce.
func (e Engine) GetOrCreateContract(ctx context.Context, missionID string) (domain.Contract, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMission(ctx, tx, missionID)
	if err != nil {
		return domain.Contract{}, notFound(err, "mission %s not found", missionID)
	}
	c, err := e.Repo.GetContractByMission(ctx, tx, missionID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return c, err
	}
	if !contractable[m.Status] {
		return domain.Contract{}, fail(ErrInvalidState, "mission %s is %s; contracts start once it is assigned", missionID, m.Status)
	}
	nonce, err := newNonce()
	if err != nil {
		return domain.Contract{}, err
	}
	now := e.ts()
	inserted, err := e.Repo.InsertContractIfAbsent(ctx, tx, domain.Contract{
		ID:          uuid.NewString(),
		MissionID:   missionID,
		Nonce:       nonce,
		AmountCents: m.PriceCents,
		Status:      domain.ContractDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Contract{}, err
	}
	c, err = e.Repo.GetContractByMission(ctx, tx, missionID)
	if err != nil {
		return c, err
	}
	if inserted {
		if err := e.append(ctx, tx, "contract.created", "contract", c.ID, auth.System.ID, events.EventPayload{
			"mission_id": missionID, "amount_cents": c.AmountCents,
		}); err != nil {
			return domain.Contract{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

// ViewContract is GetOrCreateContract restricted to the two parties and admins.
func (e Engine) ViewContract(ctx context.Context, missionID string, caller auth.Actor) (domain.Contract, error) {
	m, err := e.GetMission(ctx, missionID)
	if err != nil {
		return domain.Contract{}, err
	}
	if !caller.IsAdmin() && m.CreatedBy != caller.ID && !m.IsAssignee(caller.ID) {
		return domain.Contract{}, fail(ErrForbidden, "actor %s is not a party to mission %s", caller.ID, missionID)
	}
	return e.GetOrCreateContract(ctx, missionID)
}

// isParty reports whether caller holds role on m.
func isParty(m domain.Mission, caller auth.Actor) bool {
	switch caller.Role {
	case domain.RoleWorker:
		return m.IsAssignee(caller.ID)
	case domain.RoleEmployer:
		return m.CreatedBy == caller.ID
	}
	return false
}

// loadForSignature runs the shared gates for sign and reject: party, then nonce.
func (e Engine) loadForSignature(ctx context.Context, tx *sql.Tx, missionID string, caller auth.Actor, nonce string) (domain.Contract, error) {
	m, err := e.Repo.GetMission(ctx, tx, missionID)
	if err != nil {
		return domain.Contract{}, notFound(err, "mission %s not found", missionID)
	}
	if !isParty(m, caller) {
		return domain.Contract{}, fail(ErrForbidden, "actor %s cannot act as %s on mission %s", caller.ID, caller.Role, missionID)
	}
	c, err := e.Repo.GetContractByMission(ctx, tx, missionID)
	if err != nil {
		return c, notFound(err, "no contract for mission %s", missionID)
	}
	if c.Nonce != nonce {
		return domain.Contract{}, fail(ErrInvalidNonce, "nonce is stale or invalid")
	}
	return c, nil
}

// SignContract records caller's signature. The presented nonce is consumed and replaced;
// replays with it fail with INVALID_NONCE, and a retry with the current nonce after a
// successful sign fails with ALREADY_SIGNED.
func (e Engine) SignContract(ctx context.Context, missionID string, caller auth.Actor, nonce string) (domain.Contract, error) {
	if !caller.Is(domain.RoleWorker, domain.RoleEmployer) {
		return domain.Contract{}, fail(ErrForbidden, "only the worker or employer can sign")
	}
	if err := e.requireConsent(ctx, caller); err != nil {
		return domain.Contract{}, err
	}
	next, err := newNonce()
	if err != nil {
		return domain.Contract{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	c, err := e.loadForSignature(ctx, tx, missionID, caller, nonce)
	if err != nil {
		return c, err
	}
	if c.SignedBy(caller.Role) || c.FullySigned() {
		return domain.Contract{}, fail(ErrAlreadySigned, "%s already signed", caller.Role)
	}
	to := domain.ContractPending
	if c.SignedByWorker || c.SignedByEmployer {
		to = domain.ContractAccepted
	}
	if !state.Contracts.Allowed(c.Status, to) {
		return domain.Contract{}, fail(ErrInvalidState, "contract is %s", c.Status)
	}
	ok, err := e.Repo.SignContract(ctx, tx, c.ID, caller.Role, nonce, next, c.Status, to, e.ts())
	if err != nil {
		return domain.Contract{}, err
	}
	if !ok {
		return domain.Contract{}, e.classifySignature(ctx, tx, missionID, caller.Role, nonce)
	}
	if err := e.append(ctx, tx, "contract.signed", "contract", c.ID, caller.ID, events.EventPayload{
		"mission_id": missionID, "role": caller.Role, "status": to,
	}); err != nil {
		return domain.Contract{}, err
	}
	c, err = e.Repo.GetContractByMission(ctx, tx, missionID)
	if err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	telemetry.ContractSignatures.WithLabelValues(string(caller.Role)).Inc()
	e.log().WithFields(logrus.Fields{"mission_id": missionID, "role": caller.Role, "status": c.Status}).Info("contract signed")
	return c, nil
}

// classifySignature re-reads after a lost conditional write.
func (e Engine) classifySignature(ctx context.Context, tx *sql.Tx, missionID string, role domain.Role, nonce string) error {
	c, err := e.Repo.GetContractByMission(ctx, tx, missionID)
	if err != nil {
		return err
	}
	switch {
	case c.Nonce != nonce:
		return fail(ErrInvalidNonce, "nonce is stale or invalid")
	case c.SignedBy(role):
		return fail(ErrAlreadySigned, "%s already signed", role)
	}
	return fail(ErrConflict, "contract changed concurrently")
}

// RejectContract lets either party decline the terms before both have signed.
func (e Engine) RejectContract(ctx context.Context, missionID string, caller auth.Actor, nonce string) (domain.Contract, error) {
	if !caller.Is(domain.RoleWorker, domain.RoleEmployer) {
		return domain.Contract{}, fail(ErrForbidden, "only the worker or employer can reject")
	}
	if err := e.requireConsent(ctx, caller); err != nil {
		return domain.Contract{}, err
	}
	next, err := newNonce()
	if err != nil {
		return domain.Contract{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	c, err := e.loadForSignature(ctx, tx, missionID, caller, nonce)
	if err != nil {
		return c, err
	}
	if !state.Contracts.Allowed(c.Status, domain.ContractRejected) {
		return domain.Contract{}, fail(ErrInvalidState, "contract is %s", c.Status)
	}
	ok, err := e.Repo.RejectContract(ctx, tx, c.ID, nonce, next, c.Status, e.ts())
	if err != nil {
		return domain.Contract{}, err
	}
	if !ok {
		return domain.Contract{}, e.classifySignature(ctx, tx, missionID, caller.Role, nonce)
	}
	if err := e.append(ctx, tx, "contract.rejected", "contract", c.ID, caller.ID, events.EventPayload{
		"mission_id": missionID, "role": caller.Role,
	}); err != nil {
		return domain.Contract{}, err
	}
	c, err = e.Repo.GetContractByMission(ctx, tx, missionID)
	if err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}
