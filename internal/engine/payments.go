package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gigline/internal/domain"
	"gigline/internal/engine/auth"
	"gigline/internal/events"
	"gigline/internal/provider"
	"gigline/internal/repo"
	"gigline/internal/state"
	"gigline/internal/telemetry"
)

// PaymentResult is a payment plus whether it was served from an existing idempotency key.
type PaymentResult struct {
	Payment domain.Payment `json:"payment"`
	Cached  bool           `json:"cached"`
}

func (e Engine) currency() string {
	if e.Config != nil && e.Config.Payments.Currency != "" {
		return e.Config.Payments.Currency
	}
	return "EUR"
}

func (e Engine) retryAfter() time.Duration {
	if e.Config != nil && e.Config.Payments.RetryAfter > 0 {
		return e.Config.Payments.RetryAfter
	}
	return 30 * time.Second
}

func (e Engine) requireSignedContract() bool {
	return e.Config == nil || e.Config.Payments.RequireSignedContract
}

// retryable reports whether a CREATED payment should be driven to the provider again: the
// last attempt failed in transport, or its owner has been silent past payments.retry_after.
func (e Engine) retryable(p domain.Payment) bool {
	if p.Status != domain.PaymentCreated {
		return false
	}
	if p.LastError != nil {
		return true
	}
	updated, err := time.Parse(time.RFC3339, p.UpdatedAt)
	if err != nil {
		return false
	}
	return e.now().Sub(updated) >= e.retryAfter()
}

func (e Engine) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	p, err := e.Repo.GetPayment(ctx, nil, id)
	if err != nil {
		return p, notFound(err, "payment %s not found", id)
	}
	return p, nil
}

// CreatePaymentIntent starts escrow for a mission. The first call for a key writes a
// CREATED row before contacting the provider with that same key, so neither a crash nor a
// concurrent duplicate can produce a second charge. Later calls with the key return the
// stored payment with Cached set and never reach the provider, except to re-drive a
// CREATED payment whose previous attempt failed or stalled.
func (e Engine) CreatePaymentIntent(ctx context.Context, missionID string, caller auth.Actor, amountCents int64, key string) (PaymentResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return PaymentResult{}, fail(ErrBadRequest, "idempotency key is required")
	}
	if amountCents <= 0 {
		return PaymentResult{}, fail(ErrBadRequest, "amount_cents must be positive")
	}
	m, err := e.GetMission(ctx, missionID)
	if err != nil {
		return PaymentResult{}, err
	}
	if m.CreatedBy != caller.ID && !caller.IsAdmin() {
		return PaymentResult{}, fail(ErrForbidden, "only the mission creator funds escrow")
	}
	if err := e.requireConsent(ctx, caller); err != nil {
		return PaymentResult{}, err
	}

	existing, err := e.Repo.GetPaymentByKey(ctx, nil, key)
	switch {
	case err == nil:
		return e.replay(ctx, existing, missionID, amountCents)
	case !errors.Is(err, repo.ErrNotFound):
		return PaymentResult{}, err
	}

	if m.Status != domain.MissionInProgress && m.Status != domain.MissionCompleted {
		return PaymentResult{}, fail(ErrInvalidState, "mission %s is %s; escrow opens once work has started", missionID, m.Status)
	}
	if m.PaidAt != nil {
		return PaymentResult{}, fail(ErrAlreadyPaid, "mission %s was paid at %s", missionID, *m.PaidAt)
	}
	if e.requireSignedContract() {
		c, err := e.Repo.GetContractByMission(ctx, nil, missionID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return PaymentResult{}, err
		}
		if err != nil || !c.FullySigned() {
			return PaymentResult{}, fail(ErrInvalidState, "contract for mission %s is not fully signed", missionID)
		}
	}

	now := e.ts()
	p := domain.Payment{
		ID:             uuid.NewString(),
		MissionID:      missionID,
		IdempotencyKey: key,
		AmountCents:    amountCents,
		Currency:       e.currency(),
		Status:         domain.PaymentCreated,
		Attempts:       1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return PaymentResult{}, err
	}
	defer tx.Rollback()
	inserted, err := e.Repo.InsertPaymentIfAbsent(ctx, tx, p)
	if err != nil {
		return PaymentResult{}, err
	}
	if !inserted {
		_ = tx.Rollback()
		existing, err := e.Repo.GetPaymentByKey(ctx, nil, key)
		if err == nil {
			return e.replay(ctx, existing, missionID, amountCents)
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return PaymentResult{}, err
		}
		return PaymentResult{}, fail(ErrAlreadyPaid, "mission %s already has an active payment", missionID)
	}
	if err := e.append(ctx, tx, "payment.created", "payment", p.ID, caller.ID, events.EventPayload{
		"mission_id": missionID, "amount_cents": amountCents, "currency": p.Currency,
	}); err != nil {
		return PaymentResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return PaymentResult{}, err
	}
	telemetry.PaymentTransitions.WithLabelValues(string(domain.PaymentCreated)).Inc()
	p, err = e.authorize(ctx, p, caller.ID)
	if err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{Payment: p}, nil
}

// replay serves an existing payment for a repeated key, taking over the provider call when
// the row is stuck in CREATED.
func (e Engine) replay(ctx context.Context, p domain.Payment, missionID string, amountCents int64) (PaymentResult, error) {
	if p.MissionID != missionID || p.AmountCents != amountCents {
		return PaymentResult{}, fail(ErrConflict, "idempotency key %s was used with different parameters", p.IdempotencyKey)
	}
	if e.retryable(p) {
		won, err := e.Repo.ClaimPaymentRetry(ctx, nil, p.ID, p.Attempts, e.ts())
		if err != nil {
			return PaymentResult{}, err
		}
		if won {
			e.log().WithFields(logrus.Fields{"payment_id": p.ID, "attempt": p.Attempts + 1}).Warn("retrying payment authorization")
			p.Attempts++
			p.LastError = nil
			p, err = e.authorize(ctx, p, auth.System.ID)
			if err != nil {
				return PaymentResult{}, err
			}
			return PaymentResult{Payment: p, Cached: true}, nil
		}
		if p, err = e.Repo.GetPayment(ctx, nil, p.ID); err != nil {
			return PaymentResult{}, err
		}
	}
	telemetry.IdempotentReplays.Inc()
	return PaymentResult{Payment: p, Cached: true}, nil
}

// authorize calls the provider for a CREATED payment and records the outcome.
func (e Engine) authorize(ctx context.Context, p domain.Payment, actorID string) (domain.Payment, error) {
	res, perr := e.Provider.Authorize(ctx, provider.AuthorizeRequest{
		PaymentID:      p.ID,
		MissionID:      p.MissionID,
		AmountCents:    p.AmountCents,
		Currency:       p.Currency,
		IdempotencyKey: p.IdempotencyKey,
	})
	logger := e.log().WithFields(logrus.Fields{"payment_id": p.ID, "mission_id": p.MissionID})
	if perr != nil && !provider.IsDecline(perr) {
		telemetry.ProviderErrors.WithLabelValues("authorize").Inc()
		logger.WithError(perr).Warn("payment provider unreachable")
		if _, err := e.Repo.RecordPaymentError(ctx, nil, p.ID, perr.Error(), e.ts()); err != nil {
			return p, err
		}
		return p, failWrap(ErrProvider, perr, "authorization failed; retry with the same idempotency key")
	}

	to := res.Status
	if perr != nil {
		to = domain.PaymentFailed
	}
	if !state.Payments.Allowed(domain.PaymentCreated, to) {
		return p, fail(ErrProvider, "provider returned status %s", to)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	var ref *string
	if res.Ref != "" {
		ref = &res.Ref
	}
	moved, err := e.Repo.TransitionPayment(ctx, tx, p.ID, domain.PaymentCreated, to, ref, e.ts())
	if err != nil {
		return p, err
	}
	if moved {
		payload := events.EventPayload{"mission_id": p.MissionID, "status": to}
		if perr != nil {
			payload["reason"] = perr.Error()
		}
		if err := e.append(ctx, tx, "payment."+strings.ToLower(string(to)), "payment", p.ID, actorID, payload); err != nil {
			return p, err
		}
		if _, err := e.replayDeferred(ctx, tx, p.ID); err != nil {
			return p, err
		}
	}
	current, err := e.Repo.GetPayment(ctx, tx, p.ID)
	if err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	if moved {
		telemetry.PaymentTransitions.WithLabelValues(string(to)).Inc()
	}
	if perr != nil {
		telemetry.ProviderErrors.WithLabelValues("decline").Inc()
		logger.WithError(perr).Info("payment declined")
		return current, failWrap(ErrProvider, perr, "payment declined")
	}
	return current, nil
}

// CapturePayment collects authorized funds once the mission is complete. Capturing an
// already captured payment is a successful no-op; the provider call carries a key derived
// from the payment id so concurrent captures charge once.
func (e Engine) CapturePayment(ctx context.Context, paymentID string, caller auth.Actor) (domain.Payment, error) {
	p, err := e.GetPayment(ctx, paymentID)
	if err != nil {
		return p, err
	}
	m, err := e.GetMission(ctx, p.MissionID)
	if err != nil {
		return p, err
	}
	if m.CreatedBy != caller.ID && !caller.IsAdmin() {
		return domain.Payment{}, fail(ErrForbidden, "only the mission creator releases escrow")
	}
	if err := e.requireConsent(ctx, caller); err != nil {
		return domain.Payment{}, err
	}
	if captured(p.Status) {
		return p, nil
	}
	if p.Status != domain.PaymentAuthorized {
		return domain.Payment{}, fail(ErrInvalidState, "payment %s is %s", paymentID, p.Status)
	}
	if m.Status != domain.MissionCompleted {
		return domain.Payment{}, fail(ErrInvalidState, "mission %s is %s; capture follows completion", m.ID, m.Status)
	}
	if err := e.Provider.Capture(ctx, ref(p), p.AmountCents, provider.CaptureKey(p.ID)); err != nil {
		telemetry.ProviderErrors.WithLabelValues("capture").Inc()
		return domain.Payment{}, failWrap(ErrProvider, err, "capture failed")
	}
	return e.settle(ctx, p.ID, domain.PaymentAuthorized, domain.PaymentCaptured, caller.ID, captured)
}

// RefundPayment returns captured funds. Restricted to admins.
func (e Engine) RefundPayment(ctx context.Context, paymentID string, caller auth.Actor) (domain.Payment, error) {
	if !caller.IsAdmin() {
		return domain.Payment{}, fail(ErrForbidden, "only admins can refund")
	}
	p, err := e.GetPayment(ctx, paymentID)
	if err != nil {
		return p, err
	}
	if p.Status == domain.PaymentRefunded {
		return p, nil
	}
	if !state.Payments.Allowed(p.Status, domain.PaymentRefunded) {
		return domain.Payment{}, fail(ErrInvalidState, "payment %s is %s", paymentID, p.Status)
	}
	if err := e.Provider.Refund(ctx, ref(p), p.AmountCents, provider.RefundKey(p.ID)); err != nil {
		telemetry.ProviderErrors.WithLabelValues("refund").Inc()
		return domain.Payment{}, failWrap(ErrProvider, err, "refund failed")
	}
	return e.settle(ctx, p.ID, p.Status, domain.PaymentRefunded, caller.ID, func(s domain.PaymentStatus) bool {
		return s == domain.PaymentRefunded
	})
}

// ConfirmSuccess marks a captured payment as settled and the mission as paid.
func (e Engine) ConfirmSuccess(ctx context.Context, paymentID string) (domain.Payment, error) {
	return e.providerTransition(ctx, paymentID, domain.PaymentSucceeded)
}

// MarkDisputed records a chargeback against a captured or settled payment.
func (e Engine) MarkDisputed(ctx context.Context, paymentID string) (domain.Payment, error) {
	return e.providerTransition(ctx, paymentID, domain.PaymentDisputed)
}

func (e Engine) providerTransition(ctx context.Context, paymentID string, to domain.PaymentStatus) (domain.Payment, error) {
	p, err := e.GetPayment(ctx, paymentID)
	if err != nil {
		return p, err
	}
	if p.Status == to {
		return p, nil
	}
	if !state.Payments.Allowed(p.Status, to) {
		return domain.Payment{}, fail(ErrInvalidState, "payment %s is %s", paymentID, p.Status)
	}
	return e.settle(ctx, p.ID, p.Status, to, auth.System.ID, func(s domain.PaymentStatus) bool { return s == to })
}

// settle writes from -> to and then drains webhooks deferred for the payment. Losing the
// write is a no-op when the winner already reached an acceptable status, otherwise a
// conflict.
func (e Engine) settle(ctx context.Context, paymentID string, from, to domain.PaymentStatus, actorID string, done func(domain.PaymentStatus) bool) (domain.Payment, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()
	moved, err := e.applyPayment(ctx, tx, paymentID, from, to, actorID)
	if err != nil {
		return domain.Payment{}, err
	}
	replayed := 0
	if moved {
		if replayed, err = e.replayDeferred(ctx, tx, paymentID); err != nil {
			return domain.Payment{}, err
		}
	}
	p, err := e.Repo.GetPayment(ctx, tx, paymentID)
	if err != nil {
		return p, err
	}
	if !moved && !done(p.Status) {
		return domain.Payment{}, fail(ErrConflict, "payment %s changed concurrently", paymentID)
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}
	if moved {
		telemetry.PaymentTransitions.WithLabelValues(string(to)).Inc()
	}
	if replayed > 0 {
		e.log().WithFields(logrus.Fields{"payment_id": paymentID, "replayed": replayed, "status": p.Status}).Info("deferred webhooks applied")
	}
	return p, nil
}

// applyPayment is the single conditional payment write plus its side records.
func (e Engine) applyPayment(ctx context.Context, tx *sql.Tx, paymentID string, from, to domain.PaymentStatus, actorID string) (bool, error) {
	now := e.ts()
	moved, err := e.Repo.TransitionPayment(ctx, tx, paymentID, from, to, nil, now)
	if err != nil || !moved {
		return false, err
	}
	p, err := e.Repo.GetPayment(ctx, tx, paymentID)
	if err != nil {
		return false, err
	}
	if err := e.append(ctx, tx, "payment."+strings.ToLower(string(to)), "payment", paymentID, actorID, events.EventPayload{
		"mission_id": p.MissionID, "from": from, "status": to,
	}); err != nil {
		return false, err
	}
	if to == domain.PaymentSucceeded {
		paid, err := e.Repo.MarkMissionPaid(ctx, tx, p.MissionID, now)
		if err != nil {
			return false, err
		}
		if paid {
			if err := e.append(ctx, tx, "mission.paid", "mission", p.MissionID, actorID, events.EventPayload{"payment_id": paymentID}); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

func captured(s domain.PaymentStatus) bool {
	return s == domain.PaymentCaptured || s == domain.PaymentSucceeded
}

func ref(p domain.Payment) string {
	if p.ProviderRef != nil {
		return *p.ProviderRef
	}
	return p.ID
}
