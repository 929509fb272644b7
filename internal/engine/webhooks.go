package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"gigline/internal/domain"
	"gigline/internal/repo"
	"gigline/internal/state"
	"gigline/internal/telemetry"
)

const providerActor = "provider"

// WebhookResult reports what a delivery did. Duplicate is set when the provider event id
// was already recorded; Outcome is then the original outcome.
type WebhookResult struct {
	Outcome   domain.WebhookOutcome `json:"outcome"`
	Duplicate bool                  `json:"duplicate"`
	Replayed  int                   `json:"replayed"`
	Payment   *domain.Payment       `json:"payment,omitempty"`
}

// HandlePaymentWebhook applies a provider status notification at most once per provider
// event id. An illegal transition is stored as deferred and returned as OUT_OF_ORDER.
// Every applied transition, from a webhook or from authorize/capture/refund, re-evaluates
// the payment's deferred events in receipt order.
func (e Engine) HandlePaymentWebhook(ctx context.Context, providerEventID, paymentID, newStatus string) (WebhookResult, error) {
	providerEventID = strings.TrimSpace(providerEventID)
	if providerEventID == "" || strings.TrimSpace(paymentID) == "" {
		return WebhookResult{}, fail(ErrBadRequest, "event id and payment id are required")
	}
	status, ok := domain.ParsePaymentStatus(newStatus)
	if !ok {
		return WebhookResult{}, fail(ErrBadRequest, "unknown payment status %q", newStatus)
	}
	logger := e.log().WithFields(logrus.Fields{"event_id": providerEventID, "payment_id": paymentID, "status": status})

	tx, err := e.begin(ctx)
	if err != nil {
		return WebhookResult{}, err
	}
	defer tx.Rollback()

	now := e.ts()
	seq, inserted, err := e.Repo.InsertWebhookEvent(ctx, tx, domain.WebhookEvent{
		ProviderEventID: providerEventID,
		PaymentID:       paymentID,
		Status:          status,
		Outcome:         domain.WebhookReceived,
		ReceivedAt:      now,
	})
	if err != nil {
		return WebhookResult{}, err
	}
	if !inserted {
		prev, err := e.Repo.GetWebhookEvent(ctx, tx, providerEventID)
		if err != nil {
			return WebhookResult{}, err
		}
		logger.WithField("outcome", prev.Outcome).Info("duplicate webhook acknowledged")
		telemetry.WebhookOutcomes.WithLabelValues("duplicate").Inc()
		return WebhookResult{Outcome: prev.Outcome, Duplicate: true}, nil
	}

	p, err := e.Repo.GetPayment(ctx, tx, paymentID)
	if errors.Is(err, repo.ErrNotFound) {
		if err := e.Repo.SetWebhookOutcome(ctx, tx, seq, domain.WebhookUnknownPayment, now); err != nil {
			return WebhookResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return WebhookResult{}, err
		}
		telemetry.WebhookOutcomes.WithLabelValues(string(domain.WebhookUnknownPayment)).Inc()
		logger.Warn("webhook for unknown payment")
		return WebhookResult{Outcome: domain.WebhookUnknownPayment}, fail(ErrUnknownPayment, "payment %s not found", paymentID)
	}
	if err != nil {
		return WebhookResult{}, err
	}

	outcome, err := e.evaluateWebhook(ctx, tx, p, status)
	if err != nil {
		return WebhookResult{}, err
	}
	if err := e.Repo.SetWebhookOutcome(ctx, tx, seq, outcome, now); err != nil {
		return WebhookResult{}, err
	}
	replayed := 0
	if outcome == domain.WebhookApplied {
		if replayed, err = e.replayDeferred(ctx, tx, paymentID); err != nil {
			return WebhookResult{}, err
		}
	}
	current, err := e.Repo.GetPayment(ctx, tx, paymentID)
	if err != nil {
		return WebhookResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return WebhookResult{}, err
	}
	telemetry.WebhookOutcomes.WithLabelValues(string(outcome)).Inc()
	res := WebhookResult{Outcome: outcome, Replayed: replayed, Payment: &current}
	if outcome == domain.WebhookOutOfOrder {
		logger.WithField("current", p.Status).Warn("webhook out of order; deferred")
		return res, fail(ErrOutOfOrder, "payment %s is %s; %s deferred", paymentID, p.Status, status)
	}
	logger.WithFields(logrus.Fields{"outcome": outcome, "replayed": replayed}).Info("webhook processed")
	return res, nil
}

// evaluateWebhook decides and, when legal, applies one delivery against the stored status.
func (e Engine) evaluateWebhook(ctx context.Context, tx *sql.Tx, p domain.Payment, to domain.PaymentStatus) (domain.WebhookOutcome, error) {
	if p.Status == to {
		return domain.WebhookNoop, nil
	}
	if !state.Payments.Allowed(p.Status, to) {
		return domain.WebhookOutOfOrder, nil
	}
	moved, err := e.applyPayment(ctx, tx, p.ID, p.Status, to, providerActor)
	if err != nil {
		return "", err
	}
	if !moved {
		return domain.WebhookOutOfOrder, nil
	}
	telemetry.PaymentTransitions.WithLabelValues(string(to)).Inc()
	return domain.WebhookApplied, nil
}

// replayDeferred retries deferred deliveries until none of them applies. It restarts from
// the oldest after each success so receipt order is kept.
func (e Engine) replayDeferred(ctx context.Context, tx *sql.Tx, paymentID string) (int, error) {
	replayed := 0
	for {
		deferred, err := e.Repo.ListDeferredWebhooks(ctx, tx, paymentID)
		if err != nil {
			return replayed, err
		}
		progressed := false
		for _, ev := range deferred {
			p, err := e.Repo.GetPayment(ctx, tx, paymentID)
			if err != nil {
				return replayed, err
			}
			outcome, err := e.evaluateWebhook(ctx, tx, p, ev.Status)
			if err != nil {
				return replayed, err
			}
			if outcome == domain.WebhookOutOfOrder {
				continue
			}
			if err := e.Repo.SetWebhookOutcome(ctx, tx, ev.Seq, outcome, e.ts()); err != nil {
				return replayed, err
			}
			if outcome == domain.WebhookApplied {
				replayed++
				progressed = true
				break
			}
		}
		if !progressed {
			return replayed, nil
		}
	}
}

// ListWebhookEvents returns recorded deliveries for a payment.
func (e Engine) ListWebhookEvents(ctx context.Context, paymentID string) ([]domain.WebhookEvent, error) {
	return e.Repo.ListWebhookEvents(ctx, paymentID)
}
