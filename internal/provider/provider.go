// Package provider is the client side of the external payment processor. Every call carries
// an idempotency key; the processor applies a given key's effect at most once.
package provider

import (
	"context"
	"errors"
	"fmt"

	"gigline/internal/domain"
)

type AuthorizeRequest struct {
	PaymentID      string `json:"payment_id"`
	MissionID      string `json:"mission_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"-"`
}

// AuthorizeResult carries the processor's reference and the status it reached, either
// REQUIRES_ACTION or AUTHORIZED.
type AuthorizeResult struct {
	Ref    string               `json:"id"`
	Status domain.PaymentStatus `json:"status"`
}

type Client interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error)
	Capture(ctx context.Context, ref string, amountCents int64, idempotencyKey string) error
	Refund(ctx context.Context, ref string, amountCents int64, idempotencyKey string) error
}

// DeclineError is a definitive refusal. Anything else returned by a Client is treated as
// a transport failure and may be retried with the same key.
type DeclineError struct {
	Reason string
}

func (e DeclineError) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}

func IsDecline(err error) bool {
	var d DeclineError
	return errors.As(err, &d)
}

func CaptureKey(paymentID string) string { return "capture:" + paymentID }

func RefundKey(paymentID string) string { return "refund:" + paymentID }
