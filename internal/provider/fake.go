package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"gigline/internal/domain"
)

// Fake is an in-memory processor. Repeated keys replay the first result, and Effects counts
// only first-time applications.
type Fake struct {
	// DeclineOver declines authorizations above this amount when positive.
	DeclineOver int64
	// RequireAction makes authorizations stop at REQUIRES_ACTION.
	RequireAction bool
	// FailNext makes the next n calls fail as transport errors without applying anything.
	FailNext int

	mu         sync.Mutex
	authorized map[string]AuthorizeResult
	declined   map[string]string
	captured   map[string]bool
	refunded   map[string]bool
	calls      int
}

type Effects struct {
	Calls          int
	Authorizations int
	Captures       int
	Refunds        int
}

func NewFake() *Fake {
	return &Fake{
		authorized: map[string]AuthorizeResult{},
		declined:   map[string]string{},
		captured:   map[string]bool{},
		refunded:   map[string]bool{},
	}
}

func (f *Fake) transportFailure() error {
	if f.FailNext > 0 {
		f.FailNext--
		return fmt.Errorf("fake provider: connection reset")
	}
	return nil
}

func (f *Fake) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.transportFailure(); err != nil {
		return AuthorizeResult{}, err
	}
	if res, ok := f.authorized[req.IdempotencyKey]; ok {
		return res, nil
	}
	if reason, ok := f.declined[req.IdempotencyKey]; ok {
		return AuthorizeResult{}, DeclineError{Reason: reason}
	}
	if f.DeclineOver > 0 && req.AmountCents > f.DeclineOver {
		f.declined[req.IdempotencyKey] = "amount over limit"
		return AuthorizeResult{}, DeclineError{Reason: "amount over limit"}
	}
	res := AuthorizeResult{Ref: "pi_" + uuid.NewString(), Status: domain.PaymentAuthorized}
	if f.RequireAction {
		res.Status = domain.PaymentRequiresAction
	}
	f.authorized[req.IdempotencyKey] = res
	return res, nil
}

func (f *Fake) Capture(ctx context.Context, ref string, amountCents int64, idempotencyKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.transportFailure(); err != nil {
		return err
	}
	f.captured[idempotencyKey] = true
	return nil
}

func (f *Fake) Refund(ctx context.Context, ref string, amountCents int64, idempotencyKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.transportFailure(); err != nil {
		return err
	}
	f.refunded[idempotencyKey] = true
	return nil
}

// Effects reports how many distinct side effects were applied.
func (f *Fake) Effects() Effects {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Effects{
		Calls:          f.calls,
		Authorizations: len(f.authorized),
		Captures:       len(f.captured),
		Refunds:        len(f.refunded),
	}
}
