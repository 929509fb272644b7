package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/engine/auth"
)

type paymentPath struct {
	ID string `path:"id"`
}

type paymentBody struct {
	Body domain.Payment `json:"body"`
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-payment-intent",
		Method:        http.MethodPost,
		Path:          "/missions/{id}/payments",
		Summary:       "Open escrow for a mission",
		Description:   "Repeating a request with the same idempotency key returns the original payment with cached set.",
		DefaultStatus: http.StatusCreated,
		Errors:        append(stateErrors, http.StatusBadGateway),
	}, func(ctx context.Context, input *struct {
		ID             string               `path:"id"`
		IdempotencyKey string               `header:"Idempotency-Key"`
		Body           CreatePaymentRequest `json:"body" required:"false"`
	}) (*struct {
		Status int
		Body   PaymentResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key := strings.TrimSpace(input.IdempotencyKey)
		if key == "" {
			key = strings.TrimSpace(input.Body.IdempotencyKey)
		}
		if key == "" {
			return nil, newAPIError(http.StatusBadRequest, "BAD_REQUEST", "Idempotency-Key header or idempotency_key is required", nil)
		}
		amount := input.Body.AmountCents
		if amount == 0 {
			m, err := e.GetMission(ctx, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			amount = m.PriceCents
		}
		res, err := e.CreatePaymentIntent(ctx, input.ID, actor, amount, key)
		if err != nil {
			return nil, handleError(err)
		}
		status := http.StatusCreated
		if res.Cached {
			status = http.StatusOK
		}
		return &struct {
			Status int
			Body   PaymentResponse `json:"body"`
		}{Status: status, Body: PaymentResponse{Payment: res.Payment, Cached: res.Cached}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-payment",
		Method:      http.MethodGet,
		Path:        "/payments/{id}",
		Summary:     "Get payment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *paymentPath) (*paymentBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := visiblePayment(ctx, e, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &paymentBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payment-webhooks",
		Method:      http.MethodGet,
		Path:        "/payments/{id}/webhooks",
		Summary:     "Provider deliveries recorded for a payment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *paymentPath) (*struct {
		Body []domain.WebhookEvent `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !actor.IsAdmin() {
			return nil, newAPIError(http.StatusForbidden, string(engine.CodeForbidden), "admin only", nil)
		}
		items, err := e.ListWebhookEvents(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.WebhookEvent{}
		}
		return &struct {
			Body []domain.WebhookEvent `json:"body"`
		}{Body: items}, nil
	})

	for _, action := range []struct {
		name string
		run  func(context.Context, string, auth.Actor) (domain.Payment, error)
	}{
		{"capture", e.CapturePayment},
		{"refund", e.RefundPayment},
	} {
		run := action.run
		huma.Register(api, huma.Operation{
			OperationID: action.name + "-payment",
			Method:      http.MethodPost,
			Path:        "/payments/{id}/" + action.name,
			Summary:     strings.ToUpper(action.name[:1]) + action.name[1:] + " payment",
			Errors:      append(stateErrors, http.StatusBadGateway),
		}, func(ctx context.Context, input *paymentPath) (*paymentBody, error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			p, err := run(ctx, input.ID, actor)
			if err != nil {
				return nil, handleError(err)
			}
			return &paymentBody{Body: p}, nil
		})
	}
}

// visiblePayment returns a payment to the mission's parties and admins.
func visiblePayment(ctx context.Context, e engine.Engine, id string, actor auth.Actor) (domain.Payment, error) {
	p, err := e.GetPayment(ctx, id)
	if err != nil {
		return p, err
	}
	if actor.IsAdmin() {
		return p, nil
	}
	m, err := e.GetMission(ctx, p.MissionID)
	if err != nil {
		return domain.Payment{}, err
	}
	if m.CreatedBy != actor.ID && !m.IsAssignee(actor.ID) {
		return domain.Payment{}, engine.ErrForbidden
	}
	return p, nil
}

func registerProviderWebhooks(api huma.API, e engine.Engine, secret string) {
	huma.Register(api, huma.Operation{
		OperationID: "provider-webhook",
		Method:      http.MethodPost,
		Path:        "/provider/webhooks",
		Summary:     "Payment provider status notification",
		Description: "Duplicate and out-of-order deliveries are acknowledged with 200; the outcome field says what happened.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Secret string                 `header:"X-Webhook-Secret"`
		Body   ProviderWebhookRequest `json:"body"`
	}) (*struct {
		Body WebhookAck `json:"body"`
	}, error) {
		if strings.TrimSpace(secret) == "" || subtle.ConstantTimeCompare([]byte(input.Secret), []byte(secret)) != 1 {
			return nil, newAPIError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid webhook secret", nil)
		}
		res, err := e.HandlePaymentWebhook(ctx, input.Body.EventID, input.Body.PaymentID, input.Body.Status)
		if err != nil && !errors.Is(err, engine.ErrOutOfOrder) {
			return nil, handleError(err)
		}
		return &struct {
			Body WebhookAck `json:"body"`
		}{Body: WebhookAck{Outcome: res.Outcome, Duplicate: res.Duplicate, Replayed: res.Replayed, Payment: res.Payment}}, nil
	})
}
