package server

import "gigline/internal/domain"

// Request payloads

type CreateMissionRequest struct {
	Title       string          `json:"title" minLength:"1"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	PriceCents  int64           `json:"price_cents" minimum:"1"`
	Location    domain.Location `json:"location,omitempty"`
}

type NonceRequest struct {
	Nonce string `json:"signature_nonce" minLength:"1"`
}

type CreatePaymentRequest struct {
	AmountCents    int64  `json:"amount_cents,omitempty" doc:"Defaults to the mission price"`
	IdempotencyKey string `json:"idempotency_key,omitempty" doc:"Used when the Idempotency-Key header is absent"`
}

type ProviderWebhookRequest struct {
	EventID   string `json:"event_id" minLength:"1"`
	PaymentID string `json:"payment_id" minLength:"1"`
	Status    string `json:"status" minLength:"1"`
}

type ConsentRequest struct {
	Version string `json:"version,omitempty"`
}

type DevLoginRequest struct {
	ActorID    string `json:"actor_id"`
	Role       string `json:"role" enum:"WORKER,EMPLOYER,ADMIN"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// Responses

type paginatedMissions struct {
	Items      []domain.Mission `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload"`
}

type PaymentResponse struct {
	domain.Payment
	Cached bool `json:"cached"`
}

type WebhookAck struct {
	Outcome   domain.WebhookOutcome `json:"outcome"`
	Duplicate bool                  `json:"duplicate"`
	Replayed  int                   `json:"replayed"`
	Payment   *domain.Payment       `json:"payment,omitempty"`
}

type WhoAmIResponse struct {
	ActorID         string      `json:"actor_id"`
	Role            domain.Role `json:"role"`
	Source          string      `json:"source"`
	ConsentVersion  string      `json:"consent_version,omitempty"`
	ConsentAccepted bool        `json:"consent_accepted"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}
