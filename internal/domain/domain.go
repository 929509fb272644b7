package domain

import "strings"

// Role is the closed set of actor roles recognised at the core boundary.
type Role string

const (
	RoleWorker   Role = "WORKER"
	RoleEmployer Role = "EMPLOYER"
	RoleAdmin    Role = "ADMIN"
)

// ParseRole maps a claim or header value onto a Role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleWorker, RoleEmployer, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

type MissionStatus string

const (
	MissionOpen       MissionStatus = "OPEN"
	MissionReserved   MissionStatus = "RESERVED"
	MissionAssigned   MissionStatus = "ASSIGNED"
	MissionInProgress MissionStatus = "IN_PROGRESS"
	MissionCompleted  MissionStatus = "COMPLETED"
	MissionCancelled  MissionStatus = "CANCELLED"
)

// MissionStatuses lists every mission status in forward order, CANCELLED last.
var MissionStatuses = []MissionStatus{
	MissionOpen, MissionReserved, MissionAssigned, MissionInProgress, MissionCompleted, MissionCancelled,
}

type ContractStatus string

const (
	ContractDraft     ContractStatus = "DRAFT"
	ContractPending   ContractStatus = "PENDING"
	ContractAccepted  ContractStatus = "ACCEPTED"
	ContractCompleted ContractStatus = "COMPLETED"
	ContractCancelled ContractStatus = "CANCELLED"
	ContractRejected  ContractStatus = "REJECTED"
)

var ContractStatuses = []ContractStatus{
	ContractDraft, ContractPending, ContractAccepted, ContractCompleted, ContractCancelled, ContractRejected,
}

type PaymentStatus string

const (
	PaymentCreated        PaymentStatus = "CREATED"
	PaymentRequiresAction PaymentStatus = "REQUIRES_ACTION"
	PaymentAuthorized     PaymentStatus = "AUTHORIZED"
	PaymentCaptured       PaymentStatus = "CAPTURED"
	PaymentSucceeded      PaymentStatus = "SUCCEEDED"
	PaymentRefunded       PaymentStatus = "REFUNDED"
	PaymentDisputed       PaymentStatus = "DISPUTED"
	PaymentFailed         PaymentStatus = "FAILED"
	PaymentCanceled       PaymentStatus = "CANCELED"
)

var PaymentStatuses = []PaymentStatus{
	PaymentCreated, PaymentRequiresAction, PaymentAuthorized, PaymentCaptured, PaymentSucceeded,
	PaymentRefunded, PaymentDisputed, PaymentFailed, PaymentCanceled,
}

// ParsePaymentStatus accepts provider status names in any case.
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	want := PaymentStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range PaymentStatuses {
		if st == want {
			return st, true
		}
	}
	return "", false
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Mission struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Category    string        `json:"category,omitempty"`
	PriceCents  int64         `json:"price_cents"`
	Location    Location      `json:"location"`
	Status      MissionStatus `json:"status" enum:"OPEN,RESERVED,ASSIGNED,IN_PROGRESS,COMPLETED,CANCELLED"`
	CreatedBy   string        `json:"created_by"`
	AssignedTo  *string       `json:"assigned_to,omitempty"`
	ReservedBy  *string       `json:"reserved_by,omitempty"`
	ReservedAt  *string       `json:"reserved_at,omitempty" format:"date-time"`
	PaidAt      *string       `json:"paid_at,omitempty" format:"date-time"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

// IsAssignee reports whether actorID currently holds the mission.
func (m Mission) IsAssignee(actorID string) bool {
	return m.AssignedTo != nil && *m.AssignedTo == actorID
}

type Contract struct {
	ID               string         `json:"id"`
	MissionID        string         `json:"mission_id"`
	Nonce            string         `json:"signature_nonce"`
	SignedByWorker   bool           `json:"signed_by_worker"`
	SignedByEmployer bool           `json:"signed_by_employer"`
	AmountCents      int64          `json:"amount_cents"`
	HourlyRateCents  *int64         `json:"hourly_rate_cents,omitempty"`
	StartAt          *string        `json:"start_at,omitempty" format:"date-time"`
	EndAt            *string        `json:"end_at,omitempty" format:"date-time"`
	Status           ContractStatus `json:"status" enum:"DRAFT,PENDING,ACCEPTED,COMPLETED,CANCELLED,REJECTED"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
	UpdatedAt        string         `json:"updated_at" format:"date-time"`
}

// FullySigned reports whether both parties have signed.
func (c Contract) FullySigned() bool {
	return c.SignedByWorker && c.SignedByEmployer
}

// SignedBy returns the signature flag belonging to role.
func (c Contract) SignedBy(role Role) bool {
	switch role {
	case RoleWorker:
		return c.SignedByWorker
	case RoleEmployer:
		return c.SignedByEmployer
	}
	return false
}

type Payment struct {
	ID             string        `json:"id"`
	MissionID      string        `json:"mission_id"`
	IdempotencyKey string        `json:"idempotency_key"`
	AmountCents    int64         `json:"amount_cents"`
	Currency       string        `json:"currency"`
	Status         PaymentStatus `json:"status" enum:"CREATED,REQUIRES_ACTION,AUTHORIZED,CAPTURED,SUCCEEDED,REFUNDED,DISPUTED,FAILED,CANCELED"`
	ProviderRef    *string       `json:"provider_ref,omitempty"`
	LastError      *string       `json:"last_error,omitempty"`
	Attempts       int           `json:"attempts"`
	CreatedAt      string        `json:"created_at" format:"date-time"`
	UpdatedAt      string        `json:"updated_at" format:"date-time"`
}

type WebhookOutcome string

const (
	WebhookReceived       WebhookOutcome = "received"
	WebhookApplied        WebhookOutcome = "applied"
	WebhookNoop           WebhookOutcome = "noop"
	WebhookOutOfOrder     WebhookOutcome = "out_of_order"
	WebhookUnknownPayment WebhookOutcome = "unknown_payment"
)

type WebhookEvent struct {
	Seq             int64          `json:"seq"`
	ProviderEventID string         `json:"provider_event_id"`
	PaymentID       string         `json:"payment_id"`
	Status          PaymentStatus  `json:"status"`
	Outcome         WebhookOutcome `json:"outcome"`
	ReceivedAt      string         `json:"received_at" format:"date-time"`
	ProcessedAt     *string        `json:"processed_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type LegalConsent struct {
	ActorID    string `json:"actor_id"`
	Version    string `json:"version"`
	AcceptedAt string `json:"accepted_at" format:"date-time"`
}
