package state

import "gigline/internal/domain"

// Missions covers actor-driven mission moves. Reservation lapse (RESERVED -> OPEN) is
// performed only by the expiry sweeper and is deliberately absent here.
var Missions = NewTable(domain.MissionStatuses, []Transition[domain.MissionStatus]{
	{Name: "reserve", From: domain.MissionOpen, To: domain.MissionReserved},
	{Name: "claim", From: domain.MissionOpen, To: domain.MissionAssigned},
	{Name: "claim", From: domain.MissionReserved, To: domain.MissionAssigned},
	{Name: "start", From: domain.MissionAssigned, To: domain.MissionInProgress},
	{Name: "complete", From: domain.MissionInProgress, To: domain.MissionCompleted},
	{Name: "cancel", From: domain.MissionOpen, To: domain.MissionCancelled},
	{Name: "cancel", From: domain.MissionReserved, To: domain.MissionCancelled},
	{Name: "cancel", From: domain.MissionAssigned, To: domain.MissionCancelled},
	{Name: "cancel", From: domain.MissionInProgress, To: domain.MissionCancelled},
})

var Contracts = NewTable(domain.ContractStatuses, []Transition[domain.ContractStatus]{
	{Name: "sign", From: domain.ContractDraft, To: domain.ContractPending},
	{Name: "countersign", From: domain.ContractPending, To: domain.ContractAccepted},
	{Name: "complete", From: domain.ContractAccepted, To: domain.ContractCompleted},
	{Name: "reject", From: domain.ContractDraft, To: domain.ContractRejected},
	{Name: "reject", From: domain.ContractPending, To: domain.ContractRejected},
	{Name: "cancel", From: domain.ContractDraft, To: domain.ContractCancelled},
	{Name: "cancel", From: domain.ContractPending, To: domain.ContractCancelled},
	{Name: "cancel", From: domain.ContractAccepted, To: domain.ContractCancelled},
})

var Payments = NewTable(domain.PaymentStatuses, []Transition[domain.PaymentStatus]{
	{Name: "require_action", From: domain.PaymentCreated, To: domain.PaymentRequiresAction},
	{Name: "authorize", From: domain.PaymentCreated, To: domain.PaymentAuthorized},
	{Name: "authorize", From: domain.PaymentRequiresAction, To: domain.PaymentAuthorized},
	{Name: "capture", From: domain.PaymentAuthorized, To: domain.PaymentCaptured},
	{Name: "succeed", From: domain.PaymentCaptured, To: domain.PaymentSucceeded},
	{Name: "refund", From: domain.PaymentCaptured, To: domain.PaymentRefunded},
	{Name: "refund", From: domain.PaymentSucceeded, To: domain.PaymentRefunded},
	{Name: "dispute", From: domain.PaymentCaptured, To: domain.PaymentDisputed},
	{Name: "dispute", From: domain.PaymentSucceeded, To: domain.PaymentDisputed},
	{Name: "fail", From: domain.PaymentCreated, To: domain.PaymentFailed},
	{Name: "fail", From: domain.PaymentRequiresAction, To: domain.PaymentFailed},
	{Name: "fail", From: domain.PaymentAuthorized, To: domain.PaymentFailed},
	{Name: "cancel", From: domain.PaymentCreated, To: domain.PaymentCanceled},
	{Name: "cancel", From: domain.PaymentRequiresAction, To: domain.PaymentCanceled},
	{Name: "cancel", From: domain.PaymentAuthorized, To: domain.PaymentCanceled},
})

// missionRank orders the forward mission path; CANCELLED has no rank.
var missionRank = map[domain.MissionStatus]int{
	domain.MissionOpen:       0,
	domain.MissionReserved:   1,
	domain.MissionAssigned:   2,
	domain.MissionInProgress: 3,
	domain.MissionCompleted:  4,
}

// MissionPrecedes reports whether a comes strictly before b on the forward path.
func MissionPrecedes(a, b domain.MissionStatus) bool {
	ra, okA := missionRank[a]
	rb, okB := missionRank[b]
	return okA && okB && ra < rb
}
