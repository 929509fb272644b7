package state_test

import (
	"gigline/internal/domain"
	"gigline/internal/state"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Table", func() {
	var table *state.Table[string]

	BeforeEach(func() {
		//         PENDING      DOING        DONE
		// PENDING   -            V (begin)    V (close)
		// DOING     X            -            V (finish)
		// DONE      X            X            -
		table = state.NewTable(
			[]string{"PENDING", "DOING", "DONE"},
			[]state.Transition[string]{
				{Name: "begin", From: "PENDING", To: "DOING"},
				{Name: "close", From: "PENDING", To: "DONE"},
				{Name: "finish", From: "DOING", To: "DONE"},
			})
	})

	It("answers lookups from the transition list", func() {
		Expect(table.Allowed("PENDING", "DOING")).To(BeTrue())
		Expect(table.Allowed("DOING", "PENDING")).To(BeFalse())
		Expect(table.Name("DOING", "DONE")).To(Equal("finish"))
		Expect(table.Name("DONE", "DOING")).To(Equal(""))
		Expect(table.Terminal("DONE")).To(BeTrue())
		Expect(table.Terminal("PENDING")).To(BeFalse())
		Expect(table.Known("UNKNOWN")).To(BeFalse())
	})

	It("returns available transitions in table order", func() {
		Ω(table.AvailableTransitions("PENDING")).Should(Equal([]state.Transition[string]{
			{Name: "begin", From: "PENDING", To: "DOING"},
			{Name: "close", From: "PENDING", To: "DONE"},
		}))
		Ω(table.AvailableTransitions("UNKNOWN")).Should(BeEmpty())
	})
})

var _ = Describe("Missions", func() {
	It("never moves backwards along the forward path", func() {
		for _, from := range domain.MissionStatuses {
			for _, to := range domain.MissionStatuses {
				if state.MissionPrecedes(to, from) {
					Expect(state.Missions.Allowed(from, to)).To(BeFalse(), "%s -> %s", from, to)
				}
			}
		}
	})

	It("reaches IN_PROGRESS only from ASSIGNED", func() {
		for _, from := range domain.MissionStatuses {
			Expect(state.Missions.Allowed(from, domain.MissionInProgress)).To(Equal(from == domain.MissionAssigned))
		}
	})

	It("allows cancellation from every state but COMPLETED and CANCELLED", func() {
		for _, from := range domain.MissionStatuses {
			expected := from != domain.MissionCompleted && from != domain.MissionCancelled
			Expect(state.Missions.Allowed(from, domain.MissionCancelled)).To(Equal(expected), "%s", from)
		}
	})

	It("treats COMPLETED and CANCELLED as terminal", func() {
		Expect(state.Missions.Terminal(domain.MissionCompleted)).To(BeTrue())
		Expect(state.Missions.Terminal(domain.MissionCancelled)).To(BeTrue())
		Expect(state.Missions.Terminal(domain.MissionOpen)).To(BeFalse())
	})

	It("does not let actors revert a reservation", func() {
		Expect(state.Missions.Allowed(domain.MissionReserved, domain.MissionOpen)).To(BeFalse())
	})
})

var _ = Describe("Contracts", func() {
	It("only accepts after a pending signature", func() {
		for _, from := range domain.ContractStatuses {
			Expect(state.Contracts.Allowed(from, domain.ContractAccepted)).To(Equal(from == domain.ContractPending))
		}
	})

	It("freezes completed, cancelled and rejected contracts", func() {
		for _, s := range []domain.ContractStatus{domain.ContractCompleted, domain.ContractCancelled, domain.ContractRejected} {
			Expect(state.Contracts.Terminal(s)).To(BeTrue(), "%s", s)
		}
	})
})

var _ = Describe("Payments", func() {
	It("allows refunds and disputes only after capture", func() {
		sources := map[domain.PaymentStatus]bool{domain.PaymentCaptured: true, domain.PaymentSucceeded: true}
		for _, from := range domain.PaymentStatuses {
			Expect(state.Payments.Allowed(from, domain.PaymentRefunded)).To(Equal(sources[from]), "refund from %s", from)
			Expect(state.Payments.Allowed(from, domain.PaymentDisputed)).To(Equal(sources[from]), "dispute from %s", from)
		}
	})

	It("captures only from AUTHORIZED", func() {
		for _, from := range domain.PaymentStatuses {
			Expect(state.Payments.Allowed(from, domain.PaymentCaptured)).To(Equal(from == domain.PaymentAuthorized))
		}
	})

	It("has no self transitions", func() {
		for _, s := range domain.PaymentStatuses {
			Expect(state.Payments.Allowed(s, s)).To(BeFalse())
		}
	})

	It("treats failed, canceled, refunded and disputed as terminal", func() {
		for _, s := range []domain.PaymentStatus{domain.PaymentFailed, domain.PaymentCanceled, domain.PaymentRefunded, domain.PaymentDisputed} {
			Expect(state.Payments.Terminal(s)).To(BeTrue(), "%s", s)
		}
		Expect(state.Payments.Terminal(domain.PaymentSucceeded)).To(BeFalse())
	})
})
