package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/migrate"
	"gigline/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn, dialect))
	return repo.Repo{DB: conn, Dialect: dialect}
}

func seedMission(t *testing.T, r repo.Repo, id string) domain.Mission {
	t.Helper()
	m := domain.Mission{
		ID: id, Title: "Move boxes", PriceCents: 10000, Status: domain.MissionOpen,
		CreatedBy: "emp-1", CreatedAt: ts, UpdatedAt: ts,
	}
	require.NoError(t, r.InsertMission(context.Background(), nil, m))
	return m
}

func TestClaimMissionIsConditional(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedMission(t, r, "m1")

	ok, err := r.ClaimMission(ctx, nil, "m1", "w1", ts)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.ClaimMission(ctx, nil, "m1", "w2", ts)
	require.NoError(t, err)
	assert.False(t, ok)

	m, err := r.GetMission(ctx, nil, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MissionAssigned, m.Status)
	require.NotNil(t, m.AssignedTo)
	assert.Equal(t, "w1", *m.AssignedTo)

	_, err = r.GetMission(ctx, nil, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestReservationOnlyClaimableByHolder(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedMission(t, r, "m1")

	ok, err := r.ReserveMission(ctx, nil, "m1", "w1", ts)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.ClaimMission(ctx, nil, "m1", "w2", ts)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.ClaimMission(ctx, nil, "m1", "w1", ts)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseReservationRechecksCutoff(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedMission(t, r, "m1")
	_, err := r.ReserveMission(ctx, nil, "m1", "w1", "2024-01-01T00:00:00Z")
	require.NoError(t, err)

	ids, err := r.ListLapsedReservations(ctx, nil, "2024-01-01T00:10:00Z", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)

	ok, err := r.ReleaseReservation(ctx, nil, "m1", "2023-12-31T23:00:00Z", ts)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.ReleaseReservation(ctx, nil, "m1", "2024-01-01T00:10:00Z", ts)
	require.NoError(t, err)
	assert.True(t, ok)

	m, err := r.GetMission(ctx, nil, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MissionOpen, m.Status)
	assert.Nil(t, m.ReservedBy)
}

func TestSignContractConsumesNonce(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedMission(t, r, "m1")
	c := domain.Contract{ID: "c1", MissionID: "m1", Nonce: "n1", AmountCents: 10000, Status: domain.ContractDraft, CreatedAt: ts, UpdatedAt: ts}

	inserted, err := r.InsertContractIfAbsent(ctx, nil, c)
	require.NoError(t, err)
	assert.True(t, inserted)
	c.ID = "c2"
	c.Nonce = "other"
	inserted, err = r.InsertContractIfAbsent(ctx, nil, c)
	require.NoError(t, err)
	assert.False(t, inserted)

	ok, err := r.SignContract(ctx, nil, "c1", domain.RoleWorker, "n1", "n2", domain.ContractDraft, domain.ContractPending, ts)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.SignContract(ctx, nil, "c1", domain.RoleEmployer, "n1", "n3", domain.ContractPending, domain.ContractAccepted, ts)
	require.NoError(t, err)
	assert.False(t, ok, "stale nonce must not match")

	ok, err = r.SignContract(ctx, nil, "c1", domain.RoleWorker, "n2", "n3", domain.ContractPending, domain.ContractAccepted, ts)
	require.NoError(t, err)
	assert.False(t, ok, "worker flag already set")

	got, err := r.GetContractByMission(ctx, nil, "m1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, "n2", got.Nonce)
	assert.True(t, got.SignedByWorker)
	assert.False(t, got.SignedByEmployer)
	assert.Equal(t, domain.ContractPending, got.Status)
}

func TestPaymentKeyAndActiveMissionUniqueness(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedMission(t, r, "m1")
	p := domain.Payment{ID: "p1", MissionID: "m1", IdempotencyKey: "key-1", AmountCents: 5000, Currency: "EUR", Status: domain.PaymentCreated, CreatedAt: ts, UpdatedAt: ts}

	ok, err := r.InsertPaymentIfAbsent(ctx, nil, p)
	require.NoError(t, err)
	assert.True(t, ok)

	dup := p
	dup.ID = "p2"
	ok, err = r.InsertPaymentIfAbsent(ctx, nil, dup)
	require.NoError(t, err)
	assert.False(t, ok, "same key")

	second := p
	second.ID = "p3"
	second.IdempotencyKey = "key-2"
	ok, err = r.InsertPaymentIfAbsent(ctx, nil, second)
	require.NoError(t, err)
	assert.False(t, ok, "mission already has an active payment")

	moved, err := r.TransitionPayment(ctx, nil, "p1", domain.PaymentCreated, domain.PaymentFailed, nil, ts)
	require.NoError(t, err)
	require.True(t, moved)

	ok, err = r.InsertPaymentIfAbsent(ctx, nil, second)
	require.NoError(t, err)
	assert.True(t, ok, "failed payments do not block a new attempt")

	got, err := r.GetPaymentByKey(ctx, nil, "key-2")
	require.NoError(t, err)
	assert.Equal(t, "p3", got.ID)
}

func TestClaimPaymentRetrySingleWinner(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedMission(t, r, "m1")
	p := domain.Payment{ID: "p1", MissionID: "m1", IdempotencyKey: "k", AmountCents: 5000, Currency: "EUR", Status: domain.PaymentCreated, Attempts: 1, CreatedAt: ts, UpdatedAt: ts}
	_, err := r.InsertPaymentIfAbsent(ctx, nil, p)
	require.NoError(t, err)

	ok, err := r.RecordPaymentError(ctx, nil, "p1", "timeout", ts)
	require.NoError(t, err)
	require.True(t, ok)

	won, err := r.ClaimPaymentRetry(ctx, nil, "p1", 1, ts)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = r.ClaimPaymentRetry(ctx, nil, "p1", 1, ts)
	require.NoError(t, err)
	assert.False(t, won)

	got, err := r.GetPayment(ctx, nil, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Nil(t, got.LastError)
}

func TestWebhookEventDedup(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	ev := domain.WebhookEvent{ProviderEventID: "evt-1", PaymentID: "p1", Status: domain.PaymentRefunded, Outcome: domain.WebhookReceived, ReceivedAt: ts}

	seq, ok, err := r.InsertWebhookEvent(ctx, nil, ev)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Positive(t, seq)

	_, ok, err = r.InsertWebhookEvent(ctx, nil, ev)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetWebhookOutcome(ctx, nil, seq, domain.WebhookOutOfOrder, ts))
	deferred, err := r.ListDeferredWebhooks(ctx, nil, "p1")
	require.NoError(t, err)
	require.Len(t, deferred, 1)
	assert.Equal(t, "evt-1", deferred[0].ProviderEventID)
}

func TestAPIKeysAndConsents(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	key := domain.APIKey{ID: "k1", ActorID: "w1", Role: domain.RoleWorker, KeyHash: repo.HashAPIKey("secret"), CreatedAt: ts}
	require.NoError(t, r.InsertAPIKey(ctx, nil, key))
	assert.Error(t, r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k2", ActorID: "w1", Role: "boss", KeyHash: "x"}))

	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(" secret "))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleWorker, got.Role)
	require.NoError(t, r.DeleteAPIKey(ctx, "k1"))
	assert.ErrorIs(t, r.DeleteAPIKey(ctx, "k1"), repo.ErrNotFound)

	has, err := r.HasConsent(ctx, "w1", "2024-01")
	require.NoError(t, err)
	assert.False(t, has)
	c := domain.LegalConsent{ActorID: "w1", Version: "2024-01", AcceptedAt: ts}
	require.NoError(t, r.RecordConsent(ctx, nil, c))
	require.NoError(t, r.RecordConsent(ctx, nil, c))
	has, err = r.HasConsent(ctx, "w1", "2024-01")
	require.NoError(t, err)
	assert.True(t, has)
}
