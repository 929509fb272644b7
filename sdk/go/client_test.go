package giglinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/migrate"
	"gigline/internal/provider"
	"gigline/internal/server"
)

const secret = "sdk-test-secret"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(context.Background(), conn, dialect))
	cfg := config.Default()
	cfg.Consent.Enforce = false
	logger, _ := test.NewNullLogger()
	e := engine.New(conn, dialect, cfg, provider.NewFake())
	e.Log = logger
	handler, err := server.New(server.Config{Engine: e, BasePath: "/v1", Auth: server.AuthConfig{JWTSecret: secret}, Log: logger})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv
}

func clientFor(t *testing.T, srv *httptest.Server, actorID string, role domain.Role) *Client {
	t.Helper()
	tok, err := server.SignToken(secret, actorID, role, time.Hour)
	require.NoError(t, err)
	c := New(srv.URL)
	c.BearerToken = tok
	c.HTTPClient = srv.Client()
	return c
}

func TestClientMissionToPayment(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	employer := clientFor(t, srv, "emp-1", domain.RoleEmployer)
	worker := clientFor(t, srv, "w-1", domain.RoleWorker)
	rival := clientFor(t, srv, "w-2", domain.RoleWorker)

	m, err := employer.CreateMission(ctx, NewMission{Title: "Move boxes", PriceCents: 8000, Location: Location{Lat: 50.1, Lng: 8.6}})
	require.NoError(t, err)
	assert.Equal(t, "OPEN", m.Status)

	page, err := worker.ListMissions(ctx, MissionQuery{Status: "OPEN"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	m, err = worker.ClaimMission(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "ASSIGNED", m.Status)

	_, err = rival.ClaimMission(ctx, m.ID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "ALREADY_CLAIMED", apiErr.Code)

	c, err := worker.Contract(ctx, m.ID)
	require.NoError(t, err)
	c, err = worker.SignContract(ctx, m.ID, c.Nonce)
	require.NoError(t, err)
	assert.True(t, c.SignedByWorker)
	c, err = employer.SignContract(ctx, m.ID, c.Nonce)
	require.NoError(t, err)
	assert.Equal(t, "ACCEPTED", c.Status)

	_, err = worker.StartMission(ctx, m.ID)
	require.NoError(t, err)

	p1, err := employer.CreatePayment(ctx, m.ID, 0, "sdk-key-1")
	require.NoError(t, err)
	assert.False(t, p1.Cached)
	assert.Equal(t, int64(8000), p1.AmountCents)
	p2, err := employer.CreatePayment(ctx, m.ID, 0, "sdk-key-1")
	require.NoError(t, err)
	assert.True(t, p2.Cached)
	assert.Equal(t, p1.ID, p2.ID)

	got, err := employer.GetPayment(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, p1.Status, got.Status)
}

func TestClientStaleNonce(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	employer := clientFor(t, srv, "emp-1", domain.RoleEmployer)
	worker := clientFor(t, srv, "w-1", domain.RoleWorker)

	m, err := employer.CreateMission(ctx, NewMission{Title: "Walk dog", PriceCents: 1500})
	require.NoError(t, err)
	_, err = worker.ClaimMission(ctx, m.ID)
	require.NoError(t, err)
	c, err := worker.Contract(ctx, m.ID)
	require.NoError(t, err)
	_, err = worker.SignContract(ctx, m.ID, c.Nonce)
	require.NoError(t, err)

	_, err = employer.SignContract(ctx, m.ID, c.Nonce)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "INVALID_NONCE", apiErr.Code)
}

func TestClientUnauthenticated(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL)
	c.HTTPClient = srv.Client()
	_, err := c.Me(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
