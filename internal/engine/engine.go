package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/engine/auth"
	"gigline/internal/events"
	"gigline/internal/provider"
	"gigline/internal/repo"
)

// Engine runs the mission, contract and payment lifecycles. Every mutation is a
// conditional write inside a transaction that also appends to the event log.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Provider provider.Client
	Consent  auth.Gate
	Log      logrus.FieldLogger
	Now      func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config, client provider.Client) Engine {
	r := repo.Repo{DB: conn, Dialect: dialect}
	var gate auth.Gate = auth.Open{}
	if cfg != nil && cfg.Consent.Enforce {
		gate = auth.SQLGate{Repo: r, Version: cfg.Consent.Version}
	}
	return Engine{
		DB:       conn,
		Repo:     r,
		Events:   events.Writer{DB: conn, Dialect: dialect},
		Config:   cfg,
		Provider: client,
		Consent:  gate,
		Log:      logrus.StandardLogger(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

// append writes to the event log with the engine clock.
func (e Engine) append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

func (e Engine) requireConsent(ctx context.Context, actor auth.Actor) error {
	if e.Consent == nil || actor.IsAdmin() {
		return nil
	}
	ok, err := e.Consent.Accepted(ctx, actor.ID)
	if err != nil {
		return fmt.Errorf("check consent: %w", err)
	}
	if !ok {
		return fail(ErrConsentRequired, "actor %s has not accepted the current terms", actor.ID)
	}
	return nil
}

// newNonce returns 32 random bytes, base64url encoded.
func newNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}
