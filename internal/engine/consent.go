package engine

import (
	"context"
	"strings"

	"gigline/internal/domain"
	"gigline/internal/engine/auth"
	"gigline/internal/events"
)

func (e Engine) termsVersion() string {
	if e.Config != nil {
		return e.Config.Consent.Version
	}
	return ""
}

// AcceptTerms records that actor accepted the given terms version. Only the configured
// version can be accepted; accepting again leaves the stored row untouched.
func (e Engine) AcceptTerms(ctx context.Context, actor auth.Actor, version string) (domain.LegalConsent, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		version = e.termsVersion()
	}
	if want := e.termsVersion(); want != "" && version != want {
		return domain.LegalConsent{}, fail(ErrBadRequest, "current terms version is %s", want)
	}
	if version == "" {
		return domain.LegalConsent{}, fail(ErrBadRequest, "terms version is required")
	}
	c := domain.LegalConsent{ActorID: actor.ID, Version: version, AcceptedAt: e.ts()}
	tx, err := e.begin(ctx)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.RecordConsent(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.append(ctx, tx, "consent.accepted", "actor", actor.ID, actor.ID, events.EventPayload{"version": version}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// ConsentStatus reports whether actor has accepted the configured terms.
func (e Engine) ConsentStatus(ctx context.Context, actor auth.Actor) (bool, error) {
	if e.Consent == nil {
		return true, nil
	}
	return e.Consent.Accepted(ctx, actor.ID)
}
