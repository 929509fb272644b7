// Package auth carries the verified caller identity into the engine and gates mutations on
// accepted legal terms.
package auth

import (
	"context"

	"gigline/internal/domain"
	"gigline/internal/repo"
)

// Actor is a verified (id, role) pair supplied by the transport layer.
type Actor struct {
	ID   string
	Role domain.Role
}

// System is the actor recorded for sweeper and provider-driven transitions.
var System = Actor{ID: "system", Role: domain.RoleAdmin}

func (a Actor) IsAdmin() bool { return a.Role == domain.RoleAdmin }

// Is reports whether the actor holds any of roles.
func (a Actor) Is(roles ...domain.Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// Gate reports whether an actor has accepted the current terms.
type Gate interface {
	Accepted(ctx context.Context, actorID string) (bool, error)
}

// SQLGate checks legal_consents for a fixed terms version.
type SQLGate struct {
	Repo    repo.Repo
	Version string
}

func (g SQLGate) Accepted(ctx context.Context, actorID string) (bool, error) {
	return g.Repo.HasConsent(ctx, actorID, g.Version)
}

// Open accepts everyone; used when consent enforcement is disabled.
type Open struct{}

func (Open) Accepted(context.Context, string) (bool, error) { return true, nil }
