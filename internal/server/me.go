package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/repo"
)

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		}
		accepted, err := e.ConsentStatus(ctx, principal.Actor())
		if err != nil {
			return nil, handleError(err)
		}
		resp := WhoAmIResponse{
			ActorID:         principal.ActorID,
			Role:            principal.Role,
			Source:          principal.Source,
			ConsentAccepted: accepted,
		}
		if e.Config != nil {
			resp.ConsentVersion = e.Config.Consent.Version
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-terms",
		Method:      http.MethodPost,
		Path:        "/me/consent",
		Summary:     "Accept the current terms",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ConsentRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.LegalConsent `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AcceptTerms(ctx, actor, input.Body.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.LegalConsent `json:"body"`
		}{Body: c}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events (admin)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"mission,contract,payment,actor"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !actor.IsAdmin() {
			return nil, newAPIError(http.StatusForbidden, string(engine.CodeForbidden), "admin only", nil)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "BAD_REQUEST", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func eventResponse(evt domain.Event) EventResponse {
	var payload any = map[string]any{}
	if evt.Payload != "" {
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err != nil {
			payload = evt.Payload
		}
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actorID := strings.TrimSpace(input.Body.ActorID)
		role, ok := domain.ParseRole(input.Body.Role)
		if actorID == "" || !ok {
			return nil, newAPIError(http.StatusBadRequest, "BAD_REQUEST", "actor_id and a valid role are required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actorID, role, time.Duration(input.Body.TTLSeconds)*time.Second)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
