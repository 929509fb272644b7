package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/engine/auth"
	"gigline/internal/repo"
)

type missionPath struct {
	ID string `path:"id"`
}

type missionBody struct {
	Body domain.Mission `json:"body"`
}

var stateErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusUnavailableForLegalReasons,
}

func registerMissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-mission",
		Method:        http.MethodPost,
		Path:          "/missions",
		Summary:       "Post a mission",
		DefaultStatus: http.StatusCreated,
		Errors:        stateErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateMissionRequest `json:"body"`
	}) (*missionBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateMission(ctx, engine.MissionCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Category:    input.Body.Category,
			PriceCents:  input.Body.PriceCents,
			Location:    input.Body.Location,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionBody{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"OPEN,RESERVED,ASSIGNED,IN_PROGRESS,COMPLETED,CANCELLED"`
		CreatedBy  string `query:"created_by"`
		AssignedTo string `query:"assigned_to"`
		Category   string `query:"category"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedMissions `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "BAD_REQUEST", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ListMissions(ctx, repo.MissionFilters{
			Status:     input.Status,
			CreatedBy:  input.CreatedBy,
			AssignedTo: input.AssignedTo,
			Category:   input.Category,
			Limit:      limit + 1,
			CursorTS:   cursorTS,
			CursorID:   cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedMissions{Items: []domain.Mission{}}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedMissions `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission",
		Method:      http.MethodGet,
		Path:        "/missions/{id}",
		Summary:     "Get mission",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *missionPath) (*missionBody, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		m, err := e.GetMission(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionBody{Body: m}, nil
	})

	actions := []struct {
		name    string
		summary string
		run     func(context.Context, string, auth.Actor) (domain.Mission, error)
	}{
		{"reserve", "Hold an open mission for the reservation window", e.ReserveMission},
		{"claim", "Claim a mission; exactly one concurrent caller wins", e.ClaimMission},
		{"start", "Start work on an assigned mission", e.StartMission},
		{"complete", "Complete an in-progress mission", e.CompleteMission},
		{"cancel", "Cancel a mission", e.CancelMission},
	}
	for _, action := range actions {
		run := action.run
		huma.Register(api, huma.Operation{
			OperationID: action.name + "-mission",
			Method:      http.MethodPost,
			Path:        "/missions/{id}/" + action.name,
			Summary:     action.summary,
			Errors:      stateErrors,
		}, func(ctx context.Context, input *missionPath) (*missionBody, error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			m, err := run(ctx, input.ID, actor)
			if err != nil {
				return nil, handleError(err)
			}
			return &missionBody{Body: m}, nil
		})
	}
}

func registerContracts(api huma.API, e engine.Engine) {
	type contractBody struct {
		Body domain.Contract `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/missions/{id}/contract",
		Summary:     "Get or draft the mission contract",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *missionPath) (*contractBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ViewContract(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &contractBody{Body: c}, nil
	})

	for _, action := range []struct {
		name string
		run  func(context.Context, string, auth.Actor, string) (domain.Contract, error)
	}{
		{"sign", e.SignContract},
		{"reject", e.RejectContract},
	} {
		run := action.run
		huma.Register(api, huma.Operation{
			OperationID: action.name + "-contract",
			Method:      http.MethodPost,
			Path:        "/missions/{id}/contract/" + action.name,
			Summary:     "Contract " + action.name + "; the presented nonce is consumed",
			Errors:      stateErrors,
		}, func(ctx context.Context, input *struct {
			ID   string       `path:"id"`
			Body NonceRequest `json:"body"`
		}) (*contractBody, error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			c, err := run(ctx, input.ID, actor, input.Body.Nonce)
			if err != nil {
				return nil, handleError(err)
			}
			return &contractBody{Body: c}, nil
		})
	}
}
