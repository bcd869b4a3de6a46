package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"expertdraw/internal/domain"
	"expertdraw/internal/engine/auth"
)

func (h handlers) registerCatalog(api huma.API) {
	e := h.engine

	huma.Register(api, huma.Operation{
		OperationID: "upsert-rule",
		Method:      http.MethodPost,
		Path:        "/rules",
		Summary:     "Create or replace a draw rule",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body RuleRequest
	}) (*output[domain.Rule], error) {
		actorID, err := h.require(ctx, auth.RuleWrite)
		if err != nil {
			return nil, err
		}
		rule, err := e.UpsertRule(ctx, input.Body.rule(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(rule), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List draw rules",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActiveOnly bool `query:"active_only"`
	}) (*output[[]domain.Rule], error) {
		if _, err := h.require(ctx, auth.DrawRead); err != nil {
			return nil, err
		}
		rules, err := e.ListRules(ctx, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		if rules == nil {
			rules = []domain.Rule{}
		}
		return respond(rules), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rule",
		Method:      http.MethodGet,
		Path:        "/rules/{id}",
		Summary:     "Get draw rule",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[domain.Rule], error) {
		if _, err := h.require(ctx, auth.DrawRead); err != nil {
			return nil, err
		}
		rule, err := e.GetRule(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(rule), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-experts",
		Method:      http.MethodPost,
		Path:        "/experts",
		Summary:     "Bulk upsert roster entries",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body ImportExpertsRequest
	}) (*output[ImportExpertsResponse], error) {
		actorID, err := h.require(ctx, auth.RosterWrite)
		if err != nil {
			return nil, err
		}
		experts := make([]domain.Expert, 0, len(input.Body.Experts))
		for _, x := range input.Body.Experts {
			experts = append(experts, x.expert())
		}
		n, err := e.ImportExperts(ctx, experts, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ImportExpertsResponse{Imported: n}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-experts",
		Method:      http.MethodGet,
		Path:        "/experts",
		Summary:     "List roster entries",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Category   string `query:"category"`
		ActiveOnly bool   `query:"active_only"`
	}) (*output[[]domain.Expert], error) {
		if _, err := h.require(ctx, auth.DrawRead); err != nil {
			return nil, err
		}
		experts, err := e.ListExperts(ctx, input.Category, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		if experts == nil {
			experts = []domain.Expert{}
		}
		return respond(experts), nil
	})
}
