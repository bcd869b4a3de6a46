package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"expertdraw/internal/domain"
	"expertdraw/internal/engine"
	"expertdraw/internal/engine/auth"
	"expertdraw/internal/repo"
)

type drawPath struct {
	ID string `path:"id"`
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func (h handlers) registerDraws(api huma.API) {
	e := h.engine

	huma.Register(api, huma.Operation{
		OperationID:   "create-draw",
		Method:        http.MethodPost,
		Path:          "/draws",
		Summary:       "Create draw application",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateDrawRequest
	}) (*output[domain.DrawApplication], error) {
		actorID, err := h.require(ctx, auth.DrawWrite)
		if err != nil {
			return nil, err
		}
		d, err := e.CreateDraw(ctx, input.Body.input(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-draws",
		Method:      http.MethodGet,
		Path:        "/draws",
		Summary:     "List draws, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"pending,executed,completed,cancelled"`
		Category string `query:"category"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*output[paginatedDraws], error) {
		if _, err := h.require(ctx, auth.DrawRead); err != nil {
			return nil, err
		}
		ts, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ListDraws(ctx, repo.DrawFilters{
			Status:          input.Status,
			Category:        input.Category,
			Limit:           limit + 1,
			CursorCreatedAt: ts,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedDraws{Items: []domain.DrawApplication{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return respond(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-draw",
		Method:      http.MethodGet,
		Path:        "/draws/{id}",
		Summary:     "Get draw",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *drawPath) (*output[domain.DrawApplication], error) {
		if _, err := h.require(ctx, auth.DrawRead); err != nil {
			return nil, err
		}
		d, err := e.GetDraw(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-draw",
		Method:      http.MethodPatch,
		Path:        "/draws/{id}",
		Summary:     "Update a pending draw",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateDrawRequest
	}) (*output[domain.DrawApplication], error) {
		actorID, err := h.require(ctx, auth.DrawWrite)
		if err != nil {
			return nil, err
		}
		d, err := e.UpdateDraw(ctx, input.ID, input.Body.patch(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-draw",
		Method:        http.MethodDelete,
		Path:          "/draws/{id}",
		Summary:       "Delete a draw that was never executed",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *drawPath) (*struct{}, error) {
		actorID, err := h.require(ctx, auth.DrawWrite)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteDraw(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "batch-delete-draws",
		Method:      http.MethodPost,
		Path:        "/draws/batch-delete",
		Summary:     "Delete several draws, skipping executed or unknown ones",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body BatchDeleteRequest
	}) (*output[engine.BatchDeleteResult], error) {
		actorID, err := h.require(ctx, auth.DrawWrite)
		if err != nil {
			return nil, err
		}
		res, err := e.BatchDeleteDraws(ctx, input.Body.IDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-draw",
		Method:      http.MethodPost,
		Path:        "/draws/{id}/execute",
		Summary:     "Execute or re-execute a draw",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusGatewayTimeout,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body *ExecuteDrawRequest `required:"false"`
	}) (*output[engine.ExecutionOutcome], error) {
		actorID, err := h.require(ctx, auth.DrawExecute)
		if err != nil {
			return nil, err
		}
		opts := engine.ExecuteOptions{ActorID: actorID}
		if input.Body != nil {
			opts.Seed = input.Body.Seed
			opts.Timeout = time.Duration(input.Body.TimeoutMS) * time.Millisecond
		}
		out, err := e.Execute(ctx, input.ID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(out), nil
	})

	for _, tr := range []struct {
		id, path, summary string
		run               func(context.Context, string, string) (domain.DrawApplication, error)
	}{
		{"complete-draw", "/draws/{id}/complete", "Mark an executed draw completed", e.Complete},
		{"cancel-draw", "/draws/{id}/cancel", "Cancel a pending or executed draw", e.Cancel},
	} {
		huma.Register(api, huma.Operation{
			OperationID: tr.id,
			Method:      http.MethodPost,
			Path:        tr.path,
			Summary:     tr.summary,
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *drawPath) (*output[domain.DrawApplication], error) {
			actorID, err := h.require(ctx, auth.DrawWrite)
			if err != nil {
				return nil, err
			}
			d, err := tr.run(ctx, input.ID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return respond(d), nil
		})
	}
}
