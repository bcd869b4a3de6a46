package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"expertdraw/internal/domain"
	"expertdraw/internal/engine"
	"expertdraw/internal/engine/auth"
	"expertdraw/internal/export"
)

type resultPath struct {
	ID       string `path:"id"`
	ResultID string `path:"result_id"`
}

type fileOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

func (h handlers) registerResults(api huma.API) {
	e := h.engine

	huma.Register(api, huma.Operation{
		OperationID: "list-results",
		Method:      http.MethodGet,
		Path:        "/draws/{id}/results",
		Summary:     "List results: primaries then backups by ordinal",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID                string `path:"id"`
		Limit             int    `query:"limit"`
		Cursor            string `query:"cursor"`
		IncludeSuperseded bool   `query:"include_superseded"`
	}) (*output[engine.ResultPage], error) {
		if _, err := h.require(ctx, auth.DrawRead); err != nil {
			return nil, err
		}
		page, err := e.ListResults(ctx, input.ID, engine.ListOptions{
			Limit:             input.Limit,
			Cursor:            input.Cursor,
			IncludeSuperseded: input.IncludeSuperseded,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(page), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-result",
		Method:      http.MethodGet,
		Path:        "/draws/{id}/results/{result_id}",
		Summary:     "Get one result row",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *resultPath) (*output[domain.DrawResult], error) {
		if _, err := h.require(ctx, auth.DrawRead); err != nil {
			return nil, err
		}
		r, err := e.GetResult(ctx, input.ID, input.ResultID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-executions",
		Method:      http.MethodGet,
		Path:        "/draws/{id}/executions",
		Summary:     "Execution history with constraint snapshots",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *drawPath) (*output[[]domain.Execution], error) {
		if _, err := h.require(ctx, auth.DrawRead); err != nil {
			return nil, err
		}
		xs, err := e.Executions(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if xs == nil {
			xs = []domain.Execution{}
		}
		return respond(xs), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-result",
		Method:      http.MethodPost,
		Path:        "/draws/{id}/replace",
		Summary:     "Promote a backup into a vacated primary slot",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ReplaceRequest
	}) (*output[ReplaceResponse], error) {
		actorID, err := h.require(ctx, auth.DrawReplace)
		if err != nil {
			return nil, err
		}
		if input.Body.BackupResultID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "backup_result_id is required", nil)
		}
		rep, err := e.Replace(ctx, engine.ReplaceOptions{
			DrawID:          input.ID,
			BackupResultID:  input.Body.BackupResultID,
			PrimaryResultID: input.Body.PrimaryResultID,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ReplaceResponse{Promoted: rep.Promoted, Superseded: rep.Superseded}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contact",
		Method:      http.MethodGet,
		Path:        "/draws/{id}/results/{result_id}/contact",
		Summary:     "Contact details of a drawn expert",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *resultPath) (*output[ContactInfo], error) {
		if _, err := h.require(ctx, auth.DrawContact); err != nil {
			return nil, err
		}
		r, err := e.GetContact(ctx, input.ID, input.ResultID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(contactInfo(r)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-contact",
		Method:      http.MethodPut,
		Path:        "/draws/{id}/results/{result_id}/contact",
		Summary:     "Record a contact outcome, optionally replacing a declined primary",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		ResultID string `path:"result_id"`
		Body     ContactRequest
	}) (*output[ContactResponse], error) {
		actorID, err := h.require(ctx, auth.DrawContact)
		if err != nil {
			return nil, err
		}
		upd, err := e.UpdateContact(ctx, engine.ContactOptions{
			DrawID:      input.ID,
			ResultID:    input.ResultID,
			Status:      input.Body.Status,
			Note:        input.Body.Note,
			AutoReplace: input.Body.AutoReplace,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(ContactResponse{Result: upd.Result, Promoted: upd.Promoted, Warning: upd.Warning}), nil
	})

	for _, ex := range []struct {
		id, path, summary string
		render            func(io.Writer, domain.DrawApplication, []domain.DrawResult, string) error
	}{
		{"export-results", "/draws/{id}/export", "Export the active results", export.Results},
		{"sign-in-sheet", "/draws/{id}/sign-in-sheet", "Sign-in sheet of the current primaries", export.SignInSheet},
	} {
		huma.Register(api, huma.Operation{
			OperationID: ex.id,
			Method:      http.MethodGet,
			Path:        ex.path,
			Summary:     ex.summary,
			Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			ID     string `path:"id"`
			Format string `query:"format" enum:"csv,markdown,md,html,text"`
		}) (*fileOutput, error) {
			if _, err := h.require(ctx, auth.DrawExport); err != nil {
				return nil, err
			}
			format, err := export.ParseFormat(input.Format)
			if err != nil {
				return nil, handleError(err)
			}
			d, rows, err := e.ActiveResults(ctx, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			var buf bytes.Buffer
			if err := ex.render(&buf, d, rows, format); err != nil {
				return nil, handleError(err)
			}
			return &fileOutput{ContentType: export.ContentType(format), Body: buf.Bytes()}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-draw-events",
		Method:      http.MethodGet,
		Path:        "/draws/{id}/events",
		Summary:     "Audit trail of a draw, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*output[paginatedEvents], error) {
		if _, err := h.require(ctx, auth.DrawRead); err != nil {
			return nil, err
		}
		if _, err := e.GetDraw(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.DrawEvents(ctx, input.ID, limit+1, before)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return respond(resp), nil
	})
}
