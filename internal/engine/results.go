package engine

import (
	"context"
	"strconv"

	"expertdraw/internal/domain"
	"expertdraw/internal/ledger"
	"expertdraw/internal/repo"
)

type ListOptions struct {
	Limit int
	// Cursor is the opaque position returned as NextCursor.
	Cursor            string
	IncludeSuperseded bool
}

type ResultPage struct {
	Items      []domain.DrawResult `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

// ListResults returns a page of the draw's ordinal-sorted view: active
// primaries, active backups, then superseded rows when requested. The page
// is cut from one snapshot read.
func (e Engine) ListResults(ctx context.Context, drawID string, opts ListOptions) (ResultPage, error) {
	if _, err := e.Repo.GetDraw(ctx, nil, drawID); err != nil {
		return ResultPage{}, err
	}
	rows, err := e.Repo.ListResults(ctx, nil, drawID)
	if err != nil {
		return ResultPage{}, err
	}
	if !opts.IncludeSuperseded {
		rows = ledger.ActiveView(rows)
	}
	offset := 0
	if opts.Cursor != "" {
		offset, err = strconv.Atoi(opts.Cursor)
		if err != nil || offset < 0 {
			return ResultPage{}, validationError("invalid cursor")
		}
	}
	if offset > len(rows) {
		offset = len(rows)
	}
	end := len(rows)
	if opts.Limit > 0 && offset+opts.Limit < end {
		end = offset + opts.Limit
	}
	page := ResultPage{Items: rows[offset:end]}
	if end < len(rows) {
		page.NextCursor = strconv.Itoa(end)
	}
	if err := e.attachExperts(ctx, page.Items); err != nil {
		return ResultPage{}, err
	}
	if page.Items == nil {
		page.Items = []domain.DrawResult{}
	}
	return page, nil
}

func (e Engine) GetResult(ctx context.Context, drawID, resultID string) (domain.DrawResult, error) {
	res, err := e.Repo.GetResult(ctx, nil, drawID, resultID)
	if err != nil {
		return res, err
	}
	rows := []domain.DrawResult{res}
	if err := e.attachExperts(ctx, rows); err != nil {
		return res, err
	}
	return rows[0], nil
}

// GetContact returns a result with the expert's contact fields attached.
func (e Engine) GetContact(ctx context.Context, drawID, resultID string) (domain.DrawResult, error) {
	return e.GetResult(ctx, drawID, resultID)
}

// ActiveResults returns the full ordinal-sorted active view, used by the
// export projections.
func (e Engine) ActiveResults(ctx context.Context, drawID string) (domain.DrawApplication, []domain.DrawResult, error) {
	d, err := e.Repo.GetDraw(ctx, nil, drawID)
	if err != nil {
		return d, nil, err
	}
	rows, err := e.Repo.ListResults(ctx, nil, drawID)
	if err != nil {
		return d, nil, err
	}
	active := ledger.ActiveView(rows)
	if err := e.attachExperts(ctx, active); err != nil {
		return d, nil, err
	}
	return d, active, nil
}

func (e Engine) Executions(ctx context.Context, drawID string) ([]domain.Execution, error) {
	if _, err := e.Repo.GetDraw(ctx, nil, drawID); err != nil {
		return nil, err
	}
	return e.Repo.ListExecutions(ctx, drawID)
}

// DrawEvents returns a draw's audit trail, newest first.
func (e Engine) DrawEvents(ctx context.Context, drawID string, limit int, before int64) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, repo.EventFilters{DrawID: drawID, Limit: limit, Before: before})
}

func (e Engine) attachExperts(ctx context.Context, rows []domain.DrawResult) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ExpertID)
	}
	experts, err := e.Repo.GetExperts(ctx, ids)
	if err != nil {
		return err
	}
	for i := range rows {
		if ex, ok := experts[rows[i].ExpertID]; ok {
			ex := ex
			rows[i].Expert = &ex
		}
	}
	return nil
}
