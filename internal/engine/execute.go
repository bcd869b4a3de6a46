package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expertdraw/internal/domain"
	"expertdraw/internal/events"
	"expertdraw/internal/ledger"
	"expertdraw/internal/resolver"
	"expertdraw/internal/selector"
)

type ExecuteOptions struct {
	// Seed fixes the random source; nil draws a fresh seed.
	Seed *uint64
	// Timeout bounds the roster query; zero uses draw.roster_timeout_ms.
	Timeout time.Duration
	ActorID string
}

// ExecutionOutcome is what a successful execution committed.
type ExecutionOutcome struct {
	Draw      domain.DrawApplication `json:"draw"`
	Execution domain.Execution       `json:"execution"`
	Results   []domain.DrawResult    `json:"results"`
	// Superseded lists the result ids of the ledger this run replaced.
	Superseded []string `json:"superseded_result_ids,omitempty"`
}

// Execute runs the selector for a pending or executed draw and replaces its
// ledger in one transaction. On any failure the draw and ledger are left
// as they were.
func (e Engine) Execute(ctx context.Context, drawID string, opts ExecuteOptions) (ExecutionOutcome, error) {
	var out ExecutionOutcome
	err := e.mutate(ctx, drawID, func() error {
		o, err := e.execute(ctx, drawID, opts)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		e.Metrics.ExecutionFailed(failureReason(err))
		e.log().Warn("draw execution failed", "draw_id", drawID, "error", err)
		return ExecutionOutcome{}, err
	}
	e.Metrics.ExecutionSucceeded(out.Execution.Method, out.Execution.PoolSize)
	e.log().Info("draw executed", "draw_id", drawID, "execution_id", out.Execution.ID, "seq", out.Execution.Seq,
		"method", out.Execution.Method, "pool_size", out.Execution.PoolSize)
	return out, nil
}

func (e Engine) execute(ctx context.Context, drawID string, opts ExecuteOptions) (ExecutionOutcome, error) {
	d, err := e.Repo.GetDraw(ctx, nil, drawID)
	if err != nil {
		return ExecutionOutcome{}, err
	}
	if d.Status != domain.StatusPending && d.Status != domain.StatusExecuted {
		return ExecutionOutcome{}, domain.StateError{Op: "execute", Status: d.Status}
	}
	c, err := resolver.Resolve(ctx, e.rules(), d, resolver.Options{
		AutoRule:      e.Config.Draw.AutoRule,
		DefaultMethod: e.Config.Draw.DefaultMethod,
	})
	if err != nil {
		return ExecutionOutcome{}, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.Config.RosterTimeout()
	}
	candidates, err := e.fetchRoster(ctx, c.Filter(), timeout)
	if err != nil {
		return ExecutionOutcome{}, err
	}

	seed := e.seed()
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	sel, err := selector.Select(selector.Request{
		Candidates:     candidates,
		Constraints:    c,
		ExpertCount:    d.ExpertCount,
		BackupCount:    d.BackupCount,
		AvoidUnits:     d.AvoidUnits,
		AvoidPersons:   d.AvoidPersons,
		ReviewLocation: d.ReviewLocation,
		Weights: selector.WeightPolicy{
			Attribute:        e.Config.Draw.Weighting.Attribute,
			Default:          e.Config.Draw.Weighting.Default,
			TitleMultipliers: e.Config.Draw.Weighting.TitleMultipliers,
		},
	}, selector.NewRand(seed))
	if err != nil {
		return ExecutionOutcome{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ExecutionOutcome{}, err
	}
	defer tx.Rollback()

	current, err := e.Repo.GetDraw(ctx, tx, drawID)
	if err != nil {
		return ExecutionOutcome{}, err
	}
	if current.Version != d.Version {
		return ExecutionOutcome{}, fmt.Errorf("%w: draw %s changed during execution", domain.ErrConflict, drawID)
	}
	superseded, err := e.Repo.DeleteResults(ctx, tx, drawID)
	if err != nil {
		return ExecutionOutcome{}, err
	}
	seq, err := e.Repo.NextExecutionSeq(ctx, tx, drawID)
	if err != nil {
		return ExecutionOutcome{}, err
	}
	now := e.stamp()
	x := domain.Execution{
		ID:          newID(),
		DrawID:      drawID,
		Seq:         seq,
		Constraints: c,
		Method:      c.Method,
		Seed:        seed,
		PoolSize:    sel.PoolSize,
		ActorID:     opts.ActorID,
		ExecutedAt:  now,
	}
	if err := e.Repo.InsertExecution(ctx, tx, x); err != nil {
		return ExecutionOutcome{}, err
	}
	rows := ledger.Build(drawID, x.ID, sel.Primaries, sel.Backups, now, newID)
	if err := ledger.Check(rows, d.ExpertCount, d.BackupCount, true); err != nil {
		return ExecutionOutcome{}, fmt.Errorf("ledger check: %w", err)
	}
	if err := e.Repo.InsertResults(ctx, tx, rows); err != nil {
		return ExecutionOutcome{}, err
	}
	d.Status = domain.StatusExecuted
	d.ExecutionID = &x.ID
	d.ExecutedAt = &now
	d.UpdatedAt = now
	saved, err := e.Repo.SaveDraw(ctx, tx, d, d.Version)
	if err != nil {
		return ExecutionOutcome{}, err
	}
	payload := events.EventPayload{
		"execution_id": x.ID,
		"seq":          x.Seq,
		"seed":         fmt.Sprintf("%d", x.Seed),
		"method":       x.Method,
		"pool_size":    x.PoolSize,
		"primaries":    sel.Primaries,
		"backups":      sel.Backups,
	}
	if c.RuleID != "" {
		payload["rule_id"] = c.RuleID
	}
	if len(superseded) > 0 {
		payload["superseded_result_ids"] = superseded
	}
	if err := e.events().Append(ctx, tx, events.DrawExecuted, drawID, "execution", x.ID, opts.ActorID, payload); err != nil {
		return ExecutionOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return ExecutionOutcome{}, err
	}
	ledger.Sort(rows)
	if err := e.attachExperts(ctx, rows); err != nil {
		return ExecutionOutcome{}, err
	}
	return ExecutionOutcome{Draw: saved, Execution: x, Results: rows, Superseded: superseded}, nil
}

type rosterReply struct {
	experts []domain.Expert
	err     error
}

// fetchRoster bounds the roster call even when the provider ignores ctx.
func (e Engine) fetchRoster(ctx context.Context, f domain.RosterFilter, timeout time.Duration) ([]domain.Expert, error) {
	rctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ch := make(chan rosterReply, 1)
	roster := e.roster()
	go func() {
		experts, err := roster.ListExperts(rctx, f)
		ch <- rosterReply{experts: experts, err: err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, r.err)
			}
			return nil, fmt.Errorf("roster: %w", r.err)
		}
		return r.experts, nil
	case <-rctx.Done():
		if errors.Is(rctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", domain.ErrTimeout, timeout)
		}
		return nil, rctx.Err()
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientCandidates):
		return "insufficient_candidates"
	case errors.Is(err, domain.ErrRuleNotFound):
		return "rule_not_found"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
