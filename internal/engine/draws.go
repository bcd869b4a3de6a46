package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"expertdraw/internal/domain"
	"expertdraw/internal/events"
	"expertdraw/internal/repo"
)

// DrawInput are the operator-supplied fields of a draw application.
type DrawInput struct {
	Category       string
	Subcategory    string
	Specialty      string
	ProjectName    string
	ProjectCode    string
	ExpertCount    int
	BackupCount    int
	DrawMethod     string
	Titles         []string
	Regions        []string
	Specialties    []string
	AvoidEnabled   *bool
	AvoidUnits     string
	AvoidPersons   string
	ReviewTime     string
	ReviewLocation string
	RuleID         string
}

// DrawPatch updates a pending draw. Nil fields are left alone.
type DrawPatch struct {
	Category       *string
	Subcategory    *string
	Specialty      *string
	ProjectName    *string
	ProjectCode    *string
	ExpertCount    *int
	BackupCount    *int
	DrawMethod     *string
	Titles         *[]string
	Regions        *[]string
	Specialties    *[]string
	AvoidEnabled   *bool
	AvoidUnits     *string
	AvoidPersons   *string
	ReviewTime     *string
	ReviewLocation *string
	RuleID         *string
	// IfVersion rejects the patch with Conflict when the draw moved on.
	IfVersion *int64
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}

func validateDraw(d domain.DrawApplication) error {
	if strings.TrimSpace(d.Category) == "" && (d.RuleID == nil || *d.RuleID == "") {
		return validationError("category is required unless a rule is referenced")
	}
	if d.ExpertCount < 1 {
		return validationError("expert_count must be at least 1")
	}
	if d.BackupCount < 0 {
		return validationError("backup_count must not be negative")
	}
	if d.ExpertCount > domain.MaxSlots || d.BackupCount > domain.MaxSlots {
		return validationError("expert_count and backup_count must not exceed %d", domain.MaxSlots)
	}
	if d.DrawMethod != "" && !domain.ValidMethod(d.DrawMethod) {
		return validationError("unsupported draw_method %q", d.DrawMethod)
	}
	if d.ReviewTime != nil {
		if _, err := time.Parse(time.RFC3339, *d.ReviewTime); err != nil {
			return validationError("review_time must be RFC3339")
		}
	}
	return nil
}

func (e Engine) CreateDraw(ctx context.Context, in DrawInput, actorID string) (domain.DrawApplication, error) {
	now := e.stamp()
	d := domain.DrawApplication{
		ID:             newID(),
		Category:       strings.TrimSpace(in.Category),
		Subcategory:    strings.TrimSpace(in.Subcategory),
		Specialty:      strings.TrimSpace(in.Specialty),
		ProjectName:    in.ProjectName,
		ProjectCode:    in.ProjectCode,
		ExpertCount:    in.ExpertCount,
		BackupCount:    in.BackupCount,
		DrawMethod:     domain.NormalizeMethod(strings.TrimSpace(in.DrawMethod)),
		Titles:         in.Titles,
		Regions:        in.Regions,
		Specialties:    in.Specialties,
		AvoidEnabled:   in.AvoidEnabled,
		AvoidUnits:     in.AvoidUnits,
		AvoidPersons:   in.AvoidPersons,
		ReviewTime:     optionalString(in.ReviewTime),
		ReviewLocation: in.ReviewLocation,
		RuleID:         optionalString(strings.TrimSpace(in.RuleID)),
		Status:         domain.StatusPending,
		Version:        1,
		CreatedBy:      actorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := validateDraw(d); err != nil {
		return domain.DrawApplication{}, err
	}
	if d.RuleID != nil {
		if _, err := e.rules().GetRule(ctx, *d.RuleID); err != nil {
			return domain.DrawApplication{}, err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DrawApplication{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertDraw(ctx, tx, d); err != nil {
		return domain.DrawApplication{}, err
	}
	if err := e.events().Append(ctx, tx, events.DrawCreated, d.ID, "draw", d.ID, actorID, events.EventPayload{
		"expert_count": d.ExpertCount,
		"backup_count": d.BackupCount,
		"category":     d.Category,
	}); err != nil {
		return domain.DrawApplication{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DrawApplication{}, err
	}
	e.log().Info("draw created", "draw_id", d.ID, "actor_id", actorID)
	return d, nil
}

func (e Engine) GetDraw(ctx context.Context, id string) (domain.DrawApplication, error) {
	return e.Repo.GetDraw(ctx, nil, id)
}

func (e Engine) ListDraws(ctx context.Context, f repo.DrawFilters) ([]domain.DrawApplication, error) {
	return e.Repo.ListDraws(ctx, f)
}

func applyPatch(d *domain.DrawApplication, p DrawPatch) []string {
	var changed []string
	setStr := func(name string, dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
			changed = append(changed, name)
		}
	}
	setStr("category", &d.Category, p.Category)
	setStr("subcategory", &d.Subcategory, p.Subcategory)
	setStr("specialty", &d.Specialty, p.Specialty)
	setStr("project_name", &d.ProjectName, p.ProjectName)
	setStr("project_code", &d.ProjectCode, p.ProjectCode)
	setStr("avoid_units", &d.AvoidUnits, p.AvoidUnits)
	setStr("avoid_persons", &d.AvoidPersons, p.AvoidPersons)
	setStr("review_location", &d.ReviewLocation, p.ReviewLocation)
	if p.DrawMethod != nil {
		d.DrawMethod = domain.NormalizeMethod(strings.TrimSpace(*p.DrawMethod))
		changed = append(changed, "draw_method")
	}
	if p.ExpertCount != nil {
		d.ExpertCount = *p.ExpertCount
		changed = append(changed, "expert_count")
	}
	if p.BackupCount != nil {
		d.BackupCount = *p.BackupCount
		changed = append(changed, "backup_count")
	}
	if p.Titles != nil {
		d.Titles = *p.Titles
		changed = append(changed, "titles")
	}
	if p.Regions != nil {
		d.Regions = *p.Regions
		changed = append(changed, "regions")
	}
	if p.Specialties != nil {
		d.Specialties = *p.Specialties
		changed = append(changed, "specialties")
	}
	if p.AvoidEnabled != nil {
		v := *p.AvoidEnabled
		d.AvoidEnabled = &v
		changed = append(changed, "avoid_enabled")
	}
	if p.ReviewTime != nil {
		d.ReviewTime = optionalString(strings.TrimSpace(*p.ReviewTime))
		changed = append(changed, "review_time")
	}
	if p.RuleID != nil {
		d.RuleID = optionalString(strings.TrimSpace(*p.RuleID))
		changed = append(changed, "rule_id")
	}
	return changed
}

// UpdateDraw edits a draw that has not been executed yet.
func (e Engine) UpdateDraw(ctx context.Context, id string, patch DrawPatch, actorID string) (domain.DrawApplication, error) {
	var out domain.DrawApplication
	err := e.mutate(ctx, id, func() error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		d, err := e.Repo.GetDraw(ctx, tx, id)
		if err != nil {
			return err
		}
		if patch.IfVersion != nil && *patch.IfVersion != d.Version {
			return conflictNoRetry{fmt.Errorf("%w: draw %s is at version %d", domain.ErrConflict, id, d.Version)}
		}
		if d.Status != domain.StatusPending {
			return domain.StateError{Op: "update", Status: d.Status}
		}
		changed := applyPatch(&d, patch)
		if err := validateDraw(d); err != nil {
			return err
		}
		if patch.RuleID != nil && d.RuleID != nil {
			if _, err := e.rules().GetRule(ctx, *d.RuleID); err != nil {
				return err
			}
		}
		d.UpdatedAt = e.stamp()
		saved, err := e.Repo.SaveDraw(ctx, tx, d, d.Version)
		if err != nil {
			return err
		}
		if err := e.events().Append(ctx, tx, events.DrawUpdated, id, "draw", id, actorID, events.EventPayload{"fields": changed}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		out = saved
		return nil
	})
	return out, unwrapNoRetry(err)
}

// DeleteDraw removes a draw that was never executed.
func (e Engine) DeleteDraw(ctx context.Context, id, actorID string) error {
	return e.mutate(ctx, id, func() error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		d, err := e.Repo.GetDraw(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.ExecutionID != nil || d.Status == domain.StatusExecuted || d.Status == domain.StatusCompleted {
			return domain.StateError{Op: "delete", Status: d.Status}
		}
		if err := e.Repo.DeleteDraw(ctx, tx, id); err != nil {
			return err
		}
		if err := e.events().Append(ctx, tx, events.DrawDeleted, id, "draw", id, actorID, events.EventPayload{"status": d.Status}); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// BatchDeleteResult reports the outcome of BatchDeleteDraws.
type BatchDeleteResult struct {
	Deleted    int      `json:"deleted"`
	Skipped    int      `json:"skipped"`
	DeletedIDs []string `json:"deleted_ids"`
	SkippedIDs []string `json:"skipped_ids"`
}

// BatchDeleteDraws deletes every never-executed draw among ids. Executed
// and unknown draws are skipped rather than failing the batch.
func (e Engine) BatchDeleteDraws(ctx context.Context, ids []string, actorID string) (BatchDeleteResult, error) {
	res := BatchDeleteResult{DeletedIDs: []string{}, SkippedIDs: []string{}}
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		err := e.DeleteDraw(ctx, id, actorID)
		switch {
		case err == nil:
			res.Deleted++
			res.DeletedIDs = append(res.DeletedIDs, id)
		case errors.Is(err, domain.ErrInvalidState), errors.Is(err, repo.ErrNotFound):
			res.Skipped++
			res.SkippedIDs = append(res.SkippedIDs, id)
		default:
			return res, fmt.Errorf("delete draw %s: %w", id, err)
		}
	}
	return res, nil
}

// Complete closes an executed draw. The caller asserts there is nothing
// left to resolve.
func (e Engine) Complete(ctx context.Context, id, actorID string) (domain.DrawApplication, error) {
	return e.transition(ctx, id, actorID, "complete", domain.StatusCompleted, events.DrawCompleted, domain.StatusExecuted)
}

// Cancel stops a pending or executed draw. The ledger is kept; every later
// mutation is rejected.
func (e Engine) Cancel(ctx context.Context, id, actorID string) (domain.DrawApplication, error) {
	return e.transition(ctx, id, actorID, "cancel", domain.StatusCancelled, events.DrawCancelled, domain.StatusPending, domain.StatusExecuted)
}

func (e Engine) transition(ctx context.Context, id, actorID, op, to, evtType string, from ...string) (domain.DrawApplication, error) {
	var out domain.DrawApplication
	err := e.mutate(ctx, id, func() error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		d, err := e.Repo.GetDraw(ctx, tx, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, s := range from {
			if d.Status == s {
				allowed = true
			}
		}
		if !allowed {
			return domain.StateError{Op: op, Status: d.Status}
		}
		prev := d.Status
		d.Status = to
		d.UpdatedAt = e.stamp()
		saved, err := e.Repo.SaveDraw(ctx, tx, d, d.Version)
		if err != nil {
			return err
		}
		if err := e.events().Append(ctx, tx, evtType, id, "draw", id, actorID, events.EventPayload{"from": prev, "to": to}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		out = saved
		return nil
	})
	if err == nil {
		e.log().Info("draw status changed", "draw_id", id, "status", out.Status, "actor_id", actorID)
	}
	return out, err
}

// conflictNoRetry carries a caller-detected conflict through mutate without
// triggering the internal retry.
type conflictNoRetry struct{ err error }

func (c conflictNoRetry) Error() string { return c.err.Error() }

func unwrapNoRetry(err error) error {
	var c conflictNoRetry
	if errors.As(err, &c) {
		return c.err
	}
	return err
}
