package engine

import (
	"context"
	"strings"

	"expertdraw/internal/domain"
	"expertdraw/internal/events"
	"expertdraw/internal/selector"
)

// UpsertRule creates or replaces a rule. Draws already executed keep the
// constraints captured on their execution record.
func (e Engine) UpsertRule(ctx context.Context, rule domain.Rule, actorID string) (domain.Rule, error) {
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" {
		return domain.Rule{}, validationError("rule name is required")
	}
	rule.DrawMethod = domain.NormalizeMethod(strings.TrimSpace(rule.DrawMethod))
	if rule.DrawMethod != "" && !domain.ValidMethod(rule.DrawMethod) {
		return domain.Rule{}, validationError("unsupported draw_method %q", rule.DrawMethod)
	}
	now := e.stamp()
	if rule.ID == "" {
		rule.ID = newID()
	}
	if existing, err := e.Repo.GetRule(ctx, rule.ID); err == nil {
		rule.CreatedAt = existing.CreatedAt
	} else {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertRule(ctx, tx, rule); err != nil {
		return domain.Rule{}, err
	}
	if err := e.events().Append(ctx, tx, events.RuleUpserted, "", "rule", rule.ID, actorID, events.EventPayload{"name": rule.Name}); err != nil {
		return domain.Rule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Rule{}, err
	}
	return rule, nil
}

// ImportExperts bulk-upserts roster entries and returns how many were written.
func (e Engine) ImportExperts(ctx context.Context, experts []domain.Expert, actorID string) (int, error) {
	for i := range experts {
		experts[i].ID = strings.TrimSpace(experts[i].ID)
		experts[i].Name = strings.TrimSpace(experts[i].Name)
		if experts[i].ID == "" || experts[i].Name == "" {
			return 0, validationError("expert %d: id and name are required", i)
		}
		if w := experts[i].Weight; w != nil && (!selector.Finite(*w) || *w < 0) {
			return 0, validationError("expert %s: weight must be a finite non-negative number", experts[i].ID)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertExperts(ctx, tx, experts, e.stamp()); err != nil {
		return 0, err
	}
	if err := e.events().Append(ctx, tx, events.RosterImported, "", "roster", "", actorID, events.EventPayload{"count": len(experts)}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.log().Info("roster imported", "count", len(experts), "actor_id", actorID)
	return len(experts), nil
}

func (e Engine) ListExperts(ctx context.Context, category string, activeOnly bool) ([]domain.Expert, error) {
	return e.Repo.ListExperts(ctx, domain.RosterFilter{Category: category, ActiveOnly: activeOnly})
}

func (e Engine) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	return e.Repo.GetRule(ctx, id)
}

func (e Engine) ListRules(ctx context.Context, activeOnly bool) ([]domain.Rule, error) {
	return e.Repo.ListRules(ctx, activeOnly)
}
