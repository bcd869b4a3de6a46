package repo

import (
	"context"
	"database/sql"
	"fmt"

	"expertdraw/internal/domain"
)

const ruleColumns = `id,name,COALESCE(category,''),COALESCE(subcategory,''),COALESCE(specialty,''),titles_json,regions_json,
specialties_json,avoid_enabled,COALESCE(draw_method,''),is_active,created_at,updated_at`

func scanRule(s rowScanner) (domain.Rule, error) {
	var (
		rule                         domain.Rule
		titles, regions, specialties string
		avoid                        sql.NullInt64
		active                       int
	)
	err := s.Scan(&rule.ID, &rule.Name, &rule.Category, &rule.Subcategory, &rule.Specialty, &titles, &regions,
		&specialties, &avoid, &rule.DrawMethod, &active, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return rule, err
	}
	if rule.Titles, err = unmarshalStringSlice(titles); err != nil {
		return rule, err
	}
	if rule.Regions, err = unmarshalStringSlice(regions); err != nil {
		return rule, err
	}
	if rule.Specialties, err = unmarshalStringSlice(specialties); err != nil {
		return rule, err
	}
	rule.AvoidEnabled = boolPtr(avoid)
	rule.IsActive = active != 0
	return rule, nil
}

// UpsertRule inserts or replaces a rule, keeping the original created_at.
func (r Repo) UpsertRule(ctx context.Context, tx *sql.Tx, rule domain.Rule) error {
	titles, err := marshalStringSlice(rule.Titles)
	if err != nil {
		return err
	}
	regions, err := marshalStringSlice(rule.Regions)
	if err != nil {
		return err
	}
	specialties, err := marshalStringSlice(rule.Specialties)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO rules(id,name,category,subcategory,specialty,titles_json,regions_json,specialties_json,
avoid_enabled,draw_method,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, category=excluded.category, subcategory=excluded.subcategory,
specialty=excluded.specialty, titles_json=excluded.titles_json, regions_json=excluded.regions_json,
specialties_json=excluded.specialties_json, avoid_enabled=excluded.avoid_enabled, draw_method=excluded.draw_method,
is_active=excluded.is_active, updated_at=excluded.updated_at`,
		rule.ID, rule.Name, nullable(rule.Category), nullable(rule.Subcategory), nullable(rule.Specialty), titles, regions,
		specialties, nullableBoolPtr(rule.AvoidEnabled), nullable(rule.DrawMethod), boolInt(rule.IsActive), rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", rule.ID, err)
	}
	return nil
}

// GetRule loads a rule by id; a missing rule wraps domain.ErrRuleNotFound.
func (r Repo) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	rule, err := scanRule(r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return rule, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id)
	}
	return rule, err
}

// FindActiveRule returns the most recently updated active rule scoped to
// exactly (category, subcategory). An empty subcategory matches rules
// without one.
func (r Repo) FindActiveRule(ctx context.Context, category, subcategory string) (domain.Rule, error) {
	rule, err := scanRule(r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules
WHERE is_active=1 AND LOWER(COALESCE(category,''))=LOWER(?) AND LOWER(COALESCE(subcategory,''))=LOWER(?)
ORDER BY updated_at DESC, id ASC LIMIT 1`, category, subcategory))
	if err == sql.ErrNoRows {
		return rule, fmt.Errorf("%w: no active rule for %s/%s", domain.ErrRuleNotFound, category, subcategory)
	}
	return rule, err
}

func (r Repo) ListRules(ctx context.Context, activeOnly bool) ([]domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules`
	if activeOnly {
		query += ` WHERE is_active=1`
	}
	query += ` ORDER BY category, subcategory, name, id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}
