package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"expertdraw/internal/domain"
)

const expertColumns = `id,name,COALESCE(organization_id,''),COALESCE(organization,''),COALESCE(category,''),COALESCE(subcategory,''),
COALESCE(region,''),COALESCE(title,''),specialties_json,COALESCE(phone,''),COALESCE(email,''),COALESCE(avoid_units,''),weight,is_active`

func scanExpert(s rowScanner) (domain.Expert, error) {
	var (
		e           domain.Expert
		specialties string
		weight      sql.NullFloat64
		active      int
	)
	err := s.Scan(&e.ID, &e.Name, &e.OrganizationID, &e.Organization, &e.Category, &e.Subcategory,
		&e.Region, &e.Title, &specialties, &e.Phone, &e.Email, &e.AvoidUnits, &weight, &active)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if e.Specialties, err = unmarshalStringSlice(specialties); err != nil {
		return e, err
	}
	if weight.Valid {
		w := weight.Float64
		e.Weight = &w
	}
	e.IsActive = active != 0
	return e, nil
}

// UpsertExperts inserts or replaces roster entries by id.
func (r Repo) UpsertExperts(ctx context.Context, tx *sql.Tx, experts []domain.Expert, now string) error {
	for _, e := range experts {
		if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("expert id and name required")
		}
		specialties, err := marshalStringSlice(e.Specialties)
		if err != nil {
			return err
		}
		_, err = r.q(tx).ExecContext(ctx, `INSERT INTO experts(id,name,organization_id,organization,category,subcategory,region,title,
specialties_json,phone,email,avoid_units,weight,is_active,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, organization_id=excluded.organization_id, organization=excluded.organization,
category=excluded.category, subcategory=excluded.subcategory, region=excluded.region, title=excluded.title,
specialties_json=excluded.specialties_json, phone=excluded.phone, email=excluded.email, avoid_units=excluded.avoid_units,
weight=excluded.weight, is_active=excluded.is_active, updated_at=excluded.updated_at`,
			e.ID, e.Name, nullable(e.OrganizationID), nullable(e.Organization), nullable(e.Category), nullable(e.Subcategory),
			nullable(e.Region), nullable(e.Title), specialties, nullable(e.Phone), nullable(e.Email), nullable(e.AvoidUnits),
			nullableFloatPtr(e.Weight), boolInt(e.IsActive), now)
		if err != nil {
			return fmt.Errorf("upsert expert %s: %w", e.ID, err)
		}
	}
	return nil
}

// ListExperts answers a roster query. Only category and activity are
// filtered here; the selector applies the full constraint set.
func (r Repo) ListExperts(ctx context.Context, f domain.RosterFilter) ([]domain.Expert, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ActiveOnly {
		clauses = append(clauses, "is_active=1")
	}
	if c := strings.TrimSpace(f.Category); c != "" {
		clauses = append(clauses, "LOWER(TRIM(COALESCE(category,'')))=LOWER(?)")
		args = append(args, c)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+expertColumns+` FROM experts WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list experts: %w", err)
	}
	defer rows.Close()
	var out []domain.Expert
	for rows.Next() {
		e, err := scanExpert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list experts: %w", err)
	}
	return out, nil
}

// GetExperts loads experts by id, keyed by id. Unknown ids are absent.
func (r Repo) GetExperts(ctx context.Context, ids []string) (map[string]domain.Expert, error) {
	out := make(map[string]domain.Expert, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+expertColumns+` FROM experts WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanExpert(rows)
		if err != nil {
			return nil, err
		}
		out[e.ID] = e
	}
	return out, rows.Err()
}
