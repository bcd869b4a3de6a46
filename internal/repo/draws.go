package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"expertdraw/internal/domain"
)

const drawColumns = `id,category,COALESCE(subcategory,''),COALESCE(specialty,''),COALESCE(project_name,''),COALESCE(project_code,''),
expert_count,backup_count,COALESCE(draw_method,''),titles_json,regions_json,specialties_json,avoid_enabled,
COALESCE(avoid_units,''),COALESCE(avoid_persons,''),review_time,COALESCE(review_location,''),rule_id,status,
execution_id,executed_at,version,COALESCE(created_by,''),created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraw(s rowScanner) (domain.DrawApplication, error) {
	var (
		d                                domain.DrawApplication
		titles, regions, specialties     string
		avoid                            sql.NullInt64
		reviewTime, ruleID, execID, exAt sql.NullString
	)
	err := s.Scan(&d.ID, &d.Category, &d.Subcategory, &d.Specialty, &d.ProjectName, &d.ProjectCode,
		&d.ExpertCount, &d.BackupCount, &d.DrawMethod, &titles, &regions, &specialties, &avoid,
		&d.AvoidUnits, &d.AvoidPersons, &reviewTime, &d.ReviewLocation, &ruleID, &d.Status,
		&execID, &exAt, &d.Version, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if d.Titles, err = unmarshalStringSlice(titles); err != nil {
		return d, err
	}
	if d.Regions, err = unmarshalStringSlice(regions); err != nil {
		return d, err
	}
	if d.Specialties, err = unmarshalStringSlice(specialties); err != nil {
		return d, err
	}
	d.AvoidEnabled = boolPtr(avoid)
	d.ReviewTime = stringPtr(reviewTime)
	d.RuleID = stringPtr(ruleID)
	d.ExecutionID = stringPtr(execID)
	d.ExecutedAt = stringPtr(exAt)
	return d, nil
}

func drawLists(d domain.DrawApplication) (titles, regions, specialties string, err error) {
	if titles, err = marshalStringSlice(d.Titles); err != nil {
		return
	}
	if regions, err = marshalStringSlice(d.Regions); err != nil {
		return
	}
	specialties, err = marshalStringSlice(d.Specialties)
	return
}

func (r Repo) InsertDraw(ctx context.Context, tx *sql.Tx, d domain.DrawApplication) error {
	titles, regions, specialties, err := drawLists(d)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO draws(id,category,subcategory,specialty,project_name,project_code,expert_count,backup_count,
draw_method,titles_json,regions_json,specialties_json,avoid_enabled,avoid_units,avoid_persons,review_time,review_location,rule_id,
status,execution_id,executed_at,version,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Category, nullable(d.Subcategory), nullable(d.Specialty), nullable(d.ProjectName), nullable(d.ProjectCode),
		d.ExpertCount, d.BackupCount, nullable(d.DrawMethod), titles, regions, specialties, nullableBoolPtr(d.AvoidEnabled),
		nullable(d.AvoidUnits), nullable(d.AvoidPersons), nullableStringPtr(d.ReviewTime), nullable(d.ReviewLocation),
		nullableStringPtr(d.RuleID), d.Status, nullableStringPtr(d.ExecutionID), nullableStringPtr(d.ExecutedAt),
		d.Version, nullable(d.CreatedBy), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert draw: %w", err)
	}
	return nil
}

func (r Repo) GetDraw(ctx context.Context, tx *sql.Tx, id string) (domain.DrawApplication, error) {
	return scanDraw(r.q(tx).QueryRowContext(ctx, `SELECT `+drawColumns+` FROM draws WHERE id=?`, id))
}

// SaveDraw overwrites the mutable columns of d, provided the stored version
// still equals expectVersion, and bumps the version. A mismatch yields
// domain.ErrConflict.
func (r Repo) SaveDraw(ctx context.Context, tx *sql.Tx, d domain.DrawApplication, expectVersion int64) (domain.DrawApplication, error) {
	titles, regions, specialties, err := drawLists(d)
	if err != nil {
		return d, err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE draws SET category=?,subcategory=?,specialty=?,project_name=?,project_code=?,
expert_count=?,backup_count=?,draw_method=?,titles_json=?,regions_json=?,specialties_json=?,avoid_enabled=?,avoid_units=?,
avoid_persons=?,review_time=?,review_location=?,rule_id=?,status=?,execution_id=?,executed_at=?,version=version+1,updated_at=?
WHERE id=? AND version=?`,
		d.Category, nullable(d.Subcategory), nullable(d.Specialty), nullable(d.ProjectName), nullable(d.ProjectCode),
		d.ExpertCount, d.BackupCount, nullable(d.DrawMethod), titles, regions, specialties, nullableBoolPtr(d.AvoidEnabled),
		nullable(d.AvoidUnits), nullable(d.AvoidPersons), nullableStringPtr(d.ReviewTime), nullable(d.ReviewLocation),
		nullableStringPtr(d.RuleID), d.Status, nullableStringPtr(d.ExecutionID), nullableStringPtr(d.ExecutedAt),
		d.UpdatedAt, d.ID, expectVersion)
	if err != nil {
		return d, fmt.Errorf("update draw: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetDraw(ctx, tx, d.ID); err != nil {
			return d, err
		}
		return d, fmt.Errorf("%w: draw %s changed since version %d", domain.ErrConflict, d.ID, expectVersion)
	}
	d.Version = expectVersion + 1
	return d, nil
}

// TouchDraw bumps the version of a draw whose own columns did not change,
// so result mutations still serialize on it.
func (r Repo) TouchDraw(ctx context.Context, tx *sql.Tx, id string, expectVersion int64, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE draws SET version=version+1, updated_at=? WHERE id=? AND version=?`, updatedAt, id, expectVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: draw %s changed since version %d", domain.ErrConflict, id, expectVersion)
	}
	return nil
}

func (r Repo) DeleteDraw(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM draws WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type DrawFilters struct {
	Status          string
	Category        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListDraws(ctx context.Context, f DrawFilters) ([]domain.DrawApplication, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + drawColumns + ` FROM draws WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DrawApplication
	for rows.Next() {
		d, err := scanDraw(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
