package repo

import (
	"context"
	"database/sql"
	"fmt"

	"expertdraw/internal/domain"
	"expertdraw/internal/ledger"
)

const resultColumns = `id,draw_id,execution_id,expert_id,is_backup,is_replacement,ordinal,state,contact_status,
COALESCE(contact_note,''),COALESCE(contacted_by,''),contacted_at,replaced_result_id,superseded_by,created_at,updated_at`

func scanResult(s rowScanner) (domain.DrawResult, error) {
	var (
		res                                 domain.DrawResult
		backup, replacement                 int
		contactedAt, replaced, supersededBy sql.NullString
	)
	err := s.Scan(&res.ID, &res.DrawID, &res.ExecutionID, &res.ExpertID, &backup, &replacement, &res.Ordinal, &res.State,
		&res.ContactStatus, &res.ContactNote, &res.ContactedBy, &contactedAt, &replaced, &supersededBy, &res.CreatedAt, &res.UpdatedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	if err != nil {
		return res, err
	}
	res.IsBackup = backup != 0
	res.IsReplacement = replacement != 0
	res.ContactedAt = stringPtr(contactedAt)
	res.ReplacedResultID = stringPtr(replaced)
	res.SupersededBy = stringPtr(supersededBy)
	return res, nil
}

// InsertResults writes a freshly built ledger.
func (r Repo) InsertResults(ctx context.Context, tx *sql.Tx, rows []domain.DrawResult) error {
	for _, res := range rows {
		_, err := r.q(tx).ExecContext(ctx, `INSERT INTO draw_results(id,draw_id,execution_id,expert_id,is_backup,is_replacement,ordinal,state,
contact_status,contact_note,contacted_by,contacted_at,replaced_result_id,superseded_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			res.ID, res.DrawID, res.ExecutionID, res.ExpertID, boolInt(res.IsBackup), boolInt(res.IsReplacement), res.Ordinal, res.State,
			res.ContactStatus, nullable(res.ContactNote), nullable(res.ContactedBy), nullableStringPtr(res.ContactedAt),
			nullableStringPtr(res.ReplacedResultID), nullableStringPtr(res.SupersededBy), res.CreatedAt, res.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert result %s: %w", res.ID, err)
		}
	}
	return nil
}

// ListResults returns every row of a draw's ledger in canonical order,
// superseded rows last.
func (r Repo) ListResults(ctx context.Context, tx *sql.Tx, drawID string) ([]domain.DrawResult, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+resultColumns+` FROM draw_results WHERE draw_id=?`, drawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DrawResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ledger.Sort(out)
	return out, nil
}

func (r Repo) GetResult(ctx context.Context, tx *sql.Tx, drawID, id string) (domain.DrawResult, error) {
	return scanResult(r.q(tx).QueryRowContext(ctx, `SELECT `+resultColumns+` FROM draw_results WHERE draw_id=? AND id=?`, drawID, id))
}

// DeleteResults removes a draw's whole ledger and returns the removed ids.
func (r Repo) DeleteResults(ctx context.Context, tx *sql.Tx, drawID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id FROM draw_results WHERE draw_id=? ORDER BY is_backup, ordinal, id`, drawID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := r.q(tx).ExecContext(ctx, `DELETE FROM draw_results WHERE draw_id=?`, drawID); err != nil {
		return nil, fmt.Errorf("delete results: %w", err)
	}
	return ids, nil
}

// ApplyPromotion persists a planned promotion. The outgoing row is retired
// first so the active-slot index never sees two rows on one ordinal.
func (r Repo) ApplyPromotion(ctx context.Context, tx *sql.Tx, p ledger.Promotion) error {
	out, in := p.Outgoing, p.Incoming
	res, err := r.q(tx).ExecContext(ctx, `UPDATE draw_results SET state=?, superseded_by=?, updated_at=? WHERE id=? AND draw_id=? AND state='active' AND is_backup=0`,
		out.State, nullableStringPtr(out.SupersededBy), out.UpdatedAt, out.ID, out.DrawID)
	if err != nil {
		return fmt.Errorf("retire %s: %w", out.ID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%w: result %s is no longer an active primary", domain.ErrConflict, out.ID)
	}
	res, err = r.q(tx).ExecContext(ctx, `UPDATE draw_results SET is_backup=0, is_replacement=1, ordinal=?, replaced_result_id=?, updated_at=? WHERE id=? AND draw_id=? AND state='active' AND is_backup=1`,
		in.Ordinal, nullableStringPtr(in.ReplacedResultID), in.UpdatedAt, in.ID, in.DrawID)
	if err != nil {
		return fmt.Errorf("promote %s: %w", in.ID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%w: result %s is no longer a backup", domain.ErrConflict, in.ID)
	}
	return nil
}

// UpdateContact stores the contact fields of one row.
func (r Repo) UpdateContact(ctx context.Context, tx *sql.Tx, res domain.DrawResult) error {
	out, err := r.q(tx).ExecContext(ctx, `UPDATE draw_results SET contact_status=?, contact_note=?, contacted_by=?, contacted_at=?, updated_at=? WHERE id=? AND draw_id=?`,
		res.ContactStatus, nullable(res.ContactNote), nullable(res.ContactedBy), nullableStringPtr(res.ContactedAt), res.UpdatedAt, res.ID, res.DrawID)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
