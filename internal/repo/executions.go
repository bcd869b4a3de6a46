package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"expertdraw/internal/domain"
)

func (r Repo) InsertExecution(ctx context.Context, tx *sql.Tx, x domain.Execution) error {
	constraints, err := json.Marshal(x.Constraints)
	if err != nil {
		return fmt.Errorf("marshal constraints: %w", err)
	}
	// seeds use the full uint64 range, which SQLite integers cannot hold
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO executions(id,draw_id,seq,constraints_json,method,seed,pool_size,actor_id,executed_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		x.ID, x.DrawID, x.Seq, string(constraints), x.Method, strconv.FormatUint(x.Seed, 10), x.PoolSize, x.ActorID, x.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func scanExecution(s rowScanner) (domain.Execution, error) {
	var (
		x                 domain.Execution
		constraints, seed string
	)
	err := s.Scan(&x.ID, &x.DrawID, &x.Seq, &constraints, &x.Method, &seed, &x.PoolSize, &x.ActorID, &x.ExecutedAt)
	if err == sql.ErrNoRows {
		return x, ErrNotFound
	}
	if err != nil {
		return x, err
	}
	if err := json.Unmarshal([]byte(constraints), &x.Constraints); err != nil {
		return x, fmt.Errorf("decode constraints: %w", err)
	}
	if x.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return x, fmt.Errorf("decode seed: %w", err)
	}
	return x, nil
}

const executionColumns = `id,draw_id,seq,constraints_json,method,seed,pool_size,actor_id,executed_at`

// ListExecutions returns a draw's executions, oldest first.
func (r Repo) ListExecutions(ctx context.Context, drawID string) ([]domain.Execution, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE draw_id=? ORDER BY seq ASC`, drawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Execution
	for rows.Next() {
		x, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, x)
	}
	return res, rows.Err()
}

// NextExecutionSeq returns the sequence number the next execution of a draw gets.
func (r Repo) NextExecutionSeq(ctx context.Context, tx *sql.Tx, drawID string) (int, error) {
	var seq int
	if err := r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM executions WHERE draw_id=?`, drawID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}
