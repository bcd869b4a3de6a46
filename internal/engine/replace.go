package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"expertdraw/internal/domain"
	"expertdraw/internal/events"
	"expertdraw/internal/ledger"
)

// WarningNoBackupAvailable marks a contact update that left an unavailable
// primary unfilled.
const WarningNoBackupAvailable = "no_backup_available"

type ReplaceOptions struct {
	DrawID         string
	BackupResultID string
	// PrimaryResultID names the outgoing primary. Empty picks the
	// lowest-ordinal primary flagged declined or unreachable.
	PrimaryResultID string
	ActorID         string
}

// Replacement is the committed outcome of a promotion.
type Replacement struct {
	Promoted   domain.DrawResult `json:"promoted"`
	Superseded domain.DrawResult `json:"superseded"`
}

// Replace promotes a backup into a vacated primary slot.
func (e Engine) Replace(ctx context.Context, opts ReplaceOptions) (Replacement, error) {
	var out Replacement
	err := e.mutate(ctx, opts.DrawID, func() error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		d, err := e.Repo.GetDraw(ctx, tx, opts.DrawID)
		if err != nil {
			return err
		}
		if d.Status != domain.StatusExecuted {
			return domain.StateError{Op: "replace results of", Status: d.Status}
		}
		rows, err := e.Repo.ListResults(ctx, tx, opts.DrawID)
		if err != nil {
			return err
		}
		p, err := ledger.PlanPromotion(rows, opts.BackupResultID, opts.PrimaryResultID, e.stamp())
		if err != nil {
			return err
		}
		if err := e.promote(ctx, tx, d, rows, p, "manual", opts.ActorID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		out = Replacement{Promoted: p.Incoming, Superseded: p.Outgoing}
		return nil
	})
	if err != nil {
		return Replacement{}, err
	}
	pair := []domain.DrawResult{out.Promoted, out.Superseded}
	if err := e.attachExperts(ctx, pair); err == nil {
		out.Promoted, out.Superseded = pair[0], pair[1]
	}
	e.Metrics.Replaced("manual")
	e.log().Info("backup promoted", "draw_id", opts.DrawID, "promoted", out.Promoted.ID, "superseded", out.Superseded.ID, "mode", "manual")
	return out, nil
}

type ContactOptions struct {
	DrawID      string
	ResultID    string
	Status      string
	Note        string
	AutoReplace bool
	ActorID     string
}

// ContactUpdate is the outcome of UpdateContact. Warning is set, and
// Promoted left nil, when an unavailable primary could not be refilled.
type ContactUpdate struct {
	Result   domain.DrawResult  `json:"result"`
	Promoted *domain.DrawResult `json:"promoted,omitempty"`
	Warning  string             `json:"warning,omitempty"`
}

// NoBackup reports whether the update surfaced NoBackupAvailable.
func (c ContactUpdate) NoBackup() bool { return c.Warning == WarningNoBackupAvailable }

// Err returns the non-fatal condition carried by Warning, or nil.
func (c ContactUpdate) Err() error {
	if c.NoBackup() {
		return fmt.Errorf("%w: result %s was not replaced", domain.ErrNoBackupAvailable, c.Result.ID)
	}
	return nil
}

// UpdateContact records a contact status. With AutoReplace, an active
// primary reported declined or unreachable is replaced by the next
// available backup in the same transaction.
func (e Engine) UpdateContact(ctx context.Context, opts ContactOptions) (ContactUpdate, error) {
	status := strings.ToLower(strings.TrimSpace(opts.Status))
	if !domain.ValidContactStatus(status) {
		return ContactUpdate{}, validationError("unknown contact status %q", opts.Status)
	}
	var out ContactUpdate
	err := e.mutate(ctx, opts.DrawID, func() error {
		out = ContactUpdate{}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		d, err := e.Repo.GetDraw(ctx, tx, opts.DrawID)
		if err != nil {
			return err
		}
		if d.Status != domain.StatusExecuted {
			return domain.StateError{Op: "update contact of", Status: d.Status}
		}
		res, err := e.Repo.GetResult(ctx, tx, opts.DrawID, opts.ResultID)
		if err != nil {
			return err
		}
		now := e.stamp()
		prev := res.ContactStatus
		res.ContactStatus = status
		res.ContactNote = opts.Note
		res.ContactedBy = opts.ActorID
		res.ContactedAt = &now
		res.UpdatedAt = now
		if err := e.Repo.UpdateContact(ctx, tx, res); err != nil {
			return err
		}
		if err := e.events().Append(ctx, tx, events.ResultContactUpdated, d.ID, "result", res.ID, opts.ActorID, events.EventPayload{
			"from": prev, "to": status, "auto_replace": opts.AutoReplace,
		}); err != nil {
			return err
		}
		out.Result = res

		if opts.AutoReplace && domain.Unavailable(status) && res.ActivePrimary() {
			rows, err := e.Repo.ListResults(ctx, tx, d.ID)
			if err != nil {
				return err
			}
			backup, ok := ledger.NextBackup(rows)
			if !ok {
				out.Warning = WarningNoBackupAvailable
				if err := e.events().Append(ctx, tx, events.ResultNoBackup, d.ID, "result", res.ID, opts.ActorID, events.EventPayload{
					"ordinal": res.Ordinal,
				}); err != nil {
					return err
				}
				if err := e.Repo.TouchDraw(ctx, tx, d.ID, d.Version, now); err != nil {
					return err
				}
				return tx.Commit()
			}
			p, err := ledger.PlanPromotion(rows, backup.ID, res.ID, now)
			if err != nil {
				return err
			}
			if err := e.promote(ctx, tx, d, rows, p, "auto", opts.ActorID); err != nil {
				return err
			}
			out.Result = p.Outgoing
			promoted := p.Incoming
			out.Promoted = &promoted
			return tx.Commit()
		}
		if err := e.Repo.TouchDraw(ctx, tx, d.ID, d.Version, now); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return ContactUpdate{}, err
	}
	touched := []domain.DrawResult{out.Result}
	if out.Promoted != nil {
		touched = append(touched, *out.Promoted)
	}
	if err := e.attachExperts(ctx, touched); err == nil {
		out.Result = touched[0]
		if out.Promoted != nil {
			promoted := touched[1]
			out.Promoted = &promoted
		}
	}
	switch {
	case out.Promoted != nil:
		e.Metrics.Replaced("auto")
		e.log().Info("backup promoted", "draw_id", opts.DrawID, "promoted", out.Promoted.ID, "superseded", out.Result.ID, "mode", "auto")
	case out.NoBackup():
		e.Metrics.NoBackupAvailable()
		e.log().Warn("no backup available", "draw_id", opts.DrawID, "result_id", opts.ResultID)
	}
	return out, nil
}

// promote applies p, checks the resulting ledger and records the event.
// It also bumps the draw version so concurrent writers conflict.
func (e Engine) promote(ctx context.Context, tx *sql.Tx, d domain.DrawApplication, rows []domain.DrawResult, p ledger.Promotion, mode, actorID string) error {
	if err := ledger.Check(ledger.Apply(rows, p), d.ExpertCount, d.BackupCount, false); err != nil {
		return fmt.Errorf("ledger check: %w", err)
	}
	if err := e.Repo.ApplyPromotion(ctx, tx, p); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return err
		}
		return fmt.Errorf("apply promotion: %w", err)
	}
	if err := e.Repo.TouchDraw(ctx, tx, d.ID, d.Version, p.Incoming.UpdatedAt); err != nil {
		return err
	}
	return e.events().Append(ctx, tx, events.ResultReplaced, d.ID, "result", p.Incoming.ID, actorID, events.EventPayload{
		"mode":            mode,
		"promoted":        p.Incoming.ID,
		"promoted_expert": p.Incoming.ExpertID,
		"superseded":      p.Outgoing.ID,
		"ordinal":         p.Incoming.Ordinal,
	})
}
