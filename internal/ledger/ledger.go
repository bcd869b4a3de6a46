// Package ledger holds the ordering and invariants of a draw's result rows.
// It is pure: storage applies what these functions compute.
package ledger

import (
	"cmp"
	"fmt"
	"slices"

	"expertdraw/internal/domain"
)

// Sort orders rows in place: active primaries by ordinal, active backups by
// ordinal, then superseded rows by ordinal.
func Sort(rows []domain.DrawResult) {
	slices.SortStableFunc(rows, func(a, b domain.DrawResult) int {
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Ordinal, b.Ordinal); c != 0 {
			return c
		}
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func rank(r domain.DrawResult) int {
	switch {
	case r.Active() && !r.IsBackup:
		return 0
	case r.Active():
		return 1
	default:
		return 2
	}
}

// ActiveView returns the sorted active rows. The input is not modified.
func ActiveView(rows []domain.DrawResult) []domain.DrawResult {
	out := make([]domain.DrawResult, 0, len(rows))
	for _, r := range rows {
		if r.Active() {
			out = append(out, r)
		}
	}
	Sort(out)
	return out
}

// Partition splits the active view into primaries and backups.
func Partition(rows []domain.DrawResult) (primaries, backups []domain.DrawResult) {
	for _, r := range ActiveView(rows) {
		if r.IsBackup {
			backups = append(backups, r)
		} else {
			primaries = append(primaries, r)
		}
	}
	return primaries, backups
}

// Build creates the rows of a fresh ledger from an ordered selection.
func Build(drawID, executionID string, primaries, backups []string, now string, newID func() string) []domain.DrawResult {
	rows := make([]domain.DrawResult, 0, len(primaries)+len(backups))
	add := func(ids []string, backup bool) {
		for i, expertID := range ids {
			rows = append(rows, domain.DrawResult{
				ID:            newID(),
				DrawID:        drawID,
				ExecutionID:   executionID,
				ExpertID:      expertID,
				IsBackup:      backup,
				Ordinal:       i + 1,
				State:         domain.ResultActive,
				ContactStatus: domain.ContactUnset,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
		}
	}
	add(primaries, false)
	add(backups, true)
	return rows
}

// Check validates the ledger invariants. A fresh ledger must additionally
// hold the contiguous backup sequence 1..backupCount; after promotions the
// remaining backups keep their original ordinals.
func Check(rows []domain.DrawResult, expertCount, backupCount int, fresh bool) error {
	experts := make(map[string]struct{}, len(rows))
	primaryOrd := make(map[int]struct{}, expertCount)
	backupOrd := make(map[int]struct{}, backupCount)
	for _, r := range rows {
		if _, dup := experts[r.ExpertID]; dup {
			return fmt.Errorf("expert %s appears twice in draw %s", r.ExpertID, r.DrawID)
		}
		experts[r.ExpertID] = struct{}{}
		if !r.Active() {
			if r.IsBackup {
				return fmt.Errorf("result %s: superseded rows must be primaries", r.ID)
			}
			continue
		}
		if r.IsBackup {
			if r.Ordinal < 1 || r.Ordinal > backupCount {
				return fmt.Errorf("result %s: backup ordinal %d out of range", r.ID, r.Ordinal)
			}
			if _, dup := backupOrd[r.Ordinal]; dup {
				return fmt.Errorf("backup ordinal %d used twice", r.Ordinal)
			}
			backupOrd[r.Ordinal] = struct{}{}
			continue
		}
		if r.Ordinal < 1 || r.Ordinal > expertCount {
			return fmt.Errorf("result %s: primary ordinal %d out of range", r.ID, r.Ordinal)
		}
		if _, dup := primaryOrd[r.Ordinal]; dup {
			return fmt.Errorf("primary ordinal %d used twice", r.Ordinal)
		}
		primaryOrd[r.Ordinal] = struct{}{}
	}
	if len(primaryOrd) != expertCount {
		return fmt.Errorf("expected %d active primaries, found %d", expertCount, len(primaryOrd))
	}
	if fresh && len(backupOrd) != backupCount {
		return fmt.Errorf("expected %d backups, found %d", backupCount, len(backupOrd))
	}
	return nil
}

// Find returns the row with the given id.
func Find(rows []domain.DrawResult, id string) (domain.DrawResult, bool) {
	for _, r := range rows {
		if r.ID == id {
			return r, true
		}
	}
	return domain.DrawResult{}, false
}

// FlaggedPrimary returns the lowest-ordinal active primary whose contact
// status marks it unavailable.
func FlaggedPrimary(rows []domain.DrawResult) (domain.DrawResult, bool) {
	primaries, _ := Partition(rows)
	for _, r := range primaries {
		if domain.Unavailable(r.ContactStatus) {
			return r, true
		}
	}
	return domain.DrawResult{}, false
}

// NextBackup returns the lowest-ordinal active backup not itself marked
// unavailable.
func NextBackup(rows []domain.DrawResult) (domain.DrawResult, bool) {
	_, backups := Partition(rows)
	for _, r := range backups {
		if !domain.Unavailable(r.ContactStatus) {
			return r, true
		}
	}
	return domain.DrawResult{}, false
}

// Promotion is the pair of row updates that moves a backup into a vacated
// primary slot.
type Promotion struct {
	Outgoing domain.DrawResult
	Incoming domain.DrawResult
}

// PlanPromotion computes the promotion of backupID into the slot of
// outgoingID. An empty outgoingID selects the flagged primary.
func PlanPromotion(rows []domain.DrawResult, backupID, outgoingID, now string) (Promotion, error) {
	backup, ok := Find(rows, backupID)
	if !ok {
		return Promotion{}, fmt.Errorf("%w: result %s not in draw", domain.ErrInvalidReplacementTarget, backupID)
	}
	if !backup.Active() || !backup.IsBackup {
		return Promotion{}, fmt.Errorf("%w: result %s is not an unpromoted backup", domain.ErrInvalidReplacementTarget, backupID)
	}
	var outgoing domain.DrawResult
	if outgoingID != "" {
		outgoing, ok = Find(rows, outgoingID)
		if !ok || !outgoing.ActivePrimary() {
			return Promotion{}, fmt.Errorf("%w: result %s is not an active primary", domain.ErrInvalidReplacementTarget, outgoingID)
		}
	} else {
		outgoing, ok = FlaggedPrimary(rows)
		if !ok {
			return Promotion{}, fmt.Errorf("%w: no primary is flagged for replacement", domain.ErrInvalidReplacementTarget)
		}
	}

	outgoing.State = domain.ResultSuperseded
	outgoing.SupersededBy = &backup.ID
	outgoing.UpdatedAt = now

	backup.IsBackup = false
	backup.IsReplacement = true
	backup.Ordinal = outgoing.Ordinal
	backup.ReplacedResultID = &outgoing.ID
	backup.UpdatedAt = now
	return Promotion{Outgoing: outgoing, Incoming: backup}, nil
}

// Apply returns a copy of rows with the promotion applied.
func Apply(rows []domain.DrawResult, p Promotion) []domain.DrawResult {
	out := slices.Clone(rows)
	for i := range out {
		switch out[i].ID {
		case p.Outgoing.ID:
			out[i] = p.Outgoing
		case p.Incoming.ID:
			out[i] = p.Incoming
		}
	}
	return out
}
