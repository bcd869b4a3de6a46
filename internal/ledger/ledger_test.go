package ledger_test

import (
	"errors"
	"fmt"
	"testing"

	"expertdraw/internal/domain"
	"expertdraw/internal/ledger"
)

func idGen() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("r%d", n)
	}
}

func fresh() []domain.DrawResult {
	return ledger.Build("d1", "x1", []string{"a", "b", "c"}, []string{"d", "e"}, "2026-01-01T00:00:00Z", idGen())
}

func TestBuildProducesValidFreshLedger(t *testing.T) {
	rows := fresh()
	if err := ledger.Check(rows, 3, 2, true); err != nil {
		t.Fatalf("check: %v", err)
	}
	if rows[3].ID != "r4" || !rows[3].IsBackup || rows[3].Ordinal != 1 {
		t.Fatalf("unexpected first backup %+v", rows[3])
	}
}

func TestCheckRejectsBrokenLedgers(t *testing.T) {
	dup := fresh()
	dup[4].ExpertID = "a"
	if err := ledger.Check(dup, 3, 2, true); err == nil {
		t.Fatalf("duplicate expert accepted")
	}
	gap := fresh()
	gap[2].Ordinal = 2
	if err := ledger.Check(gap, 3, 2, true); err == nil {
		t.Fatalf("duplicate primary ordinal accepted")
	}
	short := fresh()[:4]
	if err := ledger.Check(short, 3, 2, true); err == nil {
		t.Fatalf("missing backup accepted on fresh ledger")
	}
	if err := ledger.Check(short, 3, 2, false); err != nil {
		t.Fatalf("partially consumed backups should pass: %v", err)
	}
}

func TestPlanPromotionUsesFlaggedPrimary(t *testing.T) {
	rows := fresh()
	rows[1].ContactStatus = domain.ContactDeclined
	p, err := ledger.PlanPromotion(rows, "r4", "", "2026-01-02T00:00:00Z")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if p.Outgoing.ID != "r2" || p.Outgoing.State != domain.ResultSuperseded || *p.Outgoing.SupersededBy != "r4" {
		t.Fatalf("unexpected outgoing %+v", p.Outgoing)
	}
	if p.Incoming.IsBackup || !p.Incoming.IsReplacement || p.Incoming.Ordinal != 2 || *p.Incoming.ReplacedResultID != "r2" {
		t.Fatalf("unexpected incoming %+v", p.Incoming)
	}
	after := ledger.Apply(rows, p)
	if err := ledger.Check(after, 3, 2, false); err != nil {
		t.Fatalf("ledger invalid after promotion: %v", err)
	}
	primaries, backups := ledger.Partition(after)
	if len(primaries) != 3 || len(backups) != 1 || primaries[1].ID != "r4" {
		t.Fatalf("active view wrong: %+v / %+v", primaries, backups)
	}
	if rows[1].State != domain.ResultActive {
		t.Fatalf("Apply must not mutate its input")
	}
}

func TestPlanPromotionRejections(t *testing.T) {
	rows := fresh()
	cases := map[string]struct {
		backup, outgoing string
	}{
		"no flagged primary":  {"r4", ""},
		"target is a primary": {"r1", "r2"},
		"outgoing is backup":  {"r4", "r5"},
		"unknown backup":      {"zz", "r1"},
	}
	for name, tc := range cases {
		_, err := ledger.PlanPromotion(rows, tc.backup, tc.outgoing, "now")
		if !errors.Is(err, domain.ErrInvalidReplacementTarget) {
			t.Fatalf("%s: expected invalid target, got %v", name, err)
		}
	}
	rows[0].ContactStatus = domain.ContactUnreachable
	p, _ := ledger.PlanPromotion(rows, "r4", "", "now")
	rows = ledger.Apply(rows, p)
	if _, err := ledger.PlanPromotion(rows, "r4", "r2", "now"); !errors.Is(err, domain.ErrInvalidReplacementTarget) {
		t.Fatalf("promoted backup reused: %v", err)
	}
}

func TestNextBackupSkipsUnavailable(t *testing.T) {
	rows := fresh()
	rows[3].ContactStatus = domain.ContactUnreachable
	b, ok := ledger.NextBackup(rows)
	if !ok || b.ID != "r5" {
		t.Fatalf("expected r5, got %+v %v", b, ok)
	}
	rows[4].ContactStatus = domain.ContactDeclined
	if _, ok := ledger.NextBackup(rows); ok {
		t.Fatalf("expected no backup")
	}
}

func TestSortOrdersActiveThenSuperseded(t *testing.T) {
	rows := fresh()
	rows[0].ContactStatus = domain.ContactDeclined
	p, _ := ledger.PlanPromotion(rows, "r5", "", "now")
	rows = ledger.Apply(rows, p)
	ledger.Sort(rows)
	want := []string{"r5", "r2", "r3", "r4", "r1"}
	for i, id := range want {
		if rows[i].ID != id {
			t.Fatalf("position %d: got %s want %s", i, rows[i].ID, id)
		}
	}
}
