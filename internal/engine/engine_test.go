package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"expertdraw/internal/config"
	"expertdraw/internal/db"
	"expertdraw/internal/domain"
	"expertdraw/internal/engine"
	"expertdraw/internal/metrics"
	"expertdraw/internal/migrate"
	"expertdraw/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Metrics = metrics.New()
	var seed uint64
	var mu sync.Mutex
	eng.Seed = func() uint64 {
		mu.Lock()
		defer mu.Unlock()
		seed++
		return seed
	}
	ctx := context.Background()
	if _, err := eng.ImportExperts(ctx, roster(20), "tester"); err != nil {
		t.Fatalf("import roster: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func roster(n int) []domain.Expert {
	out := make([]domain.Expert, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.Expert{
			ID:             fmt.Sprintf("e%02d", i),
			Name:           fmt.Sprintf("Expert %d", i),
			OrganizationID: fmt.Sprintf("org-%d", i%5),
			Organization:   fmt.Sprintf("Org %d", i%5),
			Category:       "engineering",
			Region:         []string{"north", "south"}[i%2],
			Title:          []string{"senior", "junior"}[i%2],
			Phone:          fmt.Sprintf("555-01%02d", i),
			IsActive:       true,
		})
	}
	return out
}

func (env testEnv) draw(t *testing.T, experts, backups int, mut ...func(*engine.DrawInput)) domain.DrawApplication {
	t.Helper()
	in := engine.DrawInput{Category: "engineering", ExpertCount: experts, BackupCount: backups}
	for _, m := range mut {
		m(&in)
	}
	d, err := env.Engine.CreateDraw(env.Ctx, in, "tester")
	if err != nil {
		t.Fatalf("create draw: %v", err)
	}
	return d
}

func (env testEnv) execute(t *testing.T, drawID string) engine.ExecutionOutcome {
	t.Helper()
	out, err := env.Engine.Execute(env.Ctx, drawID, engine.ExecuteOptions{ActorID: "tester"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return out
}

func (env testEnv) active(t *testing.T, drawID string) (primaries, backups []domain.DrawResult) {
	t.Helper()
	page, err := env.Engine.ListResults(env.Ctx, drawID, engine.ListOptions{})
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	for _, r := range page.Items {
		if r.IsBackup {
			backups = append(backups, r)
		} else {
			primaries = append(primaries, r)
		}
	}
	return primaries, backups
}

func ordinals(rows []domain.DrawResult) []int {
	var out []int
	for _, r := range rows {
		out = append(out, r.Ordinal)
	}
	return out
}

func TestExecuteProducesDisjointContiguousLedger(t *testing.T) {
	env := newTestEnv(t)
	d := env.draw(t, 4, 3)
	out := env.execute(t, d.ID)
	if out.Draw.Status != domain.StatusExecuted || out.Execution.Seq != 1 {
		t.Fatalf("unexpected outcome %+v", out.Draw)
	}
	primaries, backups := env.active(t, d.ID)
	if !slices.Equal(ordinals(primaries), []int{1, 2, 3, 4}) || !slices.Equal(ordinals(backups), []int{1, 2, 3}) {
		t.Fatalf("ordinals not contiguous: %v / %v", ordinals(primaries), ordinals(backups))
	}
	seen := map[string]bool{}
	for _, r := range append(primaries, backups...) {
		if seen[r.ExpertID] {
			t.Fatalf("expert %s drawn twice", r.ExpertID)
		}
		seen[r.ExpertID] = true
		if r.Expert == nil || r.Expert.Phone == "" {
			t.Fatalf("expert contact not attached to %s", r.ID)
		}
	}
	if got := testutil.ToFloat64(env.Engine.Metrics.Executions.WithLabelValues("random")); got != 1 {
		t.Fatalf("execution metric %v", got)
	}
}

func TestExecuteNeverSelectsAvoided(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		d := env.draw(t, 3, 3, func(in *engine.DrawInput) {
			in.AvoidUnits = "org-1; Org 2"
			in.AvoidPersons = "e05, Expert 10"
		})
		env.execute(t, d.ID)
		primaries, backups := env.active(t, d.ID)
		for _, r := range append(primaries, backups...) {
			org := r.Expert.OrganizationID
			if org == "org-1" || org == "org-2" || r.ExpertID == "e05" || r.ExpertID == "e10" {
				t.Fatalf("avoided expert selected: %+v", r.Expert)
			}
		}
	}
}

func TestReExecutionReplacesLedger(t *testing.T) {
	env := newTestEnv(t)
	d := env.draw(t, 2, 2)
	first := env.execute(t, d.ID)
	second := env.execute(t, d.ID)
	if second.Execution.Seq != 2 || second.Draw.Status != domain.StatusExecuted {
		t.Fatalf("unexpected second execution %+v", second.Execution)
	}
	page, err := env.Engine.ListResults(env.Ctx, d.ID, engine.ListOptions{IncludeSuperseded: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 4 {
		t.Fatalf("expected exactly the new ledger, got %d rows", len(page.Items))
	}
	old := map[string]bool{}
	for _, r := range first.Results {
		old[r.ID] = true
	}
	for _, r := range page.Items {
		if old[r.ID] || r.ExecutionID != second.Execution.ID {
			t.Fatalf("residual row from prior execution: %+v", r)
		}
	}
	if len(second.Superseded) != 4 {
		t.Fatalf("superseded ids not reported: %v", second.Superseded)
	}
	evts, err := env.Engine.DrawEvents(env.Ctx, d.ID, 1, 0)
	if err != nil || len(evts) != 1 || evts[0].Type != "draw.executed" {
		t.Fatalf("latest event: %+v %v", evts, err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(evts[0].Payload), &payload); err != nil {
		t.Fatal(err)
	}
	if ids, _ := payload["superseded_result_ids"].([]any); len(ids) != 4 {
		t.Fatalf("payload missing prior ids: %v", payload)
	}
}

func TestExecuteDeterministicForFixedSeed(t *testing.T) {
	env := newTestEnv(t)
	seed := uint64(99)
	pick := func() []string {
		d := env.draw(t, 3, 2)
		out, err := env.Engine.Execute(env.Ctx, d.ID, engine.ExecuteOptions{Seed: &seed, ActorID: "tester"})
		if err != nil {
			t.Fatal(err)
		}
		if out.Execution.Seed != seed {
			t.Fatalf("seed not recorded")
		}
		var ids []string
		for _, r := range out.Results {
			ids = append(ids, r.ExpertID)
		}
		return ids
	}
	a, b := pick(), pick()
	if !slices.Equal(a, b) {
		t.Fatalf("same seed gave %v and %v", a, b)
	}
}

func TestManualReplaceOnePrimaryTwoBackups(t *testing.T) {
	env := newTestEnv(t)
	d := env.draw(t, 1, 2)
	env.execute(t, d.ID)
	primaries, backups := env.active(t, d.ID)
	outgoing, b1, b2 := primaries[0], backups[0], backups[1]

	if _, err := env.Engine.UpdateContact(env.Ctx, engine.ContactOptions{DrawID: d.ID, ResultID: outgoing.ID, Status: domain.ContactDeclined, ActorID: "tester"}); err != nil {
		t.Fatalf("flag primary: %v", err)
	}
	rep, err := env.Engine.Replace(env.Ctx, engine.ReplaceOptions{DrawID: d.ID, BackupResultID: b1.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if rep.Superseded.ID != outgoing.ID {
		t.Fatalf("wrong primary superseded: %s", rep.Superseded.ID)
	}
	primaries, backups = env.active(t, d.ID)
	if len(primaries) != 1 || primaries[0].ID != b1.ID || !primaries[0].IsReplacement || primaries[0].Ordinal != 1 {
		t.Fatalf("backup not promoted: %+v", primaries)
	}
	if len(backups) != 1 || backups[0].ID != b2.ID || backups[0].Ordinal != 2 || backups[0].IsReplacement {
		t.Fatalf("backup 2 disturbed: %+v", backups)
	}
	old, err := env.Engine.GetResult(env.Ctx, d.ID, outgoing.ID)
	if err != nil || old.State != domain.ResultSuperseded || old.SupersededBy == nil || *old.SupersededBy != b1.ID {
		t.Fatalf("superseded row not retained: %+v %v", old, err)
	}
	if _, err := env.Engine.Replace(env.Ctx, engine.ReplaceOptions{DrawID: d.ID, BackupResultID: b1.ID, PrimaryResultID: b1.ID}); !errors.Is(err, domain.ErrInvalidReplacementTarget) {
		t.Fatalf("promoted backup accepted again: %v", err)
	}
}

func TestReplaceNeedsOutgoingPrimary(t *testing.T) {
	env := newTestEnv(t)
	d := env.draw(t, 2, 1)
	env.execute(t, d.ID)
	primaries, backups := env.active(t, d.ID)
	_, err := env.Engine.Replace(env.Ctx, engine.ReplaceOptions{DrawID: d.ID, BackupResultID: backups[0].ID})
	if !errors.Is(err, domain.ErrInvalidReplacementTarget) {
		t.Fatalf("expected invalid target without flagged primary, got %v", err)
	}
	rep, err := env.Engine.Replace(env.Ctx, engine.ReplaceOptions{DrawID: d.ID, BackupResultID: backups[0].ID, PrimaryResultID: primaries[1].ID})
	if err != nil {
		t.Fatalf("explicit replace: %v", err)
	}
	if rep.Promoted.Ordinal != 2 {
		t.Fatalf("promoted into wrong slot: %d", rep.Promoted.Ordinal)
	}
}

func TestReplaceBeforeExecutionIsInvalidState(t *testing.T) {
	env := newTestEnv(t)
	d := env.draw(t, 1, 1)
	_, err := env.Engine.Replace(env.Ctx, engine.ReplaceOptions{DrawID: d.ID, BackupResultID: "x"})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestAutoReplaceOnDecline(t *testing.T) {
	env := newTestEnv(t)
	d := env.draw(t, 3, 2)
	env.execute(t, d.ID)
	primaries, backups := env.active(t, d.ID)
	// the first backup is unreachable, so the second one steps in
	if _, err := env.Engine.UpdateContact(env.Ctx, engine.ContactOptions{DrawID: d.ID, ResultID: backups[0].ID, Status: domain.ContactUnreachable}); err != nil {
		t.Fatal(err)
	}
	upd, err := env.Engine.UpdateContact(env.Ctx, engine.ContactOptions{
		DrawID: d.ID, ResultID: primaries[1].ID, Status: "declined", AutoReplace: true, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("update contact: %v", err)
	}
	if upd.Promoted == nil || upd.Promoted.ID != backups[1].ID || upd.Err() != nil {
		t.Fatalf("unexpected promotion %+v", upd)
	}
	after, _ := env.active(t, d.ID)
	if len(after) != d.ExpertCount || !slices.Equal(ordinals(after), []int{1, 2, 3}) {
		t.Fatalf("active primaries changed shape: %v", ordinals(after))
	}
	if after[1].ID != backups[1].ID || !after[1].IsReplacement {
		t.Fatalf("slot 2 not refilled: %+v", after[1])
	}
	if got := testutil.ToFloat64(env.Engine.Metrics.Replacements.WithLabelValues("auto")); got != 1 {
		t.Fatalf("replacement metric %v", got)
	}
}

func TestAutoReplaceWithoutBackupWarns(t *testing.T) {
	env := newTestEnv(t)
	d := env.draw(t, 2, 0)
	env.execute(t, d.ID)
	before, _ := env.active(t, d.ID)
	upd, err := env.Engine.UpdateContact(env.Ctx, engine.ContactOptions{
		DrawID: d.ID, ResultID: before[0].ID, Status: domain.ContactDeclined, AutoReplace: true,
	})
	if err != nil {
		t.Fatalf("contact update should succeed: %v", err)
	}
	if !upd.NoBackup() || upd.Promoted != nil {
		t.Fatalf("expected no-backup warning, got %+v", upd)
	}
	if !errors.Is(upd.Err(), domain.ErrNoBackupAvailable) {
		t.Fatalf("warning not tied to ErrNoBackupAvailable: %v", upd.Err())
	}
	after, _ := env.active(t, d.ID)
	if len(after) != 2 {
		t.Fatalf("ledger changed: %+v", after)
	}
	for i := range after {
		if after[i].ID != before[i].ID || after[i].State != domain.ResultActive {
			t.Fatalf("row %d changed", i)
		}
	}
	if after[0].ContactStatus != domain.ContactDeclined {
		t.Fatalf("contact status not written")
	}
}

func TestConcurrentReplaceSameSlot(t *testing.T) {
	env := newTestEnv(t)
	d := env.draw(t, 2, 2)
	env.execute(t, d.ID)
	primaries, backups := env.active(t, d.ID)
	if _, err := env.Engine.UpdateContact(env.Ctx, engine.ContactOptions{DrawID: d.ID, ResultID: primaries[0].ID, Status: domain.ContactDeclined}); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.Replace(env.Ctx, engine.ReplaceOptions{DrawID: d.ID, BackupResultID: backups[i].ID})
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInvalidReplacementTarget), errors.Is(err, domain.ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one promotion, got %d (%v)", ok, errs)
	}
	after, _ := env.active(t, d.ID)
	if len(after) != 2 {
		t.Fatalf("primary count changed: %d", len(after))
	}
}

func TestInsufficientCandidatesLeavesDrawUntouched(t *testing.T) {
	env := newTestEnv(t)
	d := env.draw(t, 8, 3, func(in *engine.DrawInput) { in.Titles = []string{"senior"} })
	_, err := env.Engine.Execute(env.Ctx, d.ID, engine.ExecuteOptions{})
	var ic domain.InsufficientCandidatesError
	if !errors.As(err, &ic) || ic.Available != 10 || ic.Required != 11 {
		t.Fatalf("expected shortfall 10/11, got %v", err)
	}
	got, _ := env.Engine.GetDraw(env.Ctx, d.ID)
	if got.Status != domain.StatusPending || got.Version != d.Version {
		t.Fatalf("draw changed: %+v", got)
	}
	page, _ := env.Engine.ListResults(env.Ctx, d.ID, engine.ListOptions{IncludeSuperseded: true})
	if len(page.Items) != 0 {
		t.Fatalf("rows created: %d", len(page.Items))
	}
	if got := testutil.ToFloat64(env.Engine.Metrics.ExecutionFailures.WithLabelValues("insufficient_candidates")); got != 1 {
		t.Fatalf("failure metric %v", got)
	}
}

type stuckRoster struct{ release chan struct{} }

func (s stuckRoster) ListExperts(ctx context.Context, _ domain.RosterFilter) ([]domain.Expert, error) {
	<-s.release
	return nil, nil
}

func TestRosterTimeoutCommitsNothing(t *testing.T) {
	env := newTestEnv(t)
	d := env.draw(t, 1, 0)
	stuck := stuckRoster{release: make(chan struct{})}
	defer close(stuck.release)
	env.Engine.Roster = stuck
	_, err := env.Engine.Execute(env.Ctx, d.ID, engine.ExecuteOptions{Timeout: 20 * time.Millisecond})
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	got, _ := env.Engine.GetDraw(env.Ctx, d.ID)
	if got.Status != domain.StatusPending || got.ExecutionID != nil {
		t.Fatalf("draw changed after timeout: %+v", got)
	}
}

func TestCancelIsHardGate(t *testing.T) {
	env := newTestEnv(t)
	d := env.draw(t, 2, 1)
	env.execute(t, d.ID)
	primaries, backups := env.active(t, d.ID)
	if _, err := env.Engine.Cancel(env.Ctx, d.ID, "tester"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.Engine.UpdateContact(env.Ctx, engine.ContactOptions{DrawID: d.ID, ResultID: primaries[0].ID, Status: "declined", AutoReplace: true}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("contact update after cancel: %v", err)
	}
	if _, err := env.Engine.Replace(env.Ctx, engine.ReplaceOptions{DrawID: d.ID, BackupResultID: backups[0].ID, PrimaryResultID: primaries[0].ID}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("replace after cancel: %v", err)
	}
	if _, err := env.Engine.Execute(env.Ctx, d.ID, engine.ExecuteOptions{}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("execute after cancel: %v", err)
	}
	if _, err := env.Engine.Cancel(env.Ctx, d.ID, "tester"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("double cancel: %v", err)
	}
	p, _ := env.active(t, d.ID)
	if len(p) != 2 {
		t.Fatalf("ledger not retained after cancel")
	}
}

func TestLifecycleAndDeletion(t *testing.T) {
	env := newTestEnv(t)
	executed := env.draw(t, 1, 0)
	pending := env.draw(t, 1, 0)
	env.execute(t, executed.ID)

	if _, err := env.Engine.UpdateDraw(env.Ctx, executed.ID, engine.DrawPatch{ProjectName: ptr("x")}, "tester"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("update after execution: %v", err)
	}
	n := 2
	stale := pending.Version + 5
	if _, err := env.Engine.UpdateDraw(env.Ctx, pending.ID, engine.DrawPatch{ExpertCount: &n, IfVersion: &stale}, "tester"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale version accepted: %v", err)
	}
	upd, err := env.Engine.UpdateDraw(env.Ctx, pending.ID, engine.DrawPatch{ExpertCount: &n}, "tester")
	if err != nil || upd.ExpertCount != 2 || upd.Version != pending.Version+1 {
		t.Fatalf("update pending: %+v %v", upd, err)
	}
	res, err := env.Engine.BatchDeleteDraws(env.Ctx, []string{executed.ID, pending.ID, "missing"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if res.Deleted != 1 || res.Skipped != 2 || res.DeletedIDs[0] != pending.ID {
		t.Fatalf("unexpected batch result %+v", res)
	}
	if _, err := env.Engine.GetDraw(env.Ctx, pending.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deleted draw still present: %v", err)
	}
	if _, err := env.Engine.Complete(env.Ctx, executed.ID, "tester"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := env.Engine.Execute(env.Ctx, executed.ID, engine.ExecuteOptions{}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("execute completed draw: %v", err)
	}
}

func TestOversizedCountsAndNonFiniteWeightsRejected(t *testing.T) {
	env := newTestEnv(t)
	for _, in := range []engine.DrawInput{
		{Category: "engineering", ExpertCount: math.MaxInt, BackupCount: 1},
		{Category: "engineering", ExpertCount: 1, BackupCount: domain.MaxSlots + 1},
	} {
		if _, err := env.Engine.CreateDraw(env.Ctx, in, "tester"); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("counts %d+%d accepted: %v", in.ExpertCount, in.BackupCount, err)
		}
	}
	d := env.draw(t, 1, 0)
	huge := math.MaxInt
	if _, err := env.Engine.UpdateDraw(env.Ctx, d.ID, engine.DrawPatch{ExpertCount: &huge}, "tester"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("oversized update accepted: %v", err)
	}

	for _, w := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		bad := roster(1)
		bad[0].ID = "inf"
		bad[0].Weight = &w
		if _, err := env.Engine.ImportExperts(env.Ctx, bad, "tester"); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("weight %v accepted: %v", w, err)
		}
	}
	got, err := env.Engine.Repo.GetExperts(env.Ctx, []string{"inf"})
	if err != nil || len(got) != 0 {
		t.Fatalf("rejected expert was stored: %v %v", got, err)
	}
}

func TestRuleConstraintsAreSnapshotted(t *testing.T) {
	env := newTestEnv(t)
	rule, err := env.Engine.UpsertRule(env.Ctx, domain.Rule{Name: "seniors", Titles: []string{"senior"}, IsActive: true}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	d := env.draw(t, 3, 0, func(in *engine.DrawInput) { in.RuleID = rule.ID })
	out := env.execute(t, d.ID)
	for _, r := range out.Results {
		if r.Expert.Title != "senior" {
			t.Fatalf("rule title ignored: %+v", r.Expert)
		}
	}
	rule.Titles = []string{"junior"}
	if _, err := env.Engine.UpsertRule(env.Ctx, rule, "tester"); err != nil {
		t.Fatal(err)
	}
	xs, err := env.Engine.Executions(env.Ctx, d.ID)
	if err != nil || len(xs) != 1 {
		t.Fatalf("executions: %v", err)
	}
	if !slices.Equal(xs[0].Constraints.Titles, []string{"senior"}) || xs[0].Constraints.RuleID != rule.ID {
		t.Fatalf("snapshot followed the rule edit: %+v", xs[0].Constraints)
	}
	if _, err := env.Engine.CreateDraw(env.Ctx, engine.DrawInput{ExpertCount: 1, RuleID: "nope"}, "tester"); !errors.Is(err, domain.ErrRuleNotFound) {
		t.Fatalf("expected rule not found, got %v", err)
	}
}

func TestListResultsPaginates(t *testing.T) {
	env := newTestEnv(t)
	d := env.draw(t, 3, 2)
	env.execute(t, d.ID)
	var all []domain.DrawResult
	cursor := ""
	for {
		page, err := env.Engine.ListResults(env.Ctx, d.ID, engine.ListOptions{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(all) != 5 || all[2].IsBackup || !all[3].IsBackup {
		t.Fatalf("pages out of order: %d rows", len(all))
	}
}

func ptr[T any](v T) *T { return &v }
