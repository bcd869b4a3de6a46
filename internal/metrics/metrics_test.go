package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	m := New()
	m.ExecutionSucceeded("random", 12)
	m.ExecutionSucceeded("random", 3)
	m.ExecutionFailed("insufficient_candidates")
	m.Replaced("auto")
	m.NoBackupAvailable()
	m.LockConflict()

	if got := testutil.ToFloat64(m.Executions.WithLabelValues("random")); got != 2 {
		t.Fatalf("executions %v", got)
	}
	if got := testutil.ToFloat64(m.ExecutionFailures.WithLabelValues("insufficient_candidates")); got != 1 {
		t.Fatalf("failures %v", got)
	}
	if got := testutil.ToFloat64(m.Replacements.WithLabelValues("auto")); got != 1 {
		t.Fatalf("replacements %v", got)
	}
	if testutil.ToFloat64(m.NoBackup) != 1 || testutil.ToFloat64(m.LockConflicts) != 1 {
		t.Fatalf("counters not incremented")
	}
	if n := testutil.CollectAndCount(m.PoolSize); n != 1 {
		t.Fatalf("pool size histogram count %d", n)
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.ExecutionSucceeded("random", 1)
	m.Replaced("manual")
	m.LockConflict()
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Replaced("manual")
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `expertdraw_replacements_total{mode="manual"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", body)
	}
}
