package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"expertdraw/internal/config"
	"expertdraw/internal/db"
	"expertdraw/internal/domain"
	"expertdraw/internal/engine"
	"expertdraw/internal/metrics"
	"expertdraw/internal/migrate"
	"expertdraw/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	admin  string
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Metrics = metrics.New()
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	admin, err := SignToken(testSecret, "alice", []string{"admin"}, nil, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		admin:  admin,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	if headers == nil {
		headers = map[string]string{"Authorization": "Bearer " + s.admin}
	}
	return doJSON(t, s.client, method, s.URL+path, body, headers)
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func (s *testServer) seedRoster(t *testing.T, n int) {
	t.Helper()
	var experts []map[string]any
	for i := 1; i <= n; i++ {
		experts = append(experts, map[string]any{
			"id":              fmt.Sprintf("e%02d", i),
			"name":            fmt.Sprintf("Expert %d", i),
			"organization_id": fmt.Sprintf("org-%d", i),
			"category":        "civil",
			"phone":           fmt.Sprintf("555-01%02d", i),
		})
	}
	res, body := s.do(t, http.MethodPost, "/v0/experts", map[string]any{"experts": experts}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import experts: %d %s", res.StatusCode, body)
	}
}

func (s *testServer) createDraw(t *testing.T, experts, backups int) domain.DrawApplication {
	t.Helper()
	res, body := s.do(t, http.MethodPost, "/v0/draws", map[string]any{
		"category":     "civil",
		"project_name": "Bridge",
		"expert_count": experts,
		"backup_count": backups,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create draw: %d %s", res.StatusCode, body)
	}
	var d domain.DrawApplication
	if err := json.Unmarshal(body, &d); err != nil {
		t.Fatal(err)
	}
	return d
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, body []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode error %s: %v", body, err)
	}
	return env
}

func TestDrawExecuteAndAutoReplace(t *testing.T) {
	srv := newTestServer(t)
	srv.seedRoster(t, 6)
	d := srv.createDraw(t, 2, 1)

	res, body := srv.do(t, http.MethodPost, "/v0/draws/"+d.ID+"/execute", map[string]any{"seed": 7}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("execute: %d %s", res.StatusCode, body)
	}
	var out engine.ExecutionOutcome
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Draw.Status != domain.StatusExecuted || out.Execution.Seed != 7 || len(out.Results) != 3 {
		t.Fatalf("unexpected outcome: %s", body)
	}

	res, body = srv.do(t, http.MethodGet, "/v0/draws/"+d.ID+"/results?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("results: %d %s", res.StatusCode, body)
	}
	var page engine.ResultPage
	_ = json.Unmarshal(body, &page)
	if len(page.Items) != 2 || page.NextCursor == "" || page.Items[0].IsBackup {
		t.Fatalf("unexpected page: %s", body)
	}
	primary := page.Items[0]

	res, body = srv.do(t, http.MethodPut, "/v0/draws/"+d.ID+"/results/"+primary.ID+"/contact", map[string]any{
		"status":       "declined",
		"auto_replace": true,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("contact: %d %s", res.StatusCode, body)
	}
	var contact ContactResponse
	_ = json.Unmarshal(body, &contact)
	if contact.Promoted == nil || contact.Promoted.Ordinal != primary.Ordinal || contact.Warning != "" {
		t.Fatalf("expected promotion: %s", body)
	}

	res, body = srv.do(t, http.MethodGet, "/v0/draws/"+d.ID+"/sign-in-sheet?format=csv", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.HasPrefix(res.Header.Get("Content-Type"), "text/csv") {
		t.Fatalf("sign-in sheet: %d %s", res.StatusCode, res.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), contact.Promoted.Expert.Name) {
		t.Fatalf("promoted expert missing from sheet:\n%s", body)
	}

	res, body = srv.do(t, http.MethodGet, "/v0/draws/"+d.ID+"/events?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, body)
	}
	var evts paginatedEvents
	_ = json.Unmarshal(body, &evts)
	if len(evts.Items) != 2 || evts.Items[0].Type != "result.replaced" || evts.NextCursor == "" {
		t.Fatalf("unexpected events: %s", body)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(t)
	srv.seedRoster(t, 2)
	d := srv.createDraw(t, 2, 1)

	res, body := srv.do(t, http.MethodPost, "/v0/draws/"+d.ID+"/execute", nil, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, body)
	}
	env := decodeError(t, body)
	if env.Error.Code != "insufficient_candidates" || env.Error.Details["available"] != float64(2) || env.Error.Details["required"] != float64(3) {
		t.Fatalf("unexpected envelope: %s", body)
	}

	res, body = srv.do(t, http.MethodPost, "/v0/draws/"+d.ID+"/replace", map[string]any{"backup_result_id": "x"}, nil)
	if res.StatusCode != http.StatusConflict || decodeError(t, body).Error.Code != "invalid_state" {
		t.Fatalf("replace on pending: %d %s", res.StatusCode, body)
	}

	res, body = srv.do(t, http.MethodGet, "/v0/draws/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound || decodeError(t, body).Error.Code != "not_found" {
		t.Fatalf("missing draw: %d %s", res.StatusCode, body)
	}

	res, body = srv.do(t, http.MethodPost, "/v0/draws", map[string]any{"category": "civil", "expert_count": 0}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero expert_count: %d %s", res.StatusCode, body)
	}
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t)

	res, _ := srv.do(t, http.MethodGet, "/v0/health", nil, map[string]string{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open: %d", res.StatusCode)
	}
	res, body := srv.do(t, http.MethodGet, "/v0/draws", nil, map[string]string{})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, body)
	}
	res, _ = srv.do(t, http.MethodGet, "/v0/draws", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token accepted: %d", res.StatusCode)
	}

	viewer, err := SignToken(testSecret, "victor", []string{"viewer"}, nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	res, body = srv.do(t, http.MethodPost, "/v0/draws", map[string]any{"category": "civil", "expert_count": 1}, map[string]string{"Authorization": "Bearer " + viewer})
	if res.StatusCode != http.StatusForbidden || decodeError(t, body).Error.Details["permission"] != "draw.write" {
		t.Fatalf("viewer create: %d %s", res.StatusCode, body)
	}

	key := "secret-key"
	if err := srv.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID: "k1", ActorID: "bot", Roles: []string{"operator"}, KeyHash: repo.HashAPIKey(key),
	}); err != nil {
		t.Fatal(err)
	}
	res, body = srv.do(t, http.MethodGet, "/v0/draws", nil, map[string]string{"X-Api-Key": key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key: %d %s", res.StatusCode, body)
	}
	res, _ = srv.do(t, http.MethodGet, "/v0/draws", nil, map[string]string{"X-Actor-Id": "legacy"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("legacy header must be opt-in: %d", res.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.seedRoster(t, 3)
	d := srv.createDraw(t, 1, 0)
	if res, body := srv.do(t, http.MethodPost, "/v0/draws/"+d.ID+"/execute", nil, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("execute: %d %s", res.StatusCode, body)
	}
	res, body := srv.do(t, http.MethodGet, "/metrics", nil, map[string]string{})
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), `expertdraw_executions_total{method="random"} 1`) {
		t.Fatalf("metrics: %d\n%s", res.StatusCode, body)
	}
}

func TestWebhookDeliversMatchingEvents(t *testing.T) {
	var mu sync.Mutex
	var got []webhookEvent
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	}))
	defer hook.Close()

	srv := newTestServer(t)
	srv.Engine.Config.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"draw.created"}}}
	d := newWebhookDispatcher(srv.Engine, nil)
	ctx := context.Background()
	d.dispatchAll(ctx)

	srv.seedRoster(t, 1)
	created := srv.createDraw(t, 1, 0)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Type != "draw.created" || got[0].DrawID != created.ID {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}
