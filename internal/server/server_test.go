package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"goalline/internal/config"
	"goalline/internal/db"
	"goalline/internal/domain"
	"goalline/internal/engine"
	"goalline/internal/migrate"
	"goalline/internal/repo"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
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

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func createTestGoal(t *testing.T, srv *testServer, body map[string]any) domain.Goal {
	t.Helper()
	payload := map[string]any{
		"name":         "Q1 revenue",
		"type":         "revenue",
		"start_date":   "2026-01-01T00:00:00Z",
		"end_date":     "2026-03-31T00:00:00Z",
		"target_value": 100.0,
	}
	for k, v := range body {
		payload[k] = v
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/goals", payload, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create goal status %d: %s", res.StatusCode, string(data))
	}
	var g domain.Goal
	if err := json.Unmarshal(data, &g); err != nil {
		t.Fatalf("unmarshal goal: %v", err)
	}
	return g
}

func TestGoalLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	g := createTestGoal(t, srv, nil)
	if g.Status != "draft" || g.CreatedBy != "tester" {
		t.Fatalf("created goal = %+v", g)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/goals/"+g.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get goal: %d %s", res.StatusCode, string(data))
	}

	// justification below the configured minimum
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals/"+g.ID+"/adjust", map[string]any{
		"new_progress":  40.0,
		"justification": "too short",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("short justification: %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "bad_request" {
		t.Fatalf("error code = %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals/"+g.ID+"/adjust", map[string]any{
		"new_progress":  40.0,
		"justification": "six deals closed this week",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("adjust: %d %s", res.StatusCode, string(data))
	}
	var adjusted domain.Goal
	_ = json.Unmarshal(data, &adjusted)
	if adjusted.CurrentProgress != 40 {
		t.Fatalf("progress = %f, want 40", adjusted.CurrentProgress)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals/"+g.ID+"/status", map[string]any{"status": "active"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activate: %d %s", res.StatusCode, string(data))
	}
	// draft -> completed was never allowed, active -> completed is
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals/"+g.ID+"/status", map[string]any{"status": "completed"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	var completed domain.Goal
	_ = json.Unmarshal(data, &completed)
	if completed.CurrentProgress != 100 {
		t.Fatalf("completion should top progress to target, got %f", completed.CurrentProgress)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/goals/"+g.ID+"/history", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, string(data))
	}
	var snaps []domain.ProgressSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(snaps) < 2 {
		t.Fatalf("history entries = %d, want adjust and completion snapshots", len(snaps))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/goals/"+g.ID+"/audit", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit: %d %s", res.StatusCode, string(data))
	}
	var entries []domain.AuditEntry
	_ = json.Unmarshal(data, &entries)
	if len(entries) < 3 {
		t.Fatalf("audit entries = %d, want create, progress_update and status changes", len(entries))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// health is exempt
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/health", nil)
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}

	// everything else is not
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v0/goals", nil)
	res, err = client.Do(req)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status = %d, want 401", res.StatusCode)
	}
}

func TestJWTAndAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	claims := jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/goals", nil, map[string]string{
		"Authorization": "Bearer " + token,
		"X-Actor-Id":    "",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt list: %d %s", res.StatusCode, string(data))
	}

	rawKey := uuid.NewString()
	if err := srv.Engine.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID:      uuid.NewString(),
		ActorID: "bob",
		KeyHash: repo.HashAPIKey(rawKey),
	}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/goals", nil, map[string]string{
		"X-Api-Key":  rawKey,
		"X-Actor-Id": "",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key list: %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/goals", nil, map[string]string{
		"X-Api-Key":  "not-a-key",
		"X-Actor-Id": "",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus api key status = %d, want 401", res.StatusCode)
	}
}

func TestBulkDeleteNeedsConfirmation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	g := createTestGoal(t, srv, nil)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals/bulk-delete", map[string]any{
		"goal_ids": []string{g.ID},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unconfirmed bulk delete: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals/bulk-delete", map[string]any{
		"goal_ids":     []string{g.ID, "missing"},
		"confirmation": true,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bulk delete: %d %s", res.StatusCode, string(data))
	}
	var result engine.BulkResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.TotalRequested != 2 || len(result.Succeeded) != 1 || len(result.Failed) != 1 {
		t.Fatalf("bulk result = %+v", result)
	}
}

func TestLinkParentConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	parent := createTestGoal(t, srv, map[string]any{"name": "company", "owner_type": "company"})
	child := createTestGoal(t, srv, map[string]any{"name": "team", "owner_type": "team"})

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals/"+child.ID+"/link-parent", map[string]any{
		"parent_goal_id": parent.ID,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("link: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/goals/"+parent.ID+"/link-parent", map[string]any{
		"parent_goal_id": child.ID,
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("cycle link: %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "cycle" {
		t.Fatalf("error code = %s, want cycle", code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/goals/"+parent.ID+"/hierarchy", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("hierarchy: %d %s", res.StatusCode, string(data))
	}
	var hier HierarchyResponse
	if err := json.Unmarshal(data, &hier); err != nil {
		t.Fatalf("unmarshal hierarchy: %v", err)
	}
	if hier.Rollup.ChildCount != 1 || len(hier.Children) != 1 {
		t.Fatalf("hierarchy = %+v", hier)
	}
}

func TestListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for i := 0; i < 3; i++ {
		createTestGoal(t, srv, map[string]any{"name": "goal " + string(rune('a'+i))})
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/goals?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first page: %d %s", res.StatusCode, string(data))
	}
	var page paginatedGoals
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page = %d items, cursor %q", len(page.Items), page.NextCursor)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/goals?limit=2&cursor="+url.QueryEscape(page.NextCursor), nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page: %d %s", res.StatusCode, string(data))
	}
	var second paginatedGoals
	_ = json.Unmarshal(data, &second)
	if len(second.Items) != 1 || second.NextCursor != "" {
		t.Fatalf("second page = %d items, cursor %q", len(second.Items), second.NextCursor)
	}
}

func TestAnalyticsSummary(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	g := createTestGoal(t, srv, nil)
	createTestGoal(t, srv, map[string]any{"name": "Q1 deals", "type": "deals"})
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/goals/"+g.ID+"/status", map[string]any{"status": "active"}, nil)
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/goals/"+g.ID+"/status", map[string]any{"status": "completed"}, nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/goals-analytics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", res.StatusCode, string(data))
	}
	var a domain.Analytics
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatalf("unmarshal analytics: %v", err)
	}
	if a.TotalGoals != 2 || a.CompletedGoals != 1 {
		t.Fatalf("analytics = %+v", a)
	}
	if a.CompletionRate != 50 {
		t.Fatalf("completion rate = %f, want 50", a.CompletionRate)
	}
	if len(a.ByType) != 2 {
		t.Fatalf("by type = %+v", a.ByType)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/goals/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("error code = %s, want not_found", code)
	}
}
