package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"branchline/internal/config"
	"branchline/internal/db"
	"branchline/internal/engine"
	"branchline/internal/migrate"
)

type testServer struct {
	URL    string
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
	e := engine.New(conn, config.Default(), nil)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{AllowActorHeader: true}})
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

func createProject(t *testing.T, srv *testServer, members ...string) ProjectResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"name":      "Study abroad intake",
		"client_id": "client-7",
		"members":   members,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var p ProjectResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	return p
}

func createTask(t *testing.T, srv *testServer, projectID, title string) TaskResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/"+projectID+"/tasks", map[string]any{
		"title": title,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return task
}

func setStatus(t *testing.T, srv *testServer, taskID string, statuses ...string) TaskResponse {
	t.Helper()
	var task TaskResponse
	for _, status := range statuses {
		res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/tasks/"+taskID, map[string]any{
			"status": status,
		}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("set status %s: %d %s", status, res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &task); err != nil {
			t.Fatalf("unmarshal task: %v", err)
		}
	}
	return task
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	p := createProject(t, srv, "alice")
	if p.Status != "planned" {
		t.Fatalf("new project status %s", p.Status)
	}
	task := createTask(t, srv, p.ID, "Collect documents")
	if task.Status != "todo" {
		t.Fatalf("new task status %s", task.Status)
	}

	setStatus(t, srv, task.ID, "in-progress", "done")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/"+p.ID+"/status", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint: %d %s", res.StatusCode, string(data))
	}
	var status ProjectStatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Status != "completed" {
		t.Fatalf("derived status %s, want completed", status.Status)
	}
	if status.Progress != 100 {
		t.Fatalf("progress %d, want 100", status.Progress)
	}

	setStatus(t, srv, task.ID, "in-progress")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/"+p.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project: %d %s", res.StatusCode, string(data))
	}
	var reopened ProjectResponse
	_ = json.Unmarshal(data, &reopened)
	if reopened.Status != "in-progress" {
		t.Fatalf("reopened project status %s", reopened.Status)
	}
}

func TestIllegalTransitionOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)
	task := createTask(t, srv, p.ID, "Draft visa letter")

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/tasks/"+task.ID, map[string]any{
		"status": "done",
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.Error.Code != "illegal_transition" {
		t.Fatalf("error code %s", env.Error.Code)
	}
	if env.Error.Details["from"] != "todo" || env.Error.Details["to"] != "done" {
		t.Fatalf("details %v", env.Error.Details)
	}
}

func TestValidationAndNotFoundOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"name": "   ",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d: %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "bad_request" {
		t.Fatalf("error code %s", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "not_found" {
		t.Fatalf("error code %s", env.Error.Code)
	}
}

func TestCommentsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	p := createProject(t, srv)
	task := createTask(t, srv, p.ID, "With remarks")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/comments", map[string]any{
		"body": "looks good",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create comment: %d %s", res.StatusCode, string(data))
	}
	var c CommentResponse
	_ = json.Unmarshal(data, &c)
	if c.AuthorID != "tester" {
		t.Fatalf("author %s, want actor from header", c.AuthorID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get task: %d %s", res.StatusCode, string(data))
	}
	var fetched TaskResponse
	_ = json.Unmarshal(data, &fetched)
	if fetched.CommentsCount != 1 {
		t.Fatalf("comments_count %d, want 1", fetched.CommentsCount)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID+"/comments", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list comments: %d %s", res.StatusCode, string(data))
	}
	var comments []CommentResponse
	if err := json.Unmarshal(data, &comments); err != nil {
		t.Fatalf("unmarshal comments: %v", err)
	}
	if len(comments) != 1 || comments[0].Body != "looks good" {
		t.Fatalf("comments %v", comments)
	}
}

func TestActivityFeedOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)
	task := createTask(t, srv, p.ID, "Audit me")
	setStatus(t, srv, task.ID, "in-progress")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects/"+p.ID+"/activity", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activity: %d %s", res.StatusCode, string(data))
	}
	var feed []ActivityResponse
	if err := json.Unmarshal(data, &feed); err != nil {
		t.Fatalf("unmarshal feed: %v", err)
	}
	if len(feed) != 3 {
		t.Fatalf("expected 3 records, got %d", len(feed))
	}
	if feed[0].Type != "task.status_changed" {
		t.Fatalf("newest record %s", feed[0].Type)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/projects", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	// health stays open
	res2, err := srv.Client().Get(srv.URL + "/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res2.StatusCode)
	}
}
