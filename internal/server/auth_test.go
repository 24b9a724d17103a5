package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"branchline/internal/config"
	"branchline/internal/db"
	"branchline/internal/engine"
	"branchline/internal/migrate"
)

const testJWTSecret = "test-secret"

func newJWTTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), nil)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testJWTSecret}})
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

func signToken(t *testing.T, subject string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWTBearerAuth(t *testing.T) {
	srv, cleanup := newJWTTestServer(t)
	defer cleanup()
	client := srv.Client()

	token := signToken(t, "jwt-user", time.Now().Add(time.Hour))
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"name": "Token project",
	}, map[string]string{"Authorization": "Bearer " + token, "X-Actor-Id": ""})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with token: %d %s", res.StatusCode, string(data))
	}
	var p ProjectResponse
	_ = json.Unmarshal(data, &p)

	// the JWT subject becomes the activity actor
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/"+p.ID+"/activity", nil,
		map[string]string{"Authorization": "Bearer " + token, "X-Actor-Id": ""})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activity: %d %s", res.StatusCode, string(data))
	}
	var feed []ActivityResponse
	if err := json.Unmarshal(data, &feed); err != nil {
		t.Fatal(err)
	}
	if len(feed) != 1 || feed[0].ActorID != "jwt-user" {
		t.Fatalf("feed %v", feed)
	}
}

func TestJWTRejectsBadTokens(t *testing.T) {
	srv, cleanup := newJWTTestServer(t)
	defer cleanup()
	client := srv.Client()

	cases := map[string]string{
		"garbage":  "Bearer not.a.token",
		"expired":  "Bearer " + signToken(t, "jwt-user", time.Now().Add(-time.Hour)),
		"noscheme": signToken(t, "jwt-user", time.Now().Add(time.Hour)),
	}
	for name, header := range cases {
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects", nil,
			map[string]string{"Authorization": header, "X-Actor-Id": ""})
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d %s", name, res.StatusCode, string(data))
		}
	}

	// actor header alone is refused when not explicitly allowed
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects", nil,
		map[string]string{"X-Actor-Id": "intruder"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bare actor header, got %d %s", res.StatusCode, string(data))
	}
}
