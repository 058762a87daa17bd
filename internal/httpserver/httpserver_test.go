package httpserver_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kcmh-his/sql-copilot/internal/auth"
	"github.com/kcmh-his/sql-copilot/internal/httpserver"
	"github.com/kcmh-his/sql-copilot/internal/log"
	"github.com/kcmh-his/sql-copilot/internal/ratelimit"
)

const testSecretKey = "a-secret-key-that-is-long-enough-for-tests"

func testUserStore(t *testing.T) *auth.UserStore {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "ID.csv")
	content := "E-mail,NAME,ID,Department\n" +
		"alice@hospital.org,Alice Somchai,A1234,Cardiology\n"
	if err := os.WriteFile(csvPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing roster: %v", err)
	}
	superUsersPath := filepath.Join(dir, "super_users.json")
	if err := os.WriteFile(superUsersPath, []byte(`{"super_users": []}`), 0o644); err != nil {
		t.Fatalf("writing super users: %v", err)
	}
	store, err := auth.LoadUserStore(csvPath, superUsersPath)
	if err != nil {
		t.Fatalf("LoadUserStore: %v", err)
	}
	return store
}

func discardLogger(t *testing.T) log.Logger {
	t.Helper()
	logger, err := log.NewStdLogger(io.Discard, io.Discard, "ERROR")
	if err != nil {
		t.Fatalf("NewStdLogger: %v", err)
	}
	return logger
}

func testServer(t *testing.T) (*httpserver.Server, *ratelimit.LoginLimiter) {
	t.Helper()
	limiter := ratelimit.New()
	s := httpserver.New(nil, nil, testUserStore(t), limiter, discardLogger(t), testSecretKey, "copilot_session", time.Hour)
	return s, limiter
}

func TestWebRootServesIndex(t *testing.T) {
	s, _ := testServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("unexpected content type: %q", ct)
	}
}

func TestSecurityHeadersPresentOnEveryResponse(t *testing.T) {
	s, _ := testServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("header %s: got %q, want %q", header, got, want)
		}
	}
}

func TestChatWithoutCookieIsUnauthorized(t *testing.T) {
	s, _ := testServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/chat", "application/json", bytes.NewBufferString(`{"message":"how many patients"}`))
	if err != nil {
		t.Fatalf("POST /api/chat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s, _ := testServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"email": "alice@hospital.org", "password": "wrong"})
	resp, err := http.Post(ts.URL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestLoginSucceedsAndSetsCookie(t *testing.T) {
	s, _ := testServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"email": "alice@hospital.org", "password": "A1234"})
	resp, err := http.Post(ts.URL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == "copilot_session" && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a session cookie to be set")
	}
}

func TestLoginLocksOutAfterRepeatedFailures(t *testing.T) {
	s, limiter := testServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"email": "alice@hospital.org", "password": "wrong"})
	for i := 0; i < 5; i++ {
		resp, err := http.Post(ts.URL+"/api/login", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST /api/login: %v", err)
		}
		resp.Body.Close()
	}

	if !limiter.IsBlocked("127.0.0.1") {
		t.Fatal("expected the client IP to be locked out after 5 failures")
	}

	resp, err := http.Post(ts.URL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after lockout, got %d", resp.StatusCode)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	s, _ := testServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	user := auth.UserInfo{Email: "alice@hospital.org", Role: auth.RoleStandardUser}
	token, err := auth.CreateSessionToken(testSecretKey, time.Hour, user)
	if err != nil {
		t.Fatalf("CreateSessionToken: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/logout", nil)
	req.AddCookie(&http.Cookie{Name: "copilot_session", Value: token})

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/logout: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == "copilot_session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("expected logout to clear the session cookie")
	}
}
