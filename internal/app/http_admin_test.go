package app

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"clinicrelay/internal/config"
	"clinicrelay/internal/secrets"
)

func adminDo(t *testing.T, env *testEnv, method, path, user, pass string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	rec := httptest.NewRecorder()
	env.http.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAdminRequiresBasicAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := adminDo(t, env, http.MethodGet, "/admin", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Basic") {
		t.Errorf("expected basic auth challenge, got %q", rec.Header().Get("WWW-Authenticate"))
	}

	if rec := adminDo(t, env, http.MethodGet, "/admin", "admin", "wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", rec.Code)
	}
	if rec := adminDo(t, env, http.MethodGet, "/admin", "other", "pw", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong user, got %d", rec.Code)
	}
	if rec := adminDo(t, env, http.MethodGet, "/admin", "admin", "pw", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for valid credentials, got %d", rec.Code)
	}
}

func TestAdminAcceptsBcryptHashedPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("generate hash: %v", err)
	}
	env := newTestEnvWith(t, config.Config{AdminUser: "admin", AdminPassHash: string(hash)})

	if rec := adminDo(t, env, http.MethodGet, "/admin", "admin", "hunter2", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for hashed password match, got %d", rec.Code)
	}
	if rec := adminDo(t, env, http.MethodGet, "/admin", "admin", "wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for hashed password mismatch, got %d", rec.Code)
	}
}

func TestAdminAllowList(t *testing.T) {
	env := newTestEnvWith(t, config.Config{AdminUser: "admin", AdminPass: "pw", AllowedIPs: "10.0.0.1, 10.0.0.2"})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.SetBasicAuth("admin", "pw")
	req.Header.Set("X-Forwarded-For", "10.0.0.9")
	rec := httptest.NewRecorder()
	env.http.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for disallowed address, got %d", rec.Code)
	}

	// Only the first forwarded address identifies the client.
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.SetBasicAuth("admin", "pw")
	req.Header.Set("X-Forwarded-For", "10.0.0.2, 203.0.113.5")
	rec = httptest.NewRecorder()
	env.http.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for allowed address, got %d", rec.Code)
	}
}

func TestAdminSavePersistsSecrets(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{}
	form.Set("chatwork_token", "chat-tok")
	form.Set("room_id", "42")
	form.Set("github_token", "gh-tok")
	form.Set("github_repo", "o/r")
	rec := adminDo(t, env, http.MethodPost, "/admin/save", "admin", "pw", form)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect after save, got %d: %s", rec.Code, rec.Body.String())
	}

	saved := env.store.LoadPersisted()
	if saved.ChatworkToken != "chat-tok" || saved.RoomID != "42" || saved.GitHubRepo != "o/r" {
		t.Errorf("expected form values persisted, got %+v", saved)
	}
	if len(saved.RelaySecret) != 64 {
		t.Errorf("expected auto-generated relay secret, got %q", saved.RelaySecret)
	}
}

func TestAdminGenSecretRotates(t *testing.T) {
	env := newTestEnv(t)
	env.saveSecrets(t, secrets.Record{RelaySecret: "old-secret"})

	rec := adminDo(t, env, http.MethodPost, "/admin/gen-secret", "admin", "pw", url.Values{})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}

	saved := env.store.LoadPersisted()
	if saved.RelaySecret == "old-secret" || len(saved.RelaySecret) != 64 {
		t.Errorf("expected a fresh 64-char relay secret, got %q", saved.RelaySecret)
	}
}

func TestAdminPageMasksSavedTokens(t *testing.T) {
	env := newTestEnv(t)
	env.saveSecrets(t, secrets.Record{ChatworkToken: "abcdefghij", GitHubToken: "ghp_0123456789"})

	rec := adminDo(t, env, http.MethodGet, "/admin", "admin", "pw", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	page := rec.Body.String()
	if strings.Contains(page, "abcdefghij") || strings.Contains(page, "ghp_0123456789") {
		t.Error("expected saved tokens to never appear verbatim on the page")
	}
	if !strings.Contains(page, "abc***hij") {
		t.Error("expected masked chat token on the page")
	}
}

func TestAdminTestMessage(t *testing.T) {
	env := newTestEnv(t)
	env.configureAll(t)

	rec := adminDo(t, env, http.MethodPost, "/admin/test", "admin", "pw", url.Values{})
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("expected OK response, got %d %q", rec.Code, rec.Body.String())
	}
	call := env.chat.last(t)
	if call.room != "42" {
		t.Errorf("expected configured room, got %q", call.room)
	}
	if !strings.HasPrefix(call.body, "【テスト】院内ルール通知リレーの動作確認\n") {
		t.Errorf("expected test message header, got %q", call.body)
	}
}

func TestAdminTestMessageRequiresConfiguration(t *testing.T) {
	env := newTestEnv(t)

	rec := adminDo(t, env, http.MethodPost, "/admin/test", "admin", "pw", url.Values{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unconfigured chat, got %d", rec.Code)
	}
}
