package app

import (
	"crypto/subtle"
	"html/template"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var adminTemplate = template.Must(template.New("admin").Parse(`<!doctype html>
<html lang="ja"><head><meta charset="utf-8"><title>院内ルール リレー設定</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>body{font-family:sans-serif;max-width:720px;margin:24px auto;padding:0 12px}label{display:block;margin:.5rem 0 .25rem}input[type=text],input[type=password]{width:100%;padding:.5rem}button{padding:.5rem 1rem;margin-right:.5rem}</style>
</head><body>
<h1>院内ルール リレー設定</h1>
<form method="post" action="/admin/save">
  <label>Chatworkトークン</label>
  <input type="password" name="chatwork_token" placeholder="xxxxxxxx" value="" />
  <small>保存済み: {{if .ChatworkToken}}{{.ChatworkToken}}{{else}}未設定{{end}}</small>
  <label>チャットルームID</label>
  <input type="text" name="room_id" value="{{.RoomID}}" />
  <label>RELAY_SECRET（GitHub Secretsに貼り付け）</label>
  <input type="text" name="relay_secret" value="{{.RelaySecret}}" />
  <hr />
  <label>GitHub Token（Issue作成用・repo権限）</label>
  <input type="password" name="github_token" value="" />
  <small>保存済み: {{if .GitHubToken}}{{.GitHubToken}}{{else}}未設定{{end}}</small>
  <label>GitHub Repo（owner/repo）</label>
  <input type="text" name="github_repo" value="{{.GitHubRepo}}" />
  <div style="margin-top:8px">
    <button type="submit">保存</button>
    <button formaction="/admin/gen-secret" formmethod="post">RELAY_SECRET自動生成</button>
    <button formaction="/admin/test" formmethod="post">テスト送信</button>
  </div>
</form>
<p>注意: トークンはサーバーのsecrets.jsonにのみ保存され、ログ出力しません。</p>
</body></html>`))

type adminPage struct {
	ChatworkToken string
	RoomID        string
	RelaySecret   string
	GitHubToken   string
	GitHubRepo    string
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if !s.ipAllowed(r) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden")
		return
	}
	if !s.checkAdminAuth(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="relay admin"`)
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/admin" {
		s.renderAdmin(w)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/admin/save" {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMS", "invalid form body")
			return
		}
		if err := s.service.SaveSecrets(r.PostForm); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		http.Redirect(w, r, "/admin", http.StatusSeeOther)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/admin/gen-secret" {
		if err := s.service.GenerateRelaySecret(); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		http.Redirect(w, r, "/admin", http.StatusSeeOther)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/admin/test" {
		if err := s.service.SendTestMessage(r.Context()); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

func (s *HTTPServer) renderAdmin(w http.ResponseWriter) {
	rec := s.service.secrets.LoadPersisted()
	page := adminPage{
		ChatworkToken: mask(rec.ChatworkToken),
		RoomID:        rec.RoomID,
		RelaySecret:   rec.RelaySecret,
		GitHubToken:   mask(rec.GitHubToken),
		GitHubRepo:    rec.GitHubRepo,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = adminTemplate.Execute(w, page)
}

// mask keeps only the first and last few characters of a saved secret for
// display on the form.
func mask(v string) string {
	if v == "" {
		return ""
	}
	runes := []rune(v)
	head, tail := runes, runes
	if len(runes) > 3 {
		head = runes[:3]
		tail = runes[len(runes)-3:]
	}
	return string(head) + "***" + string(tail)
}

// ipAllowed enforces the optional admin allow-list. An empty list allows all.
func (s *HTTPServer) ipAllowed(r *http.Request) bool {
	list := s.service.cfg.AllowedIPs
	if strings.TrimSpace(list) == "" {
		return true
	}
	ip := clientIP(r)
	for _, allowed := range strings.Split(list, ",") {
		if strings.TrimSpace(allowed) == ip {
			return true
		}
	}
	return false
}

func (s *HTTPServer) checkAdminAuth(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	cfg := s.service.cfg
	if subtle.ConstantTimeCompare([]byte(user), []byte(cfg.AdminUser)) != 1 {
		return false
	}
	if cfg.AdminPassHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(cfg.AdminPassHash), []byte(pass)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.AdminPass)) == 1
}
