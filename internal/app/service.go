package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clinicrelay/internal/config"
	"clinicrelay/internal/ledger"
	"clinicrelay/internal/secrets"
	"clinicrelay/internal/webhook"
)

// Chat posts a rendered notification to a chat room.
type Chat interface {
	PostMessage(ctx context.Context, token, roomID, body string) error
}

// Tracker is the issue-tracker surface the dispatcher depends on.
type Tracker interface {
	CreateIssue(ctx context.Context, title, body string, labels []string) (number int, url string, err error)
	GetIssueTitle(ctx context.Context, number int) (string, error)
	UpdateIssue(ctx context.Context, number int, title, body string, close bool) (url string, err error)
	LockIssue(ctx context.Context, number int) error
	CreateComment(ctx context.Context, issue int, body string) (id int64, url string, err error)
	UpdateComment(ctx context.Context, id int64, body string) (url string, err error)
	DeleteComment(ctx context.Context, id int64) error
}

// TrackerFactory builds a Tracker for the given credentials. A client is
// built per request so admin-saved credentials take effect immediately.
type TrackerFactory func(token, repo string) (Tracker, error)

type Service struct {
	cfg        config.Config
	secrets    *secrets.Store
	likes      *ledger.LikeLedger
	proposals  *ledger.TokenLedger
	comments   *ledger.TokenLedger
	chat       Chat
	newTracker TrackerFactory
}

func New(cfg config.Config, secretStore *secrets.Store, backend ledger.Backend, chat Chat, newTracker TrackerFactory) *Service {
	return &Service{
		cfg:        cfg,
		secrets:    secretStore,
		likes:      ledger.NewLikeLedger(backend),
		proposals:  ledger.NewTokenLedger(backend, "proposals"),
		comments:   ledger.NewTokenLedger(backend, "comments"),
		chat:       chat,
		newTracker: newTracker,
	}
}

const (
	proposalTitlePrefix  = "[提案] "
	withdrawnTitlePrefix = "[削除] "
	withdrawnBody        = "この提案は送信者によって削除されました。"
	anonymousAuthor      = "匿名"
	maxTitleLen          = 200
	maxIssueTitleLen     = 250
	maxErrorDetail       = 200
)

// flexString decodes a JSON field that clients send either as a string or a
// number (issue and comment ids in particular).
type flexString string

func (s *flexString) UnmarshalJSON(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*s = ""
	case string:
		*s = flexString(t)
	case float64:
		*s = flexString(strconv.FormatFloat(t, 'f', -1, 64))
	default:
		*s = flexString(fmt.Sprint(t))
	}
	return nil
}

func (s flexString) trimmed() string {
	return strings.TrimSpace(string(s))
}

// clip caps s at n runes.
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// ── webhook notification path ──

type notifyPayload struct {
	Repo     string     `json:"repo"`
	Event    string     `json:"event"`
	PR       flexString `json:"pr"`
	Commit   flexString `json:"commit"`
	PagesURL string     `json:"pages_url"`
	Text     string     `json:"text"`
	RoomID   flexString `json:"room_id"`
}

// Notify authenticates the webhook call against the raw received bytes,
// renders the notification and posts it to the chat room. The room id from
// the payload is only a fallback when none is configured.
func (s *Service) Notify(ctx context.Context, raw []byte, signature string) error {
	rec := s.secrets.Load()
	if !webhook.Verify(rec.RelaySecret, raw, signature) {
		return errUnauthorized()
	}

	var payload notifyPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return errInvalidParams("invalid JSON body")
		}
	}

	roomID := rec.RoomID
	if roomID == "" {
		roomID = payload.RoomID.trimmed()
	}
	if rec.ChatworkToken == "" || roomID == "" {
		return errNotConfigured("chat token or room id not configured")
	}

	if err := s.chat.PostMessage(ctx, rec.ChatworkToken, roomID, renderNotification(payload)); err != nil {
		log.Printf("notify: chat post failed: %v", err)
		return errServer(clip(err.Error(), maxErrorDetail))
	}
	return nil
}

func renderNotification(p notifyPayload) string {
	var lines []string
	switch p.Event {
	case "reminder":
		lines = append(lines, "【未レビューPR リマインダー】")
		if p.Text != "" {
			lines = append(lines, p.Text)
		} else {
			lines = append(lines, "（該当なし）")
		}
	case "pull_request":
		lines = append(lines, "【ルール改定】PRが承認/マージされました")
		if pr := p.PR.trimmed(); pr != "" {
			lines = append(lines, fmt.Sprintf("https://github.com/%s/pull/%s", p.Repo, pr))
		}
	default:
		lines = append(lines, "【ルール更新】mainへ反映されました")
	}
	if commit := p.Commit.trimmed(); commit != "" {
		lines = append(lines, fmt.Sprintf("https://github.com/%s/commit/%s", p.Repo, commit))
	}
	if p.PagesURL != "" {
		lines = append(lines, "公開サイト: "+p.PagesURL)
	}
	lines = append(lines, "周知と現場反映をお願いします。")
	return strings.Join(lines, "\n")
}

// tracker resolves the current credentials into a client, or reports the
// integration unconfigured. This runs before any ledger access.
func (s *Service) tracker(rec secrets.Record) (Tracker, error) {
	if rec.GitHubToken == "" || rec.GitHubRepo == "" {
		return nil, errNotConfigured("tracker credentials not configured")
	}
	client, err := s.newTracker(rec.GitHubToken, rec.GitHubRepo)
	if err != nil {
		return nil, errServer(clip(err.Error(), maxErrorDetail))
	}
	return client, nil
}

// ── proposals ──

type ProposalResult struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Token  string `json:"token"`
}

func renderProposalBody(reason, author string) string {
	return strings.Join([]string{"### 内容や理由", reason, "", "### 登録者", author}, "\n")
}

// CreateProposal files the proposal as a tracker issue and mints the
// ownership token returned to the submitter. The token is the submitter's
// sole proof of ownership and is never shown again.
func (s *Service) CreateProposal(ctx context.Context, title, reason, author string) (*ProposalResult, error) {
	rec := s.secrets.Load()
	client, err := s.tracker(rec)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" || reason == "" || author == "" {
		return nil, errInvalidParams("title, reason and author are required")
	}
	if len([]rune(title)) > maxTitleLen {
		return nil, errInvalidParams("title too long")
	}

	number, issueURL, err := client.CreateIssue(ctx,
		clip(proposalTitlePrefix+title, maxIssueTitleLen),
		renderProposalBody(reason, author),
		[]string{"proposal"},
	)
	if err != nil {
		log.Printf("proposal: create issue failed: %v", err)
		return nil, errServer(clip(err.Error(), maxErrorDetail))
	}

	token := secrets.Generate(16)
	entry := ledger.Entry{Token: token, CreatedAt: time.Now().UnixMilli()}
	if err := s.proposals.Put(ctx, strconv.Itoa(number), entry); err != nil {
		log.Printf("proposal: save ownership token failed: %v", err)
		return nil, errServer("could not record ownership token")
	}
	return &ProposalResult{Number: number, URL: issueURL, Token: token}, nil
}

// EditProposal updates the issue when the supplied token matches. The ledger
// entry is unchanged, so the same token stays valid for further edits.
func (s *Service) EditProposal(ctx context.Context, number, token, title, reason, author string) (map[string]any, error) {
	rec := s.secrets.Load()
	client, err := s.tracker(rec)
	if err != nil {
		return nil, err
	}
	number = strings.TrimSpace(number)
	token = strings.TrimSpace(token)
	title = strings.TrimSpace(title)
	if number == "" || token == "" || title == "" || reason == "" || author == "" {
		return nil, errInvalidParams("number, token, title, reason and author are required")
	}
	n, err := strconv.Atoi(number)
	if err != nil {
		return nil, errInvalidParams("number must be an integer")
	}

	if _, ok, err := s.proposals.Verify(ctx, number, token); err != nil {
		log.Printf("proposal edit: ledger read failed: %v", err)
		return nil, errServer("could not read ownership ledger")
	} else if !ok {
		return nil, errForbidden()
	}

	issueURL, err := client.UpdateIssue(ctx, n,
		clip(proposalTitlePrefix+title, maxIssueTitleLen),
		renderProposalBody(reason, author),
		false,
	)
	if err != nil {
		log.Printf("proposal edit: update issue failed: %v", err)
		return nil, errServer(clip(err.Error(), maxErrorDetail))
	}
	return map[string]any{"ok": true, "url": issueURL}, nil
}

// WithdrawProposal closes and redacts the issue, then removes the ledger
// entry. The entry is only removed after the tracker confirms the update, so
// a failed call leaves the token valid for a retry.
func (s *Service) WithdrawProposal(ctx context.Context, number, token string) (map[string]any, error) {
	rec := s.secrets.Load()
	client, err := s.tracker(rec)
	if err != nil {
		return nil, err
	}
	number = strings.TrimSpace(number)
	token = strings.TrimSpace(token)
	if number == "" || token == "" {
		return nil, errInvalidParams("number and token are required")
	}
	n, err := strconv.Atoi(number)
	if err != nil {
		return nil, errInvalidParams("number must be an integer")
	}

	if _, ok, err := s.proposals.Verify(ctx, number, token); err != nil {
		log.Printf("proposal withdraw: ledger read failed: %v", err)
		return nil, errServer("could not read ownership ledger")
	} else if !ok {
		return nil, errForbidden()
	}

	title := "#" + number
	if current, err := client.GetIssueTitle(ctx, n); err == nil && current != "" {
		title = current
	}
	if _, err := client.UpdateIssue(ctx, n, clip(withdrawnTitlePrefix+title, maxIssueTitleLen), withdrawnBody, true); err != nil {
		log.Printf("proposal withdraw: update issue failed: %v", err)
		return nil, errServer(clip(err.Error(), maxErrorDetail))
	}
	if err := client.LockIssue(ctx, n); err != nil {
		log.Printf("proposal withdraw: lock failed: %v", err)
	}

	if err := s.proposals.Delete(ctx, number); err != nil {
		log.Printf("proposal withdraw: ledger delete failed: %v", err)
		return nil, errServer("could not remove ownership token")
	}
	return map[string]any{"ok": true}, nil
}

// ── comments ──

type CommentResult struct {
	ID    int64  `json:"id"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

func renderCommentBody(body, author string) string {
	return body + "\n\n— " + author
}

// CreateComment posts a comment on the given issue and mints its ownership
// token. The author falls back to a fixed placeholder when absent.
func (s *Service) CreateComment(ctx context.Context, issue, author, body string) (*CommentResult, error) {
	rec := s.secrets.Load()
	client, err := s.tracker(rec)
	if err != nil {
		return nil, err
	}
	issue = strings.TrimSpace(issue)
	if issue == "" || strings.TrimSpace(body) == "" {
		return nil, errInvalidParams("issue and body are required")
	}
	n, err := strconv.Atoi(issue)
	if err != nil {
		return nil, errInvalidParams("issue must be an integer")
	}
	author = strings.TrimSpace(author)
	if author == "" {
		author = anonymousAuthor
	}

	id, commentURL, err := client.CreateComment(ctx, n, renderCommentBody(body, author))
	if err != nil {
		log.Printf("comment: create failed: %v", err)
		return nil, errServer(clip(err.Error(), maxErrorDetail))
	}

	token := secrets.Generate(16)
	entry := ledger.Entry{Token: token, CreatedAt: time.Now().UnixMilli(), IssueID: n}
	if err := s.comments.Put(ctx, strconv.FormatInt(id, 10), entry); err != nil {
		log.Printf("comment: save ownership token failed: %v", err)
		return nil, errServer("could not record ownership token")
	}
	return &CommentResult{ID: id, URL: commentURL, Token: token}, nil
}

// EditComment rewrites the comment body when the supplied token matches.
func (s *Service) EditComment(ctx context.Context, id, token, author, body string) (map[string]any, error) {
	rec := s.secrets.Load()
	client, err := s.tracker(rec)
	if err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	token = strings.TrimSpace(token)
	if id == "" || token == "" || strings.TrimSpace(body) == "" {
		return nil, errInvalidParams("id, token and body are required")
	}
	commentID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, errInvalidParams("id must be an integer")
	}
	author = strings.TrimSpace(author)
	if author == "" {
		author = anonymousAuthor
	}

	if _, ok, err := s.comments.Verify(ctx, id, token); err != nil {
		log.Printf("comment edit: ledger read failed: %v", err)
		return nil, errServer("could not read ownership ledger")
	} else if !ok {
		return nil, errForbidden()
	}

	commentURL, err := client.UpdateComment(ctx, commentID, renderCommentBody(body, author))
	if err != nil {
		log.Printf("comment edit: update failed: %v", err)
		return nil, errServer(clip(err.Error(), maxErrorDetail))
	}
	return map[string]any{"ok": true, "url": commentURL}, nil
}

// DeleteComment permanently deletes the remote comment, then removes the
// ledger entry so the id stops being a valid target.
func (s *Service) DeleteComment(ctx context.Context, id, token string) (map[string]any, error) {
	rec := s.secrets.Load()
	client, err := s.tracker(rec)
	if err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	token = strings.TrimSpace(token)
	if id == "" || token == "" {
		return nil, errInvalidParams("id and token are required")
	}
	commentID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, errInvalidParams("id must be an integer")
	}

	if _, ok, err := s.comments.Verify(ctx, id, token); err != nil {
		log.Printf("comment delete: ledger read failed: %v", err)
		return nil, errServer("could not read ownership ledger")
	} else if !ok {
		return nil, errForbidden()
	}

	if err := client.DeleteComment(ctx, commentID); err != nil {
		log.Printf("comment delete: delete failed: %v", err)
		return nil, errServer(clip(err.Error(), maxErrorDetail))
	}
	if err := s.comments.Delete(ctx, id); err != nil {
		log.Printf("comment delete: ledger delete failed: %v", err)
		return nil, errServer("could not remove ownership token")
	}
	return map[string]any{"ok": true}, nil
}

// ── likes ──

// Like registers a like for issue by uid, at most once per pair.
func (s *Service) Like(ctx context.Context, issue, uid string) (map[string]any, error) {
	issue = strings.TrimSpace(issue)
	uid = strings.TrimSpace(uid)
	if issue == "" || uid == "" {
		return nil, errInvalidParams("issue and uid are required")
	}
	count, dup, err := s.likes.Record(ctx, issue, uid)
	if err != nil {
		log.Printf("like: record failed: %v", err)
		return nil, errServer("could not record like")
	}
	out := map[string]any{"ok": true, "count": count}
	if dup {
		out["dup"] = true
	}
	return out, nil
}

// Likes returns the count for each id in the comma-separated list, 0 for
// subjects nobody has liked.
func (s *Service) Likes(ctx context.Context, rawIDs string) (map[string]int, error) {
	var ids []string
	for _, part := range strings.Split(rawIDs, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	counts, err := s.likes.Query(ctx, ids)
	if err != nil {
		log.Printf("likes: query failed: %v", err)
		return nil, errServer("could not load like counts")
	}
	return counts, nil
}

// ── admin operations ──

// SaveSecrets applies the admin form to the persisted record. Secret fields
// are only overwritten when the form carries a value, so the masked
// placeholders on the form never erase a saved token.
func (s *Service) SaveSecrets(form url.Values) error {
	rec := s.secrets.LoadPersisted()
	if v := form.Get("chatwork_token"); v != "" {
		rec.ChatworkToken = v
	}
	if form.Has("room_id") {
		rec.RoomID = strings.TrimSpace(form.Get("room_id"))
	}
	if v := form.Get("relay_secret"); v != "" {
		rec.RelaySecret = v
	}
	if v := form.Get("github_token"); v != "" {
		rec.GitHubToken = v
	}
	if form.Has("github_repo") {
		rec.GitHubRepo = strings.TrimSpace(form.Get("github_repo"))
	}
	if err := s.secrets.Save(rec); err != nil {
		log.Printf("admin: save secrets failed: %v", err)
		return errServer("could not save secrets")
	}
	return nil
}

// GenerateRelaySecret replaces the relay secret with a fresh random value.
func (s *Service) GenerateRelaySecret() error {
	rec := s.secrets.LoadPersisted()
	rec.RelaySecret = secrets.Generate(32)
	if err := s.secrets.Save(rec); err != nil {
		log.Printf("admin: save secrets failed: %v", err)
		return errServer("could not save secrets")
	}
	return nil
}

// SendTestMessage posts a fixed test notification to the configured room.
func (s *Service) SendTestMessage(ctx context.Context) error {
	rec := s.secrets.Load()
	if rec.ChatworkToken == "" || rec.RoomID == "" {
		return errNotConfigured("chat token or room id not configured")
	}
	body := "【テスト】院内ルール通知リレーの動作確認\n" + time.Now().UTC().Format(time.RFC3339)
	if err := s.chat.PostMessage(ctx, rec.ChatworkToken, rec.RoomID, body); err != nil {
		log.Printf("admin test: chat post failed: %v", err)
		return errServer(clip(err.Error(), maxErrorDetail))
	}
	return nil
}
