package app

import (
	"fmt"
	"net/http"
	"testing"
)

func TestProposalEndpointsRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.configureAll(t)

	rec := env.do(t, http.MethodPost, "/proposal",
		[]byte(`{"title":"検査手順の更新","reason":"手順書が古い","author":"佐藤"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var created ProposalResult
	decodeResponse(t, rec, &created)
	if created.Number != 7 || created.Token == "" {
		t.Fatalf("expected issue number and token, got %+v", created)
	}

	// Ids arrive as JSON numbers from the static form.
	edit := fmt.Sprintf(`{"number":7,"token":%q,"title":"改題","reason":"改訂","author":"佐藤"}`, created.Token)
	rec = env.do(t, http.MethodPost, "/proposal/edit", []byte(edit), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	withdraw := fmt.Sprintf(`{"number":"7","token":%q}`, created.Token)
	rec = env.do(t, http.MethodPost, "/proposal/withdraw", []byte(withdraw), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("withdraw: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/proposal/withdraw", []byte(withdraw), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("second withdraw: expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]any
	decodeResponse(t, rec, &payload)
	if payload["code"] != "FORBIDDEN" || payload["error"] != "Forbidden" {
		t.Errorf("expected opaque forbidden envelope, got %v", payload)
	}
}

func TestCommentEndpointsRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.configureAll(t)

	rec := env.do(t, http.MethodPost, "/comment",
		[]byte(`{"issue":7,"author":"","body":"賛成です"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var created CommentResult
	decodeResponse(t, rec, &created)
	if created.ID != 555 || created.Token == "" {
		t.Fatalf("expected comment id and token, got %+v", created)
	}

	edit := fmt.Sprintf(`{"id":555,"token":%q,"author":"田中","body":"補足します"}`, created.Token)
	rec = env.do(t, http.MethodPost, "/comment/edit", []byte(edit), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	del := fmt.Sprintf(`{"id":"555","token":%q}`, created.Token)
	rec = env.do(t, http.MethodPost, "/comment/delete", []byte(del), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/comment/delete", []byte(del), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("second delete: expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestProposalEndpointRejectsInvalidBody(t *testing.T) {
	env := newTestEnv(t)
	env.configureAll(t)

	rec := env.do(t, http.MethodPost, "/proposal", []byte(`{broken`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}
	var payload map[string]any
	decodeResponse(t, rec, &payload)
	if payload["code"] != "INVALID_PARAMS" {
		t.Errorf("expected INVALID_PARAMS code, got %v", payload)
	}
}
