package ledger

import (
	"context"
	"encoding/json"
	"fmt"
)

// Entry is one ownership record: the capability token returned to the
// submitter at creation time and never shown again.
type Entry struct {
	Token     string `json:"token"`
	CreatedAt int64  `json:"created_at"`
	IssueID   int    `json:"issue_id,omitempty"`
}

// TokenLedger maps a tracker-assigned id to its ownership entry. Proposals
// and comments each get their own ledger; a token from one never authorizes
// an operation on the other.
type TokenLedger struct {
	backend Backend
	doc     string
}

func NewTokenLedger(backend Backend, doc string) *TokenLedger {
	return &TokenLedger{backend: backend, doc: doc}
}

func (l *TokenLedger) decode(raw []byte) (map[string]Entry, error) {
	entries := map[string]Entry{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("decode %s: %w", l.doc, err)
		}
	}
	return entries, nil
}

// Put stores the entry for id, replacing any previous one.
func (l *TokenLedger) Put(ctx context.Context, id string, entry Entry) error {
	return l.backend.Update(ctx, l.doc, func(raw []byte) ([]byte, error) {
		entries, err := l.decode(raw)
		if err != nil {
			return nil, err
		}
		entries[id] = entry
		return json.MarshalIndent(entries, "", "  ")
	})
}

// Verify reports whether id exists and its stored token matches. A missing
// entry and a wrong token are indistinguishable to the caller.
func (l *TokenLedger) Verify(ctx context.Context, id, token string) (Entry, bool, error) {
	raw, err := l.backend.Load(ctx, l.doc)
	if err != nil {
		return Entry{}, false, err
	}
	entries, err := l.decode(raw)
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := entries[id]
	if !ok || token == "" || entry.Token != token {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Delete removes the entry for id. Deleting an absent id is not an error.
func (l *TokenLedger) Delete(ctx context.Context, id string) error {
	return l.backend.Update(ctx, l.doc, func(raw []byte) ([]byte, error) {
		entries, err := l.decode(raw)
		if err != nil {
			return nil, err
		}
		if _, ok := entries[id]; !ok {
			return nil, nil
		}
		delete(entries, id)
		return json.MarshalIndent(entries, "", "  ")
	})
}
