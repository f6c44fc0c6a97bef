// Package secrets stores the relay's integration credentials in a single
// owner-readable JSON file, with per-field environment overrides.
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Record struct {
	ChatworkToken string `json:"chatwork_token,omitempty"`
	RoomID        string `json:"room_id,omitempty"`
	RelaySecret   string `json:"relay_secret,omitempty"`
	GitHubToken   string `json:"github_token,omitempty"`
	GitHubRepo    string `json:"github_repo,omitempty"`
}

type Store struct {
	path string
}

func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, "secrets.json")}
}

// LoadPersisted returns only what is on disk, without environment overrides.
// Admin mutations start from this so override values never get written back.
func (s *Store) LoadPersisted() Record {
	var rec Record
	if raw, err := os.ReadFile(s.path); err == nil {
		_ = json.Unmarshal(raw, &rec)
	}
	return rec
}

// Load merges the persisted record with environment overrides. A field set in
// the environment wins for the lifetime of the process.
func (s *Store) Load() Record {
	rec := s.LoadPersisted()
	override(&rec.ChatworkToken, "CHATWORK_TOKEN")
	override(&rec.RoomID, "ROOM_ID")
	override(&rec.RelaySecret, "RELAY_SECRET")
	override(&rec.GitHubToken, "GITHUB_TOKEN")
	override(&rec.GitHubRepo, "GITHUB_REPO")
	return rec
}

func override(field *string, key string) {
	if v := os.Getenv(key); v != "" {
		*field = v
	}
}

// Save persists the full record with owner-only permissions. The relay secret
// is auto-generated when absent, so it is always non-empty after a save.
func (s *Store) Save(rec Record) error {
	if rec.RelaySecret == "" {
		rec.RelaySecret = Generate(32)
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}
	// WriteFile only applies the mode when it creates the file.
	if err := os.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("chmod secrets: %w", err)
	}
	return nil
}

// Generate returns n cryptographically random bytes as lowercase hex. Used
// for the relay secret and for minting ownership tokens.
func Generate(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
