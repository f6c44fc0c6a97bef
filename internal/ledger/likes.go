package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// dedupSalt is a fixed prefix hashed together with the submitter id. Changing
// it would reset dedup history for every existing like document.
const dedupSalt = "salt::"

type likeBucket struct {
	Count int            `json:"count"`
	Seen  map[string]int `json:"uids"`
}

// LikeLedger counts likes per subject with at most one increment per
// (subject, submitter) pair. The raw submitter id is never stored, only a
// one-way hash of it.
type LikeLedger struct {
	backend Backend
	doc     string
}

func NewLikeLedger(backend Backend) *LikeLedger {
	return &LikeLedger{backend: backend, doc: "likes"}
}

// DedupKey returns the hash stored in a bucket's seen set for a submitter id.
func DedupKey(uid string) string {
	sum := sha256.Sum256([]byte(dedupSalt + uid))
	return hex.EncodeToString(sum[:])
}

// Record registers a like. dup is true when this submitter already liked the
// subject, in which case nothing is written and the current count is returned.
func (l *LikeLedger) Record(ctx context.Context, subject, uid string) (count int, dup bool, err error) {
	key := DedupKey(uid)
	err = l.backend.Update(ctx, l.doc, func(raw []byte) ([]byte, error) {
		buckets := map[string]*likeBucket{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &buckets); err != nil {
				return nil, fmt.Errorf("decode likes: %w", err)
			}
		}
		bucket := buckets[subject]
		if bucket == nil {
			bucket = &likeBucket{}
			buckets[subject] = bucket
		}
		if bucket.Seen == nil {
			bucket.Seen = map[string]int{}
		}
		if _, seen := bucket.Seen[key]; seen {
			count, dup = bucket.Count, true
			return nil, nil
		}
		bucket.Seen[key] = 1
		bucket.Count++
		count = bucket.Count
		return json.MarshalIndent(buckets, "", "  ")
	})
	if err != nil {
		return 0, false, err
	}
	return count, dup, nil
}

// Query returns the count for each requested subject, 0 when unknown.
func (l *LikeLedger) Query(ctx context.Context, subjects []string) (map[string]int, error) {
	raw, err := l.backend.Load(ctx, l.doc)
	if err != nil {
		return nil, err
	}
	buckets := map[string]*likeBucket{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &buckets); err != nil {
			return nil, fmt.Errorf("decode likes: %w", err)
		}
	}
	out := make(map[string]int, len(subjects))
	for _, id := range subjects {
		if bucket := buckets[id]; bucket != nil {
			out[id] = bucket.Count
		} else {
			out[id] = 0
		}
	}
	return out, nil
}
