package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const casAttempts = 5

// RedisBackend stores each document under a single key and serializes
// mutations with an optimistic WATCH transaction, so it stays correct when
// more than one relay instance shares the store.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to redisURL and verifies the connection.
func NewRedisBackend(redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisBackend{client: client, prefix: "relay:"}, nil
}

// NewRedisBackendWithClient creates a backend from an existing client.
func NewRedisBackendWithClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, prefix: "relay:"}
}

func (b *RedisBackend) key(doc string) string {
	return b.prefix + doc
}

func (b *RedisBackend) Load(ctx context.Context, doc string) ([]byte, error) {
	raw, err := b.client.Get(ctx, b.key(doc)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", doc, err)
	}
	return raw, nil
}

func (b *RedisBackend) Update(ctx context.Context, doc string, fn func([]byte) ([]byte, error)) error {
	key := b.key(doc)
	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			raw = nil
		} else if err != nil {
			return err
		}
		out, err := fn(raw)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < casAttempts; i++ {
		err = b.client.Watch(ctx, txn, key)
		if err != redis.TxFailedErr {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", doc, err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
