package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/kv_commit_fenced.lua
var kvCommitFencedLua string

// KVStore implements domain.KVStore with plain Redis strings. A commit is a
// single MULTI/EXEC transaction so a write set lands completely or not at all.
// MULTI/EXEC does not isolate the reads an invocation made, so engines that
// share the store rely on the lock fence checked in Commit.
//
// Key schema:
//
//	{prefix}kv:{key} - raw value bytes
type KVStore struct {
	c      *Client
	commit *redis.Script
}

// NewKVStore creates a KVStore backed by the given Client.
func NewKVStore(c *Client) *KVStore {
	return &KVStore{c: c, commit: redis.NewScript(kvCommitFencedLua)}
}

func (s *KVStore) key(k string) string {
	return s.c.Key("kv", k)
}

// Get returns the value stored at key.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.c.rdb.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis: kv get %s: %w", key, err)
	}
	return val, true, nil
}

// Commit applies writes inside one transaction pipeline. When ctx carries a
// lock fence the writes go through a script that first checks the lock token,
// so a holder that lost the lock cannot commit.
func (s *KVStore) Commit(ctx context.Context, writes []domain.KVWrite) error {
	if len(writes) == 0 {
		return nil
	}
	if fence, ok := domain.LockFenceFrom(ctx); ok {
		return s.commitFenced(ctx, fence, writes)
	}

	pipe := s.c.rdb.TxPipeline()
	for _, w := range writes {
		if w.Delete {
			pipe.Del(ctx, s.key(w.Key))
			continue
		}
		pipe.Set(ctx, s.key(w.Key), w.Value, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: kv commit (%d writes): %w", len(writes), err)
	}
	return nil
}

func (s *KVStore) commitFenced(ctx context.Context, fence domain.LockFence, writes []domain.KVWrite) error {
	keys := make([]string, 0, len(writes)+1)
	args := make([]any, 0, 2*len(writes)+1)
	keys = append(keys, fence.Key)
	args = append(args, fence.Token)
	for _, w := range writes {
		keys = append(keys, s.key(w.Key))
		if w.Delete {
			args = append(args, "D", "")
			continue
		}
		args = append(args, "S", w.Value)
	}

	n, err := s.commit.Run(ctx, s.c.rdb, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("redis: kv commit (%d writes): %w", len(writes), err)
	}
	if n == 0 {
		return fmt.Errorf("redis: kv commit: %w: %s no longer carries this holder's token", domain.ErrLockHeld, fence.Key)
	}
	return nil
}

// Keys lists the stored keys that start with prefix, without the namespace.
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	ns := s.key("")
	var (
		out    []string
		cursor uint64
	)
	for {
		batch, next, err := s.c.rdb.Scan(ctx, cursor, ns+prefix+"*", 500).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: kv scan %s: %w", prefix, err)
		}
		for _, k := range batch {
			out = append(out, strings.TrimPrefix(k, ns))
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Compile-time interface check.
var _ domain.KVStore = (*KVStore)(nil)
