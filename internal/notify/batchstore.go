package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/sparkpost-monitor/internal/notifyerr"
)

// BatchStore accumulates opaque payload records under a marker id and
// atomically pops them all for a worker to hand to a handler. It is the
// component labelled B in the design doc.
type BatchStore interface {
	// Append adds payload to the end of marker's list.
	Append(ctx context.Context, markerID string, payload []byte) error
	// Drain atomically removes and returns every payload present for
	// marker, in append order. Returns an empty (non-nil) slice if none.
	Drain(ctx context.Context, markerID string) ([][]byte, error)
	// Exists reports whether marker currently has any payloads. It is
	// informational only — callers must not use it as a correctness gate
	// (spec §9 Open Question); the delay queue's compare-and-add is the
	// authoritative one.
	Exists(ctx context.Context, markerID string) (bool, error)
}

// RedisBatchStore implements BatchStore over a Redis list per marker,
// mirroring the Lua-script-for-atomicity idiom used by the distributed
// lock in internal/pkg/distlock: a single script does the read-then-delete
// so a concurrent Append can never be silently dropped between the two.
type RedisBatchStore struct {
	client *redis.Client
}

// NewRedisBatchStore builds a BatchStore backed by client.
func NewRedisBatchStore(client *redis.Client) *RedisBatchStore {
	return &RedisBatchStore{client: client}
}

func batchKey(markerID string) string {
	return fmt.Sprintf("payload:%s", markerID)
}

func (s *RedisBatchStore) Append(ctx context.Context, markerID string, payload []byte) error {
	if err := s.client.RPush(ctx, batchKey(markerID), payload).Err(); err != nil {
		return notifyerr.Wrap(notifyerr.TransientInfra, "batch store append", err)
	}
	return nil
}

var drainScript = redis.NewScript(`
local items = redis.call("LRANGE", KEYS[1], 0, -1)
redis.call("DEL", KEYS[1])
return items
`)

func (s *RedisBatchStore) Drain(ctx context.Context, markerID string) ([][]byte, error) {
	res, err := drainScript.Run(ctx, s.client, []string{batchKey(markerID)}).Result()
	if err != nil {
		if err == redis.Nil {
			return [][]byte{}, nil
		}
		return nil, notifyerr.Wrap(notifyerr.TransientInfra, "batch store drain", err)
	}

	raw, ok := res.([]interface{})
	if !ok {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, []byte(v))
		case []byte:
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *RedisBatchStore) Exists(ctx context.Context, markerID string) (bool, error) {
	n, err := s.client.Exists(ctx, batchKey(markerID)).Result()
	if err != nil {
		return false, notifyerr.Wrap(notifyerr.TransientInfra, "batch store exists", err)
	}
	return n > 0, nil
}
