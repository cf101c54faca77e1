package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/sparkpost-monitor/internal/notify/schedule"
	"github.com/ignite/sparkpost-monitor/internal/notifyerr"
)

// StagingStore holds a transient copy of a drained batch while its
// handler runs, realizing the at-least-once durability choice for
// component D (spec §9 Open Question, resolved in DESIGN.md): if the
// worker crashes after Drain but before Complete, FindOrphaned lets the
// next claim of the same (category, batch-key) find and replay the
// staged copy instead of losing it.
type StagingStore interface {
	Stage(ctx context.Context, stageID string, payloads [][]byte) error
	Unstage(ctx context.Context, stageID string) error
	// FindOrphaned looks for a batch staged by a prior fire of the same
	// (category, batchKey) that was never unstaged — i.e. the worker that
	// staged it died before the handler returned. Returns an empty stageID
	// and nil payloads if none is found.
	FindOrphaned(ctx context.Context, category schedule.Category, batchKey string) (stageID string, payloads [][]byte, err error)
}

// RedisStagingStore implements StagingStore as a Redis list keyed
// `staged:<stageID>`, where stageID is `<category>:<batchKey>:<attempt>`.
type RedisStagingStore struct {
	client *redis.Client
}

func NewRedisStagingStore(client *redis.Client) *RedisStagingStore {
	return &RedisStagingStore{client: client}
}

func stagingKey(stageID string) string {
	return "staged:" + stageID
}

// StageID builds the deterministic prefix plus attempt suffix a staged
// batch is keyed under.
func StageID(category schedule.Category, batchKey string, attempt int64) string {
	return fmt.Sprintf("%s:%s:%d", category, batchKey, attempt)
}

func stagingPrefix(category schedule.Category, batchKey string) string {
	return fmt.Sprintf("%s:%s:", category, batchKey)
}

func (s *RedisStagingStore) Stage(ctx context.Context, stageID string, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	args := make([]interface{}, len(payloads))
	for i, p := range payloads {
		args[i] = p
	}
	if err := s.client.RPush(ctx, stagingKey(stageID), args...).Err(); err != nil {
		return notifyerr.Wrap(notifyerr.TransientInfra, "stage batch", err)
	}
	return nil
}

func (s *RedisStagingStore) Unstage(ctx context.Context, stageID string) error {
	if err := s.client.Del(ctx, stagingKey(stageID)).Err(); err != nil {
		return notifyerr.Wrap(notifyerr.TransientInfra, "unstage batch", err)
	}
	return nil
}

func (s *RedisStagingStore) FindOrphaned(ctx context.Context, category schedule.Category, batchKey string) (string, [][]byte, error) {
	pattern := stagingKey(stagingPrefix(category, batchKey)) + "*"

	var cursor uint64
	var found string
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 10).Result()
		if err != nil {
			return "", nil, notifyerr.Wrap(notifyerr.TransientInfra, "scan staged batches", err)
		}
		if len(keys) > 0 {
			found = keys[0]
			break
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if found == "" {
		return "", nil, nil
	}

	items, err := s.client.LRange(ctx, found, 0, -1).Result()
	if err != nil {
		return "", nil, notifyerr.Wrap(notifyerr.TransientInfra, "load staged batch", err)
	}
	payloads := make([][]byte, 0, len(items))
	for _, it := range items {
		payloads = append(payloads, []byte(it))
	}

	stageID := strings.TrimPrefix(found, "staged:")
	return stageID, payloads, nil
}
