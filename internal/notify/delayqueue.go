package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/sparkpost-monitor/internal/notifyerr"
)

// ScheduleResult reports whether Schedule actually created a new marker or
// found one already present (the compare-and-add outcome from spec §4.C).
type ScheduleResult int

const (
	Added ScheduleResult = iota
	AlreadyPresent
)

// Envelope is the per-marker metadata carried alongside a scheduled job:
// which category/batch-key it belongs to, arbitrary log metadata for the
// handler to log with, and (once a drain has succeeded) the delay to use
// on reschedule.
type Envelope struct {
	Category        string          `json:"category"`
	BatchKey        string          `json:"batch_key"`
	LogMeta         json.RawMessage `json:"log_meta,omitempty"`
	RescheduleDelay *time.Duration  `json:"reschedule_delay,omitempty"`
}

// ClaimedJob is a marker handed to a worker by Claim, ready to be drained
// and processed.
type ClaimedJob struct {
	MarkerID string
	Envelope Envelope
}

// DelayQueue holds job markers with per-job dedup identity and a scheduled
// fire time. It is component C.
type DelayQueue interface {
	// Schedule is a compare-and-add: if a job with markerID already
	// exists, this is a no-op and AlreadyPresent is returned without
	// resetting the fire time.
	Schedule(ctx context.Context, markerID string, env Envelope, delay time.Duration) (ScheduleResult, error)
	// Claim blocks until a due marker is available, then makes it
	// visible to this worker alone until the visibility timeout elapses.
	Claim(ctx context.Context, workerID string) (*ClaimedJob, error)
	// Complete acknowledges a claimed marker. If rescheduleDelay is
	// non-nil the marker is re-armed to fire again after that delay;
	// otherwise the marker is destroyed (state returns to absent).
	Complete(ctx context.Context, markerID string, rescheduleDelay *time.Duration) error
}

const (
	dueSetKey      = "notify:due"
	inflightSetKey = "notify:inflight"
)

func envelopeKey(markerID string) string {
	return "notify:envelope:" + markerID
}

// RedisDelayQueue implements DelayQueue over a Redis sorted set of due
// marker ids plus a string key per marker whose mere existence models the
// compare-and-add identity, following the same SETNX/Lua idiom as
// internal/pkg/distlock.
type RedisDelayQueue struct {
	client            *redis.Client
	visibilityTimeout time.Duration
	pollInterval      time.Duration
}

// NewRedisDelayQueue builds a DelayQueue backed by client. visibilityTimeout
// is how long a claimed marker stays invisible to other workers before a
// crashed worker's claim is treated as abandoned and the marker becomes
// claimable again.
func NewRedisDelayQueue(client *redis.Client, visibilityTimeout time.Duration) *RedisDelayQueue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	return &RedisDelayQueue{
		client:            client,
		visibilityTimeout: visibilityTimeout,
		pollInterval:      200 * time.Millisecond,
	}
}

var scheduleScript = redis.NewScript(`
local created = redis.call("SETNX", KEYS[1], ARGV[1])
if created == 1 then
	redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
	return 1
else
	return 0
end
`)

func (q *RedisDelayQueue) Schedule(ctx context.Context, markerID string, env Envelope, delay time.Duration) (ScheduleResult, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return AlreadyPresent, notifyerr.Wrap(notifyerr.InvalidInput, "marshal envelope", err)
	}

	fireAt := time.Now().Add(delay).UnixMilli()
	res, err := scheduleScript.Run(ctx, q.client,
		[]string{envelopeKey(markerID), dueSetKey},
		string(data), fireAt, markerID,
	).Result()
	if err != nil {
		return AlreadyPresent, notifyerr.Wrap(notifyerr.TransientInfra, "schedule marker", err)
	}

	if n, _ := res.(int64); n == 1 {
		return Added, nil
	}
	return AlreadyPresent, nil
}

var claimScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #due == 0 then
	return nil
end
local markerID = due[1]
redis.call("ZREM", KEYS[1], markerID)
redis.call("HSET", KEYS[2], markerID, ARGV[2])
local env = redis.call("GET", KEYS[3] .. markerID)
return {markerID, env}
`)

// Claim polls for a due marker until one is available or ctx is done. The
// polling-with-short-sleep shape mirrors the teacher's ticker-driven
// worker loop (internal/mailing/worker.go) rather than a blocking Redis
// primitive, since envelope data lives in a companion key the blocking
// pop primitives can't read atomically.
func (q *RedisDelayQueue) Claim(ctx context.Context, workerID string) (*ClaimedJob, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		if err := q.sweepExpiredInflight(ctx); err != nil {
			return nil, err
		}

		job, err := q.tryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *RedisDelayQueue) tryClaim(ctx context.Context) (*ClaimedJob, error) {
	deadline := time.Now().Add(q.visibilityTimeout).UnixMilli()
	res, err := claimScript.Run(ctx, q.client,
		[]string{dueSetKey, inflightSetKey, "notify:envelope:"},
		time.Now().UnixMilli(), deadline,
	).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, notifyerr.Wrap(notifyerr.TransientInfra, "claim marker", err)
	}
	if res == nil {
		return nil, nil
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return nil, nil
	}
	markerID, _ := parts[0].(string)
	rawEnv, _ := parts[1].(string)

	var env Envelope
	if err := json.Unmarshal([]byte(rawEnv), &env); err != nil {
		return nil, notifyerr.Wrap(notifyerr.TransientInfra, "unmarshal envelope", err)
	}

	return &ClaimedJob{MarkerID: markerID, Envelope: env}, nil
}

var sweepScript = redis.NewScript(`
local all = redis.call("HGETALL", KEYS[1])
for i = 1, #all, 2 do
	local markerID = all[i]
	local deadline = tonumber(all[i + 1])
	if deadline <= tonumber(ARGV[1]) then
		redis.call("HDEL", KEYS[1], markerID)
		redis.call("ZADD", KEYS[2], ARGV[1], markerID)
	end
end
return 1
`)

// sweepExpiredInflight re-admits markers whose worker died before calling
// Complete, implementing the visibility-timeout recovery from spec §4.C.
func (q *RedisDelayQueue) sweepExpiredInflight(ctx context.Context) error {
	_, err := sweepScript.Run(ctx, q.client,
		[]string{inflightSetKey, dueSetKey},
		time.Now().UnixMilli(),
	).Result()
	if err != nil && err != redis.Nil {
		return notifyerr.Wrap(notifyerr.TransientInfra, "sweep inflight", err)
	}
	return nil
}

var completeRescheduleScript = redis.NewScript(`
redis.call("HDEL", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], ARGV[2])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
return 1
`)

func (q *RedisDelayQueue) Complete(ctx context.Context, markerID string, rescheduleDelay *time.Duration) error {
	if err := q.client.HDel(ctx, inflightSetKey, markerID).Err(); err != nil {
		return notifyerr.Wrap(notifyerr.TransientInfra, "complete: clear inflight", err)
	}

	if rescheduleDelay == nil {
		// Marker is destroyed: no reschedule was requested because the
		// drain that fired it was empty (spec invariant 3).
		if err := q.client.Del(ctx, envelopeKey(markerID)).Err(); err != nil {
			return notifyerr.Wrap(notifyerr.TransientInfra, "complete: delete envelope", err)
		}
		return nil
	}

	env, err := q.client.Get(ctx, envelopeKey(markerID)).Result()
	if err != nil {
		if err == redis.Nil {
			return notifyerr.New(notifyerr.TransientInfra, "complete: envelope missing for reschedule")
		}
		return notifyerr.Wrap(notifyerr.TransientInfra, "complete: load envelope", err)
	}

	var parsed Envelope
	if jsonErr := json.Unmarshal([]byte(env), &parsed); jsonErr != nil {
		return notifyerr.Wrap(notifyerr.TransientInfra, "complete: unmarshal envelope", jsonErr)
	}
	parsed.RescheduleDelay = rescheduleDelay
	encoded, jsonErr := json.Marshal(parsed)
	if jsonErr != nil {
		return notifyerr.Wrap(notifyerr.TransientInfra, "complete: marshal envelope", jsonErr)
	}

	fireAt := time.Now().Add(*rescheduleDelay).UnixMilli()
	if _, err := completeRescheduleScript.Run(ctx, q.client,
		[]string{inflightSetKey, envelopeKey(markerID), dueSetKey},
		markerID, string(encoded), fireAt,
	).Result(); err != nil {
		return notifyerr.Wrap(notifyerr.TransientInfra, "complete: reschedule", err)
	}
	return nil
}
