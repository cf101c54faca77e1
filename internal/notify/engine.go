package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/notify/schedule"
	"github.com/ignite/sparkpost-monitor/internal/notifyerr"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// Handler processes one fired marker's drained batch. Returning an error
// leaves the batch staged and the marker inflight; the visibility timeout
// re-admits the marker once it elapses, and the retry finds the same
// staged batch via StagingStore.FindOrphaned rather than losing it (spec
// §4.D invariant 1 — at-least-once, not at-most-once).
type Handler func(ctx context.Context, category schedule.Category, batchKey string, payloads [][]byte) error

// Engine is component D, the batched-jobs engine: producers call Add,
// workers run Run to claim fired markers, drain their batch, invoke the
// installed Handler, and reschedule.
type Engine struct {
	batches  BatchStore
	delays   DelayQueue
	staging  StagingStore
	registry *schedule.Registry
	handler  Handler
}

// NewEngine builds an Engine. registry is typically schedule.Process();
// a dedicated registry is accepted so tests can inject overrides without
// touching process-global state.
func NewEngine(batches BatchStore, delays DelayQueue, staging StagingStore, registry *schedule.Registry) *Engine {
	return &Engine{batches: batches, delays: delays, staging: staging, registry: registry}
}

// SetHandler installs fn. Per spec it is installed exactly once per
// process; calling it again replaces the handler, which is only safe
// before Run starts claiming.
func (e *Engine) SetHandler(fn Handler) {
	e.handler = fn
}

// Add appends payload to the batch identified by (category, batchKey),
// creating a marker with the category's first-delay if none exists yet.
func (e *Engine) Add(ctx context.Context, category schedule.Category, batchKey string, logMeta json.RawMessage, payload []byte) error {
	entry, ok := e.registry.Lookup(category)
	if !ok {
		logger.Warn("discarding job for unknown category", "category", string(category), "batch_key", batchKey)
		return nil
	}

	markerID := schedule.MarkerID(category, batchKey)
	if err := e.batches.Append(ctx, markerID, payload); err != nil {
		return err
	}

	env := Envelope{Category: string(category), BatchKey: batchKey, LogMeta: logMeta}
	res, err := e.delays.Schedule(ctx, markerID, env, entry.FirstDelay)
	if err != nil {
		return err
	}
	if res == Added {
		logger.Debug("marker created", "marker_id", markerID, "first_delay_ms", entry.FirstDelay.Milliseconds())
	}
	return nil
}

// Run claims fired markers in a loop until ctx is cancelled, processing
// each one with the installed handler. It is meant to be run from
// cmd/notify-worker, one call per worker goroutine.
func (e *Engine) Run(ctx context.Context, workerID string) error {
	if e.handler == nil {
		return notifyerr.New(notifyerr.TransientInfra, "engine: no handler installed")
	}

	for {
		job, err := e.delays.Claim(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := e.fire(ctx, workerID, job); err != nil {
			logger.Error("marker fire failed", "marker_id", job.MarkerID, "err", err.Error())
		}
	}
}

// fire implements the drain-then-handle-then-complete staged-batch
// protocol. Before draining fresh, it checks for a batch staged by a
// prior fire of this (category, batch-key) that was never unstaged —
// meaning the worker that staged it crashed between Drain and Complete —
// and replays that instead of draining again, so the crash window loses
// nothing (DESIGN.md, spec §9 Open Question resolution). The staged copy
// is only cleared after the handler succeeds; a handler error leaves it
// in place so the next fire of this marker retries the same payloads
// rather than the handler's error causing silent loss.
func (e *Engine) fire(ctx context.Context, workerID string, job *ClaimedJob) error {
	category := schedule.Category(job.Envelope.Category)
	batchKey := job.Envelope.BatchKey

	stageID, payloads, err := e.staging.FindOrphaned(ctx, category, batchKey)
	if err != nil {
		return err
	}

	if stageID == "" {
		drained, err := e.batches.Drain(ctx, job.MarkerID)
		if err != nil {
			return err
		}
		if len(drained) == 0 {
			// Invariant 3: an observed-empty period ends the marker, never
			// reschedules it.
			return e.delays.Complete(ctx, job.MarkerID, nil)
		}

		stageID = StageID(category, batchKey, time.Now().UnixNano())
		if err := e.staging.Stage(ctx, stageID, drained); err != nil {
			return err
		}
		payloads = drained
	} else {
		logger.Warn("replaying orphaned staged batch from a prior crash", "stage_id", stageID, "marker_id", job.MarkerID)
	}

	if handlerErr := e.handler(ctx, category, batchKey, payloads); handlerErr != nil {
		logger.Error("handler failed, leaving batch staged for retry", "marker_id", job.MarkerID, "stage_id", stageID, "err", handlerErr.Error())
		return handlerErr
	}

	if err := e.staging.Unstage(ctx, stageID); err != nil {
		logger.Error("failed to clear staged batch", "stage_id", stageID, "err", err.Error())
	}

	entry, ok := e.registry.Lookup(category)
	if !ok {
		return notifyerr.New(notifyerr.TransientInfra, "engine: marker fired for unregistered category")
	}
	throttle := entry.Throttle
	return e.delays.Complete(ctx, job.MarkerID, &throttle)
}
