package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ignite/sparkpost-monitor/internal/notify/schedule"
)

func testRegistry() *schedule.Registry {
	return schedule.New(map[schedule.Category]schedule.Entry{
		schedule.DocChange: {FirstDelay: 20 * time.Millisecond, Throttle: 40 * time.Millisecond},
		schedule.Comment:   {FirstDelay: 10 * time.Millisecond, Throttle: 30 * time.Millisecond},
	})
}

func newTestEngine(t *testing.T) *Engine {
	client := newTestRedis(t)
	return NewEngine(
		NewRedisBatchStore(client),
		NewRedisDelayQueue(client, time.Minute),
		NewRedisStagingStore(client),
		testRegistry(),
	)
}

func TestEngineAddCreatesMarkerOnlyOnce(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.Add(ctx, schedule.DocChange, "doc1/u1", nil, []byte("p1")))
	require.NoError(t, e.Add(ctx, schedule.DocChange, "doc1/u1", nil, []byte("p2")))

	out, err := e.batches.Drain(ctx, schedule.MarkerID(schedule.DocChange, "doc1/u1"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("p1"), []byte("p2")}, out)

	// The first Add created the marker; it is still the one in place.
	res, err := e.delays.Schedule(ctx, schedule.MarkerID(schedule.DocChange, "doc1/u1"), Envelope{Category: "doc-change", BatchKey: "doc1/u1"}, time.Hour)
	require.NoError(t, err)
	require.Equal(t, AlreadyPresent, res)
}

func TestEngineAddDiscardsUnknownCategory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.Add(ctx, schedule.Category("unknown"), "doc1/u1", nil, []byte("p1")))

	exists, err := e.batches.Exists(ctx, schedule.MarkerID(schedule.Category("unknown"), "doc1/u1"))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestEngineRunFiresHandlerAndReschedulesOnNonEmptyDrain(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var mu sync.Mutex
	var invocations [][][]byte
	e.SetHandler(func(_ context.Context, category schedule.Category, batchKey string, payloads [][]byte) error {
		mu.Lock()
		defer mu.Unlock()
		invocations = append(invocations, payloads)
		return nil
	})

	require.NoError(t, e.Add(ctx, schedule.DocChange, "doc1/u1", nil, []byte("p1")))

	runCtx, stopRun := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- e.Run(runCtx, "worker-1") }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(invocations) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	stopRun()
	<-done

	mu.Lock()
	require.Equal(t, [][]byte{[]byte("p1")}, invocations[0])
	mu.Unlock()

	// Marker was rescheduled (non-empty drain): scheduling it again before
	// the throttle window elapses is a no-op.
	res, err := e.delays.Schedule(ctx, schedule.MarkerID(schedule.DocChange, "doc1/u1"), Envelope{Category: "doc-change", BatchKey: "doc1/u1"}, time.Hour)
	require.NoError(t, err)
	require.Equal(t, AlreadyPresent, res)
}

func TestEngineFireReplaysOrphanedStageInsteadOfRedraining(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	markerID := schedule.MarkerID(schedule.DocChange, "doc1/u1")
	_, err := e.delays.Schedule(ctx, markerID, Envelope{Category: "doc-change", BatchKey: "doc1/u1"}, time.Millisecond)
	require.NoError(t, err)
	claimCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	job, err := e.delays.Claim(claimCtx, "worker-1")
	require.NoError(t, err)

	// Simulate a worker that staged a batch and then crashed before the
	// handler ran: the staging key exists but the batch store was already
	// drained (emptied) by that crashed attempt.
	staged := [][]byte{[]byte("lost-without-recovery")}
	require.NoError(t, e.staging.Stage(ctx, StageID(schedule.DocChange, "doc1/u1", 1), staged))

	var got [][]byte
	e.SetHandler(func(_ context.Context, _ schedule.Category, _ string, payloads [][]byte) error {
		got = payloads
		return nil
	})

	require.NoError(t, e.fire(ctx, "worker-1", job))
	require.Equal(t, staged, got)

	// The orphaned stage was replayed and cleared, not left behind.
	gotID, _, err := e.staging.FindOrphaned(ctx, schedule.DocChange, "doc1/u1")
	require.NoError(t, err)
	require.Empty(t, gotID)
}

func TestEngineFireLeavesBatchStagedOnHandlerError(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	markerID := schedule.MarkerID(schedule.DocChange, "doc1/u1")
	_, err := e.delays.Schedule(ctx, markerID, Envelope{Category: "doc-change", BatchKey: "doc1/u1"}, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, e.batches.Append(ctx, markerID, []byte("p1")))

	claimCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	job, err := e.delays.Claim(claimCtx, "worker-1")
	require.NoError(t, err)

	e.SetHandler(func(_ context.Context, _ schedule.Category, _ string, _ [][]byte) error {
		return fmt.Errorf("boom")
	})

	require.Error(t, e.fire(ctx, "worker-1", job))

	// The batch is still staged for the next claim to find and retry.
	gotID, payloads, err := e.staging.FindOrphaned(ctx, schedule.DocChange, "doc1/u1")
	require.NoError(t, err)
	require.NotEmpty(t, gotID)
	require.Equal(t, [][]byte{[]byte("p1")}, payloads)
}

func TestEngineEmptyDrainEndsMarker(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	markerID := schedule.MarkerID(schedule.Comment, "doc1/u1")
	_, err := e.delays.Schedule(ctx, markerID, Envelope{Category: "comment", BatchKey: "doc1/u1"}, time.Millisecond)
	require.NoError(t, err)

	claimCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	job, err := e.delays.Claim(claimCtx, "worker-1")
	require.NoError(t, err)

	require.NoError(t, e.fire(ctx, "worker-1", job))

	// Marker is gone: scheduling again is accepted as new rather than a no-op.
	res, err := e.delays.Schedule(ctx, markerID, Envelope{Category: "comment", BatchKey: "doc1/u1"}, time.Hour)
	require.NoError(t, err)
	require.Equal(t, Added, res)
}
