package inmemory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-advisor/internal/jobs"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

func newJob(doc string) *jobs.IngestJob {
	return &jobs.IngestJob{DocumentID: doc, Owner: "alice", Filename: doc + ".pdf", Content: []byte("%PDF-")}
}

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.IngestJob {
	t.Helper()
	var got *jobs.IngestJob
	require.Eventually(t, func() bool {
		j, err := store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestPublish_OverloadedWhenBufferFull(t *testing.T) {
	store := NewStore()
	q := NewQueue(2, store)
	ctx := context.Background()

	require.NoError(t, q.PublishIngest(ctx, newJob("d1")))
	require.NoError(t, q.PublishIngest(ctx, newJob("d2")))

	overflow := newJob("d3")
	err := q.PublishIngest(ctx, overflow)
	require.Error(t, err)
	assert.True(t, finerr.IsOverloaded(err))
	assert.Equal(t, 2, q.Depth())

	stored, err := store.GetJob(ctx, overflow.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, stored.Status)
	assert.Nil(t, stored.Content)
}

func TestQueue_ProcessesJobs(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithWorkers(2))
	ctx := context.Background()

	var handled atomic.Int32
	require.NoError(t, q.Start(ctx, func(_ context.Context, job *jobs.IngestJob) error {
		handled.Add(1)
		if job.DocumentID == "bad" {
			return errors.New("pipeline failed")
		}
		return nil
	}))

	good, bad := newJob("good"), newJob("bad")
	require.NoError(t, q.PublishIngest(ctx, good))
	require.NoError(t, q.PublishIngest(ctx, bad))

	done := waitForStatus(t, store, good.JobID, jobs.JobStatusCompleted)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	failed := waitForStatus(t, store, bad.JobID, jobs.JobStatusFailed)
	assert.Equal(t, "pipeline failed", failed.Error)

	require.NoError(t, q.Stop(ctx))
	assert.Equal(t, int32(2), handled.Load())
}

func TestQueue_BoundsConcurrency(t *testing.T) {
	q := NewQueue(20, NewStore(), WithWorkers(2))
	ctx := context.Background()

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	require.NoError(t, q.Start(ctx, func(context.Context, *jobs.IngestJob) error {
		mu.Lock()
		current++
		peak = max(peak, current)
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 8; i++ {
		require.NoError(t, q.PublishIngest(ctx, newJob("d")))
	}
	require.NoError(t, q.Stop(ctx))

	assert.LessOrEqual(t, peak, 2)
	assert.Positive(t, peak)
}

func TestQueue_StopDrainsBufferedJobs(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithWorkers(1))
	ctx := context.Background()

	release := make(chan struct{})
	var handled atomic.Int32
	require.NoError(t, q.Start(ctx, func(context.Context, *jobs.IngestJob) error {
		<-release
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, q.PublishIngest(ctx, newJob("d")))
	}

	stopped := make(chan error, 1)
	go func() { stopped <- q.Stop(ctx) }()

	close(release)
	require.NoError(t, <-stopped)
	assert.Equal(t, int32(3), handled.Load())

	err := q.PublishIngest(ctx, newJob("late"))
	assert.True(t, finerr.HasCode(err, finerr.CodeIngestQueueClosed))
}

func TestQueue_StopHonoursDeadline(t *testing.T) {
	q := NewQueue(1, nil, WithWorkers(1))
	block := make(chan struct{})
	defer close(block)

	require.NoError(t, q.Start(context.Background(), func(context.Context, *jobs.IngestJob) error {
		<-block
		return nil
	}))
	require.NoError(t, q.PublishIngest(context.Background(), newJob("d")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Stop(ctx), context.DeadlineExceeded)
}

func TestQueue_PanicMarksJobFailed(t *testing.T) {
	store := NewStore()
	q := NewQueue(1, store)
	ctx := context.Background()

	require.NoError(t, q.Start(ctx, func(context.Context, *jobs.IngestJob) error {
		panic("boom")
	}))
	job := newJob("d")
	require.NoError(t, q.PublishIngest(ctx, job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Contains(t, failed.Error, "boom")
	require.NoError(t, q.Stop(ctx))
}

func TestQueue_StartTwice(t *testing.T) {
	q := NewQueue(1, nil)
	handler := func(context.Context, *jobs.IngestJob) error { return nil }
	require.NoError(t, q.Start(context.Background(), handler))
	assert.Error(t, q.Start(context.Background(), handler))
	require.NoError(t, q.Close())
}
