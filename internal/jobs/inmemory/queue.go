package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-advisor/internal/jobs"
	"github.com/dvloznov/finance-advisor/internal/logger"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// Queue is a bounded in-memory job queue. Published jobs wait in a fixed-size
// buffer and are drained into a fixed-size ants worker pool. Publishing never
// blocks: a full buffer is reported as overloaded.
type Queue struct {
	jobChan   chan *jobs.IngestJob
	closeChan chan struct{}
	done      chan struct{}
	inflight  sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	workers   int
	pool      *ants.Pool
	log       zerolog.Logger
	closed    bool
	started   bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the pool size. Default is 4, minimum 1.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n < 1 {
			n = 1
		}
		q.workers = n
	}
}

// WithLogger sets the logger used for job lifecycle events.
func WithLogger(log zerolog.Logger) Option {
	return func(q *Queue) {
		q.log = log
	}
}

// NewQueue creates a queue that buffers at most bufferSize jobs.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...Option) *Queue {
	if bufferSize < 1 {
		bufferSize = 1
	}
	q := &Queue{
		jobChan:   make(chan *jobs.IngestJob, bufferSize),
		closeChan: make(chan struct{}),
		done:      make(chan struct{}),
		store:     store,
		workers:   4,
		log:       logger.New(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PublishIngest implements the Publisher interface.
func (q *Queue) PublishIngest(ctx context.Context, job *jobs.IngestJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return finerr.New(finerr.CodeIngestQueueClosed, "queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	job.Status = jobs.JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	// Saved before the send: once queued, the job belongs to a worker.
	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			q.log.Warn().Err(err).Str("job_id", job.JobID).Msg("saving queued job")
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	default:
	}

	err := finerr.New(finerr.CodeIngestQueueOverloaded, "ingestion queue is full",
		finerr.FieldDocumentID(job.DocumentID), finerr.Field("capacity", cap(q.jobChan)))
	if q.store != nil {
		_ = q.store.UpdateJobStatus(ctx, job.JobID, jobs.JobStatusFailed, err.Error())
	}
	return err
}

// Depth reports how many jobs are buffered and not yet handed to a worker.
func (q *Queue) Depth() int {
	return len(q.jobChan)
}

// Start implements the Consumer interface. Jobs are handled on the pool with
// ctx as their parent context.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return finerr.New(finerr.CodeIngestQueueClosed, "queue is closed")
	}
	if q.started {
		return fmt.Errorf("queue already started")
	}

	pool, err := ants.NewPool(q.workers, ants.WithPanicHandler(func(p any) {
		q.log.Error().Interface("panic", p).Msg("ingestion worker panicked")
	}))
	if err != nil {
		return fmt.Errorf("Start: creating worker pool: %w", err)
	}
	q.pool = pool
	q.started = true

	go q.dispatch(ctx, handler)
	return nil
}

// dispatch hands buffered jobs to the pool. Submit blocks while every worker
// is busy, so the buffer is what absorbs bursts.
func (q *Queue) dispatch(ctx context.Context, handler jobs.JobHandler) {
	defer close(q.done)

	for {
		select {
		case job := <-q.jobChan:
			q.submit(ctx, job, handler)
		case <-q.closeChan:
			// Drain what was accepted before the close.
			for {
				select {
				case job := <-q.jobChan:
					q.submit(ctx, job, handler)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) submit(ctx context.Context, job *jobs.IngestJob, handler jobs.JobHandler) {
	q.inflight.Add(1)
	err := q.pool.Submit(func() {
		defer q.inflight.Done()
		q.processJob(ctx, job, handler)
	})
	if err != nil {
		q.inflight.Done()
		q.finish(ctx, job, fmt.Errorf("submitting job: %w", err))
	}
}

// processJob executes a single job. Jobs are not retried.
func (q *Queue) processJob(ctx context.Context, job *jobs.IngestJob, handler jobs.JobHandler) {
	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	jobLog := q.log.With().Str("job_id", job.JobID).Str("document_id", job.DocumentID).Logger()
	jobLog.Info().Msg("job started")

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = finerr.Errorf(finerr.CodeServerInternalFailure, "job panicked: %v", r)
			}
		}()
		return handler(logger.WithContext(ctx, jobLog), job)
	}()
	q.finish(ctx, job, err)

	if err != nil {
		jobLog.Error().Err(err).Msg("job failed")
		return
	}
	jobLog.Info().Dur("elapsed", time.Since(now)).Msg("job completed")
}

func (q *Queue) finish(ctx context.Context, job *jobs.IngestJob, err error) {
	completedAt := time.Now()
	job.CompletedAt = &completedAt
	job.Content = nil

	if err != nil {
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	}

	if q.store != nil {
		_ = q.store.SaveJob(context.WithoutCancel(ctx), job)
	}
}

// Stop implements the Consumer interface. Buffered jobs are still processed;
// ctx bounds how long Stop waits for them.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		<-q.done
		q.inflight.Wait()
		q.pool.Release()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
