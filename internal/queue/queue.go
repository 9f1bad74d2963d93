package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"live-transcriber/internal/domain"
	"live-transcriber/internal/metrics"
	"live-transcriber/internal/session"
	"live-transcriber/internal/transcribe"
)

// ErrClosed is returned when enqueueing after intake has stopped.
var ErrClosed = errors.New("queue closed")

// ErrEmptyChunk is returned for ingress deliveries without audio.
var ErrEmptyChunk = errors.New("chunk has no audio")

// JobRunner drives one chunk to a terminal outcome, retries included.
type JobRunner interface {
	Do(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// job pairs a chunk with its mutable processing state.
type job struct {
	chunk  domain.Chunk
	status domain.JobStatus
}

// setStatus applies a transition, dropping edges the state machine forbids.
func (j *job) setStatus(to domain.JobStatus) {
	if domain.ValidTransition(j.status, to) {
		j.status = to
	}
}

// Queue serializes chunk processing so the single external inference
// worker never receives concurrent requests. At most one job is inflight
// at any time and chunks are drained strictly in arrival order.
type Queue struct {
	runner  JobRunner
	state   *session.State
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu            sync.Mutex
	backlog       []*job
	draining      bool
	closed        bool
	processingSeq uint64
	enqueued      uint64
	completed     uint64
	idleCh        chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an idle queue recording outcomes into the session state.
func New(runner JobRunner, state *session.State, m *metrics.Metrics, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		runner:    runner,
		state:     state,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		runCtx:    ctx,
		runCancel: cancel,
	}
}

// Enqueue appends a chunk to the backlog and starts the drain loop when
// the queue is idle. It never blocks on the inflight job.
func (q *Queue) Enqueue(chunk domain.Chunk) error {
	if len(chunk.Audio) == 0 {
		return ErrEmptyChunk
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = q.now().UTC()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	q.backlog = append(q.backlog, &job{chunk: chunk, status: domain.JobStatusQueued})
	q.enqueued++
	depth := len(q.backlog)
	startDrain := !q.draining
	if startDrain {
		q.draining = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	q.metrics.ChunkEnqueued(depth)
	q.logger.Debug("chunk enqueued",
		slog.Uint64("seq", chunk.Seq),
		slog.Int("backlog", depth),
	)

	if startDrain {
		go q.drain()
	}
	return nil
}

// drain pops and processes jobs until the backlog is empty, then parks.
func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.backlog) == 0 {
			q.draining = false
			q.processingSeq = 0
			if q.idleCh != nil {
				close(q.idleCh)
				q.idleCh = nil
			}
			q.mu.Unlock()
			return
		}

		head := q.backlog[0]
		q.backlog = q.backlog[1:]
		head.setStatus(domain.JobStatusInFlight)
		q.processingSeq = head.chunk.Seq
		depth := len(q.backlog)
		q.mu.Unlock()

		q.metrics.SetQueueDepth(depth)
		q.process(head)

		q.mu.Lock()
		q.completed++
		q.mu.Unlock()
	}
}

// process runs one job to its terminal status and records the outcome.
// A job that exhausts its retries never blocks or poisons later chunks.
func (q *Queue) process(j *job) {
	seq := j.chunk.Seq
	start := q.now()
	q.metrics.JobStarted()
	defer q.metrics.JobFinished()

	result, err := q.runner.Do(q.runCtx, transcribe.Request{
		Seq:      seq,
		Audio:    j.chunk.Audio,
		Language: j.chunk.Language,
	})
	if err != nil {
		j.setStatus(domain.JobStatusFailed)
		q.metrics.JobFailed(failureKind(err))
		q.logger.Warn("chunk failed",
			slog.Uint64("seq", seq),
			slog.String("error", err.Error()),
		)
		q.state.RecordFailure(domain.ErrorRecord{
			ChunkSeq:  seq,
			Cause:     err.Error(),
			Timestamp: q.now().UTC(),
		})
		return
	}

	j.setStatus(domain.JobStatusSucceeded)
	q.metrics.JobSucceeded(q.now().Sub(start))
	q.logger.Info("chunk transcribed",
		slog.Uint64("seq", seq),
		slog.String("language", result.Language),
		slog.Duration("elapsed", q.now().Sub(start)),
	)
	q.state.RecordSuccess(domain.TranscriptFragment{
		ChunkSeq:    seq,
		Text:        result.Transcript,
		Language:    result.Language,
		CompletedAt: q.now().UTC(),
	})
}

// Snapshot returns the live queue status for the UI collaborator.
func (q *Queue) Snapshot() domain.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	return domain.QueueStatus{
		Busy:          q.draining,
		ProcessingSeq: q.processingSeq,
		BacklogDepth:  len(q.backlog),
		Enqueued:      q.enqueued,
		Completed:     q.completed,
	}
}

// WaitIdle blocks until the backlog is drained or the context expires.
func (q *Queue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	if !q.draining {
		q.mu.Unlock()
		return nil
	}
	if q.idleCh == nil {
		q.idleCh = make(chan struct{})
	}
	ch := q.idleCh
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake and waits for the existing backlog to drain to
// completion. The inflight job is never aborted by stopping capture;
// it is cancelled only if the wait context expires first.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		q.runCancel()
		<-done
		return ctx.Err()
	}
}

// failureKind extracts the error classification for metrics labels.
func failureKind(err error) string {
	var pErr *transcribe.PipelineError
	if errors.As(err, &pErr) {
		return string(pErr.Kind)
	}
	return "internal"
}
