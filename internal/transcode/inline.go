package transcode

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// InlineRunner executes jobs on a bounded pool of goroutines inside the API
// process. It is the default strategy for single-node deployments where a
// broker is not worth running.
type InlineRunner struct {
	pipeline *Pipeline
	jobs     chan *Job
	logger   *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewInlineRunner creates the pool. queueDepth bounds how many jobs may wait
// behind the workers before Submit starts rejecting.
func NewInlineRunner(pipeline *Pipeline, queueDepth int, logger *zap.Logger) *InlineRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueDepth <= 0 {
		queueDepth = 16
	}
	return &InlineRunner{
		pipeline: pipeline,
		jobs:     make(chan *Job, queueDepth),
		logger:   logger,
	}
}

// Start launches workers goroutines that drain the job channel until Shutdown.
func (r *InlineRunner) Start(workers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.work(ctx, i)
	}
	r.logger.Info("inline transcode pool started", zap.Int("workers", workers), zap.Int("queue_depth", cap(r.jobs)))
}

func (r *InlineRunner) work(ctx context.Context, id int) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-r.jobs:
			if !ok {
				return
			}
			r.execute(ctx, job, id)
		}
	}
}

func (r *InlineRunner) execute(ctx context.Context, job *Job, workerID int) {
	job.MarkProcessing()
	res, err := r.pipeline.Process(ctx, job.RecordingID())
	if err != nil {
		job.MarkFailed(err)
		r.logger.Warn("transcode job failed",
			zap.Int("worker", workerID),
			zap.Int64("recording_id", job.RecordingID()),
			zap.String("job_id", job.ID()),
			zap.Error(err))
		return
	}
	job.MarkCompleted(res)
	r.logger.Info("transcode job completed",
		zap.Int("worker", workerID),
		zap.Int64("recording_id", job.RecordingID()),
		zap.String("job_id", job.ID()))
}

// Submit hands the job to the pool without blocking. A full queue or a
// stopped pool yields ErrQueueUnavailable. The send happens under the mutex
// so it cannot interleave with Shutdown closing the channel.
func (r *InlineRunner) Submit(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.started {
		return fmt.Errorf("inline pool not running: %w", ErrQueueUnavailable)
	}

	select {
	case r.jobs <- job:
		return nil
	default:
		return fmt.Errorf("inline pool saturated: %w", ErrQueueUnavailable)
	}
}

// Status has no strategy-side record: inline jobs live only in the tracker.
func (r *InlineRunner) Status(context.Context, int64) (*JobStatus, error) {
	return nil, nil
}

// Shutdown stops accepting jobs and waits for in-flight encodes to finish.
// The context bounds the wait; encodes still running when it expires are
// cancelled through the worker context.
func (r *InlineRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
		return ctx.Err()
	}
}
