package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/clipdex/clipdex/errors"
	"github.com/clipdex/clipdex/logger"
)

// ConcurrentRunner drives a whole job inside one long-lived process:
// the item set is split into fixed-size sub-batches processed by a
// bounded pool of workers. Each worker observes pause and cancel
// signals from the ledger between batches, so pause latency is bounded
// by the poll interval and cancellation is cooperative.
type ConcurrentRunner struct {
	processor *BatchProcessor
	ledger    *Ledger
	progress  *ProgressPublisher
	workers   int
	subBatch  int
	pausePoll time.Duration
	log       *zap.SugaredLogger
}

func NewConcurrentRunner(processor *BatchProcessor, ledger *Ledger, progress *ProgressPublisher, workers, subBatch int, pausePoll time.Duration) *ConcurrentRunner {
	if workers < 1 {
		workers = 1
	}
	if subBatch < 1 {
		subBatch = 1
	}
	return &ConcurrentRunner{
		processor: processor,
		ledger:    ledger,
		progress:  progress,
		workers:   workers,
		subBatch:  subBatch,
		pausePoll: pausePoll,
		log:       logger.Named("runner"),
	}
}

// Run processes all items and blocks until the job reaches a terminal
// state. Worker fan-out is bounded by the configured concurrency; there
// is no unbounded spawn since the classification backend is
// rate-limited.
func (r *ConcurrentRunner) Run(ctx context.Context, jobID string, itemIDs []string) error {
	batches := chunk(itemIDs, r.subBatch)
	r.log.Infow("starting job run", "job_id", jobID, "items", len(itemIDs), "batches", len(batches), "workers", r.workers)

	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	var stopped atomic.Bool
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		stopped.Store(true)
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for _, batch := range batches {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			fail(ctx.Err())
		}
		if stopped.Load() {
			break
		}

		wg.Add(1)
		go func(ids []string) {
			defer wg.Done()
			defer func() { <-sem }()

			if stopped.Load() {
				return
			}
			if !r.waitReady(ctx, jobID) {
				stopped.Store(true)
				return
			}

			if _, err := r.processor.Process(ctx, jobID, ids); err != nil {
				r.log.Errorw("batch processing failed", "job_id", jobID, "error", err)
				fail(err)
			}
		}(batch)
	}

	wg.Wait()
	aborted := stopped.Load() || ctx.Err() != nil
	if err := r.finalize(ctx, jobID, aborted); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	return firstErr
}

// waitReady blocks while the job is paused, polling the ledger at the
// configured interval. Returns false when the job is gone, terminal, or
// the context is cancelled, meaning the worker should exit without
// processing.
func (r *ConcurrentRunner) waitReady(ctx context.Context, jobID string) bool {
	for {
		j, err := r.ledger.Get(ctx, jobID)
		if err != nil {
			if !errors.IsNotFound(err) {
				r.log.Warnw("failed to read job while waiting", "job_id", jobID, "error", err)
			}
			return false
		}
		if j.Status.Terminal() {
			return false
		}
		if !j.Paused && j.Status != StatusPaused {
			return true
		}

		timer := time.NewTimer(r.pausePoll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
}

// finalize settles the job after all workers have returned. A job that
// ended up terminal (cancelled, errored, or completed by the last
// batch) is left as-is. An aborted run (stopped early or context
// cancelled) leaves a non-terminal job untouched too, so a paused job
// survives a process restart still paused. Only a run whose workers
// all finished marks the job completed.
func (r *ConcurrentRunner) finalize(ctx context.Context, jobID string, aborted bool) error {
	j, err := r.ledger.Get(ctx, jobID)
	if errors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return nil
	}
	if aborted && !j.Done() {
		return nil
	}

	j.Recount()
	j.Status = StatusCompleted
	j.Paused = false
	j.CurrentItemLabel = ""
	if err := r.ledger.Put(ctx, j); err != nil {
		return err
	}
	if r.progress != nil {
		if err := r.progress.Publish(ctx, j); err != nil {
			r.log.Warnw("failed to publish final progress", "job_id", jobID, "error", err)
		}
	}
	r.log.Infow("job finished", "job_id", jobID, "completed", j.Completed, "failed", j.Failed, "total", j.Total)
	return nil
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
