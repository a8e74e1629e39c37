package job

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/clipdex/clipdex/classify"
	"github.com/clipdex/clipdex/errors"
	"github.com/clipdex/clipdex/logger"
)

// Item is a work item as the processing loop sees it: the fields the
// classifier needs plus the durable classified flag.
type Item struct {
	classify.Item
	Classified bool
}

// Library is the persistence gateway the processor applies results
// through. Apply returns errors.ErrConflict when the item was already
// classified by a different execution, distinguished from a generic
// failure.
type Library interface {
	Items(ctx context.Context, ids []string) ([]Item, error)
	Apply(ctx context.Context, itemID string, result classify.Result) error
}

// Invalidator receives the advisory cache-invalidation signal after a
// batch commits and again at completion.
type Invalidator interface {
	Invalidate(ctx context.Context, ownerID string) error
}

// Outcome reports what one processing call accomplished.
type Outcome struct {
	Processed int  `json:"processed"`
	Complete  bool `json:"complete"`
}

// BatchProcessor advances a job by one batch of items, idempotently.
// It is the shared unit of work behind both execution strategies, and
// it is safe to re-run with the same inputs: redelivery of an
// already-applied batch is a no-op.
type BatchProcessor struct {
	ledger      *Ledger
	gateway     classify.Gateway
	library     Library
	invalidator Invalidator
	progress    *ProgressPublisher
	log         *zap.SugaredLogger

	// mu serializes job-record writes within this process so
	// concurrent workers cannot clobber each other's appends. Overlap
	// across processes is still possible and is handled by the
	// append-if-absent merge plus the persistence conflict check.
	mu sync.Mutex
}

func NewBatchProcessor(ledger *Ledger, gateway classify.Gateway, library Library, invalidator Invalidator, progress *ProgressPublisher) *BatchProcessor {
	return &BatchProcessor{
		ledger:      ledger,
		gateway:     gateway,
		library:     library,
		invalidator: invalidator,
		progress:    progress,
		log:         logger.Named("batch"),
	}
}

// Process runs the batch algorithm:
//
//  1. read the job; absent means nothing to do, not an error
//  2. dedup the batch against recorded results
//  3. fetch items, skipping any already classified elsewhere
//  4. one classification call for the whole remainder
//  5. apply each result; conflicts are someone else's success and are
//     omitted, other failures become failure records
//  6. re-read, append-if-absent, recount, write back
//  7. transition to completed once every item has a result
//
// A gateway outage in step 4 moves the job to error; per-item apply
// failures are recorded and do not abort the batch.
func (p *BatchProcessor) Process(ctx context.Context, jobID string, itemIDs []string) (Outcome, error) {
	j, err := p.ledger.Get(ctx, jobID)
	if errors.IsNotFound(err) {
		p.log.Debugw("job absent, skipping batch", "job_id", jobID)
		return Outcome{}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	// No new work starts on a terminal job; redelivered batches for a
	// cancelled or finished job land here and no-op.
	if j.Status.Terminal() {
		return Outcome{Complete: j.Status == StatusCompleted}, nil
	}

	done := j.ResultIDs()
	toDo := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		if _, ok := done[id]; !ok {
			toDo = append(toDo, id)
		}
	}
	if len(toDo) == 0 {
		return Outcome{Complete: j.Done()}, nil
	}

	items, err := p.library.Items(ctx, toDo)
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "failed to fetch items for job %s", jobID)
	}
	pending := make([]classify.Item, 0, len(items))
	for _, it := range items {
		// Classified out from under us by an overlapping execution; its
		// record is that execution's to append.
		if it.Classified {
			continue
		}
		pending = append(pending, it.Item)
	}
	if len(pending) == 0 {
		return Outcome{Complete: j.Done()}, nil
	}

	if err := p.markRunning(ctx, jobID, pending[0].Title); err != nil {
		return Outcome{}, err
	}

	results, err := p.gateway.Classify(ctx, pending)
	if err != nil {
		// Whole-batch outage, not a per-item failure: the job halts.
		p.log.Errorw("classification call failed", "job_id", jobID, "items", len(pending), "error", err)
		p.mu.Lock()
		if failed, ferr := p.ledger.Fail(ctx, jobID, err.Error()); ferr == nil {
			p.publish(ctx, failed)
		}
		p.mu.Unlock()
		return Outcome{}, errors.Wrapf(err, "classification failed for job %s", jobID)
	}

	var records []ResultRecord
	for i, item := range pending {
		if i >= len(results) {
			break
		}
		records = append(records, p.apply(ctx, item, results[i]))
	}

	return p.commit(ctx, jobID, records)
}

// markRunning re-reads the job under the write lock before flagging it
// running with the in-flight item label. A stale write here would wipe
// results a concurrent worker committed after our initial read.
func (p *BatchProcessor) markRunning(ctx context.Context, jobID, label string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	j, err := p.ledger.Get(ctx, jobID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if j.Status.Terminal() {
		return nil
	}

	if j.Status == StatusPending {
		j.Status = StatusRunning
	}
	j.CurrentItemLabel = label
	if err := p.ledger.Put(ctx, j); err != nil {
		return err
	}
	p.publish(ctx, j)
	return nil
}

// apply pushes one classification into the library and builds the
// result record for it. A zero-valued record (empty ItemID) means
// nothing should be appended.
func (p *BatchProcessor) apply(ctx context.Context, item classify.Item, res classify.Result) ResultRecord {
	if !res.Success {
		return ResultRecord{ItemID: item.ID, Success: false, Error: res.Error}
	}

	res = classify.Normalize(res)
	err := p.library.Apply(ctx, item.ID, res)
	switch {
	case err == nil:
		return ResultRecord{
			ItemID:     item.ID,
			Success:    true,
			Categories: append(append([]string{}, res.PrimaryCategories...), res.SecondaryCategories...),
			Tags:       res.Tags,
		}
	case errors.IsConflict(err):
		// A concurrent execution classified this item between our fetch
		// and our apply. Its success record is already (or about to be)
		// in the job; appending anything here would double-count.
		p.log.Debugw("apply lost race, omitting record", "item_id", item.ID)
		return ResultRecord{}
	default:
		p.log.Warnw("failed to apply classification", "item_id", item.ID, "error", err)
		return ResultRecord{ItemID: item.ID, Success: false, Error: err.Error()}
	}
}

// commit merges the new records into the live job record. The job is
// re-read first so appends from concurrent executions since step 1 are
// preserved, and each record is only appended if its item id is still
// absent.
func (p *BatchProcessor) commit(ctx context.Context, jobID string, records []ResultRecord) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	j, err := p.ledger.Get(ctx, jobID)
	if errors.IsNotFound(err) {
		p.log.Warnw("job vanished before commit, dropping batch results", "job_id", jobID, "records", len(records))
		return Outcome{}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	appended := 0
	for _, rec := range records {
		if rec.ItemID == "" {
			continue
		}
		if j.AppendIfAbsent(rec) {
			appended++
		}
	}
	j.Recount()

	// A cancelled job may still absorb results from work that was
	// already in flight, but it never leaves its terminal state.
	complete := j.Done()
	if complete && !j.Status.Terminal() {
		j.Status = StatusCompleted
		j.Paused = false
		j.CurrentItemLabel = ""
	}

	if err := p.ledger.Put(ctx, j); err != nil {
		return Outcome{}, err
	}
	p.publish(ctx, j)

	if p.invalidator != nil && appended > 0 {
		if err := p.invalidator.Invalidate(ctx, j.OwnerID); err != nil {
			p.log.Warnw("cache invalidation failed", "owner_id", j.OwnerID, "error", err)
		}
	}

	p.log.Infow("batch committed",
		"job_id", jobID,
		"appended", appended,
		"completed", j.Completed,
		"failed", j.Failed,
		"total", j.Total,
		"status", j.Status)
	return Outcome{Processed: appended, Complete: j.Status == StatusCompleted}, nil
}

func (p *BatchProcessor) publish(ctx context.Context, j *Job) {
	if p.progress == nil {
		return
	}
	if err := p.progress.Publish(ctx, j); err != nil {
		p.log.Warnw("failed to publish progress", "job_id", j.ID, "error", err)
	}
}
