package job

import (
	"context"
)

// StepRunner is the stateless execution strategy for drivers that
// cannot hold a long-lived process: each invocation advances the job by
// at most one fixed-size batch and reports whether work remains. The
// external scheduler re-invokes it, either from pre-enqueued per-batch
// messages or by re-enqueuing while Complete is false. Messages may be
// redelivered, so every invocation relies on the batch processor's
// dedup discipline to be safely re-runnable.
type StepRunner struct {
	processor *BatchProcessor
	batchSize int
}

func NewStepRunner(processor *BatchProcessor, batchSize int) *StepRunner {
	if batchSize < 1 {
		batchSize = 1
	}
	return &StepRunner{processor: processor, batchSize: batchSize}
}

// Step processes one batch. Oversized item sets are truncated to the
// batch size; the surplus is the scheduler's to redeliver.
func (s *StepRunner) Step(ctx context.Context, jobID string, itemIDs []string) (Outcome, error) {
	if len(itemIDs) > s.batchSize {
		itemIDs = itemIDs[:s.batchSize]
	}
	return s.processor.Process(ctx, jobID, itemIDs)
}
