// Package queue dispatches classification batches to the external
// scheduler. Delivery is fire-and-forget with at-least-once semantics:
// messages may arrive out of order or more than once, and the batch
// processor's dedup discipline is what makes that safe.
package queue

import (
	"context"

	"go.uber.org/zap"

	"github.com/clipdex/clipdex/logger"
)

// Message is the batch envelope delivered to the worker endpoint.
type Message struct {
	JobID   string   `json:"job_id"`
	ItemIDs []string `json:"item_ids"`
}

// Dispatcher enqueues one batch of item ids for a job.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string, itemIDs []string) error
}

// Nop is the dispatcher for single-process mode, where the concurrent
// runner drives jobs directly and nothing needs to be enqueued.
type Nop struct {
	log *zap.SugaredLogger
}

func NewNop() *Nop {
	return &Nop{log: logger.Named("queue")}
}

func (n *Nop) Enqueue(ctx context.Context, jobID string, itemIDs []string) error {
	n.log.Debugw("dropping enqueue in single-process mode", "job_id", jobID, "items", len(itemIDs))
	return nil
}
