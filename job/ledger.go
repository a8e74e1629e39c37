package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clipdex/clipdex/errors"
	"github.com/clipdex/clipdex/kv"
)

const jobKeyPrefix = "classification_job:"

// Ledger owns job record lifecycle in the key-value store. It exposes
// no partial-field update: every mutation is an explicit Get, modify,
// Put round trip at the call site, which keeps the dedup check next to
// the mutation it protects. Last-write-wins at the record level is
// accepted; correctness rests on the append-if-absent discipline, not
// on storage transactions.
type Ledger struct {
	store       kv.Store
	activeTTL   time.Duration
	terminalTTL time.Duration
}

// NewLedger creates a ledger. Active records expire after activeTTL;
// records in a terminal state are re-armed with terminalTTL so finished
// jobs stay queryable for a while without leaking indefinitely.
func NewLedger(store kv.Store, activeTTL, terminalTTL time.Duration) *Ledger {
	return &Ledger{store: store, activeTTL: activeTTL, terminalTTL: terminalTTL}
}

// Create initializes a pending job record. Fails with ErrAlreadyExists
// if a live record with the same id is present.
func (l *Ledger) Create(ctx context.Context, jobID, ownerID string, total int) (*Job, error) {
	if _, err := l.Get(ctx, jobID); err == nil {
		return nil, errors.Wrapf(errors.ErrAlreadyExists, "job %s", jobID)
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	j := &Job{
		ID:      jobID,
		OwnerID: ownerID,
		Total:   total,
		Status:  StatusPending,
		Results: []ResultRecord{},
	}
	if err := l.Put(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Get reads a job record, ErrNotFound when absent or expired.
func (l *Ledger) Get(ctx context.Context, jobID string) (*Job, error) {
	raw, err := l.store.Get(ctx, jobKeyPrefix+jobID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewNotFound("job not found: %s", jobID)
		}
		return nil, err
	}

	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, errors.Wrapf(err, "corrupt job record %s", jobID)
	}
	return &j, nil
}

// Put writes the full record back, re-arming the expiry countdown. The
// TTL depends on the job's status so terminal records outlive active
// ones.
func (l *Ledger) Put(ctx context.Context, j *Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal job %s", j.ID)
	}

	ttl := l.activeTTL
	if j.Status.Terminal() {
		ttl = l.terminalTTL
	}
	return l.store.Set(ctx, jobKeyPrefix+j.ID, raw, ttl)
}

// Delete removes a job record. Absent records are not an error.
func (l *Ledger) Delete(ctx context.Context, jobID string) error {
	return l.store.Delete(ctx, jobKeyPrefix+jobID)
}

// Pause suspends a running job. Only running jobs may be paused; any
// other state fails with ErrInvalidTransition and the record is left
// untouched.
func (l *Ledger) Pause(ctx context.Context, jobID string) (*Job, error) {
	j, err := l.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != StatusRunning {
		return nil, errors.NewInvalidTransition("cannot pause job %s in status %s", jobID, j.Status)
	}

	j.Status = StatusPaused
	j.Paused = true
	if err := l.Put(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Resume unpauses a paused job.
func (l *Ledger) Resume(ctx context.Context, jobID string) (*Job, error) {
	j, err := l.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != StatusPaused {
		return nil, errors.NewInvalidTransition("cannot resume job %s in status %s", jobID, j.Status)
	}

	j.Status = StatusRunning
	j.Paused = false
	if err := l.Put(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Cancel stops a running or paused job. Cancellation is cooperative:
// items already dispatched may still finish and append their results,
// but no new item is started afterward.
func (l *Ledger) Cancel(ctx context.Context, jobID string) (*Job, error) {
	j, err := l.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != StatusRunning && j.Status != StatusPaused && j.Status != StatusPending {
		return nil, errors.NewInvalidTransition("cannot cancel job %s in status %s", jobID, j.Status)
	}

	j.Status = StatusCancelled
	j.Paused = false
	j.CurrentItemLabel = ""
	if err := l.Put(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Fail moves a job to the error state with a cause description. Used
// when an unrecoverable failure escapes the processing loop; terminal
// jobs are left as they are.
func (l *Ledger) Fail(ctx context.Context, jobID, cause string) (*Job, error) {
	j, err := l.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return j, nil
	}

	j.Status = StatusError
	j.Paused = false
	j.CurrentItemLabel = ""
	j.Error = cause
	if err := l.Put(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}
