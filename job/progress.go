package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clipdex/clipdex/errors"
	"github.com/clipdex/clipdex/kv"
)

const progressKeyPrefix = "classification_progress:"

// Progress is the per-owner projection of a job that polling and
// streaming clients read. It lives under its own key with its own
// expiry so progress reads never contend with the job record's
// read-modify-write traffic.
type Progress struct {
	OwnerID          string    `json:"owner_id"`
	JobID            string    `json:"job_id,omitempty"`
	Status           Status    `json:"status"`
	Total            int       `json:"total"`
	Completed        int       `json:"completed"`
	Failed           int       `json:"failed"`
	CurrentItemLabel string    `json:"current_item_label,omitempty"`
	Error            string    `json:"error,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ProgressPublisher writes and reads the progress projection.
type ProgressPublisher struct {
	store   kv.Store
	ttl     time.Duration
	timeNow func() time.Time
}

func NewProgressPublisher(store kv.Store, ttl time.Duration) *ProgressPublisher {
	return &ProgressPublisher{store: store, ttl: ttl, timeNow: time.Now}
}

// Publish projects the job into its owner's progress record.
func (p *ProgressPublisher) Publish(ctx context.Context, j *Job) error {
	prog := Progress{
		OwnerID:          j.OwnerID,
		JobID:            j.ID,
		Status:           j.Status,
		Total:            j.Total,
		Completed:        j.Completed,
		Failed:           j.Failed,
		CurrentItemLabel: j.CurrentItemLabel,
		Error:            j.Error,
		UpdatedAt:        p.timeNow(),
	}

	raw, err := json.Marshal(prog)
	if err != nil {
		return errors.Wrap(err, "failed to marshal progress")
	}
	return p.store.Set(ctx, progressKeyPrefix+j.OwnerID, raw, p.ttl)
}

// Get reads an owner's progress. When no record exists (no job ran
// recently, or the record expired) an idle snapshot is returned rather
// than an error.
func (p *ProgressPublisher) Get(ctx context.Context, ownerID string) (*Progress, error) {
	raw, err := p.store.Get(ctx, progressKeyPrefix+ownerID)
	if errors.IsNotFound(err) {
		return &Progress{OwnerID: ownerID, Status: StatusIdle, UpdatedAt: p.timeNow()}, nil
	}
	if err != nil {
		return nil, err
	}

	var prog Progress
	if err := json.Unmarshal(raw, &prog); err != nil {
		return nil, errors.Wrapf(err, "corrupt progress record for owner %s", ownerID)
	}
	return &prog, nil
}

// Clear removes an owner's progress record.
func (p *ProgressPublisher) Clear(ctx context.Context, ownerID string) error {
	return p.store.Delete(ctx, progressKeyPrefix+ownerID)
}
