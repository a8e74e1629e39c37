// Package job implements the batch classification job engine: durable
// job records, the idempotent batch processing step, and the two
// execution strategies (in-process concurrent runner and stateless
// incremental steps).
package job

// Status is the lifecycle state of a classification job.
//
// pending -> running -> {completed | error | cancelled}, with
// running <-> paused as the only reversible cycle. Terminal states are
// absorbing.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"

	// StatusIdle is never stored on a job; it is the progress
	// projection's answer when an owner has no active job.
	StatusIdle Status = "idle"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// ResultRecord is one per-item outcome. A job's results collection
// holds at most one record per item id.
type ResultRecord struct {
	ItemID     string   `json:"item_id"`
	Success    bool     `json:"success"`
	Categories []string `json:"categories,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Job is one classification run over a fixed set of items.
//
// Results are the single source of truth for progress: Completed and
// Failed are projections recomputed from Results before every write,
// never incremented independently, because independent counters drift
// under concurrent or redelivered execution.
type Job struct {
	ID               string         `json:"job_id"`
	OwnerID          string         `json:"owner_id"`
	Total            int            `json:"total"`
	Completed        int            `json:"completed"`
	Failed           int            `json:"failed"`
	Status           Status         `json:"status"`
	Paused           bool           `json:"paused"`
	CurrentItemLabel string         `json:"current_item_label"`
	Error            string         `json:"error,omitempty"`
	Results          []ResultRecord `json:"results"`
}

// Has reports whether a result for the item id is already recorded.
func (j *Job) Has(itemID string) bool {
	for _, r := range j.Results {
		if r.ItemID == itemID {
			return true
		}
	}
	return false
}

// ResultIDs returns the set of item ids already present in results.
func (j *Job) ResultIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(j.Results))
	for _, r := range j.Results {
		ids[r.ItemID] = struct{}{}
	}
	return ids
}

// AppendIfAbsent appends the record unless a record for its item id is
// already present, and reports whether it appended. This is the dedup
// guard every write path goes through.
func (j *Job) AppendIfAbsent(rec ResultRecord) bool {
	if j.Has(rec.ItemID) {
		return false
	}
	j.Results = append(j.Results, rec)
	return true
}

// Recount recomputes the Completed and Failed projections from Results.
func (j *Job) Recount() {
	failed := 0
	for _, r := range j.Results {
		if !r.Success {
			failed++
		}
	}
	j.Completed = len(j.Results)
	j.Failed = failed
}

// Done reports whether every enrolled item has a recorded result.
func (j *Job) Done() bool {
	return len(j.Results) >= j.Total
}
