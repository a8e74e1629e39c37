// Package video owns the durable video library: the records that
// classification results are applied to.
package video

import "time"

// Video is one entry in an owner's library.
type Video struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Title        string     `json:"title"`
	Channel      string     `json:"channel,omitempty"`
	Description  string     `json:"description,omitempty"`
	DurationSec  int        `json:"duration_seconds,omitempty"`
	Classified   bool       `json:"classified"`
	ClassifiedAt *time.Time `json:"classified_at,omitempty"`
	Categories   []string   `json:"categories,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	AddedAt      time.Time  `json:"added_at"`
}
