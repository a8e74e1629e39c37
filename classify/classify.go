// Package classify defines the AI classification gateway: batch-in,
// batch-out categorization of videos.
package classify

import (
	"context"
	"strings"
)

// Categories is the fixed vocabulary the model chooses from. Results
// referencing categories outside this list are dropped during
// validation rather than persisted.
var Categories = []string{
	"Education",
	"Entertainment",
	"Music",
	"Gaming",
	"Technology",
	"Science",
	"Sports",
	"Lifestyle",
	"News",
	"DIY/How-to",
	"Comedy",
	"Documentary",
	"Food & Cooking",
	"Travel",
	"Health & Fitness",
	"Business",
	"Art & Design",
	"Fashion & Beauty",
	"Automotive",
	"Pets & Animals",
}

// MaxTags bounds how many tags a result keeps.
const MaxTags = 5

// Item is one unit of work submitted for classification.
type Item struct {
	ID          string
	Title       string
	Channel     string
	Description string
	DurationSec int
}

// Result is one classification outcome. Results come back in the same
// order as the submitted items.
type Result struct {
	Success             bool     `json:"success"`
	PrimaryCategories   []string `json:"primary_categories"`
	SecondaryCategories []string `json:"secondary_categories"`
	Tags                []string `json:"tags"`
	Confidence          float64  `json:"confidence"`
	Error               string   `json:"error,omitempty"`
}

// AllCategories returns primary followed by secondary categories.
func (r Result) AllCategories() []string {
	out := make([]string, 0, len(r.PrimaryCategories)+len(r.SecondaryCategories))
	out = append(out, r.PrimaryCategories...)
	out = append(out, r.SecondaryCategories...)
	return out
}

// Gateway classifies a batch of items in one call. Implementations must
// return exactly one result per item, in input order; callers handle
// length mismatches defensively but should never have to.
type Gateway interface {
	Classify(ctx context.Context, items []Item) ([]Result, error)
}

var categorySet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(Categories))
	for _, c := range Categories {
		set[c] = struct{}{}
	}
	return set
}()

// ValidCategory reports whether name is in the fixed vocabulary.
func ValidCategory(name string) bool {
	_, ok := categorySet[name]
	return ok
}

// Normalize enforces the vocabulary and tag bounds on a result:
// unknown categories are dropped, tags are lowercased, trimmed, and
// capped at MaxTags.
func Normalize(r Result) Result {
	r.PrimaryCategories = filterCategories(r.PrimaryCategories)
	r.SecondaryCategories = filterCategories(r.SecondaryCategories)

	tags := make([]string, 0, MaxTags)
	for _, tag := range r.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		tags = append(tags, tag)
		if len(tags) == MaxTags {
			break
		}
	}
	r.Tags = tags
	return r
}

func filterCategories(names []string) []string {
	out := names[:0]
	for _, name := range names {
		if ValidCategory(strings.TrimSpace(name)) {
			out = append(out, strings.TrimSpace(name))
		}
	}
	return out
}
