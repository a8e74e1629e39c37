package video

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clipdex/clipdex/errors"
	"github.com/clipdex/clipdex/kv"
	"github.com/clipdex/clipdex/logger"
)

const (
	statsKeyPrefix = "user_stats:"
	statsTTL       = 5 * time.Minute
)

// Stats is the cached per-owner library summary served to dashboards.
type Stats struct {
	OwnerID      string    `json:"owner_id"`
	Total        int       `json:"total"`
	Classified   int       `json:"classified"`
	Unclassified int       `json:"unclassified"`
	ComputedAt   time.Time `json:"computed_at"`
}

// StatsCache caches library stats per owner so progress polls during a
// running job do not hammer the database. Invalidate is called when a
// job completes so the next read reflects the new classifications.
type StatsCache struct {
	store kv.Store
	db    *Store
}

func NewStatsCache(store kv.Store, db *Store) *StatsCache {
	return &StatsCache{store: store, db: db}
}

// Stats returns the owner's stats, computing and caching them on miss.
func (c *StatsCache) Stats(ctx context.Context, ownerID string) (*Stats, error) {
	key := statsKeyPrefix + ownerID

	if raw, err := c.store.Get(ctx, key); err == nil {
		var stats Stats
		if err := json.Unmarshal(raw, &stats); err == nil {
			return &stats, nil
		}
		// Corrupt entry, fall through and recompute
		logger.Logger.Warnw("discarding unreadable stats cache entry", "owner_id", ownerID)
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	total, classified, err := c.db.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		OwnerID:      ownerID,
		Total:        total,
		Classified:   classified,
		Unclassified: total - classified,
		ComputedAt:   time.Now(),
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal stats")
	}
	if err := c.store.Set(ctx, key, raw, statsTTL); err != nil {
		// Serving stale-free stats matters more than caching them
		logger.Logger.Warnw("failed to cache stats", "owner_id", ownerID, "error", err)
	}
	return stats, nil
}

// Invalidate drops the cached stats for an owner.
func (c *StatsCache) Invalidate(ctx context.Context, ownerID string) error {
	return c.store.Delete(ctx, statsKeyPrefix+ownerID)
}
