package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"lab_key_tracker/db"

	"github.com/redis/go-redis/v9"
)

const dashboardKey = "labkeys:dashboard"

// DashboardCache holds the last dashboard summary for a short TTL. Overdue flags
// are time dependent, so the TTL stays well under the sweep interval.
type DashboardCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDashboardCache(rdb *redis.Client, ttl time.Duration) *DashboardCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DashboardCache{rdb: rdb, ttl: ttl}
}

// Get returns (nil, nil) on a miss.
func (c *DashboardCache) Get(ctx context.Context) (*db.DashboardSummary, error) {
	b, err := c.rdb.Get(ctx, dashboardKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s db.DashboardSummary
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, nil
	}
	return &s, nil
}

func (c *DashboardCache) Set(ctx context.Context, s *db.DashboardSummary) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, dashboardKey, b, c.ttl).Err()
}

func (c *DashboardCache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, dashboardKey).Err()
}
