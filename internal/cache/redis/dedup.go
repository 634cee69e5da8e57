package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// Dedup implements domain.Deduper with SET NX, so every replica sharing
// the Redis sees the same marks.
type Dedup struct {
	c *Client
}

var _ domain.Deduper = (*Dedup)(nil)

// NewDedup creates a Dedup backed by the given Client.
func NewDedup(c *Client) *Dedup {
	return &Dedup{c: c}
}

// Seen marks key for ttl and reports whether it was already marked.
func (d *Dedup) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fresh, err := d.c.rdb.SetNX(ctx, d.c.key("dedup", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup %s: %w", key, err)
	}
	return !fresh, nil
}
