package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// Dedup implements domain.Deduper with an expiry map. It is safe for
// concurrent use.
type Dedup struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	now    func() time.Time
}

var _ domain.Deduper = (*Dedup)(nil)

// NewDedup creates an empty Dedup.
func NewDedup() *Dedup {
	return &Dedup{
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Seen reports whether key was marked within its ttl. An unseen or expired
// key is marked until now+ttl and false is returned.
func (d *Dedup) Seen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.expiry[key]; ok && now.Before(exp) {
		return true, nil
	}
	if len(d.expiry) >= pruneAbove {
		d.cleanup(now)
	}
	d.expiry[key] = now.Add(ttl)
	return false, nil
}

func (d *Dedup) cleanup(now time.Time) {
	for k, exp := range d.expiry {
		if !now.Before(exp) {
			delete(d.expiry, k)
		}
	}
}

// Len returns the number of remembered keys, expired ones included.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.expiry)
}
