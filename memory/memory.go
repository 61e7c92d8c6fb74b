/*
Package memory provides in-process implementations of the service storage ports: order,
catalog and identity repositories and the request dedup store. They back tests and
single-process development setups; all types are safe for concurrent use.
*/
package memory

import (
	"context"
	"sync"
	"time"
)

// dedupSweepEvery is how many reservations pass between sweeps of expired claims.
const dedupSweepEvery = 256

// Dedup is an in-memory servicebus.DedupStore with per-key expiry.
type Dedup struct {
	mu    sync.Mutex
	keys  map[string]time.Time
	now   func() time.Time
	calls int
}

// NewDedup creates an empty Dedup.
func NewDedup() *Dedup {
	return &Dedup{keys: make(map[string]time.Time), now: time.Now}
}

// Reserve claims key for ttl. It returns false while an unexpired claim exists.
func (d *Dedup) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	d.calls++
	if d.calls%dedupSweepEvery == 0 {
		for k, exp := range d.keys {
			if !now.Before(exp) {
				delete(d.keys, k)
			}
		}
	}

	if exp, ok := d.keys[key]; ok && now.Before(exp) {
		return false, nil
	}

	d.keys[key] = now.Add(ttl)

	return true, nil
}

// Release drops a claim.
func (d *Dedup) Release(_ context.Context, key string) error {
	d.mu.Lock()
	delete(d.keys, key)
	d.mu.Unlock()

	return nil
}

// Len returns the number of held claims, including expired ones not yet swept.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.keys)
}
