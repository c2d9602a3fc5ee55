// Package backoff implements the retry/backoff formula shared by the
// cluster state machine's discovery retries, the coordinator's transient
// error retries and the node client's redial loop:
// 100ms * 1.25^(attempt-1), capped at 60s, with ±10% jitter (§4.5, §9).
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

const (
	base       = 100 * time.Millisecond
	multiplier = 1.25
	cap_       = 60 * time.Second
	jitter     = 0.10
)

// Backoff produces jittered retry delays. Each client seeds its own
// generator so that many clients retrying in lockstep don't thunder on the
// same schedule. *rand.Rand is not safe for concurrent use, and Duration
// is called from concurrent callers (clusterstate.Machine serializes its
// own calls under its mutex, but cluster.Coordinator.Execute is a
// concurrent entry point with no such lock), so access to rng is guarded
// here rather than left to every caller.
type Backoff struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Backoff seeded from seed. Pass a value derived from the
// client's creation time or address for per-client jitter.
func New(seed int64) *Backoff {
	return &Backoff{rng: rand.New(rand.NewSource(seed))}
}

// Duration returns the delay to wait before retry attempt n (1-indexed).
func (b *Backoff) Duration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= multiplier
		if d >= float64(cap_) {
			d = float64(cap_)
			break
		}
	}
	if d > float64(cap_) {
		d = float64(cap_)
	}
	delta := d * jitter

	b.mu.Lock()
	r := b.rng.Float64()
	b.mu.Unlock()

	d += (r*2 - 1) * delta
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
