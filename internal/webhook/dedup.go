package webhook

import "sync"

// DedupCapacity bounds remembered delivery ids. Webhook providers retry
// with the same id for days, but 512 covers any realistic retry window
// without unbounded growth.
const DedupCapacity = 512

// Dedup remembers recently seen delivery ids in FIFO order. When full,
// recording a new id evicts the oldest one.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = DedupCapacity
	}
	return &Dedup{
		seen: make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

// Seen records the id and reports whether it was already present.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = id
	d.next = (d.next + 1) % len(d.ring)
	d.seen[id] = struct{}{}
	return false
}
