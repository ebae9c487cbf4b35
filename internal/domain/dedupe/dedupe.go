// Package dedupe keeps a bounded window of recently processed envelope
// digests so that a replay after a reconnect does not reach the sink twice.
package dedupe

import (
	"context"
	"sync"
)

// Default window size.
const defaultMaxSize = 10000

// Deduper records seen envelope digests.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a failed envelope can be processed again.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// slot is one ring position. seq tells a live entry from a stale one left
// behind by Unrecord.
type slot struct {
	id  string
	seq uint64
}

// window implements Deduper. Bounded windows evict the oldest digest once
// full; a window with maxSize <= 0 never evicts.
type window struct {
	mu      sync.Mutex
	seen    map[string]uint64
	ring    []slot
	next    int
	seq     uint64
	maxSize int
	onEvict func()
}

// NewInMemoryDeduper creates a replay window.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &window{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]uint64)
	if d.maxSize > 0 {
		d.ring = make([]slot, d.maxSize)
	}
	return d
}

func (d *window) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seq++
	d.seen[id] = d.seq
	if d.ring == nil {
		return false
	}

	old := d.ring[d.next]
	if old.seq != 0 && d.seen[old.id] == old.seq {
		delete(d.seen, old.id)
		if d.onEvict != nil {
			d.onEvict()
		}
	}
	d.ring[d.next] = slot{id: id, seq: d.seq}
	d.next = (d.next + 1) % len(d.ring)
	return false
}

func (d *window) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// The ring slot goes stale; its seq no longer matches.
	delete(d.seen, id)
}

// Size returns the number of digests currently remembered.
func (d *window) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
