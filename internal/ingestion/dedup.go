package ingestion

import (
	"container/list"

	"github.com/google/uuid"
)

// Dedup is an LRU set of processed command IDs. JetStream redelivers on
// missed ACKs, so the dispatcher drops commands it has already applied.
// Not thread-safe: only the single dispatcher goroutine touches it.
type Dedup struct {
	capacity int
	cache    map[uuid.UUID]*list.Element
	order    *list.List
}

func NewDedup(capacity int) *Dedup {
	return &Dedup{
		capacity: capacity,
		cache:    make(map[uuid.UUID]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains reports whether id was processed recently, promoting it.
func (d *Dedup) Contains(id uuid.UUID) bool {
	elem, ok := d.cache[id]
	if ok {
		d.order.MoveToFront(elem)
	}
	return ok
}

// Mark records id as processed, evicting the oldest entry at capacity.
func (d *Dedup) Mark(id uuid.UUID) {
	if elem, ok := d.cache[id]; ok {
		d.order.MoveToFront(elem)
		return
	}
	elem := d.order.PushFront(id)
	d.cache[id] = elem

	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.cache, oldest.Value.(uuid.UUID))
		}
	}
}

// Len returns the number of tracked IDs.
func (d *Dedup) Len() int {
	return d.order.Len()
}
