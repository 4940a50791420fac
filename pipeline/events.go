package pipeline

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kineticworks/simsync/physics"
	"github.com/kineticworks/simsync/scene"
)

// EntityContactEvent is a contact event translated back to the entities
// owning the participating bodies. The entity order matches the collider
// order of the raw event.
type EntityContactEvent struct {
	EntityA scene.Entity
	EntityB scene.Entity
	Event   physics.ContactEvent
}

// EntityProximityEvent is a proximity event translated back to entities.
type EntityProximityEvent struct {
	EntityA scene.Entity
	EntityB scene.Entity
	Event   physics.ProximityEvent
}

// Channel is an append-only event sink with independent readers, each
// consuming every event exactly once. Entries every reader has seen are
// dropped on Compact.
type Channel[T any] struct {
	mu sync.Mutex

	buf     []T
	base    uint64
	readers map[string]uint64
}

// NewChannel returns an empty channel.
func NewChannel[T any]() *Channel[T] {
	return &Channel[T]{readers: make(map[string]uint64)}
}

// Write appends events for all current readers.
func (c *Channel[T]) Write(events ...T) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, events...)
}

// NewReader registers a reader positioned at the current head: it only
// observes events written after registration.
func (c *Channel[T]) NewReader() *ChannelReader[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	c.readers[id] = c.base + uint64(len(c.buf))
	return &ChannelReader[T]{ch: c, id: id}
}

// Compact drops events every registered reader has consumed. Without
// readers the buffer is cleared outright.
func (c *Channel[T]) Compact() {
	c.mu.Lock()
	defer c.mu.Unlock()

	head := c.base + uint64(len(c.buf))
	min := head
	for _, pos := range c.readers {
		if pos < min {
			min = pos
		}
	}
	if min > c.base {
		c.buf = c.buf[min-c.base:]
		c.base = min
	}
}

// ChannelReader consumes a channel with its own cursor.
type ChannelReader[T any] struct {
	ch *Channel[T]
	id string
}

// ID returns the reader's registration token.
func (r *ChannelReader[T]) ID() string { return r.id }

// Read returns every event written since the previous Read and advances the
// cursor past it.
func (r *ChannelReader[T]) Read() []T {
	c := r.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.readers[r.id]
	head := c.base + uint64(len(c.buf))
	if pos >= head {
		return nil
	}
	out := make([]T, head-pos)
	copy(out, c.buf[pos-c.base:])
	c.readers[r.id] = head
	return out
}
