// Package scene is a change-tracked store for the components the
// synchronization pipeline cares about: world transforms, optional local
// transforms, and rigid-body parameters. Every table keeps an append-only
// change log with monotonic sequence numbers; readers hold independent
// cursors and consume each change exactly once.
package scene

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Entity identifies a scene entity. The store does not manage entity
// lifetimes; an entity exists wherever a component is stored under its ID.
type Entity uint64

// ChangeKind classifies a change-log entry.
type ChangeKind int

const (
	// Inserted marks the first write of a component for an entity.
	Inserted ChangeKind = iota
	// Modified marks a write over an existing component.
	Modified
	// Removed marks a component removal.
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// ChangeEvent is one entry of a table's change log.
type ChangeEvent struct {
	Entity Entity
	Kind   ChangeKind
}

// Table stores one component kind keyed by entity, with change tracking.
// It is safe for concurrent use, though the frame pipeline owns the store
// exclusively while a frame runs.
type Table[T any] struct {
	mu sync.RWMutex

	name  string
	items map[Entity]T

	// log holds changes not yet consumed by every reader; base is the
	// sequence number of log[0].
	log     []ChangeEvent
	base    uint64
	readers map[string]uint64
}

// NewTable returns an empty table. The name only appears in logs.
func NewTable[T any](name string) *Table[T] {
	return &Table[T]{
		name:    name,
		items:   make(map[Entity]T),
		readers: make(map[string]uint64),
	}
}

// Name returns the table's log name.
func (t *Table[T]) Name() string { return t.name }

// Set writes the component for the entity, recording Inserted on first
// write and Modified afterwards.
func (t *Table[T]) Set(e Entity, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kind := Modified
	if _, exists := t.items[e]; !exists {
		kind = Inserted
	}
	t.items[e] = v
	t.log = append(t.log, ChangeEvent{Entity: e, Kind: kind})
}

// SetSilent overwrites an existing component without recording a change.
// The pipeline uses it for writes that originate from the simulation itself
// (handle back-references, force zeroing, outbound state write-back), which
// must not echo back through change detection. It reports whether the
// component existed.
func (t *Table[T]) SetSilent(e Entity, v T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.items[e]; !exists {
		return false
	}
	t.items[e] = v
	return true
}

// Get returns the component stored for the entity.
func (t *Table[T]) Get(e Entity) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.items[e]
	return v, ok
}

// Remove deletes the entity's component, recording Removed. It reports
// whether a component existed.
func (t *Table[T]) Remove(e Entity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.items[e]; !exists {
		return false
	}
	delete(t.items, e)
	t.log = append(t.log, ChangeEvent{Entity: e, Kind: Removed})
	return true
}

// Len returns the number of stored components.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Entities returns all entities with a component, in ascending order for
// deterministic iteration.
func (t *Table[T]) Entities() []Entity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entity, 0, len(t.items))
	for e := range t.items {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewReader registers a change reader positioned at the current head of the
// log: it will only observe changes made after registration.
func (t *Table[T]) NewReader() *Reader[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.NewString()
	t.readers[id] = t.base + uint64(len(t.log))
	return &Reader[T]{table: t, id: id}
}

// Compact drops log entries every registered reader has consumed. Without
// readers the log is cleared outright.
func (t *Table[T]) Compact() {
	t.mu.Lock()
	defer t.mu.Unlock()

	head := t.base + uint64(len(t.log))
	min := head
	for _, pos := range t.readers {
		if pos < min {
			min = pos
		}
	}
	if min > t.base {
		t.log = t.log[min-t.base:]
		t.base = min
	}
}

// Reader consumes a table's change log. Each reader has its own cursor;
// cursors must not be shared between pipeline components.
type Reader[T any] struct {
	table *Table[T]
	id    string
}

// ID returns the reader's registration token.
func (r *Reader[T]) ID() string { return r.id }

// Read returns every change recorded since the previous Read (or since
// registration) and advances the cursor past it.
func (r *Reader[T]) Read() []ChangeEvent {
	t := r.table
	t.mu.Lock()
	defer t.mu.Unlock()

	pos := t.readers[r.id]
	head := t.base + uint64(len(t.log))
	if pos >= head {
		return nil
	}
	events := make([]ChangeEvent, head-pos)
	copy(events, t.log[pos-t.base:])
	t.readers[r.id] = head
	return events
}

// Store bundles the component tables the pipeline operates on.
type Store struct {
	worldTransforms *Table[WorldTransform]
	transforms      *Table[Transform]
	bodies          *Table[RigidBody]
}

// NewStore returns a store with empty tables.
func NewStore() *Store {
	return &Store{
		worldTransforms: NewTable[WorldTransform]("world_transforms"),
		transforms:      NewTable[Transform]("transforms"),
		bodies:          NewTable[RigidBody]("rigid_bodies"),
	}
}

// WorldTransforms is the table of entity world transforms.
func (s *Store) WorldTransforms() *Table[WorldTransform] { return s.worldTransforms }

// Transforms is the table of optional local transforms.
func (s *Store) Transforms() *Table[Transform] { return s.transforms }

// Bodies is the table of rigid-body components.
func (s *Store) Bodies() *Table[RigidBody] { return s.bodies }

// Compact trims all change logs.
func (s *Store) Compact() {
	s.worldTransforms.Compact()
	s.transforms.Compact()
	s.bodies.Compact()
}

// Spawn writes the component pair for a simulated entity in one call: the
// world transform derived from the local transform, the local transform
// itself, and the rigid-body parameters.
func (s *Store) Spawn(e Entity, local Transform, body RigidBody) {
	s.worldTransforms.Set(e, WorldTransformFromPose(local.Pose, local.Scale))
	s.transforms.Set(e, local)
	s.bodies.Set(e, body)
}

// Despawn removes every component stored for the entity.
func (s *Store) Despawn(e Entity) {
	s.worldTransforms.Remove(e)
	s.transforms.Remove(e)
	s.bodies.Remove(e)
}
