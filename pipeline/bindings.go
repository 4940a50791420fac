package pipeline

import (
	"github.com/kineticworks/simsync/physics"
	"github.com/kineticworks/simsync/scene"
)

// Bindings is the side-table relating scene entities to simulation body
// handles, in both directions. It is the authoritative back-reference: the
// simulation never owns entity identity, and the pipeline only consults this
// table to translate collision events and to remove bodies whose components
// are gone.
type Bindings struct {
	byEntity map[scene.Entity]physics.Handle
	byHandle map[physics.Handle]scene.Entity
}

// NewBindings returns an empty table.
func NewBindings() *Bindings {
	return &Bindings{
		byEntity: make(map[scene.Entity]physics.Handle),
		byHandle: make(map[physics.Handle]scene.Entity),
	}
}

// Bind associates the entity with the handle, displacing any previous
// binding of either side.
func (b *Bindings) Bind(e scene.Entity, h physics.Handle) {
	if old, ok := b.byEntity[e]; ok {
		delete(b.byHandle, old)
	}
	if old, ok := b.byHandle[h]; ok {
		delete(b.byEntity, old)
	}
	b.byEntity[e] = h
	b.byHandle[h] = e
}

// Unbind removes the entity's binding and returns the handle it held.
func (b *Bindings) Unbind(e scene.Entity) (physics.Handle, bool) {
	h, ok := b.byEntity[e]
	if !ok {
		return physics.InvalidHandle, false
	}
	delete(b.byEntity, e)
	delete(b.byHandle, h)
	return h, true
}

// HandleOf returns the handle bound to the entity.
func (b *Bindings) HandleOf(e scene.Entity) (physics.Handle, bool) {
	h, ok := b.byEntity[e]
	return h, ok
}

// EntityOf returns the entity bound to the handle.
func (b *Bindings) EntityOf(h physics.Handle) (scene.Entity, bool) {
	e, ok := b.byHandle[h]
	return e, ok
}

// Len returns the number of live bindings.
func (b *Bindings) Len() int { return len(b.byEntity) }
