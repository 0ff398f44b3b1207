package objtable

import (
	"sync"
)

// Table is the per-context mapping from 64-bit guest object identifiers to
// typed host objects. Access is serialized by an internal mutex; lookup is
// a momentary lock, matching the lock-per-call style of the teacher's
// backend implementations.
type Table struct {
	mu      sync.Mutex
	objects map[uint64]*Object
}

// New creates an empty table.
func New() *Table {
	return &Table{objects: make(map[uint64]*Object)}
}

// Insert adds obj to the table. Requires obj.ID != 0, a recognized kind,
// and that the id is not already present; a collision or invalid kind is
// rejected rather than silently overwriting, since ids may never be
// reused within a context while still referenced.
func (t *Table) Insert(obj Object) bool {
	if obj.ID == 0 || !obj.Kind.IsValid() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.objects[obj.ID]; exists {
		return false
	}

	stored := obj
	t.objects[obj.ID] = &stored

	if obj.HasParent {
		if parent, ok := t.objects[obj.Parent]; ok {
			parent.children = append(parent.children, obj.ID)
		}
	}

	return true
}

// Lookup returns the object for id and whether it was found with the
// expected kind. id == 0 always reports not-found without touching the
// map, matching the decoder's "null handle" convention.
func (t *Table) Lookup(id uint64, expectedKind Kind) (Object, bool) {
	if id == 0 {
		return Object{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	obj, ok := t.objects[id]
	if !ok || obj.Kind != expectedKind {
		return Object{}, false
	}
	return *obj, true
}

// Remove deletes id from the table and returns the removed object. It does
// not recurse into children; callers needing parent/child semantics use
// RemoveWithChildren.
func (t *Table) Remove(id uint64) (Object, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(id)
}

func (t *Table) removeLocked(id uint64) (Object, bool) {
	obj, ok := t.objects[id]
	if !ok {
		return Object{}, false
	}
	delete(t.objects, id)

	if obj.HasParent {
		if parent, ok := t.objects[obj.Parent]; ok {
			parent.children = removeID(parent.children, id)
		}
	}

	return *obj, true
}

// RemoveMany batch-removes the given ids under one lock acquisition and
// returns the objects actually removed (ids not present are skipped), in
// the shape the caller needs to drive native-driver destroy calls.
func (t *Table) RemoveMany(ids []uint64) []Object {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := make([]Object, 0, len(ids))
	for _, id := range ids {
		if obj, ok := t.removeLocked(id); ok {
			removed = append(removed, obj)
		}
	}
	return removed
}

// RemoveWithChildren removes id and every object transitively owned by it
// (the device-destroys-children, pool-destroys-sets/buffers case from
// spec.md's parent/child deletion rule). Children are removed depth-first
// and returned innermost-first so the caller can issue native destroy
// calls in a safe order (children before the parent they reference).
func (t *Table) RemoveWithChildren(id uint64) []Object {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []Object
	t.removeChildrenLocked(id, &removed)

	if obj, ok := t.removeLocked(id); ok {
		removed = append(removed, obj)
	}
	return removed
}

// RemoveChildrenOnly removes every object owned by id without removing id
// itself — the "reset pool" case, which destroys the child-destruction
// portion without removing the parent.
func (t *Table) RemoveChildrenOnly(id uint64) []Object {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []Object
	t.removeChildrenLocked(id, &removed)
	return removed
}

func (t *Table) removeChildrenLocked(id uint64, removed *[]Object) {
	parent, ok := t.objects[id]
	if !ok {
		return
	}

	children := append([]uint64(nil), parent.children...)
	for _, childID := range children {
		t.removeChildrenLocked(childID, removed)
		if obj, ok := t.objects[childID]; ok {
			delete(t.objects, childID)
			*removed = append(*removed, *obj)
		}
	}
	parent.children = nil
}

// IDsOfKind returns every live object id of the given kind, for teardown
// paths that need to enumerate top-level objects (e.g. every instance a
// context ever created) without the caller tracking them separately.
func (t *Table) IDsOfKind(kind Kind) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []uint64
	for id, obj := range t.objects {
		if obj.Kind == kind {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len reports the number of live objects, for Context.Stats().
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.objects)
}

func removeID(ids []uint64, target uint64) []uint64 {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
