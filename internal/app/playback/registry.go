package playback

import (
	"sort"
	"sync"
)

// entry is one registry slot. mu guards room and removed.
type entry struct {
	mu      sync.Mutex
	room    *Room
	removed bool
}

// Registry maps room IDs to independently lockable rooms.
// The map lock only guards structure; room content is guarded by each entry's lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*entry),
	}
}

// Guard is exclusive access to one room. Release it with Unlock.
type Guard struct {
	reg     *Registry
	id      string
	e       *entry
	created bool
}

// Acquire returns the locked room for id, creating it bound to destination if absent.
// An existing room is relocated to destination.
func (r *Registry) Acquire(id, destination string) *Guard {
	for {
		created := false

		r.mu.Lock()
		e, ok := r.rooms[id]
		if !ok {
			e = &entry{room: NewRoom(destination)}
			r.rooms[id] = e
			created = true
		}
		r.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			// Lost a race with teardown; the next pass inserts a fresh entry.
			e.mu.Unlock()
			continue
		}
		if !created {
			e.room.Relocate(destination)
		}
		return &Guard{reg: r, id: id, e: e, created: created}
	}
}

// Lookup returns the locked room for id without creating it.
func (r *Registry) Lookup(id string) (*Guard, bool) {
	r.mu.RLock()
	e, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil, false
	}
	return &Guard{reg: r, id: id, e: e}, true
}

// Remove removes the room for id. Absent rooms are a no-op.
func (r *Registry) Remove(id string) {
	g, ok := r.Lookup(id)
	if !ok {
		return
	}
	g.Remove()
	g.Unlock()
}

// Has reports whether a room exists for id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[id]
	return ok
}

// IDs returns the IDs of all rooms, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ID returns the room ID.
func (g *Guard) ID() string {
	return g.id
}

// Room returns the guarded room state.
func (g *Guard) Room() *Room {
	return g.e.room
}

// Created reports whether Acquire inserted the room.
func (g *Guard) Created() bool {
	return g.created
}

// Removed reports whether the room was removed under this guard.
func (g *Guard) Removed() bool {
	return g.e.removed
}

// Remove deletes the room from the registry. It must be the last operation
// performed on the room before Unlock. Calling it twice is a no-op.
func (g *Guard) Remove() {
	if g.e.removed {
		return
	}
	g.e.removed = true

	g.reg.mu.Lock()
	if cur, ok := g.reg.rooms[g.id]; ok && cur == g.e {
		delete(g.reg.rooms, g.id)
	}
	g.reg.mu.Unlock()
}

// Unlock releases the room.
func (g *Guard) Unlock() {
	g.e.mu.Unlock()
}
