package playback

import "github.com/osa030/19voice/internal/domain/item"

// Room owns one room's mutable playback state.
// It is not safe for concurrent use; the registry entry lock serializes access.
type Room struct {
	destination string
	relocation  string // Destination requested while a stream was active

	activeHandle Handle
	nowPlaying   *item.Item
	pending      []item.Item
}

// NewRoom creates an idle room bound to destination.
func NewRoom(destination string) *Room {
	return &Room{
		destination: destination,
		pending:     make([]item.Item, 0),
	}
}

// Enqueue appends it to the pending queue.
func (r *Room) Enqueue(it item.Item) {
	r.pending = append(r.pending, it)
}

// PopNext removes and returns the head of the pending queue.
func (r *Room) PopNext() (item.Item, bool) {
	if len(r.pending) == 0 {
		return item.Item{}, false
	}
	it := r.pending[0]
	r.pending[0] = item.Item{}
	r.pending = r.pending[1:]
	return it, true
}

// StartPlaying records it as now playing under handle h.
// The caller must have popped it and must hold the room lock across pop and start.
func (r *Room) StartPlaying(it item.Item, h Handle) {
	r.nowPlaying = &it
	r.activeHandle = h
}

// ClearPlaying clears the now playing slot and the active handle together.
func (r *Room) ClearPlaying() {
	r.nowPlaying = nil
	r.activeHandle = nil
}

// IsIdle reports whether nothing is playing.
func (r *Room) IsIdle() bool {
	return r.nowPlaying == nil
}

// IsEmpty reports whether nothing is playing and nothing is queued.
func (r *Room) IsEmpty() bool {
	return len(r.pending) == 0 && r.IsIdle()
}

// State returns the playback state.
func (r *Room) State() State {
	if r.IsIdle() {
		return StateIdle
	}
	return StatePlaying
}

// Destination returns the destination the room streams into.
func (r *Room) Destination() string {
	return r.destination
}

// Relocate moves the room to destination.
// While a stream is active the move is deferred until the next advance.
func (r *Room) Relocate(destination string) {
	if destination == "" {
		return
	}
	if r.IsIdle() {
		r.destination = destination
		r.relocation = ""
		return
	}
	if destination == r.destination {
		r.relocation = ""
		return
	}
	r.relocation = destination
}

// applyRelocation applies a deferred relocation. Must be called while idle.
func (r *Room) applyRelocation() {
	if r.relocation != "" && r.IsIdle() {
		r.destination = r.relocation
		r.relocation = ""
	}
}

// NowPlaying returns the item currently playing.
func (r *Room) NowPlaying() (item.Item, bool) {
	if r.nowPlaying == nil {
		return item.Item{}, false
	}
	return *r.nowPlaying, true
}

// ActiveHandle returns the handle of the active stream.
func (r *Room) ActiveHandle() (Handle, bool) {
	if r.activeHandle == nil {
		return nil, false
	}
	return r.activeHandle, true
}

// Pending returns a copy of the pending queue.
func (r *Room) Pending() []item.Item {
	cp := make([]item.Item, len(r.pending))
	copy(cp, r.pending)
	return cp
}

// Len returns the number of pending items.
func (r *Room) Len() int {
	return len(r.pending)
}
