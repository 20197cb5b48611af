package playback

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

type fakeCall struct {
	roomID      string
	destination string
}

func (c *fakeCall) RoomID() string { return c.roomID }

type fakeHandle struct {
	id      string
	roomID  string
	locator string
}

func (h *fakeHandle) ID() string { return h.id }

// fakeTransport records every call. Streams only end when a test fires them,
// unless autoComplete is set.
type fakeTransport struct {
	mu sync.Mutex

	joinErr   error
	streamErr error

	// autoComplete ends every stream after a short random delay.
	autoComplete bool

	seq        int
	joins      []string // destinations
	started    []string // locators
	stopped    []string // handle IDs
	leaves     []string // room IDs
	callbacks  map[string]func()
	handles    map[string]*fakeHandle
	active     map[string]int // active streams per room
	violations int            // StartStream while another stream of the room was active
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		callbacks: make(map[string]func()),
		handles:   make(map[string]*fakeHandle),
		active:    make(map[string]int),
	}
}

func (f *fakeTransport) Join(_ context.Context, roomID, destination string) (Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, destination)
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	return &fakeCall{roomID: roomID, destination: destination}, nil
}

func (f *fakeTransport) StartStream(_ context.Context, call Call, locator string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	roomID := call.RoomID()
	if f.active[roomID] > 0 {
		f.violations++
	}
	f.active[roomID]++
	f.seq++
	h := &fakeHandle{id: fmt.Sprintf("h%d", f.seq), roomID: roomID, locator: locator}
	f.handles[h.id] = h
	f.started = append(f.started, locator)
	return h, nil
}

func (f *fakeTransport) RegisterCompletion(h Handle, fn func()) {
	f.mu.Lock()
	f.callbacks[h.ID()] = fn
	auto := f.autoComplete
	f.mu.Unlock()

	if auto {
		go func() {
			time.Sleep(time.Duration(rand.Intn(500)) * time.Microsecond)
			f.fire(h.ID())
		}()
	}
}

func (f *fakeTransport) Stop(h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, h.ID())
	return nil
}

func (f *fakeTransport) Leave(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, roomID)
	return nil
}

// fire ends the stream and invokes its completion callback once.
func (f *fakeTransport) fire(handleID string) {
	f.mu.Lock()
	fn, ok := f.callbacks[handleID]
	delete(f.callbacks, handleID)
	if h, found := f.handles[handleID]; found && ok {
		f.active[h.roomID]--
	}
	f.mu.Unlock()

	if ok {
		fn()
	}
}

// lastHandle returns the ID of the most recently started stream.
func (f *fakeTransport) lastHandle() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("h%d", f.seq)
}

func (f *fakeTransport) startedLocators() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func (f *fakeTransport) counts() (joins, started, stopped, leaves int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.joins), len(f.started), len(f.stopped), len(f.leaves)
}

func (f *fakeTransport) setJoinErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinErr = err
}

func (f *fakeTransport) setStreamErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamErr = err
}
