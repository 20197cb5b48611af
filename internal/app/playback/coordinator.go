package playback

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19voice/internal/domain/item"
	"github.com/osa030/19voice/internal/domain/outcome"
)

// Errors
var (
	ErrNothingToEnqueue = errors.New("nothing to enqueue")
)

// Config holds coordinator configuration.
type Config struct {
	EventBuffer int           // Capacity of the event channel
	JoinTimeout time.Duration // Bound for join and stream start when advancing after a completion
}

// Snapshot is a point-in-time copy of one room's state.
type Snapshot struct {
	RoomID      string      `json:"room_id"`
	Destination string      `json:"destination"`
	State       string      `json:"state"`
	NowPlaying  *item.Item  `json:"now_playing,omitempty"`
	Pending     []item.Item `json:"pending"`
}

// EnqueueRequest describes items to append to one room.
type EnqueueRequest struct {
	RoomID      string
	Destination string
	Items       []item.Item
	// Admit runs under the room lock before anything is appended.
	// A non-nil error rejects the whole request.
	Admit func(Snapshot) error
}

// Coordinator drives the per-room queues: enqueue, advance, completion and skip.
type Coordinator struct {
	registry  *Registry
	transport Transport
	config    Config

	eventCh chan Event

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCoordinator creates a coordinator that streams through transport.
func NewCoordinator(transport Transport, config Config) *Coordinator {
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		registry:  NewRegistry(),
		transport: transport,
		config:    config,
		eventCh:   make(chan Event, config.EventBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Events returns the event channel.
func (c *Coordinator) Events() <-chan Event {
	return c.eventCh
}

// Registry returns the room registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Enqueue appends req.Items to the room and advances it.
// It returns the 1-based pending position of the first appended item. When the
// items were appended but the advance failed, the position is returned with the error.
func (c *Coordinator) Enqueue(ctx context.Context, req EnqueueRequest) (int, error) {
	if len(req.Items) == 0 {
		return 0, ErrNothingToEnqueue
	}

	g := c.registry.Acquire(req.RoomID, req.Destination)
	defer g.Unlock()

	room := g.Room()
	if req.Admit != nil {
		if err := req.Admit(snapshotLocked(g)); err != nil {
			if g.Created() {
				g.Remove()
			}
			return 0, err
		}
	}

	if g.Created() {
		zlog.Info().Msgf("Room opened: room=%s destination=%s", g.ID(), room.Destination())
		c.sendEvent(Event{Type: EventRoomOpened, RoomID: g.ID(), Destination: room.Destination()})
	}

	position := room.Len() + 1
	for _, it := range req.Items {
		room.Enqueue(it)
	}
	zlog.Debug().Msgf("Enqueued: room=%s count=%d position=%d", g.ID(), len(req.Items), position)
	c.sendEvent(Event{
		Type:        EventItemQueued,
		RoomID:      g.ID(),
		Destination: room.Destination(),
		Item:        &req.Items[0],
		Queued:      len(req.Items),
		Pending:     room.Len(),
	})

	return position, c.advanceLocked(ctx, g)
}

// Advance runs the advance protocol for roomID. Absent rooms are a no-op.
func (c *Coordinator) Advance(ctx context.Context, roomID string) error {
	g, ok := c.registry.Lookup(roomID)
	if !ok {
		return nil
	}
	defer g.Unlock()
	return c.advanceLocked(ctx, g)
}

// advanceLocked starts the next item or tears the room down.
// Must be called with the room lock held. After teardown the guard must only be unlocked.
func (c *Coordinator) advanceLocked(ctx context.Context, g *Guard) error {
	room := g.Room()
	if !room.IsIdle() {
		return nil
	}
	room.applyRelocation()

	next, ok := room.PopNext()
	if !ok {
		destination := room.Destination()
		if err := c.transport.Leave(ctx, g.ID()); err != nil {
			zlog.Warn().Msgf("Failed to leave destination: room=%s err=%v", g.ID(), err)
		}
		g.Remove()
		zlog.Info().Msgf("Room closed: room=%s", g.ID())
		c.sendEvent(Event{Type: EventRoomClosed, RoomID: g.ID(), Destination: destination})
		return nil
	}

	call, err := c.transport.Join(ctx, g.ID(), room.Destination())
	if err != nil {
		return c.advanceFailedLocked(g, next, outcome.Wrap(outcome.KindJoinFailed,
			errors.Wrapf(err, "failed to join %s", room.Destination())))
	}

	handle, err := c.transport.StartStream(ctx, call, next.Locator)
	if err != nil {
		return c.advanceFailedLocked(g, next, outcome.Wrap(outcome.KindStreamStartFailed,
			errors.Wrapf(err, "failed to start stream for %s", next.DisplayTitle())))
	}

	room.StartPlaying(next, handle)
	roomID := g.ID()
	c.transport.RegisterCompletion(handle, func() {
		c.complete(roomID, handle)
	})

	zlog.Info().Msgf("Now playing: room=%s title=%s pending=%d", roomID, next.DisplayTitle(), room.Len())
	c.sendEvent(Event{
		Type:        EventItemStarted,
		RoomID:      roomID,
		Destination: room.Destination(),
		Item:        &next,
		Pending:     room.Len(),
	})
	return nil
}

// advanceFailedLocked reports a failed start. The popped item is dropped.
// Must be called with the room lock held.
func (c *Coordinator) advanceFailedLocked(g *Guard, dropped item.Item, err error) error {
	zlog.Error().Msgf("Failed to start next item: room=%s title=%s err=%v", g.ID(), dropped.DisplayTitle(), err)
	c.sendEvent(Event{
		Type:        EventAdvanceFailed,
		RoomID:      g.ID(),
		Destination: g.Room().Destination(),
		Item:        &dropped,
		Pending:     g.Room().Len(),
		Err:         err,
	})
	return err
}

// complete handles the end of the stream identified by h.
// It is a no-op when the room is gone or h is no longer the active handle.
func (c *Coordinator) complete(roomID string, h Handle) {
	g, ok := c.registry.Lookup(roomID)
	if !ok {
		zlog.Debug().Msgf("Completion for closed room ignored: room=%s", roomID)
		return
	}

	room := g.Room()
	active, playing := room.ActiveHandle()
	if !playing || active.ID() != h.ID() {
		g.Unlock()
		zlog.Debug().Msgf("Stale completion ignored: room=%s handle=%s", roomID, h.ID())
		return
	}

	finished, _ := room.NowPlaying()
	room.ClearPlaying()
	c.sendEvent(Event{
		Type:        EventItemFinished,
		RoomID:      roomID,
		Destination: room.Destination(),
		Item:        &finished,
		Pending:     room.Len(),
	})
	g.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.config.JoinTimeout)
	defer cancel()
	if err := c.Advance(ctx, roomID); err != nil {
		// Nobody is waiting on a response here.
		zlog.Error().Msgf("Failed to advance after completion: room=%s err=%v", roomID, err)
	}
}

// Skip stops the active stream of roomID and returns the skipped item.
// The completion of the stopped stream advances the queue.
func (c *Coordinator) Skip(roomID string) (item.Item, error) {
	g, ok := c.registry.Lookup(roomID)
	if !ok {
		return item.Item{}, outcome.New(outcome.KindNoActiveRoom)
	}
	defer g.Unlock()

	room := g.Room()
	h, ok := room.ActiveHandle()
	if !ok {
		return item.Item{}, outcome.New(outcome.KindNoActiveRoom)
	}
	skipped, _ := room.NowPlaying()

	if err := c.transport.Stop(h); err != nil {
		return item.Item{}, outcome.Internal(errors.Wrapf(err, "failed to stop %s", h.ID()))
	}
	zlog.Info().Msgf("Skipped: room=%s title=%s", roomID, skipped.DisplayTitle())
	return skipped, nil
}

// Close stops playback in roomID, leaves its destination and removes it,
// discarding anything queued. Late completions for the room are ignored.
func (c *Coordinator) Close(ctx context.Context, roomID string) error {
	g, ok := c.registry.Lookup(roomID)
	if !ok {
		return outcome.New(outcome.KindNoActiveRoom)
	}
	defer g.Unlock()

	room := g.Room()
	if h, ok := room.ActiveHandle(); ok {
		if err := c.transport.Stop(h); err != nil {
			zlog.Warn().Msgf("Failed to stop stream: room=%s err=%v", roomID, err)
		}
	}
	destination := room.Destination()
	discarded := room.Len()
	room.ClearPlaying()

	if err := c.transport.Leave(ctx, roomID); err != nil {
		zlog.Warn().Msgf("Failed to leave destination: room=%s err=%v", roomID, err)
	}
	g.Remove()
	zlog.Info().Msgf("Room force-closed: room=%s discarded=%d", roomID, discarded)
	c.sendEvent(Event{Type: EventRoomClosed, RoomID: roomID, Destination: destination})
	return nil
}

// Shutdown closes every room and stops delivering events.
func (c *Coordinator) Shutdown(ctx context.Context) {
	for _, id := range c.registry.IDs() {
		if err := c.Close(ctx, id); err != nil && outcome.KindOf(err) != outcome.KindNoActiveRoom {
			zlog.Warn().Msgf("Failed to close room: room=%s err=%v", id, err)
		}
	}
	c.cancel()
}

// Snapshot returns the state of roomID.
func (c *Coordinator) Snapshot(roomID string) (Snapshot, bool) {
	g, ok := c.registry.Lookup(roomID)
	if !ok {
		return Snapshot{}, false
	}
	defer g.Unlock()
	return snapshotLocked(g), true
}

// Snapshots returns the state of every room, ordered by room ID.
func (c *Coordinator) Snapshots() []Snapshot {
	ids := c.registry.IDs()
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if s, ok := c.Snapshot(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// snapshotLocked copies the guarded room. Must be called with the room lock held.
func snapshotLocked(g *Guard) Snapshot {
	room := g.Room()
	s := Snapshot{
		RoomID:      g.ID(),
		Destination: room.Destination(),
		State:       room.State().String(),
		Pending:     room.Pending(),
	}
	if it, ok := room.NowPlaying(); ok {
		s.NowPlaying = &it
	}
	return s
}

// sendEvent publishes e without blocking. Events are dropped when the buffer is full.
func (c *Coordinator) sendEvent(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case c.eventCh <- e:
	case <-c.ctx.Done():
	default:
		zlog.Debug().Msgf("Event dropped: type=%s room=%s", e.Type, e.RoomID)
	}
}
