package playback

import (
	"time"

	"github.com/osa030/19voice/internal/domain/item"
)

// EventType represents a playback event type.
type EventType int

const (
	EventRoomOpened    EventType = iota // Room entry created
	EventItemQueued                     // Items appended to the pending queue
	EventItemStarted                    // Stream started for an item
	EventItemFinished                   // Active stream completed (natural end, stop or error)
	EventAdvanceFailed                  // Join or stream start failed; the popped item was dropped
	EventRoomClosed                     // Room left its destination and was removed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventRoomOpened:
		return "room_opened"
	case EventItemQueued:
		return "item_queued"
	case EventItemStarted:
		return "item_started"
	case EventItemFinished:
		return "item_finished"
	case EventAdvanceFailed:
		return "advance_failed"
	case EventRoomClosed:
		return "room_closed"
	default:
		return "unknown"
	}
}

// Event represents a playback event for one room.
type Event struct {
	Type        EventType
	RoomID      string
	Destination string
	Item        *item.Item // Subject item (nil for room events)
	Queued      int        // Number of items appended (EventItemQueued)
	Pending     int        // Pending queue length after the event
	Err         error      // Cause (EventAdvanceFailed)
	At          time.Time
}
