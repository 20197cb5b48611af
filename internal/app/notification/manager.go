// Package notification provides the notification manager for broadcasting playback events.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19voice/internal/app/playback"
	"github.com/osa030/19voice/internal/domain/item"
)

// DefaultSendTimeout bounds each subscriber send during Broadcast.
const DefaultSendTimeout = 500 * time.Millisecond

// Notification types, matching playback.EventType names.
const (
	TypeRoomOpened    = "room_opened"
	TypeItemQueued    = "item_queued"
	TypeItemStarted   = "item_started"
	TypeItemFinished  = "item_finished"
	TypeAdvanceFailed = "advance_failed"
	TypeRoomClosed    = "room_closed"
)

// Notification is a playback event delivered to subscribers.
type Notification struct {
	SequenceNo  uint64     `json:"sequence_no"`
	Type        string     `json:"type"`
	RoomID      string     `json:"room_id"`
	Destination string     `json:"destination,omitempty"`
	Item        *item.Item `json:"item,omitempty"`
	Queued      int        `json:"queued,omitempty"`
	Pending     int        `json:"pending"`
	Error       string     `json:"error,omitempty"`
	At          time.Time  `json:"at"`
}

// FromEvent converts a playback event into a notification.
func FromEvent(e playback.Event) *Notification {
	n := &Notification{
		Type:        e.Type.String(),
		RoomID:      e.RoomID,
		Destination: e.Destination,
		Item:        e.Item,
		Queued:      e.Queued,
		Pending:     e.Pending,
		At:          e.At,
	}
	if e.Err != nil {
		n.Error = e.Err.Error()
	}
	return n
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// StreamFunc adapts a function to Stream.
type StreamFunc func(*Notification) error

// Send implements Stream.
func (f StreamFunc) Send(n *Notification) error {
	return f(n)
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
	sendTimeout   time.Duration
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
		sendTimeout:   DefaultSendTimeout,
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// nextSequenceNo returns the next sequence number.
func (m *Manager) nextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Broadcast sends a notification to all subscribers.
// Each stream send is done in a goroutine with a timeout to prevent blocking.
func (m *Manager) Broadcast(notification *Notification) {
	notification.SequenceNo = m.nextSequenceNo()

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(notification)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("Notification send failed: subscription=%s err=%v", s.id, err)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("Notification send timed out: subscription=%s", s.id)
			}
		}(sub)
	}

	wg.Wait()
}

// Run broadcasts every event from events until ctx is done or events is closed.
func (m *Manager) Run(ctx context.Context, events <-chan playback.Event) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("Notification loop panic: %v", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			m.Broadcast(FromEvent(e))
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
