package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19voice/internal/app/notification"
	"github.com/osa030/19voice/internal/app/playback"
)

const (
	watcherBuffer     = 64
	eventWriteTimeout = 5 * time.Second
)

// ErrWatcherBehind is returned to the notification manager when a watcher's buffer is full.
var ErrWatcherBehind = errors.New("admin: watcher is behind, notification dropped")

// InitialState is the first message on the event stream.
type InitialState struct {
	Type  string              `json:"type"`
	Rooms []playback.Snapshot `json:"rooms"`
}

// watcher buffers notifications for one websocket client so they are written in order.
type watcher struct {
	ch chan *notification.Notification
}

// Send implements notification.Stream.
func (w *watcher) Send(n *notification.Notification) error {
	select {
	case w.ch <- n:
		return nil
	default:
		return ErrWatcherBehind
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		zlog.Warn().Msgf("Failed to accept event stream: remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	defer conn.CloseNow()

	// Nothing is read from clients; CloseRead handles control frames and
	// cancels ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())

	if err := s.writeEvent(ctx, conn, InitialState{Type: "initial_state", Rooms: s.rooms.Snapshots()}); err != nil {
		return
	}

	wt := &watcher{ch: make(chan *notification.Notification, watcherBuffer)}
	id := s.notifier.Subscribe(wt)
	defer s.notifier.Unsubscribe(id)
	zlog.Info().Msgf("Event watcher connected: subscription=%s remote=%s", id, r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msgf("Event watcher disconnected: subscription=%s", id)
			return
		case <-s.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case n := <-wt.ch:
			if err := s.writeEvent(ctx, conn, n); err != nil {
				zlog.Debug().Msgf("Event write failed: subscription=%s err=%v", id, err)
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
