package discord

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19voice/internal/app/notification"
)

// EmbedSender posts an embed to a text channel.
type EmbedSender func(channelID string, embed *discordgo.MessageEmbed) error

// Announcer posts "now playing" messages to the text channel a room was last used from.
// It implements notification.Stream.
type Announcer struct {
	send EmbedSender

	mu       sync.Mutex
	channels map[string]trackedChannel // keyed by room ID
	wg       sync.WaitGroup
	now      func() time.Time
}

type trackedChannel struct {
	id        string
	trackedAt time.Time
}

// NewAnnouncer creates an announcer that posts through send.
func NewAnnouncer(send EmbedSender) *Announcer {
	return &Announcer{
		send:     send,
		channels: make(map[string]trackedChannel),
		now:      time.Now,
	}
}

// SessionSender posts embeds with session.
func SessionSender(session *discordgo.Session) EmbedSender {
	return func(channelID string, embed *discordgo.MessageEmbed) error {
		_, err := session.ChannelMessageSendEmbed(channelID, embed)
		return err
	}
}

// Track remembers channelID as the announcement channel of roomID.
func (a *Announcer) Track(roomID, channelID string) {
	if roomID == "" || channelID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.channels[roomID] = trackedChannel{id: channelID, trackedAt: a.now()}
}

// Channel returns the announcement channel of roomID.
func (a *Announcer) Channel(roomID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.channels[roomID]
	return ch.id, ok
}

// Send implements notification.Stream. Posting happens in the background so a
// slow Discord API never holds up other subscribers.
func (a *Announcer) Send(n *notification.Notification) error {
	switch n.Type {
	case notification.TypeItemStarted:
		if n.Item == nil {
			return nil
		}
		channelID, ok := a.Channel(n.RoomID)
		if !ok {
			return nil
		}
		embed := NowPlayingEmbed(*n.Item, n.Pending)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.send(channelID, embed); err != nil {
				zlog.Warn().Msgf("Failed to announce: room=%s channel=%s err=%v", n.RoomID, channelID, err)
			}
		}()
	case notification.TypeRoomClosed:
		a.mu.Lock()
		// A channel tracked after the close belongs to the room's next session.
		if ch, ok := a.channels[n.RoomID]; ok && (n.At.IsZero() || !ch.trackedAt.After(n.At)) {
			delete(a.channels, n.RoomID)
		}
		a.mu.Unlock()
	}
	return nil
}

// Wait blocks until pending announcements have been posted.
func (a *Announcer) Wait() {
	a.wg.Wait()
}
