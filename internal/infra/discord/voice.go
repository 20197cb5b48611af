package discord

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19voice/internal/app/playback"
)

// Errors
var (
	ErrForeignCall   = errors.New("call was not created by this transport")
	ErrForeignHandle = errors.New("handle was not created by this transport")
)

// streamDrainTimeout bounds how long Leave waits for a stopped stream to wind down.
const streamDrainTimeout = 3 * time.Second

// Compile-time interface assertion.
var _ playback.Transport = (*Transport)(nil)

// voiceCall is an attached voice connection for one guild.
type voiceCall struct {
	guildID   string
	channelID string
	vc        *discordgo.VoiceConnection
}

func (c *voiceCall) RoomID() string {
	return c.guildID
}

// Transport streams audio into Discord voice channels.
// Rooms are guilds and destinations are voice channel IDs.
type Transport struct {
	session    *discordgo.Session
	ffmpegPath string

	mu      sync.Mutex
	calls   map[string]*voiceCall // keyed by guild ID
	streams map[string]*stream    // latest stream per guild

	seq atomic.Uint64
}

// NewTransport creates a transport on an open session.
func NewTransport(session *discordgo.Session, ffmpegPath string) *Transport {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Transport{
		session:    session,
		ffmpegPath: ffmpegPath,
		calls:      make(map[string]*voiceCall),
		streams:    make(map[string]*stream),
	}
}

// Join connects to the voice channel destination of guild roomID.
// An existing connection to the same channel is reused; a connection to another
// channel of the guild is moved.
func (t *Transport) Join(ctx context.Context, roomID, destination string) (playback.Call, error) {
	t.mu.Lock()
	existing, ok := t.calls[roomID]
	t.mu.Unlock()
	if ok && existing.channelID == destination {
		return existing, nil
	}

	type joined struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan joined, 1)
	go func() {
		// mute=false (we send audio), deaf=true (we never listen).
		vc, err := t.session.ChannelVoiceJoin(roomID, destination, false, true)
		ch <- joined{vc: vc, err: err}
	}()

	var res joined
	select {
	case res = <-ch:
	case <-ctx.Done():
		go func() {
			// Do not leave a connection behind that nobody owns.
			if late := <-ch; late.err == nil && late.vc != nil {
				_ = late.vc.Disconnect()
			}
		}()
		return nil, errors.Wrapf(ctx.Err(), "join voice channel %s", destination)
	}
	if res.err != nil {
		return nil, errors.Wrapf(res.err, "join voice channel %s", destination)
	}

	call := &voiceCall{guildID: roomID, channelID: destination, vc: res.vc}
	t.mu.Lock()
	t.calls[roomID] = call
	t.mu.Unlock()
	zlog.Debug().Msgf("Joined voice channel: guild=%s channel=%s", roomID, destination)
	return call, nil
}

// StartStream starts ffmpeg for locator and pipes its audio into the call.
// The stream outlives ctx; it ends on its own or through Stop.
func (t *Transport) StartStream(_ context.Context, call playback.Call, locator string) (playback.Handle, error) {
	vcall, ok := call.(*voiceCall)
	if !ok {
		return nil, ErrForeignCall
	}

	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(sctx, t.ffmpegPath, ffmpegArgs(locator)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to open ffmpeg stdout")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to start ffmpeg")
	}

	s := newStream(fmt.Sprintf("%s-%d", vcall.guildID, t.seq.Add(1)), vcall.guildID, locator, cancel)
	t.mu.Lock()
	t.streams[vcall.guildID] = s
	t.mu.Unlock()
	go func() {
		defer cancel()

		if err := vcall.vc.Speaking(true); err != nil {
			zlog.Warn().Msgf("Failed to set speaking: guild=%s err=%v", vcall.guildID, err)
		}
		pumpErr := pump(sctx, stdout, enc, vcall.vc.OpusSend)
		if pumpErr != nil {
			// Unblock ffmpeg if we stopped reading early.
			cancel()
		}
		waitErr := cmd.Wait()
		if err := vcall.vc.Speaking(false); err != nil {
			zlog.Debug().Msgf("Failed to clear speaking: guild=%s err=%v", vcall.guildID, err)
		}

		var streamErr error
		switch {
		case sctx.Err() != nil && pumpErr == nil:
			zlog.Debug().Msgf("Stream stopped: guild=%s handle=%s", vcall.guildID, s.id)
		case pumpErr != nil:
			streamErr = pumpErr
		case waitErr != nil:
			streamErr = errors.Wrapf(waitErr, "ffmpeg: %s", strings.TrimSpace(stderr.String()))
		}
		if streamErr != nil {
			zlog.Warn().Msgf("Stream ended with error: guild=%s handle=%s err=%v", vcall.guildID, s.id, streamErr)
		}
		s.finish(streamErr)
	}()

	zlog.Debug().Msgf("Stream started: guild=%s handle=%s", vcall.guildID, s.id)
	return s, nil
}

// RegisterCompletion calls fn on its own goroutine once the stream has ended.
func (t *Transport) RegisterCompletion(h playback.Handle, fn func()) {
	s, ok := h.(*stream)
	if !ok {
		zlog.Error().Msgf("Completion registered for foreign handle: handle=%s", h.ID())
		return
	}
	go func() {
		<-s.Done()
		fn()
	}()
}

// Stop ends the stream without waiting for it to wind down.
func (t *Transport) Stop(h playback.Handle) error {
	s, ok := h.(*stream)
	if !ok {
		return ErrForeignHandle
	}
	s.cancel()
	return nil
}

// Leave stops the guild's stream, waits for it to wind down and disconnects from
// the voice channel. Leaving an unjoined guild is a no-op.
func (t *Transport) Leave(ctx context.Context, roomID string) error {
	t.mu.Lock()
	call, ok := t.calls[roomID]
	s := t.streams[roomID]
	delete(t.calls, roomID)
	delete(t.streams, roomID)
	t.mu.Unlock()

	if s != nil {
		s.cancel()
		if !awaitStream(ctx, s, streamDrainTimeout) {
			zlog.Warn().Msgf("Stream still running at leave: guild=%s handle=%s", roomID, s.id)
		}
	}
	if !ok {
		return nil
	}

	if err := call.vc.Disconnect(); err != nil {
		return errors.Wrapf(err, "failed to leave voice channel %s", call.channelID)
	}
	zlog.Debug().Msgf("Left voice channel: guild=%s channel=%s", roomID, call.channelID)
	return nil
}

// awaitStream waits up to timeout for s to end. It reports whether it did.
func awaitStream(ctx context.Context, s *stream, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.Done():
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}

// Close disconnects every voice connection.
func (t *Transport) Close() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.calls))
	for id := range t.calls {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		if err := t.Leave(context.Background(), id); err != nil {
			zlog.Warn().Msgf("Failed to leave: guild=%s err=%v", id, err)
		}
	}
}
