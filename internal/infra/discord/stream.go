package discord

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"layeh.com/gopus"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
	// pcmFrameBytes is the s16le input size of one Opus frame.
	pcmFrameBytes = opusFrameSize * opusChannels * 2
	maxOpusBytes  = pcmFrameBytes

	// sendTimeout bounds one packet handoff to the voice connection.
	sendTimeout = 5 * time.Second
)

// Errors
var (
	ErrSendTimeout = errors.New("voice connection stopped accepting audio")
)

// frameEncoder encodes one PCM frame. *gopus.Encoder satisfies it.
type frameEncoder interface {
	Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error)
}

func newOpusEncoder() (*gopus.Encoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create opus encoder")
	}
	return enc, nil
}

// ffmpegArgs returns the arguments that decode locator to raw 48 kHz stereo PCM on stdout.
func ffmpegArgs(locator string) []string {
	return []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", locator,
		"-f", "s16le",
		"-ar", strconv.Itoa(opusSampleRate),
		"-ac", strconv.Itoa(opusChannels),
		"-loglevel", "warning",
		"pipe:1",
	}
}

// stream is one active playback. It implements playback.Handle.
type stream struct {
	id      string
	roomID  string
	locator string

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newStream(id, roomID, locator string, cancel context.CancelFunc) *stream {
	return &stream{
		id:      id,
		roomID:  roomID,
		locator: locator,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (s *stream) ID() string {
	return s.id
}

// Done is closed when the stream has ended for any reason.
func (s *stream) Done() <-chan struct{} {
	return s.done
}

// Err returns why the stream ended. It is nil for a natural end or a stop.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
}

// pump reads PCM frames from r, encodes them and hands them to out until r is
// exhausted or ctx is cancelled. A trailing partial frame is dropped.
func pump(ctx context.Context, r io.Reader, enc frameEncoder, out chan<- []byte) error {
	buf := make([]byte, pcmFrameBytes)
	pcm := make([]int16, pcmFrameBytes/2)

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return errors.Wrap(err, "failed to read pcm")
		}

		bytesToInt16s(buf, pcm)
		packet, err := enc.Encode(pcm, opusFrameSize, maxOpusBytes)
		if err != nil {
			return errors.Wrap(err, "failed to encode opus frame")
		}

		timer.Reset(sendTimeout)
		select {
		case out <- packet:
		case <-ctx.Done():
			return nil
		case <-timer.C:
			return ErrSendTimeout
		}
	}
}

// bytesToInt16s converts little-endian s16 bytes into dst.
func bytesToInt16s(b []byte, dst []int16) {
	for i := range dst {
		dst[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
}
