package playback

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19voice/internal/domain/item"
	"github.com/osa030/19voice/internal/domain/outcome"
)

const testRoom = "guild-1"

func items(locators ...string) []item.Item {
	out := make([]item.Item, len(locators))
	for i, l := range locators {
		out[i] = item.New(l)
	}
	return out
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	c := NewCoordinator(tr, Config{EventBuffer: 256, JoinTimeout: time.Second})
	t.Cleanup(c.cancel)
	return c, tr
}

func enqueue(t *testing.T, c *Coordinator, locators ...string) int {
	t.Helper()
	pos, err := c.Enqueue(context.Background(), EnqueueRequest{
		RoomID:      testRoom,
		Destination: "voice-1",
		Items:       items(locators...),
	})
	require.NoError(t, err)
	return pos
}

func drainEvents(c *Coordinator) []EventType {
	var out []EventType
	for {
		select {
		case e := <-c.Events():
			out = append(out, e.Type)
		default:
			return out
		}
	}
}

func TestCoordinator_SingleItemPlaysThenRoomCloses(t *testing.T) {
	c, tr := newTestCoordinator(t)

	pos := enqueue(t, c, "a.mp3")
	assert.Equal(t, 1, pos)
	assert.Equal(t, []string{"a.mp3"}, tr.startedLocators())

	s, ok := c.Snapshot(testRoom)
	require.True(t, ok)
	assert.Equal(t, "playing", s.State)
	require.NotNil(t, s.NowPlaying)
	assert.Equal(t, "a.mp3", s.NowPlaying.Locator)

	tr.fire(tr.lastHandle())

	assert.False(t, c.Registry().Has(testRoom))
	_, _, _, leaves := tr.counts()
	assert.Equal(t, 1, leaves)
	assert.Equal(t, []EventType{
		EventRoomOpened, EventItemQueued, EventItemStarted, EventItemFinished, EventRoomClosed,
	}, drainEvents(c))
}

func TestCoordinator_EnqueueWhilePlayingWaitsForCompletion(t *testing.T) {
	c, tr := newTestCoordinator(t)

	enqueue(t, c, "a.mp3")
	pos := enqueue(t, c, "b.mp3", "c.mp3")
	assert.Equal(t, 1, pos)
	assert.Equal(t, []string{"a.mp3"}, tr.startedLocators())

	tr.fire(tr.lastHandle())
	assert.Equal(t, []string{"a.mp3", "b.mp3"}, tr.startedLocators())

	tr.fire(tr.lastHandle())
	assert.Equal(t, []string{"a.mp3", "b.mp3", "c.mp3"}, tr.startedLocators())
	assert.True(t, c.Registry().Has(testRoom))

	tr.fire(tr.lastHandle())
	assert.False(t, c.Registry().Has(testRoom))
}

func TestCoordinator_SkipStopsActiveStream(t *testing.T) {
	c, tr := newTestCoordinator(t)

	enqueue(t, c, "a.mp3")
	enqueue(t, c, "b.mp3")
	active := tr.lastHandle()

	skipped, err := c.Skip(testRoom)
	require.NoError(t, err)
	assert.Equal(t, "a.mp3", skipped.Locator)

	_, _, stopped, _ := tr.counts()
	assert.Equal(t, 1, stopped)
	assert.Equal(t, []string{active}, tr.stopped)
	// Nothing advances until the stopped stream reports completion.
	assert.Equal(t, []string{"a.mp3"}, tr.startedLocators())

	tr.fire(active)
	assert.Equal(t, []string{"a.mp3", "b.mp3"}, tr.startedLocators())

	tr.fire(tr.lastHandle())
	assert.False(t, c.Registry().Has(testRoom))
}

func TestCoordinator_SkipWithoutRoom(t *testing.T) {
	c, tr := newTestCoordinator(t)

	_, err := c.Skip(testRoom)
	require.Error(t, err)
	assert.Equal(t, outcome.KindNoActiveRoom, outcome.KindOf(err))

	joins, started, stopped, leaves := tr.counts()
	assert.Zero(t, joins+started+stopped+leaves)
}

func TestCoordinator_SkipWithoutActiveHandle(t *testing.T) {
	c, tr := newTestCoordinator(t)
	tr.setJoinErr(errors.New("missing permissions"))

	_, err := c.Enqueue(context.Background(), EnqueueRequest{RoomID: testRoom, Destination: "voice-1", Items: items("a.mp3")})
	require.Error(t, err)

	_, err = c.Skip(testRoom)
	assert.Equal(t, outcome.KindNoActiveRoom, outcome.KindOf(err))
	_, _, stopped, _ := tr.counts()
	assert.Zero(t, stopped)
}

func TestCoordinator_PlaylistStartsOnlyFirst(t *testing.T) {
	c, tr := newTestCoordinator(t)

	pos := enqueue(t, c, "1.mp3", "2.mp3", "3.mp3")
	assert.Equal(t, 1, pos)
	assert.Equal(t, []string{"1.mp3"}, tr.startedLocators())

	s, ok := c.Snapshot(testRoom)
	require.True(t, ok)
	require.Len(t, s.Pending, 2)
	assert.Equal(t, "2.mp3", s.Pending[0].Locator)
	assert.Equal(t, "3.mp3", s.Pending[1].Locator)
}

func TestCoordinator_PositionCountsPendingOnly(t *testing.T) {
	c, _ := newTestCoordinator(t)

	assert.Equal(t, 1, enqueue(t, c, "a.mp3"))          // popped immediately
	assert.Equal(t, 1, enqueue(t, c, "b.mp3"))          // next up
	assert.Equal(t, 2, enqueue(t, c, "c.mp3", "d.mp3")) // after b
	assert.Equal(t, 4, enqueue(t, c, "e.mp3"))          // after d
}

func TestCoordinator_FIFOAcrossEnqueues(t *testing.T) {
	c, tr := newTestCoordinator(t)

	enqueue(t, c, "e1-a", "e1-b")
	enqueue(t, c, "e2-a", "e2-b")

	for i := 0; i < 4; i++ {
		tr.fire(tr.lastHandle())
	}
	assert.Equal(t, []string{"e1-a", "e1-b", "e2-a", "e2-b"}, tr.startedLocators())
	assert.False(t, c.Registry().Has(testRoom))
}

func TestCoordinator_ConcurrentEnqueueAndCompletion(t *testing.T) {
	c, tr := newTestCoordinator(t)
	tr.autoComplete = true

	const (
		workers   = 20
		perWorker = 5
	)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			batch := make([]string, perWorker)
			for i := range batch {
				batch[i] = fmt.Sprintf("w%02d-%d", w, i)
			}
			_, err := c.Enqueue(context.Background(), EnqueueRequest{
				RoomID:      testRoom,
				Destination: "voice-1",
				Items:       items(batch...),
			})
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return !c.Registry().Has(testRoom) && len(tr.startedLocators()) == workers*perWorker
	}, 5*time.Second, 5*time.Millisecond)

	tr.mu.Lock()
	violations := tr.violations
	tr.mu.Unlock()
	assert.Zero(t, violations, "two streams were active in one room")

	// Each batch stays contiguous and ordered.
	started := tr.startedLocators()
	for i := 0; i < len(started); i += perWorker {
		prefix := started[i][:3]
		for j := 0; j < perWorker; j++ {
			assert.Equal(t, fmt.Sprintf("%s-%d", prefix, j), started[i+j])
		}
	}
}

func TestCoordinator_RoomsAreIndependent(t *testing.T) {
	c, tr := newTestCoordinator(t)

	_, err := c.Enqueue(context.Background(), EnqueueRequest{RoomID: "guild-1", Destination: "v1", Items: items("a.mp3")})
	require.NoError(t, err)
	_, err = c.Enqueue(context.Background(), EnqueueRequest{RoomID: "guild-2", Destination: "v2", Items: items("b.mp3")})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a.mp3", "b.mp3"}, tr.startedLocators())
	assert.Len(t, c.Snapshots(), 2)
}

func TestCoordinator_CompletionAfterForcedRemovalIsNoop(t *testing.T) {
	c, tr := newTestCoordinator(t)

	enqueue(t, c, "a.mp3", "b.mp3")
	h := tr.lastHandle()

	c.Registry().Remove(testRoom)
	require.False(t, c.Registry().Has(testRoom))

	assert.NotPanics(t, func() { tr.fire(h) })

	joins, started, stopped, leaves := tr.counts()
	assert.Equal(t, 1, joins)
	assert.Equal(t, 1, started)
	assert.Zero(t, stopped)
	assert.Zero(t, leaves)
	assert.False(t, c.Registry().Has(testRoom))
}

func TestCoordinator_StaleCompletionIgnored(t *testing.T) {
	c, tr := newTestCoordinator(t)

	enqueue(t, c, "a.mp3")
	old := tr.lastHandle()
	require.NoError(t, c.Close(context.Background(), testRoom))

	enqueue(t, c, "b.mp3")
	tr.fire(old)

	s, ok := c.Snapshot(testRoom)
	require.True(t, ok)
	require.NotNil(t, s.NowPlaying)
	assert.Equal(t, "b.mp3", s.NowPlaying.Locator)
}

func TestCoordinator_CloseDiscardsQueue(t *testing.T) {
	c, tr := newTestCoordinator(t)

	enqueue(t, c, "a.mp3", "b.mp3", "c.mp3")
	h := tr.lastHandle()

	require.NoError(t, c.Close(context.Background(), testRoom))
	assert.False(t, c.Registry().Has(testRoom))
	assert.Equal(t, []string{h}, tr.stopped)

	tr.fire(h)
	assert.Equal(t, []string{"a.mp3"}, tr.startedLocators())

	err := c.Close(context.Background(), testRoom)
	assert.Equal(t, outcome.KindNoActiveRoom, outcome.KindOf(err))
}

func TestCoordinator_JoinFailureDropsPoppedItem(t *testing.T) {
	c, tr := newTestCoordinator(t)
	tr.setJoinErr(errors.New("missing permissions"))

	_, err := c.Enqueue(context.Background(), EnqueueRequest{RoomID: testRoom, Destination: "voice-1", Items: items("a.mp3", "b.mp3")})
	require.Error(t, err)
	assert.Equal(t, outcome.KindJoinFailed, outcome.KindOf(err))

	// a.mp3 was popped before the join and is gone; the room stays idle.
	s, ok := c.Snapshot(testRoom)
	require.True(t, ok)
	assert.Equal(t, "idle", s.State)
	require.Len(t, s.Pending, 1)
	assert.Equal(t, "b.mp3", s.Pending[0].Locator)

	tr.setJoinErr(nil)
	enqueue(t, c, "c.mp3")
	assert.Equal(t, []string{"b.mp3"}, tr.startedLocators())
}

func TestCoordinator_StreamFailureDropsPoppedItem(t *testing.T) {
	c, tr := newTestCoordinator(t)
	tr.setStreamErr(errors.New("ffmpeg exited"))

	_, err := c.Enqueue(context.Background(), EnqueueRequest{RoomID: testRoom, Destination: "voice-1", Items: items("a.mp3")})
	require.Error(t, err)
	assert.Equal(t, outcome.KindStreamStartFailed, outcome.KindOf(err))

	s, ok := c.Snapshot(testRoom)
	require.True(t, ok)
	assert.Equal(t, "idle", s.State)
	assert.Empty(t, s.Pending)

	events := drainEvents(c)
	assert.Contains(t, events, EventAdvanceFailed)
}

func TestCoordinator_CompletionAdvanceFailureIsLoggedOnly(t *testing.T) {
	c, tr := newTestCoordinator(t)

	enqueue(t, c, "a.mp3", "b.mp3", "c.mp3")
	drainEvents(c)
	tr.setJoinErr(errors.New("voice region unavailable"))

	assert.NotPanics(t, func() { tr.fire(tr.lastHandle()) })

	// b.mp3 was popped and dropped; c.mp3 waits for the next enqueue.
	s, ok := c.Snapshot(testRoom)
	require.True(t, ok)
	assert.Equal(t, "idle", s.State)
	assert.Nil(t, s.NowPlaying)
	require.Len(t, s.Pending, 1)
	assert.Equal(t, "c.mp3", s.Pending[0].Locator)
	assert.Equal(t, []string{"a.mp3"}, tr.startedLocators())

	assert.Equal(t, []EventType{EventItemFinished, EventAdvanceFailed}, drainEvents(c))

	tr.setJoinErr(nil)
	enqueue(t, c, "d.mp3")
	assert.Equal(t, []string{"a.mp3", "c.mp3"}, tr.startedLocators())
}

func TestCoordinator_RelocationWaitsForIdle(t *testing.T) {
	c, tr := newTestCoordinator(t)

	enqueue(t, c, "a.mp3")
	_, err := c.Enqueue(context.Background(), EnqueueRequest{RoomID: testRoom, Destination: "voice-2", Items: items("b.mp3")})
	require.NoError(t, err)

	s, _ := c.Snapshot(testRoom)
	assert.Equal(t, "voice-1", s.Destination)

	tr.fire(tr.lastHandle())
	assert.Equal(t, []string{"voice-1", "voice-2"}, tr.joins)
}

func TestCoordinator_AdmitRejectionLeavesNoRoom(t *testing.T) {
	c, tr := newTestCoordinator(t)
	rejected := outcome.Rejected("queue_limit_exceeded")

	_, err := c.Enqueue(context.Background(), EnqueueRequest{
		RoomID:      testRoom,
		Destination: "voice-1",
		Items:       items("a.mp3"),
		Admit:       func(Snapshot) error { return rejected },
	})
	assert.Same(t, rejected, err)
	assert.False(t, c.Registry().Has(testRoom))

	joins, started, _, leaves := tr.counts()
	assert.Zero(t, joins+started+leaves)
}

func TestCoordinator_AdmitSeesCurrentQueue(t *testing.T) {
	c, _ := newTestCoordinator(t)
	enqueue(t, c, "a.mp3", "b.mp3")

	var seen Snapshot
	_, err := c.Enqueue(context.Background(), EnqueueRequest{
		RoomID:      testRoom,
		Destination: "voice-1",
		Items:       items("c.mp3"),
		Admit: func(s Snapshot) error {
			seen = s
			return nil
		},
	})
	require.NoError(t, err)
	require.NotNil(t, seen.NowPlaying)
	assert.Equal(t, "a.mp3", seen.NowPlaying.Locator)
	require.Len(t, seen.Pending, 1)
	assert.Equal(t, "b.mp3", seen.Pending[0].Locator)
}

func TestCoordinator_EnqueueNothing(t *testing.T) {
	c, _ := newTestCoordinator(t)

	_, err := c.Enqueue(context.Background(), EnqueueRequest{RoomID: testRoom, Destination: "voice-1"})
	assert.ErrorIs(t, err, ErrNothingToEnqueue)
	assert.False(t, c.Registry().Has(testRoom))
}

func TestCoordinator_AdvanceAbsentRoom(t *testing.T) {
	c, tr := newTestCoordinator(t)

	assert.NoError(t, c.Advance(context.Background(), testRoom))
	joins, started, stopped, leaves := tr.counts()
	assert.Zero(t, joins+started+stopped+leaves)
}

func TestCoordinator_Shutdown(t *testing.T) {
	c, tr := newTestCoordinator(t)

	_, err := c.Enqueue(context.Background(), EnqueueRequest{RoomID: "guild-1", Destination: "v1", Items: items("a.mp3")})
	require.NoError(t, err)
	_, err = c.Enqueue(context.Background(), EnqueueRequest{RoomID: "guild-2", Destination: "v2", Items: items("b.mp3")})
	require.NoError(t, err)

	c.Shutdown(context.Background())

	assert.Zero(t, c.Registry().Len())
	_, _, stopped, leaves := tr.counts()
	assert.Equal(t, 2, stopped)
	assert.Equal(t, 2, leaves)
}
