package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19voice/internal/app/notification"
	"github.com/osa030/19voice/internal/app/playback"
	"github.com/osa030/19voice/internal/domain/item"
	"github.com/osa030/19voice/internal/domain/outcome"
	"github.com/osa030/19voice/internal/infra/history"
)

const testToken = "secret"

type fakeRooms struct {
	snapshots map[string]playback.Snapshot
	skipErr   error
	closed    []string
}

func newFakeRooms() *fakeRooms {
	it := item.New("https://cdn/song")
	it.Title = "song"
	return &fakeRooms{snapshots: map[string]playback.Snapshot{
		"g1": {RoomID: "g1", Destination: "voice-1", State: "playing", NowPlaying: &it, Pending: []item.Item{}},
	}}
}

func (f *fakeRooms) Snapshots() []playback.Snapshot {
	out := make([]playback.Snapshot, 0, len(f.snapshots))
	for _, s := range f.snapshots {
		out = append(out, s)
	}
	return out
}

func (f *fakeRooms) Snapshot(roomID string) (playback.Snapshot, bool) {
	s, ok := f.snapshots[roomID]
	return s, ok
}

func (f *fakeRooms) Skip(roomID string) (item.Item, error) {
	if f.skipErr != nil {
		return item.Item{}, f.skipErr
	}
	s, ok := f.snapshots[roomID]
	if !ok || s.NowPlaying == nil {
		return item.Item{}, outcome.New(outcome.KindNoActiveRoom)
	}
	return *s.NowPlaying, nil
}

func (f *fakeRooms) Close(_ context.Context, roomID string) error {
	if _, ok := f.snapshots[roomID]; !ok {
		return outcome.New(outcome.KindNoActiveRoom)
	}
	delete(f.snapshots, roomID)
	f.closed = append(f.closed, roomID)
	return nil
}

type fakeHistory struct {
	gotRoom  string
	gotLimit int
	err      error
}

func (f *fakeHistory) List(_ context.Context, roomID string, limit int) ([]history.Entry, error) {
	f.gotRoom, f.gotLimit = roomID, limit
	if f.err != nil {
		return nil, f.err
	}
	return []history.Entry{{ID: 1, RoomID: roomID, Title: "song"}}, nil
}

func newTestServer(t *testing.T, rooms *fakeRooms, opts ...Option) (*Server, *httptest.Server, *notification.Manager) {
	t.Helper()
	mgr := notification.NewManager()
	s := NewServer(rooms, mgr, Config{Token: testToken}, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts, mgr
}

func do(t *testing.T, method, url, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set(AdminTokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestServer_Auth(t *testing.T) {
	_, ts, _ := newTestServer(t, newFakeRooms())

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{name: "health needs no token", path: "/healthz", want: http.StatusOK},
		{name: "missing token", path: "/api/rooms", want: http.StatusUnauthorized},
		{name: "wrong token", path: "/api/rooms", token: "nope", want: http.StatusUnauthorized},
		{name: "valid token", path: "/api/rooms", token: testToken, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, http.MethodGet, ts.URL+tt.path, tt.token)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestServer_Health(t *testing.T) {
	_, ts, mgr := newTestServer(t, newFakeRooms())
	mgr.Subscribe(notification.StreamFunc(func(*notification.Notification) error { return nil }))

	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["rooms"])
	assert.EqualValues(t, 1, body["subscribers"])
}

func TestServer_Rooms(t *testing.T) {
	_, ts, _ := newTestServer(t, newFakeRooms())

	resp, body := do(t, http.MethodGet, ts.URL+"/api/rooms", testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rooms, ok := body["rooms"].([]any)
	require.True(t, ok)
	require.Len(t, rooms, 1)
	assert.Equal(t, "g1", rooms[0].(map[string]any)["room_id"])

	resp, body = do(t, http.MethodGet, ts.URL+"/api/rooms/g1", testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "playing", body["state"])
	assert.Equal(t, "song", body["now_playing"].(map[string]any)["title"])

	resp, body = do(t, http.MethodGet, ts.URL+"/api/rooms/missing", testToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no_active_room", body["error"])
}

func TestServer_Skip(t *testing.T) {
	rooms := newFakeRooms()
	_, ts, _ := newTestServer(t, rooms)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/rooms/g1/skip", testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "song", body["skipped"].(map[string]any)["title"])

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/rooms/missing/skip", testToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	rooms.skipErr = errors.New("stream gone")
	resp, body = do(t, http.MethodPost, ts.URL+"/api/rooms/g1/skip", testToken)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal", body["error"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/rooms/g1/skip", testToken)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_CloseRoom(t *testing.T) {
	rooms := newFakeRooms()
	_, ts, _ := newTestServer(t, rooms)

	resp, _ := do(t, http.MethodDelete, ts.URL+"/api/rooms/g1", testToken)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"g1"}, rooms.closed)

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/rooms/g1", testToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_History(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		_, ts, _ := newTestServer(t, newFakeRooms())
		resp, body := do(t, http.MethodGet, ts.URL+"/api/rooms/g1/history", testToken)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "history_disabled", body["error"])
	})

	t.Run("default limit", func(t *testing.T) {
		h := &fakeHistory{}
		_, ts, _ := newTestServer(t, newFakeRooms(), WithHistory(h))
		resp, body := do(t, http.MethodGet, ts.URL+"/api/rooms/g1/history", testToken)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "g1", h.gotRoom)
		assert.Equal(t, defaultHistoryLimit, h.gotLimit)
		assert.Len(t, body["entries"], 1)
	})

	t.Run("explicit limit", func(t *testing.T) {
		h := &fakeHistory{}
		_, ts, _ := newTestServer(t, newFakeRooms(), WithHistory(h))
		resp, _ := do(t, http.MethodGet, ts.URL+"/api/rooms/g1/history?limit=5", testToken)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 5, h.gotLimit)
	})

	t.Run("invalid limit", func(t *testing.T) {
		_, ts, _ := newTestServer(t, newFakeRooms(), WithHistory(&fakeHistory{}))
		for _, q := range []string{"abc", "0", "501"} {
			resp, body := do(t, http.MethodGet, ts.URL+"/api/rooms/g1/history?limit="+q, testToken)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
			assert.Equal(t, "invalid_limit", body["error"], q)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		_, ts, _ := newTestServer(t, newFakeRooms(), WithHistory(&fakeHistory{err: errors.New("db down")}))
		resp, _ := do(t, http.MethodGet, ts.URL+"/api/rooms/g1/history", testToken)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestServer_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("voice_items_started_total 1\n"))
	})
	_, ts, _ := newTestServer(t, newFakeRooms(), WithMetrics("/metrics", metrics))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func dialEvents(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{AdminTokenHeader: []string{testToken}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func TestServer_EventStream(t *testing.T) {
	_, ts, mgr := newTestServer(t, newFakeRooms())
	conn := dialEvents(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var initial InitialState
	require.NoError(t, wsjson.Read(ctx, conn, &initial))
	assert.Equal(t, "initial_state", initial.Type)
	require.Len(t, initial.Rooms, 1)

	require.Eventually(t, func() bool { return mgr.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	mgr.Broadcast(&notification.Notification{Type: "item_started", RoomID: "g1", Pending: 2})
	mgr.Broadcast(&notification.Notification{Type: "room_closed", RoomID: "g1"})

	var first, second notification.Notification
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	require.NoError(t, wsjson.Read(ctx, conn, &second))
	assert.Equal(t, "item_started", first.Type)
	assert.Equal(t, 2, first.Pending)
	assert.Equal(t, "room_closed", second.Type)
	assert.Greater(t, second.SequenceNo, first.SequenceNo)

	conn.Close(websocket.StatusNormalClosure, "bye")
	require.Eventually(t, func() bool { return mgr.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_EventStreamRequiresToken(t *testing.T) {
	_, ts, _ := newTestServer(t, newFakeRooms())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_ShutdownClosesEventStreams(t *testing.T) {
	s, ts, mgr := newTestServer(t, newFakeRooms())
	conn := dialEvents(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var initial InitialState
	require.NoError(t, wsjson.Read(ctx, conn, &initial))
	require.Eventually(t, func() bool { return mgr.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Shutdown(ctx))

	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestWatcher_DropsWhenBehind(t *testing.T) {
	w := &watcher{ch: make(chan *notification.Notification, 1)}
	require.NoError(t, w.Send(&notification.Notification{Type: "item_queued"}))
	assert.ErrorIs(t, w.Send(&notification.Notification{Type: "item_queued"}), ErrWatcherBehind)
}
