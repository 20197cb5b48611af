// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/joho/godotenv"

	"github.com/osa030/19voice/internal/api/admin"
	"github.com/osa030/19voice/internal/app/notification"
	"github.com/osa030/19voice/internal/app/playback"
	"github.com/osa030/19voice/internal/domain/item"
	"github.com/osa030/19voice/internal/infra/history"
)

var (
	app    = kingpin.New("19voice-admincli", "19voice admin client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// rooms command
	roomsCmd = app.Command("rooms", "List active rooms").Alias("list")

	// room command
	roomCmd = app.Command("room", "Show one room")
	roomID  = roomCmd.Arg("room-id", "Room (guild) ID").Required().String()

	// skip command
	skipCmd  = app.Command("skip", "Skip the item playing in a room")
	skipRoom = skipCmd.Arg("room-id", "Room (guild) ID").Required().String()

	// leave command
	leaveCmd  = app.Command("leave", "Stop playback, leave the voice channel and drop the queue")
	leaveRoom = leaveCmd.Arg("room-id", "Room (guild) ID").Required().String()

	// history command
	historyCmd   = app.Command("history", "Show recently played items of a room")
	historyRoom  = historyCmd.Arg("room-id", "Room (guild) ID").Required().String()
	historyLimit = historyCmd.Flag("limit", "Number of entries").Default("20").Int()

	// watch command
	watchCmd = app.Command("watch", "Stream playback events")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Check admin token
	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	c := &client{
		base:  strings.TrimRight(*server, "/"),
		token: *token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
	ctx := context.Background()

	// Execute command
	var err error
	switch command {
	case roomsCmd.FullCommand():
		err = listRooms(ctx, c)
	case roomCmd.FullCommand():
		err = showRoom(ctx, c, *roomID)
	case skipCmd.FullCommand():
		err = skip(ctx, c, *skipRoom)
	case leaveCmd.FullCommand():
		err = leave(ctx, c, *leaveRoom)
	case historyCmd.FullCommand():
		err = showHistory(ctx, c, *historyRoom, *historyLimit)
	case watchCmd.FullCommand():
		err = watch(c)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// client calls the admin HTTP API.
type client struct {
	base  string
	token string
	http  *http.Client
}

// do sends a request and decodes a JSON response into out, if out is non-nil.
func (c *client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set(admin.AdminTokenHeader, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			return errors.Newf("%s (%s)", body.Message, body.Error)
		}
		return errors.Newf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func listRooms(ctx context.Context, c *client) error {
	var resp struct {
		Rooms []playback.Snapshot `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/rooms", &resp); err != nil {
		return err
	}

	if len(resp.Rooms) == 0 {
		fmt.Println("No active rooms")
		return nil
	}
	fmt.Printf("\n=== ACTIVE ROOMS (%d) ===\n", len(resp.Rooms))
	for _, r := range resp.Rooms {
		playing := "-"
		if r.NowPlaying != nil {
			playing = r.NowPlaying.DisplayTitle()
		}
		fmt.Printf("  %-20s %-8s pending=%-3d channel=%s now=%s\n", r.RoomID, r.State, len(r.Pending), r.Destination, playing)
	}
	fmt.Println()
	return nil
}

func showRoom(ctx context.Context, c *client, id string) error {
	var snap playback.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(id), &snap); err != nil {
		return err
	}

	fmt.Println("\n=== ROOM STATUS ===")
	fmt.Printf("Room ID: %s\n", snap.RoomID)
	fmt.Printf("Voice Channel: %s\n", snap.Destination)
	fmt.Printf("State: %s\n", snap.State)

	if snap.NowPlaying != nil {
		fmt.Println("\nCurrently Playing:")
		printItem("  ", *snap.NowPlaying)
	} else {
		fmt.Println("\nNothing currently playing")
	}

	fmt.Printf("\nPending (%d):\n", len(snap.Pending))
	for i, it := range snap.Pending {
		fmt.Printf("  %3d. %s (%s) requested by %s\n", i+1, it.DisplayTitle(), formatDuration(it.Duration), it.Requester.Name)
	}
	fmt.Println()
	return nil
}

func printItem(indent string, it item.Item) {
	fmt.Printf("%sTitle: %s\n", indent, it.DisplayTitle())
	if it.Artist != "" {
		fmt.Printf("%sArtist: %s\n", indent, it.Artist)
	}
	if it.WebpageURL != "" {
		fmt.Printf("%sURL: %s\n", indent, it.WebpageURL)
	}
	fmt.Printf("%sLength: %s\n", indent, formatDuration(it.Duration))
	fmt.Printf("%sRequested by: %s (%s)\n", indent, it.Requester.Name, it.Requester.UserID)
}

func skip(ctx context.Context, c *client, id string) error {
	var resp struct {
		Skipped item.Item `json:"skipped"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(id)+"/skip", &resp); err != nil {
		return err
	}
	fmt.Printf("Skipped: %s\n", resp.Skipped.DisplayTitle())
	return nil
}

func leave(ctx context.Context, c *client, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/rooms/"+url.PathEscape(id), nil); err != nil {
		return err
	}
	fmt.Printf("Left room %s\n", id)
	return nil
}

func showHistory(ctx context.Context, c *client, id string, limit int) error {
	var resp struct {
		Entries []history.Entry `json:"entries"`
	}
	path := fmt.Sprintf("/api/rooms/%s/history?limit=%d", url.PathEscape(id), limit)
	if err := c.do(ctx, http.MethodGet, path, &resp); err != nil {
		return err
	}

	if len(resp.Entries) == 0 {
		fmt.Println("No history")
		return nil
	}
	fmt.Printf("\n=== HISTORY (%d) ===\n", len(resp.Entries))
	for _, e := range resp.Entries {
		fmt.Printf("  %s  %-50s %8s  %s\n", e.PlayedAt.Local().Format("2006-01-02 15:04:05"), e.Title, formatDuration(e.Duration), e.RequesterName)
	}
	fmt.Println()
	return nil
}

// watch prints events until interrupted.
func watch(c *client) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/api/events"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{admin.AdminTokenHeader: []string{c.token}},
	})
	if err != nil {
		return errors.Wrap(err, "connect to event stream")
	}
	defer conn.CloseNow()

	var initial admin.InitialState
	if err := wsjson.Read(ctx, conn, &initial); err != nil {
		return errors.Wrap(err, "read initial state")
	}
	fmt.Printf("Watching events (%d active rooms). Press Ctrl+C to stop.\n", len(initial.Rooms))

	for {
		var n notification.Notification
		if err := wsjson.Read(ctx, conn, &n); err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "bye")
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusGoingAway {
				fmt.Println("Server is shutting down")
				return nil
			}
			return errors.Wrap(err, "read event")
		}
		printNotification(&n)
	}
}

func printNotification(n *notification.Notification) {
	ts := n.At.Local().Format("15:04:05")
	switch n.Type {
	case notification.TypeItemQueued:
		fmt.Printf("[%s] #%d %s room=%s queued=%d pending=%d\n", ts, n.SequenceNo, n.Type, n.RoomID, n.Queued, n.Pending)
	case notification.TypeItemStarted, notification.TypeItemFinished:
		title := ""
		if n.Item != nil {
			title = n.Item.DisplayTitle()
		}
		fmt.Printf("[%s] #%d %s room=%s title=%q pending=%d\n", ts, n.SequenceNo, n.Type, n.RoomID, title, n.Pending)
	case notification.TypeAdvanceFailed:
		fmt.Printf("[%s] #%d %s room=%s error=%s\n", ts, n.SequenceNo, n.Type, n.RoomID, n.Error)
	default:
		fmt.Printf("[%s] #%d %s room=%s channel=%s\n", ts, n.SequenceNo, n.Type, n.RoomID, n.Destination)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "live"
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
