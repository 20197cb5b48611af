// Package spotify provides a client for the Spotify API.
// Spotify does not serve audio to third parties, so links are looked up here and
// turned into search queries that a media resolver can play.
package spotify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// Errors
var (
	ErrCredentialsRequired = errors.New("spotify credentials are required")
	ErrUnsupportedLink     = errors.New("unsupported spotify link")
)

// Kind is the type of a Spotify link.
type Kind string

const (
	KindTrack    Kind = "track"
	KindAlbum    Kind = "album"
	KindPlaylist Kind = "playlist"
)

// Track is the metadata of one Spotify track.
type Track struct {
	ID          string
	Name        string
	Artists     []string
	Album       string
	AlbumArtURL string
	Duration    time.Duration
	URL         string
}

// SearchQuery returns the text used to find a playable version of the track.
func (t Track) SearchQuery() string {
	if len(t.Artists) == 0 {
		return t.Name
	}
	return strings.Join(t.Artists, ", ") + " - " + t.Name
}

// Lookup is the result of looking up a Spotify link.
type Lookup struct {
	Kind   Kind
	ID     string
	Name   string // Album or playlist name (empty for tracks)
	URL    string
	Tracks []Track
}

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxTracks  int
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
	MaxTracks    int // Upper bound of tracks taken from an album or playlist
}

// New creates a new Spotify client using the client credentials flow.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrCredentialsRequired
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	// Fail fast on bad credentials instead of on the first /play.
	if _, err := creds.Token(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to obtain spotify token")
	}

	return newClient(spotify.New(creds.Client(ctx)), cfg), nil
}

func newClient(client *spotify.Client, cfg Config) *Client {
	market := cfg.Market
	if market == "" {
		market = "US"
	}
	maxTracks := cfg.MaxTracks
	if maxTracks <= 0 {
		maxTracks = 100
	}
	return &Client{
		client:     client,
		market:     market,
		maxTracks:  maxTracks,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Lookup resolves a track, album or playlist link into track metadata.
func (c *Client) Lookup(ctx context.Context, link string) (*Lookup, error) {
	kind, id, ok := ParseLink(link)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedLink, "%s", link)
	}

	switch kind {
	case KindTrack:
		t, err := c.GetTrack(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Lookup{Kind: kind, ID: id, URL: t.URL, Tracks: []Track{*t}}, nil
	case KindAlbum:
		return c.getAlbum(ctx, id)
	default:
		return c.getPlaylist(ctx, id)
	}
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*Track, error) {
	id := extractID(trackID, KindTrack)

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}

	t := convertTrack(result.SimpleTrack, result.Album)
	return &t, nil
}

func (c *Client) getAlbum(ctx context.Context, albumID string) (*Lookup, error) {
	var album *spotify.FullAlbum
	err := c.retry(ctx, func() error {
		a, err := c.client.GetAlbum(ctx, spotify.ID(albumID), spotify.Market(c.market))
		if err != nil {
			return err
		}
		album = a
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get album")
	}

	var tracks []Track
	for _, t := range album.Tracks.Tracks {
		tracks = append(tracks, convertTrack(t, album.SimpleAlbum))
	}

	offset := len(album.Tracks.Tracks)
	limit := 50
	for len(tracks) < c.maxTracks && offset < int(album.Tracks.Total) {
		var page *spotify.SimpleTrackPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetAlbumTracks(ctx, spotify.ID(albumID),
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get album tracks")
		}
		if len(page.Tracks) == 0 {
			break
		}
		for _, t := range page.Tracks {
			tracks = append(tracks, convertTrack(t, album.SimpleAlbum))
		}
		offset += len(page.Tracks)
	}

	return &Lookup{
		Kind:   KindAlbum,
		ID:     albumID,
		Name:   album.Name,
		URL:    linkURL(KindAlbum, albumID),
		Tracks: truncate(tracks, c.maxTracks),
	}, nil
}

func (c *Client) getPlaylist(ctx context.Context, playlistID string) (*Lookup, error) {
	var playlist *spotify.FullPlaylist
	err := c.retry(ctx, func() error {
		p, err := c.client.GetPlaylist(ctx, spotify.ID(playlistID), spotify.Fields("id,name"))
		if err != nil {
			return err
		}
		playlist = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist")
	}

	var tracks []Track
	offset := 0
	limit := 100

	for len(tracks) < c.maxTracks {
		var page *spotify.PlaylistItemPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, it := range page.Items {
			// Only process tracks (exclude episodes)
			if it.Track.Track != nil && it.Track.Track.ID != "" {
				tracks = append(tracks, convertTrack(it.Track.Track.SimpleTrack, it.Track.Track.Album))
			}
		}

		if len(page.Items) < limit {
			break
		}
		offset += limit
	}

	zlog.Debug().Msgf("Spotify playlist loaded: id=%s tracks=%d", playlistID, len(tracks))
	return &Lookup{
		Kind:   KindPlaylist,
		ID:     playlistID,
		Name:   playlist.Name,
		URL:    linkURL(KindPlaylist, playlistID),
		Tracks: truncate(tracks, c.maxTracks),
	}, nil
}

// convertTrack converts a Spotify track to a Track.
func convertTrack(t spotify.SimpleTrack, album spotify.SimpleAlbum) Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	var albumArt string
	if len(album.Images) > 0 {
		albumArt = album.Images[0].URL
	}

	return Track{
		ID:          string(t.ID),
		Name:        t.Name,
		Artists:     artists,
		Album:       album.Name,
		AlbumArtURL: albumArt,
		Duration:    time.Duration(t.Duration) * time.Millisecond,
		URL:         linkURL(KindTrack, string(t.ID)),
	}
}

func truncate(tracks []Track, n int) []Track {
	if len(tracks) > n {
		return tracks[:n]
	}
	return tracks
}

func linkURL(kind Kind, id string) string {
	return fmt.Sprintf("https://open.spotify.com/%s/%s", kind, id)
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return errors.Wrapf(ctx.Err(), "gave up retrying: %v", lastErr)
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// IsSpotifyLink reports whether input is a Spotify URL or URI of a supported kind.
func IsSpotifyLink(input string) bool {
	_, _, ok := ParseLink(input)
	return ok
}

// ParseLink extracts the kind and ID from a Spotify URL or URI.
// Supported forms are spotify:<kind>:<id> and https://open.spotify.com[/intl-xx]/<kind>/<id>.
func ParseLink(input string) (Kind, string, bool) {
	input = strings.TrimSpace(input)

	if strings.HasPrefix(input, "spotify:") {
		parts := strings.Split(input, ":")
		if len(parts) != 3 || parts[2] == "" {
			return "", "", false
		}
		kind := Kind(parts[1])
		if !kind.valid() {
			return "", "", false
		}
		return kind, parts[2], true
	}

	u, err := url.Parse(input)
	if err != nil || !strings.EqualFold(u.Hostname(), "open.spotify.com") {
		return "", "", false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 0 && strings.HasPrefix(segments[0], "intl-") {
		segments = segments[1:]
	}
	if len(segments) != 2 || segments[1] == "" {
		return "", "", false
	}
	kind := Kind(segments[0])
	if !kind.valid() {
		return "", "", false
	}
	return kind, segments[1], true
}

func (k Kind) valid() bool {
	switch k {
	case KindTrack, KindAlbum, KindPlaylist:
		return true
	default:
		return false
	}
}

// extractID extracts the ID from a link of the given kind.
// Anything else is assumed to be a bare ID already.
func extractID(input string, kind Kind) string {
	if k, id, ok := ParseLink(input); ok && k == kind {
		return id
	}
	return strings.TrimSpace(input)
}
