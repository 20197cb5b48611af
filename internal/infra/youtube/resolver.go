// Package youtube resolves YouTube links natively, without an external yt-dlp binary.
package youtube

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kkdai/youtube/v2"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/osa030/19voice/internal/domain/item"
)

// Errors
var (
	ErrUnsupportedURL = errors.New("not a youtube url")
	ErrNoAudio        = errors.New("no audio formats found for video")
)

// Config represents YouTube resolver configuration.
type Config struct {
	MaxPlaylistItems int
	Concurrency      int          // Parallel playlist entry lookups
	HTTPClient       *http.Client // Optional
}

// Resolver resolves YouTube video and playlist URLs.
type Resolver struct {
	client *youtube.Client
	config Config
}

// New creates a new YouTube resolver.
func New(cfg Config) *Resolver {
	if cfg.MaxPlaylistItems <= 0 {
		cfg.MaxPlaylistItems = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	client := &youtube.Client{}
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}
	return &Resolver{client: client, config: cfg}
}

// Resolve resolves a video or playlist URL.
// Search terms are not supported by this backend.
func (r *Resolver) Resolve(ctx context.Context, raw string) (item.Resolution, error) {
	raw = strings.TrimSpace(raw)
	if !IsYouTubeURL(raw) {
		return item.Resolution{}, errors.Wrapf(ErrUnsupportedURL, "%s", raw)
	}

	if isPlaylistURL(raw) {
		return r.resolvePlaylist(ctx, raw)
	}

	video, err := r.client.GetVideoContext(ctx, raw)
	if err != nil {
		return item.Resolution{}, errors.Wrap(err, "failed to get video")
	}
	it, err := r.toItem(ctx, video)
	if err != nil {
		return item.Resolution{}, err
	}
	return item.Single(it), nil
}

func (r *Resolver) resolvePlaylist(ctx context.Context, raw string) (item.Resolution, error) {
	playlist, err := r.client.GetPlaylistContext(ctx, raw)
	if err != nil {
		return item.Resolution{}, errors.Wrap(err, "failed to get playlist")
	}

	entries := playlist.Videos
	if len(entries) > r.config.MaxPlaylistItems {
		entries = entries[:r.config.MaxPlaylistItems]
	}
	zlog.Debug().Msgf("Resolving playlist: id=%s entries=%d", playlist.ID, len(entries))

	// Each entry resolves into its own slot so the playlist order is preserved.
	items := make([]item.Item, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)
	for i, e := range entries {
		g.Go(func() error {
			video, err := r.client.VideoFromPlaylistEntryContext(gctx, e)
			if err != nil {
				return errors.Wrapf(err, "failed to get playlist entry %s", e.ID)
			}
			it, err := r.toItem(gctx, video)
			if err != nil {
				return err
			}
			items[i] = it
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return item.Resolution{}, err
	}

	return item.Many(item.Collection{
		ID:    playlist.ID,
		Title: playlist.Title,
		URL:   raw,
	}, items), nil
}

func (r *Resolver) toItem(ctx context.Context, video *youtube.Video) (item.Item, error) {
	formats := pickAudioFormats(video.Formats)
	if len(formats) == 0 {
		return item.Item{}, errors.Wrapf(ErrNoAudio, "video=%s", video.ID)
	}

	streamURL, err := r.client.GetStreamURLContext(ctx, video, &formats[0])
	if err != nil {
		return item.Item{}, errors.Wrapf(err, "failed to get stream url for %s", video.ID)
	}

	it := item.New(streamURL)
	it.Title = video.Title
	it.Artist = video.Author
	it.Duration = video.Duration
	it.WebpageURL = "https://www.youtube.com/watch?v=" + video.ID
	it.Thumbnail = bestThumbnail(video.Thumbnails)
	return it, nil
}

// pickAudioFormats prefers audio-only formats and falls back to any format with audio.
func pickAudioFormats(formats youtube.FormatList) youtube.FormatList {
	withAudio := formats.WithAudioChannels()
	audioOnly := withAudio.Type("audio")
	if len(audioOnly) > 0 {
		return audioOnly
	}
	return withAudio
}

func bestThumbnail(thumbs youtube.Thumbnails) string {
	var best youtube.Thumbnail
	for _, t := range thumbs {
		if t.Width*t.Height >= best.Width*best.Height {
			best = t
		}
	}
	return best.URL
}

// IsYouTubeURL reports whether raw points at youtube.com, music.youtube.com or youtu.be.
func IsYouTubeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") {
	case "youtube.com", "music.youtube.com", "m.youtube.com", "youtu.be":
		return true
	default:
		return false
	}
}

func isPlaylistURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.TrimSuffix(u.Path, "/") == "/playlist" && u.Query().Get("list") != ""
}
