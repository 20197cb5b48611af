// Package ytdlp resolves URLs and search terms into playable items using yt-dlp.
package ytdlp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19voice/internal/domain/item"
)

// Errors
var (
	ErrNoResults       = errors.New("no results")
	ErrMissingLocator  = errors.New("entry has no streamable url")
	ErrMalformedOutput = errors.New("malformed yt-dlp output")
)

// fieldSep separates fields of one output line. Titles may contain tabs, but
// never the ASCII unit separator.
const fieldSep = "\x1f"

// printFields are the fields of one output line, in order.
var printFields = []string{
	"url", "title", "uploader", "duration", "thumbnail", "webpage_url", "playlist_id", "playlist_title",
}

// printTemplate is the per-entry line yt-dlp prints.
var printTemplate = "%(" + strings.Join(printFields, ")s"+fieldSep+"%(") + ")s"

var fieldCount = len(printFields)

// notAvailable is what yt-dlp prints for a missing field.
const notAvailable = "NA"

// Config represents yt-dlp resolver configuration.
type Config struct {
	SearchPrefix     string // Prefix for non-URL arguments (e.g. "ytsearch1:")
	MaxPlaylistItems int
	SocketTimeout    time.Duration
}

// Resolver resolves arguments by running yt-dlp.
type Resolver struct {
	config Config
}

// New creates a new yt-dlp resolver.
func New(cfg Config) *Resolver {
	if cfg.SearchPrefix == "" {
		cfg.SearchPrefix = "ytsearch1:"
	}
	if cfg.MaxPlaylistItems <= 0 {
		cfg.MaxPlaylistItems = 100
	}
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = 15 * time.Second
	}
	return &Resolver{config: cfg}
}

// Target returns what yt-dlp is asked to resolve for raw.
// Anything that is not an http(s) URL is treated as a search.
func (r *Resolver) Target(raw string) string {
	raw = strings.TrimSpace(raw)
	if item.IsURL(raw) {
		return raw
	}
	return r.config.SearchPrefix + raw
}

// Resolve resolves raw into a single item or a playlist.
// If any playlist entry lacks a streamable URL, the whole resolution fails.
func (r *Resolver) Resolve(ctx context.Context, raw string) (item.Resolution, error) {
	target := r.Target(raw)
	zlog.Debug().Msgf("Resolving with yt-dlp: target=%s", target)

	res, err := ytdlp.New().
		Print(printTemplate).
		Format("bestaudio/best").
		PlaylistItems(fmt.Sprintf("1-%d", r.config.MaxPlaylistItems)).
		NoWarnings().
		IgnoreConfig().
		Run(ctx,
			"--skip-download",
			"--socket-timeout", strconv.Itoa(int(r.config.SocketTimeout.Seconds())),
			target,
		)
	if err != nil {
		if res != nil && res.Stderr != "" {
			return item.Resolution{}, errors.Wrapf(err, "yt-dlp failed: %s", lastLine(res.Stderr))
		}
		return item.Resolution{}, errors.Wrap(err, "yt-dlp failed")
	}

	return parseOutput(res.Stdout, target, item.IsURL(target))
}

// entry is one parsed output line.
type entry struct {
	url           string
	title         string
	uploader      string
	duration      time.Duration
	thumbnail     string
	webpageURL    string
	playlistID    string
	playlistTitle string
}

// parseOutput turns yt-dlp print output into a resolution.
// Search results are never presented as a collection.
func parseOutput(stdout, target string, isURL bool) (item.Resolution, error) {
	var entries []entry
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			return item.Resolution{}, err
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return item.Resolution{}, ErrNoResults
	}

	items := make([]item.Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.toItem())
	}

	first := entries[0]
	if !isURL || first.playlistID == "" {
		if len(items) == 1 {
			return item.Single(items[0]), nil
		}
		return item.Many(item.Collection{}, items), nil
	}
	return item.Many(item.Collection{
		ID:    first.playlistID,
		Title: first.playlistTitle,
		URL:   target,
	}, items), nil
}

func parseLine(line string) (entry, error) {
	fields := strings.Split(line, fieldSep)
	if len(fields) != fieldCount {
		return entry{}, errors.Wrapf(ErrMalformedOutput, "expected %d fields, got %d", fieldCount, len(fields))
	}
	for i := range fields {
		fields[i] = field(fields[i])
	}

	e := entry{
		url:           fields[0],
		title:         fields[1],
		uploader:      fields[2],
		thumbnail:     fields[4],
		webpageURL:    fields[5],
		playlistID:    fields[6],
		playlistTitle: fields[7],
	}
	if e.url == "" {
		return entry{}, errors.Wrapf(ErrMissingLocator, "title=%q", e.title)
	}
	if fields[3] != "" {
		secs, err := strconv.ParseFloat(fields[3], 64)
		if err == nil && secs > 0 {
			e.duration = time.Duration(secs * float64(time.Second))
		}
	}
	return e, nil
}

func (e entry) toItem() item.Item {
	it := item.New(e.url)
	it.Title = e.title
	it.Artist = e.uploader
	it.Duration = e.duration
	it.Thumbnail = e.thumbnail
	it.WebpageURL = e.webpageURL
	return it
}

// field maps yt-dlp's placeholder for a missing value to "".
func field(s string) string {
	s = strings.TrimSpace(s)
	if s == notAvailable {
		return ""
	}
	return s
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
