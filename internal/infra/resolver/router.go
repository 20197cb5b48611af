// Package resolver routes play arguments to the media backend that can resolve them.
package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/osa030/19voice/internal/domain/item"
	"github.com/osa030/19voice/internal/domain/outcome"
	"github.com/osa030/19voice/internal/infra/spotify"
	"github.com/osa030/19voice/internal/infra/youtube"
)

// Errors
var (
	ErrEmpty    = errors.New("resolved to nothing playable")
	ErrTimedOut = errors.New("resolution timed out")
)

// Source names reported to observers.
const (
	SourceSearch  = "search"
	SourceURL     = "url"
	SourceYouTube = "youtube"
	SourceSpotify = "spotify"
)

// Backend resolves one argument into playable items.
type Backend interface {
	Resolve(ctx context.Context, raw string) (item.Resolution, error)
}

// LinkLookup looks up Spotify links.
type LinkLookup interface {
	Lookup(ctx context.Context, link string) (*spotify.Lookup, error)
}

// Observer is notified of every resolution attempt.
type Observer interface {
	ObserveResolve(ctx context.Context, source string, elapsed time.Duration, err error)
}

// Config represents router configuration.
type Config struct {
	Timeout     time.Duration // Bound for one Resolve call, including every backend call it makes
	Concurrency int           // Parallel searches for Spotify collections
}

// Option configures a Router.
type Option func(*Router)

// WithYouTube routes YouTube URLs to a native backend instead of the default one.
func WithYouTube(b Backend) Option {
	return func(r *Router) { r.youtube = b }
}

// WithSpotify enables Spotify links. Each track is played from a search result.
func WithSpotify(l LinkLookup) Option {
	return func(r *Router) { r.spotify = l }
}

// WithObserver registers an observer for resolution outcomes.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// Router resolves play arguments. It satisfies command.Resolver.
type Router struct {
	fallback Backend // URLs nobody else claims, and searches
	youtube  Backend
	spotify  LinkLookup
	observer Observer
	config   Config
}

// NewRouter creates a router that uses fallback for searches and any URL not
// claimed by a more specific backend.
func NewRouter(fallback Backend, cfg Config, opts ...Option) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	r := &Router{fallback: fallback, config: cfg}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve resolves raw within the configured timeout.
// Every failure is reported as a ResolutionFailed outcome naming raw.
func (r *Router) Resolve(ctx context.Context, raw string) (item.Resolution, error) {
	raw = strings.TrimSpace(raw)
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	source := r.Source(raw)
	start := time.Now()

	var (
		res item.Resolution
		err error
	)
	switch source {
	case SourceSpotify:
		res, err = r.resolveSpotify(ctx, raw)
	case SourceYouTube:
		res, err = r.youtube.Resolve(ctx, raw)
	default:
		res, err = r.fallback.Resolve(ctx, raw)
	}
	if err == nil && res.Len() == 0 {
		err = ErrEmpty
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = errors.Mark(errors.Wrapf(err, "after %s", r.config.Timeout), ErrTimedOut)
	}

	if r.observer != nil {
		r.observer.ObserveResolve(ctx, source, time.Since(start), err)
	}
	if err != nil {
		zlog.Warn().Msgf("Resolution failed: source=%s arg=%s err=%v", source, raw, err)
		return item.Resolution{}, outcome.ResolutionFailed(raw, err)
	}
	zlog.Debug().Msgf("Resolved: source=%s arg=%s items=%d elapsed=%s", source, raw, res.Len(), time.Since(start))
	return res, nil
}

// Source returns which backend handles raw.
func (r *Router) Source(raw string) string {
	switch {
	case r.spotify != nil && spotify.IsSpotifyLink(raw):
		return SourceSpotify
	case r.youtube != nil && youtube.IsYouTubeURL(raw):
		return SourceYouTube
	case item.IsURL(raw):
		return SourceURL
	default:
		return SourceSearch
	}
}

// resolveSpotify plays each track of a Spotify link from the first search result.
// If any track cannot be found, nothing is returned.
func (r *Router) resolveSpotify(ctx context.Context, link string) (item.Resolution, error) {
	lookup, err := r.spotify.Lookup(ctx, link)
	if err != nil {
		return item.Resolution{}, err
	}
	if len(lookup.Tracks) == 0 {
		return item.Resolution{}, ErrEmpty
	}

	items := make([]item.Item, len(lookup.Tracks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)
	for i, t := range lookup.Tracks {
		g.Go(func() error {
			res, err := r.fallback.Resolve(gctx, t.SearchQuery())
			if err != nil {
				return errors.Wrapf(err, "no match for %q", t.SearchQuery())
			}
			found, ok := res.First()
			if !ok {
				return errors.Wrapf(ErrEmpty, "no match for %q", t.SearchQuery())
			}
			items[i] = withTrackMetadata(found, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return item.Resolution{}, err
	}

	if lookup.Kind == spotify.KindTrack {
		return item.Single(items[0]), nil
	}
	return item.Many(item.Collection{
		ID:    lookup.ID,
		Title: lookup.Name,
		URL:   lookup.URL,
	}, items), nil
}

// withTrackMetadata keeps the found stream but presents it with the Spotify metadata.
func withTrackMetadata(found item.Item, t spotify.Track) item.Item {
	found.Title = t.Name
	found.Artist = strings.Join(t.Artists, ", ")
	found.WebpageURL = t.URL
	if t.AlbumArtURL != "" {
		found.Thumbnail = t.AlbumArtURL
	}
	if found.Duration == 0 {
		found.Duration = t.Duration
	}
	return found
}
