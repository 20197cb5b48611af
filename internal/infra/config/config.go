// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord   DiscordConfig           `yaml:"discord"`
	Resolver  ResolverConfig          `yaml:"resolver"`
	Playback  PlaybackConfig          `yaml:"playback"`
	Spotify   SpotifyConfig           `yaml:"spotify"`
	Admin     AdminConfig             `yaml:"admin"`
	Metrics   MetricsConfig           `yaml:"metrics"`
	History   HistoryConfig           `yaml:"history"`
	RateLimit RateLimitConfig         `yaml:"rate_limit"`
	Filters   map[string]FilterConfig `yaml:"filters"`
	Messages  MessagesConfig          `yaml:"messages"`
	Log       LogConfig               `yaml:"log"`
}

// DiscordConfig represents Discord bot configuration.
type DiscordConfig struct {
	Token      string `yaml:"token" env:"DISCORD_TOKEN" validate:"required"`
	AppID      string `yaml:"app_id" env:"DISCORD_APP_ID" validate:"required"`
	GuildID    string `yaml:"guild_id" env:"DISCORD_GUILD_ID"` // Register commands to one guild instead of globally
	Register   bool   `yaml:"register"`                        // Overwrite slash commands on startup
	FFmpegPath string `yaml:"ffmpeg_path" env:"FFMPEG_PATH" default:"ffmpeg"`
}

// ResolverConfig represents media resolution configuration.
type ResolverConfig struct {
	Backend          string        `yaml:"backend" default:"ytdlp" validate:"oneof=ytdlp youtube"`
	Timeout          time.Duration `yaml:"timeout" default:"15s" validate:"gt=0"`
	SearchPrefix     string        `yaml:"search_prefix" default:"ytsearch1:"`
	MaxPlaylistItems int           `yaml:"max_playlist_items" default:"100" validate:"gte=1,lte=1000"`
	Concurrency      int           `yaml:"concurrency" default:"4" validate:"gte=1,lte=16"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	JoinTimeout        time.Duration `yaml:"join_timeout" default:"30s" validate:"gt=0"`
	EventBuffer        int           `yaml:"event_buffer" default:"64" validate:"gte=1,lte=4096"`
	AnnounceNowPlaying bool          `yaml:"announce_now_playing"`
}

// SpotifyConfig represents Spotify API configuration.
// Spotify links are only resolved when a client ID is configured.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"SPOTIFY_CLIENT_SECRET" validate:"required_with=ClientID"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// Enabled reports whether Spotify resolution is configured.
func (s SpotifyConfig) Enabled() bool {
	return s.ClientID != ""
}

// AdminConfig represents the admin HTTP API configuration.
// The API is disabled when Addr is empty.
type AdminConfig struct {
	Addr  string `yaml:"addr" env:"ADMIN_ADDR"`
	Token string `yaml:"token" env:"ADMIN_TOKEN" validate:"required_with=Addr"`
}

// MetricsConfig represents Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" default:"/metrics" validate:"startswith=/"`
}

// HistoryConfig represents play history storage configuration.
// History is disabled when DSN is empty.
type HistoryConfig struct {
	DSN   string `yaml:"dsn" env:"HISTORY_DSN"`
	Limit int    `yaml:"limit" default:"20" validate:"gte=1,lte=500"`
}

// RateLimitConfig represents per-user command rate limiting.
type RateLimitConfig struct {
	Disabled  bool    `yaml:"disabled"`
	PerMinute float64 `yaml:"per_minute" default:"20" validate:"gt=0"`
	Burst     int     `yaml:"burst" default:"5" validate:"gte=1"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	Skipped               string `yaml:"skipped" default:"✅"`
	DefaultError          string `yaml:"default_error" default:"Something went wrong. Give it another go?"`
	NoDestination         string `yaml:"no_destination" default:"Join a voice channel before trying to queue a song."`
	MissingArgument       string `yaml:"missing_argument" default:"You must provide a URL to play."`
	ResolutionFailed      string `yaml:"resolution_failed" default:"Failed to retrieve information about %s."`
	JoinFailed            string `yaml:"join_failed" default:"Unable to join your voice channel."`
	StreamStartFailed     string `yaml:"stream_start_failed" default:"Failed to start playing the given URL."`
	NoActiveRoom          string `yaml:"no_active_room" default:"I'm not playing anything in this server."`
	NoRoom                string `yaml:"no_room" default:"You can only use this command in a guild text channel."`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"That is too long (or too short) to queue here."`
	DuplicateItem         string `yaml:"duplicate_item" default:"That is already in the queue."`
	QueueLimitExceeded    string `yaml:"queue_limit_exceeded" default:"The queue is full. Try again later."`
	UserLimitExceeded     string `yaml:"user_limit_exceeded" default:"You already have too many songs queued."`
	RateLimited           string `yaml:"rate_limited" default:"Slow down a little and try again in a moment."`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML, then applies env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read environment overrides")
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// GetMessage returns the message for the given code.
// Codes are error kind names and filter/limiter rejection codes.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "skipped":
		return c.Messages.Skipped
	case "no_destination":
		return c.Messages.NoDestination
	case "missing_argument":
		return c.Messages.MissingArgument
	case "resolution_failed":
		return c.Messages.ResolutionFailed
	case "join_failed":
		return c.Messages.JoinFailed
	case "stream_start_failed":
		return c.Messages.StreamStartFailed
	case "no_active_room":
		return c.Messages.NoActiveRoom
	case "no_room":
		return c.Messages.NoRoom
	case "duration_limit_exceeded":
		return c.Messages.DurationLimitExceeded
	case "duplicate_item":
		return c.Messages.DuplicateItem
	case "queue_limit_exceeded":
		return c.Messages.QueueLimitExceeded
	case "user_limit_exceeded":
		return c.Messages.UserLimitExceeded
	case "rate_limited":
		return c.Messages.RateLimited
	default:
		return c.Messages.DefaultError
	}
}

