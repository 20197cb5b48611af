package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Discord:   DiscordConfig{Token: "token", AppID: "123", FFmpegPath: "ffmpeg"},
		Resolver:  ResolverConfig{Backend: "ytdlp", Timeout: 15 * time.Second, MaxPlaylistItems: 100, Concurrency: 4},
		Playback:  PlaybackConfig{JoinTimeout: 30 * time.Second, EventBuffer: 64},
		Spotify:   SpotifyConfig{Market: "US"},
		Metrics:   MetricsConfig{Path: "/metrics"},
		History:   HistoryConfig{Limit: 20},
		RateLimit: RateLimitConfig{PerMinute: 20, Burst: 5},
		Log:       LogConfig{Level: "info"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing discord token",
			mutate:  func(c *Config) { c.Discord.Token = "" },
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name:    "missing app id",
			mutate:  func(c *Config) { c.Discord.AppID = "" },
			wantErr: true,
			errMsg:  "AppID",
		},
		{
			name:    "unknown resolver backend",
			mutate:  func(c *Config) { c.Resolver.Backend = "soundcloud" },
			wantErr: true,
			errMsg:  "Backend",
		},
		{
			name:    "spotify client id without secret",
			mutate:  func(c *Config) { c.Spotify.ClientID = "client" },
			wantErr: true,
			errMsg:  "ClientSecret",
		},
		{
			name: "spotify fully configured",
			mutate: func(c *Config) {
				c.Spotify.ClientID = "client"
				c.Spotify.ClientSecret = "secret"
			},
			wantErr: false,
		},
		{
			name:    "invalid market length",
			mutate:  func(c *Config) { c.Spotify.Market = "USA" },
			wantErr: true,
			errMsg:  "Market",
		},
		{
			name:    "admin addr without token",
			mutate:  func(c *Config) { c.Admin.Addr = ":8080" },
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name:    "metrics path must be absolute",
			mutate:  func(c *Config) { c.Metrics.Path = "metrics" },
			wantErr: true,
			errMsg:  "Path",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
			errMsg:  "Level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
discord:
  token: file-token
  app_id: "42"
filters:
  queue_limit_filter:
    enabled: true
    settings:
      max_pending: 50
`))
	require.NoError(t, err)

	assert.Equal(t, "ytdlp", cfg.Resolver.Backend)
	assert.Equal(t, 15*time.Second, cfg.Resolver.Timeout)
	assert.Equal(t, "ytsearch1:", cfg.Resolver.SearchPrefix)
	assert.Equal(t, 30*time.Second, cfg.Playback.JoinTimeout)
	assert.Equal(t, "ffmpeg", cfg.Discord.FFmpegPath)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "Unable to join your voice channel.", cfg.Messages.JoinFailed)
	assert.False(t, cfg.Spotify.Enabled())
	assert.True(t, cfg.Filters["queue_limit_filter"].Enabled)
	assert.False(t, cfg.Filters["duplicate_item_filter"].Enabled)
	assert.Equal(t, 50, cfg.Filters["queue_limit_filter"].Settings["max_pending"])
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("SPOTIFY_CLIENT_ID", "env-client")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "env-secret")

	cfg, err := Parse([]byte(`
discord:
  token: file-token
  app_id: "42"
resolver:
  timeout: 5s
`))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.Equal(t, "42", cfg.Discord.AppID)
	assert.Equal(t, 5*time.Second, cfg.Resolver.Timeout)
	assert.True(t, cfg.Spotify.Enabled())
	assert.Equal(t, "env-secret", cfg.Spotify.ClientSecret)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discord:\n  token: t\n  app_id: \"1\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "t", cfg.Discord.Token)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("discord: [not, a, map]"))
	assert.Error(t, err)

	_, err = Parse([]byte("discord:\n  app_id: \"1\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Token")
}

func TestConfig_GetMessage(t *testing.T) {
	cfg, err := Parse([]byte("discord:\n  token: t\n  app_id: \"1\"\nmessages:\n  no_active_room: nothing here\n"))
	require.NoError(t, err)

	assert.Equal(t, "nothing here", cfg.GetMessage("no_active_room"))
	assert.Equal(t, "Join a voice channel before trying to queue a song.", cfg.GetMessage("no_destination"))
	assert.Equal(t, "You must provide a URL to play.", cfg.GetMessage("missing_argument"))
	assert.Equal(t, "Something went wrong. Give it another go?", cfg.GetMessage("internal"))
	assert.Equal(t, "Something went wrong. Give it another go?", cfg.GetMessage("unknown_code"))
}
