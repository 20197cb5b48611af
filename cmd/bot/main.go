// Package main provides the Discord bot entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19voice/internal/api/admin"
	"github.com/osa030/19voice/internal/app/command"
	"github.com/osa030/19voice/internal/app/filter"
	"github.com/osa030/19voice/internal/app/notification"
	"github.com/osa030/19voice/internal/app/playback"
	"github.com/osa030/19voice/internal/infra/config"
	"github.com/osa030/19voice/internal/infra/discord"
	"github.com/osa030/19voice/internal/infra/history"
	"github.com/osa030/19voice/internal/infra/logger"
	"github.com/osa030/19voice/internal/infra/metrics"
	"github.com/osa030/19voice/internal/infra/resolver"
	"github.com/osa030/19voice/internal/infra/spotify"
	"github.com/osa030/19voice/internal/infra/youtube"
	"github.com/osa030/19voice/internal/infra/ytdlp"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	app        = kingpin.New("19voice", "19voice Discord music bot")
	configPath = app.Flag("config", "Path to config file").Default("config/bot.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// register command
	registerCmd = app.Command("register", "Overwrite the slash commands and exit")

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Handle list-filters command
	if cmd == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	closeLog, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func() { _ = closeLog() }()

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}
	if !*verbose {
		zerolog.SetGlobalLevel(logger.ParseLevel(cfg.Log.Level))
	}

	if cmd == registerCmd.FullCommand() {
		if err := register(cfg); err != nil {
			zlog.Error().Msgf("Failed to register commands: %v", err)
			os.Exit(1)
		}
		return
	}

	// Run bot (defer ensures cleanup runs on any exit from run)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %+v", err)
		os.Exit(1)
	}
}

// newBot creates the Discord bot from cfg.
func newBot(cfg *config.Config) (*discord.Bot, error) {
	bot, err := discord.New(discord.Config{
		Token:          cfg.Discord.Token,
		AppID:          cfg.Discord.AppID,
		GuildID:        cfg.Discord.GuildID,
		CommandTimeout: cfg.Resolver.Timeout + cfg.Playback.JoinTimeout,
		Messages:       cfg.GetMessage,
	})
	if err != nil {
		return nil, err
	}
	bot.RouteLogs(*verbose)
	return bot, nil
}

// register overwrites the slash commands without connecting to the gateway.
func register(cfg *config.Config) error {
	bot, err := newBot(cfg)
	if err != nil {
		return err
	}
	return bot.RegisterCommands()
}

// run executes the main bot logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build filter chain
	chain, err := filter.Build(filterSettings(cfg))
	if err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	bot, err := newBot(cfg)
	if err != nil {
		return err
	}

	// Playback core over Discord voice
	transport := discord.NewTransport(bot.Session(), cfg.Discord.FFmpegPath)
	coordinator := playback.NewCoordinator(transport, playback.Config{
		EventBuffer: cfg.Playback.EventBuffer,
		JoinTimeout: cfg.Playback.JoinTimeout,
	})

	// Metrics
	var provider *metrics.Provider
	var recorder *metrics.Metrics
	if cfg.Metrics.Enabled {
		provider, err = metrics.NewProvider("19voice", version)
		if err != nil {
			return err
		}
		defer func() {
			if err := provider.Shutdown(context.Background()); err != nil {
				zlog.Warn().Msgf("Failed to shutdown metrics: %v", err)
			}
		}()
		if recorder, err = metrics.NewMetrics(provider.MeterProvider); err != nil {
			return err
		}
	}

	// Resolution
	router, err := newRouter(ctx, cfg, recorder)
	if err != nil {
		return err
	}

	var limiter *command.RateLimiter
	if !cfg.RateLimit.Disabled {
		limiter = command.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	}
	handler := command.NewHandler(coordinator, router, discord.NewDestinations(bot.Session()), chain, limiter)

	// Notifications
	notifications := notification.NewManager()
	defer notifications.Close()
	if recorder != nil {
		notifications.Subscribe(recorder)
	}

	var store *history.Store
	if cfg.History.DSN != "" {
		var closeStore func()
		store, closeStore, err = history.Open(ctx, cfg.History.DSN)
		if err != nil {
			return err
		}
		defer closeStore()
		go store.Run(ctx)
		notifications.Subscribe(store)
		zlog.Info().Msg("Play history enabled")
	}

	var announcer *discord.Announcer
	if cfg.Playback.AnnounceNowPlaying {
		announcer = discord.NewAnnouncer(discord.SessionSender(bot.Session()))
		bot.SetAnnouncer(announcer)
		notifications.Subscribe(announcer)
	}

	go notifications.Run(ctx, coordinator.Events())

	// Admin API
	var adminServer *admin.Server
	var adminErrCh <-chan error
	if cfg.Admin.Addr != "" {
		var opts []admin.Option
		if store != nil {
			opts = append(opts, admin.WithHistory(store))
		}
		if provider != nil {
			opts = append(opts, admin.WithMetrics(cfg.Metrics.Path, provider.Handler()))
		}
		adminServer = admin.NewServer(coordinator, notifications, admin.Config{
			Addr:         cfg.Admin.Addr,
			Token:        cfg.Admin.Token,
			HistoryLimit: cfg.History.Limit,
		}, opts...)
		adminErrCh = adminServer.Start()
	} else if cfg.Metrics.Enabled {
		zlog.Warn().Msg("Metrics are enabled but admin.addr is empty, nothing will serve them")
	}

	// Connect to Discord
	if cfg.Discord.Register {
		if err := bot.RegisterCommands(); err != nil {
			return err
		}
	}
	if err := bot.Open(handler); err != nil {
		return err
	}
	zlog.Info().Msgf("Bot started: version=%s", version)

	// Wait for shutdown signal or admin server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-adminErrCh:
		runErr = err
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop taking commands first, then leave every voice channel
	if err := bot.Close(); err != nil {
		zlog.Error().Msgf("Failed to close Discord session: %v", err)
	}
	coordinator.Shutdown(shutdownCtx)
	transport.Close()
	if announcer != nil {
		announcer.Wait()
	}

	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown admin server: %v", err)
		}
	}

	zlog.Info().Msg("Bot stopped")
	return runErr
}

// newRouter builds the resolver router from cfg.
func newRouter(ctx context.Context, cfg *config.Config, recorder *metrics.Metrics) (*resolver.Router, error) {
	fallback := ytdlp.New(ytdlp.Config{
		SearchPrefix:     cfg.Resolver.SearchPrefix,
		MaxPlaylistItems: cfg.Resolver.MaxPlaylistItems,
		SocketTimeout:    cfg.Resolver.Timeout,
	})

	var opts []resolver.Option
	if cfg.Resolver.Backend == "youtube" {
		opts = append(opts, resolver.WithYouTube(youtube.New(youtube.Config{
			MaxPlaylistItems: cfg.Resolver.MaxPlaylistItems,
			Concurrency:      cfg.Resolver.Concurrency,
		})))
		zlog.Info().Msg("Resolving YouTube links natively")
	}

	if cfg.Spotify.Enabled() {
		sp, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
			MaxTracks:    cfg.Resolver.MaxPlaylistItems,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Spotify client")
		}
		opts = append(opts, resolver.WithSpotify(sp))
		zlog.Info().Msg("Spotify links enabled")
	}

	if recorder != nil {
		opts = append(opts, resolver.WithObserver(recorder))
	}

	return resolver.NewRouter(fallback, resolver.Config{
		Timeout:     cfg.Resolver.Timeout,
		Concurrency: cfg.Resolver.Concurrency,
	}, opts...), nil
}

// filterSettings converts the configured filters for filter.Build.
func filterSettings(cfg *config.Config) map[string]filter.Settings {
	out := make(map[string]filter.Settings, len(cfg.Filters))
	for name, f := range cfg.Filters {
		out[name] = filter.Settings{Enabled: f.Enabled, Settings: f.Settings}
	}
	return out
}

// printFilters prints available filters.
func printFilters() {
	registry := filter.GetRegistered()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available Filters:")
	for _, name := range names {
		f := registry[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}
