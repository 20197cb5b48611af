// Package discord connects the playback core to Discord: the gateway session,
// slash commands, voice connections and the messages users see.
package discord

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19voice/internal/app/command"
)

// Config holds Discord bot configuration.
type Config struct {
	Token   string
	AppID   string
	GuildID string // Register commands to this guild only (optional)

	// CommandTimeout bounds one command, including resolution and joining.
	CommandTimeout time.Duration
	Messages       MessageFunc
}

// Bot owns the Discord gateway connection and routes interactions to the command handler.
type Bot struct {
	session   *discordgo.Session
	config    Config
	announcer *Announcer

	mu        sync.RWMutex
	handler   CommandHandler
	removeFn  func()
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a Bot. The gateway is not opened until Open.
func New(cfg Config) (*Bot, error) {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = time.Minute
	}
	if cfg.Messages == nil {
		return nil, errors.New("discord: messages are required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "discord: create session")
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		session: session,
		config:  cfg,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// SetAnnouncer makes successful plays remember their text channel for announcements.
func (b *Bot) SetAnnouncer(a *Announcer) {
	b.announcer = a
}

// Open installs handler and connects to the gateway.
func (b *Bot) Open(handler CommandHandler) error {
	b.mu.Lock()
	b.handler = handler
	b.removeFn = b.session.AddHandler(b.onInteraction)
	b.mu.Unlock()

	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		zlog.Info().Msgf("Connected to Discord: user=%s guilds=%d", r.User.Username, len(r.Guilds))
	})

	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "discord: open session")
	}
	return nil
}

// RegisterCommands overwrites the application's slash commands.
// This only needs the REST API, so it works without Open.
func (b *Bot) RegisterCommands() error {
	registered, err := b.session.ApplicationCommandBulkOverwrite(b.config.AppID, b.config.GuildID, Commands())
	if err != nil {
		return errors.Wrap(err, "discord: register commands")
	}
	scope := "global"
	if b.config.GuildID != "" {
		scope = "guild " + b.config.GuildID
	}
	zlog.Info().Msgf("Slash commands registered: count=%d scope=%s", len(registered), scope)
	return nil
}

// Close disconnects from Discord. In-flight commands are cancelled.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		if b.removeFn != nil {
			b.removeFn()
		}
		b.mu.Unlock()
		if err := b.session.Close(); err != nil {
			closeErr = errors.Wrap(err, "discord: close session")
		}
		zlog.Info().Msg("Discord session closed")
	})
	return closeErr
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	req, ok := requestFromInteraction(i)
	if !ok {
		zlog.Warn().Msgf("Unknown command: name=%s", i.ApplicationCommandData().Name)
		return
	}

	b.mu.RLock()
	handler := b.handler
	b.mu.RUnlock()

	// Acknowledge within Discord's 3 second window, then edit in the outcome.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		zlog.Warn().Msgf("Failed to defer interaction: command=%s err=%v", req.Kind, err)
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				zlog.Error().Msgf("Command panic: command=%s room=%s panic=%v", req.Kind, req.RoomID, r)
				b.edit(s, i, reply{Content: b.config.Messages("internal")})
			}
		}()

		ctx, cancel := context.WithTimeout(b.ctx, b.config.CommandTimeout)
		defer cancel()

		b.edit(s, i, b.dispatch(ctx, handler, req))
	}()
}

// dispatch runs req and renders its outcome.
func (b *Bot) dispatch(ctx context.Context, handler CommandHandler, req command.Request) reply {
	// The first item starts inside Play, so the channel must be known before it runs.
	if req.Kind == command.KindPlay && b.announcer != nil {
		b.announcer.Track(req.RoomID, req.ChannelID)
	}
	return execute(ctx, handler, b.config.Messages, req)
}

func (b *Bot) edit(s *discordgo.Session, i *discordgo.InteractionCreate, out reply) {
	edit := &discordgo.WebhookEdit{}
	if out.Content != "" {
		edit.Content = &out.Content
	}
	if out.Embed != nil {
		edit.Embeds = &[]*discordgo.MessageEmbed{out.Embed}
	}
	if _, err := s.InteractionResponseEdit(i.Interaction, edit); err != nil {
		zlog.Warn().Msgf("Failed to edit interaction response: err=%v", err)
	}
}

// RouteLogs sends discordgo's internal logging through zerolog.
// discordgo debug output is only enabled when verbose is set.
func (b *Bot) RouteLogs(verbose bool) {
	b.session.LogLevel = discordgo.LogWarning
	if verbose {
		b.session.LogLevel = discordgo.LogDebug
	}
	discordgo.Logger = func(msgL, _ int, format string, a ...interface{}) {
		var ev *zerolog.Event
		switch msgL {
		case discordgo.LogError:
			ev = zlog.Error()
		case discordgo.LogWarning:
			ev = zlog.Warn()
		case discordgo.LogInformational:
			ev = zlog.Info()
		default:
			ev = zlog.Debug()
		}
		ev.Str("component", "discordgo").Msgf(format, a...)
	}
}
