package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19voice/internal/app/command"
	"github.com/osa030/19voice/internal/domain/item"
	"github.com/osa030/19voice/internal/domain/outcome"
)

const (
	commandPlay = "play"
	commandSkip = "skip"
	optionSong  = "song"
)

// CommandHandler executes parsed commands.
type CommandHandler interface {
	Play(ctx context.Context, req command.Request) (outcome.Enqueued, error)
	Skip(ctx context.Context, req command.Request) (item.Item, error)
}

// Commands returns the slash command definitions.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        commandPlay,
			Description: "Adds a track to the users voice channel song queue.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optionSong,
					Description: "URL to the song to play.",
					Required:    true,
				},
			},
		},
		{
			Name:        commandSkip,
			Description: "Skips the currently playing song.",
		},
	}
}

// reply is the terminal response to one command.
type reply struct {
	Content string
	Embed   *discordgo.MessageEmbed
}

// requestFromInteraction extracts a command request from a slash command interaction.
// Unknown commands return false.
func requestFromInteraction(i *discordgo.InteractionCreate) (command.Request, bool) {
	data := i.ApplicationCommandData()

	req := command.Request{
		RoomID:    i.GuildID,
		ChannelID: i.ChannelID,
	}
	switch data.Name {
	case commandPlay:
		req.Kind = command.KindPlay
	case commandSkip:
		req.Kind = command.KindSkip
	default:
		return command.Request{}, false
	}

	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
		req.UserName = i.Member.Nick
	}
	if user != nil {
		req.UserID = user.ID
		req.AvatarURL = user.AvatarURL("")
		if req.UserName == "" {
			req.UserName = user.GlobalName
		}
		if req.UserName == "" {
			req.UserName = user.Username
		}
	}

	for _, opt := range data.Options {
		if opt.Name == optionSong && opt.Type == discordgo.ApplicationCommandOptionString {
			req.Argument = opt.StringValue()
		}
	}
	return req, true
}

// execute runs req and renders its outcome.
func execute(ctx context.Context, h CommandHandler, messages MessageFunc, req command.Request) reply {
	switch req.Kind {
	case command.KindPlay:
		enqueued, err := h.Play(ctx, req)
		if err != nil {
			logFailure(req, err)
			return reply{Content: ErrorMessage(messages, err)}
		}
		return reply{Embed: EnqueuedEmbed(enqueued)}
	default:
		if _, err := h.Skip(ctx, req); err != nil {
			logFailure(req, err)
			return reply{Content: ErrorMessage(messages, err)}
		}
		return reply{Content: messages("skipped")}
	}
}

func logFailure(req command.Request, err error) {
	kind := outcome.KindOf(err)
	if kind.UserActionable() {
		zlog.Info().Msgf("Command refused: command=%s room=%s user=%s kind=%s err=%v", req.Kind, req.RoomID, req.UserID, kind, err)
		return
	}
	zlog.Error().Msgf("Command failed: command=%s room=%s user=%s err=%+v", req.Kind, req.RoomID, req.UserID, err)
}
