package discord

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/osa030/19voice/internal/domain/item"
	"github.com/osa030/19voice/internal/domain/outcome"
)

const (
	embedColor         = 0x1DB954
	collectionFallback = "No playlist name"
)

// MessageFunc returns the user-facing text for a message code.
type MessageFunc func(code string) string

// ErrorMessage renders err for the user. Internal failures get the generic text.
func ErrorMessage(messages MessageFunc, err error) string {
	oe := outcome.As(err)
	switch oe.Kind {
	case outcome.KindResolutionFailed:
		tmpl := messages(oe.Kind.String())
		if strings.Contains(tmpl, "%s") {
			return fmt.Sprintf(tmpl, "`"+oe.Source+"`")
		}
		return tmpl
	case outcome.KindRejected:
		return messages(oe.Code)
	default:
		return messages(oe.Kind.String())
	}
}

// EnqueuedEmbed renders a successful play request.
func EnqueuedEmbed(e outcome.Enqueued) *discordgo.MessageEmbed {
	first, _ := e.Resolution.First()

	embed := &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name:    "Added to queue",
			IconURL: first.Requester.AvatarURL,
		},
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Position", Value: strconv.Itoa(e.Position), Inline: true},
		},
	}
	if first.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: first.Thumbnail}
	}

	if c, ok := e.Resolution.Collection(); ok && e.Resolution.IsCollection() {
		embed.Title = c.Name()
		if embed.Title == "" {
			embed.Title = collectionFallback
		}
		embed.URL = c.URL
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Tracks",
			Value:  strconv.Itoa(e.Resolution.Len()),
			Inline: true,
		})
		return embed
	}

	embed.Title = first.DisplayTitle()
	embed.URL = first.WebpageURL
	if first.Duration > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Length",
			Value:  FormatDuration(first.Duration),
			Inline: true,
		})
	}
	return embed
}

// NowPlayingEmbed renders the start of an item.
func NowPlayingEmbed(it item.Item, pending int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{Name: "Now playing"},
		Title:  it.DisplayTitle(),
		URL:    it.WebpageURL,
		Color:  embedColor,
	}
	if it.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: it.Thumbnail}
	}
	if it.Duration > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Length", Value: FormatDuration(it.Duration), Inline: true,
		})
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name: "Up next", Value: strconv.Itoa(pending), Inline: true,
	})
	if it.Requester.Name != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text:    "Requested by " + it.Requester.Name,
			IconURL: it.Requester.AvatarURL,
		}
	}
	return embed
}

// FormatDuration formats d as m:ss, or h:mm:ss for an hour or more.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
