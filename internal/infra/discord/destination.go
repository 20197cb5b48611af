package discord

import (
	"github.com/bwmarrin/discordgo"
)

// Destinations locates users in voice channels from the gateway state cache.
type Destinations struct {
	state *discordgo.State
}

// NewDestinations creates a destination resolver over the session's state cache.
// The session must request the GuildVoiceStates intent.
func NewDestinations(session *discordgo.Session) *Destinations {
	return &Destinations{state: session.State}
}

// VoiceDestination returns the voice channel userID is connected to in guild roomID.
func (d *Destinations) VoiceDestination(roomID, userID string) (string, bool) {
	vs, err := d.state.VoiceState(roomID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}
