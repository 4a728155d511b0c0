package main

import "github.com/bwmarrin/discordgo"

// Membership answers who is in which voice channel.
type Membership interface {
	// UserVoiceChannel returns the voice channel the user is in.
	UserVoiceChannel(guildID, userID string) (string, bool)
	// ChannelOccupants returns the ids of the users in a voice channel.
	ChannelOccupants(guildID, channelID string) []string
}

// stateMembership reads voice states from the gateway's state cache.
type stateMembership struct {
	state *discordgo.State
}

func (m stateMembership) UserVoiceChannel(guildID, userID string) (string, bool) {
	vs, err := m.state.VoiceState(guildID, userID)
	if err != nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

func (m stateMembership) ChannelOccupants(guildID, channelID string) []string {
	guild, err := m.state.Guild(guildID)
	if err != nil {
		return nil
	}

	m.state.RLock()
	defer m.state.RUnlock()

	var users []string
	for _, vs := range guild.VoiceStates {
		if vs != nil && vs.ChannelID == channelID {
			users = append(users, vs.UserID)
		}
	}
	return users
}
