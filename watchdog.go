package main

import (
	"context"
	"time"

	"github.com/lmittmann/tint"
)

// watch leaves the guild's voice channel once the bot is the only one left
// in the channel it is currently in. It exits when ctx is cancelled or the session moves past gen.
func (o *Orchestrator) watch(ctx context.Context, s *GuildSession, gen uint64) {
	ticker := time.NewTicker(o.watchEvery)
	defer ticker.Stop()

	log := o.log.With("guild_id", s.guildID, "generation", gen)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		live := s.joined && s.generation == gen
		s.mu.Unlock()
		if !live {
			return
		}

		channelID := o.refreshChannel(s)
		if !o.botAlone(s.guildID, channelID) {
			continue
		}

		left, err := o.leave(context.Background(), s, gen)
		if err != nil {
			log.Error("leaving empty voice channel", tint.Err(err))
		} else if left {
			log.Info("left empty voice channel", "channel_id", channelID)
		}
		return
	}
}

// botAlone reports whether the bot is in channelID with no one else.
func (o *Orchestrator) botAlone(guildID, channelID string) bool {
	if o.BotID == nil {
		return false
	}
	botID := o.BotID()
	if botID == "" {
		return false
	}

	present := false
	others := make(map[string]struct{})
	for _, id := range o.Membership.ChannelOccupants(guildID, channelID) {
		if id == botID {
			present = true
			continue
		}
		others[id] = struct{}{}
	}
	return present && len(others) == 0
}
