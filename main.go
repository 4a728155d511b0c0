package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

type Bot struct {
	session    *discordgo.Session
	orch       *Orchestrator
	dispatcher *Dispatcher
	botID      atomic.Value
	log        *slog.Logger
}

func main() {
	Execute()
}

func NewBot(ctx context.Context, token string, config *Config, log *slog.Logger) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}

	bot := &Bot{
		session: dg,
		log:     log.With(loggerNameKey, "bot"),
	}
	bot.botID.Store("")

	tracks := newYtdlpSource(config)

	var translators []linkTranslator
	if t := newSpotifyTranslator(ctx, config); t != nil {
		translators = append(translators, t)
	}
	resolver := NewResolver(newHTTPFetcher(config.HTTPTimeout), config, log, translators...)

	deps := OrchestratorDeps{
		Voice:      newDiscordVoice(dg, tracks, config, log),
		Membership: stateMembership{state: dg.State},
		Resolver:   resolver,
		Tracks:     tracks,
		BotID:      func() string { return bot.botID.Load().(string) },
	}

	dj, err := newGeminiDJ(ctx, config, log)
	if err != nil {
		return nil, err
	}
	if dj != nil {
		deps.Playlists = dj
	}

	bot.orch = NewOrchestrator(deps, config, log)
	bot.dispatcher = NewDispatcher(bot.orch, dg, config, log)

	dg.AddHandler(bot.ready)
	dg.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		bot.dispatcher.HandleMessage(ctx, m.Message)
	})
	dg.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		bot.dispatcher.HandleInteraction(ctx, i)
	})
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	return bot, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening connection: %w", err)
	}
	return nil
}

// Stop stops taking commands, waits for the running ones, leaves every
// voice channel and closes the gateway connection.
func (b *Bot) Stop(ctx context.Context) {
	b.dispatcher.Close()
	b.orch.Shutdown(ctx)

	if err := b.session.Close(); err != nil {
		b.log.Error("closing discord session", tint.Err(err))
	}
}

func (b *Bot) ready(_ *discordgo.Session, r *discordgo.Ready) {
	b.botID.Store(r.User.ID)
	b.log.Info("bot is ready", "user", r.User.Username, "guilds", len(r.Guilds))
}
