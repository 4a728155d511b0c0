package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const commandTimeout = 2 * time.Minute

// Messenger is the part of the Discord REST API the dispatcher replies with.
type Messenger interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

var playerButtons = []discordgo.MessageComponent{
	discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				Emoji:    &discordgo.ComponentEmoji{Name: "⏯️"},
				Style:    discordgo.SecondaryButton,
				CustomID: "player_pause",
			},
			discordgo.Button{
				Emoji:    &discordgo.ComponentEmoji{Name: "⏭️"},
				Style:    discordgo.SecondaryButton,
				CustomID: "player_skip",
			},
			discordgo.Button{
				Emoji:    &discordgo.ComponentEmoji{Name: "⏹️"},
				Style:    discordgo.SecondaryButton,
				CustomID: "player_stop",
			},
		},
	},
}

// buttonCommands maps player button ids to the command they run.
var buttonCommands = map[string]string{
	"player_pause": "pause",
	"player_skip":  "skip",
	"player_stop":  "stop",
}

// Command is one parsed chat command.
type Command struct {
	Invocation
	Name string
	Args string
}

type reply struct {
	content    string
	embed      *discordgo.MessageEmbed
	components []discordgo.MessageComponent
}

type commandHandler func(ctx context.Context, cmd Command) (reply, error)

// parseCommand splits a message into a command name and its argument text.
// The name is the first whitespace-separated token with the prefix removed.
func parseCommand(prefix, content string) (string, string, bool) {
	content = strings.TrimSpace(content)
	name, args, _ := strings.Cut(content, " ")
	if !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
		return "", "", false
	}
	return strings.TrimPrefix(name, prefix), strings.TrimSpace(args), true
}

// Dispatcher turns chat messages and button presses into orchestrator
// operations. Each command runs in its own goroutine.
type Dispatcher struct {
	orch     *Orchestrator
	out      Messenger
	prefix   string
	handlers map[string]commandHandler
	log      *slog.Logger

	limit      rate.Limit
	burst      int
	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	// closeMu orders wg.Add in dispatch before the wg.Wait in Close.
	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

func NewDispatcher(orch *Orchestrator, out Messenger, config *Config, log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		orch:     orch,
		out:      out,
		prefix:   config.CommandPrefix,
		log:      log.With(loggerNameKey, "commands"),
		limit:    rate.Limit(config.CommandRate),
		burst:    config.CommandBurst,
		limiters: make(map[string]*rate.Limiter),
	}

	d.handlers = map[string]commandHandler{
		"join":   d.join,
		"leave":  d.leave,
		"play":   d.play,
		"add":    d.add,
		"list":   d.list,
		"skip":   d.skip,
		"pause":  d.pause,
		"stop":   d.stop,
		"volume": d.volume,
		"time":   d.elapsed,
		"desc":   d.desc,
		"help":   d.help,
		"dj":     d.dj,
	}
	for _, p := range presets {
		d.handlers[p.Command] = d.preset(p)
	}
	return d
}

// HandleMessage dispatches m if it is a known command sent in a guild.
func (d *Dispatcher) HandleMessage(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	name, args, ok := parseCommand(d.prefix, m.Content)
	if !ok {
		return
	}

	d.dispatch(ctx, Command{
		Invocation: Invocation{
			GuildID:   m.GuildID,
			ChannelID: m.ChannelID,
			UserID:    m.Author.ID,
			UserName:  m.Author.Username,
		},
		Name: name,
		Args: args,
	}, nil)
}

// HandleInteraction runs the command behind a player button.
func (d *Dispatcher) HandleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent || i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return
	}

	name, ok := buttonCommands[i.MessageComponentData().CustomID]
	if !ok {
		return
	}

	d.dispatch(ctx, Command{
		Invocation: Invocation{
			GuildID:   i.GuildID,
			ChannelID: i.ChannelID,
			UserID:    i.Member.User.ID,
			UserName:  i.Member.User.Username,
		},
		Name: name,
	}, i.Interaction)
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd Command, interaction *discordgo.Interaction) {
	handler, ok := d.handlers[cmd.Name]
	if !ok {
		return
	}

	log := d.log.With(
		"guild_id", cmd.GuildID,
		"user_id", cmd.UserID,
		"command", cmd.Name,
		"task_id", uuid.NewString(),
	)

	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		log.Debug("dropping command after shutdown")
		return
	}

	if !d.limiter(cmd.UserID).Allow() {
		log.Warn("dropping throttled command")
		return
	}

	if interaction != nil {
		err := d.out.InteractionRespond(interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		})
		if err != nil {
			log.Warn("acknowledging interaction", tint.Err(err))
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, log, cmd, handler)
	}()
}

func (d *Dispatcher) run(ctx context.Context, log *slog.Logger, cmd Command, handler commandHandler) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("command panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	started := time.Now()
	log.Debug("running command", "args", cmd.Args)

	r, err := handler(ctx, cmd)
	if err != nil {
		log.Warn("command failed", "took", time.Since(started), tint.Err(err))
		r = reply{content: errorReply(cmd.Name, d.prefix, err)}
	} else {
		log.Info("command done", "took", time.Since(started))
	}

	d.send(log, cmd.ChannelID, r)
}

func (d *Dispatcher) send(log *slog.Logger, channelID string, r reply) {
	if r.content == "" && r.embed == nil {
		return
	}

	msg := &discordgo.MessageSend{
		Content:    r.content,
		Components: r.components,
	}
	if r.embed != nil {
		msg.Embeds = []*discordgo.MessageEmbed{r.embed}
	}

	if _, err := d.out.ChannelMessageSendComplex(channelID, msg); err != nil {
		log.Error("sending reply", "channel_id", channelID, tint.Err(err))
	}
}

func (d *Dispatcher) limiter(userID string) *rate.Limiter {
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()

	l, ok := d.limiters[userID]
	if !ok {
		l = rate.NewLimiter(d.limit, d.burst)
		d.limiters[userID] = l
	}
	return l
}

// Wait blocks until every running command has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting commands and waits for the running ones.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	d.closed = true
	d.closeMu.Unlock()

	d.Wait()
}

// noTrackReplies are the per-command replies for ErrNoActiveTrack.
var noTrackReplies = map[string]string{
	"pause":  "No track to (un)pause!",
	"volume": "No track to change volume!",
	"time":   "`Error getting duration`",
	"desc":   "`No song is currently playing!`",
}

// errorReply maps a command error to the message shown to the user.
func errorReply(command, prefix string, err error) string {
	var joinErr *JoinError
	switch {
	case errors.As(err, &joinErr):
		return fmt.Sprintf("Failed to join <#%s>! Why: %v", joinErr.ChannelID, joinErr.Err)
	case errors.Is(err, ErrNotInVoiceChannel):
		return "You're not in a voice channel?"
	case errors.Is(err, ErrNoResults), errors.Is(err, ErrMetadataFetch), errors.Is(err, ErrMetadataParse):
		return "Didn't find any results"
	case errors.Is(err, ErrInvalidVolume):
		return "Invalid volume!"
	case errors.Is(err, ErrNoActiveTrack):
		if msg, ok := noTrackReplies[command]; ok {
			return msg
		}
		return "No track is playing!"
	case errors.Is(err, ErrQueueEmpty):
		return "No songs in queue!"
	case errors.Is(err, ErrNotConnected):
		return "I'm not in a voice channel!"
	case errors.Is(err, ErrDJUnavailable):
		return "The AI DJ is not set up."
	case errors.Is(err, ErrProcessSpawn):
		return "Couldn't start the track!"
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s%s took too long!", prefix, command)
	default:
		return "Something went wrong!"
	}
}

func (d *Dispatcher) join(ctx context.Context, cmd Command) (reply, error) {
	channelID, err := d.orch.Join(ctx, cmd.Invocation)
	if err != nil {
		return reply{}, err
	}
	return reply{content: fmt.Sprintf("Joined <#%s>!", channelID)}, nil
}

func (d *Dispatcher) leave(ctx context.Context, cmd Command) (reply, error) {
	if _, err := d.orch.Leave(ctx, cmd.GuildID); err != nil {
		return reply{}, err
	}
	return reply{content: "Left the channel"}, nil
}

func playingReply(ref TrackRef) reply {
	return reply{
		content:    fmt.Sprintf("Playing **%s**", ref.Title),
		components: playerButtons,
	}
}

func (d *Dispatcher) play(ctx context.Context, cmd Command) (reply, error) {
	ref, err := d.orch.Play(ctx, cmd.Invocation, cmd.Args)
	if err != nil {
		return reply{}, err
	}
	return playingReply(ref), nil
}

func (d *Dispatcher) skip(ctx context.Context, cmd Command) (reply, error) {
	ref, err := d.orch.Skip(ctx, cmd.Invocation)
	if err != nil {
		return reply{}, err
	}
	return playingReply(ref), nil
}

func (d *Dispatcher) add(ctx context.Context, cmd Command) (reply, error) {
	if cmd.Args == "" {
		return reply{content: fmt.Sprintf("Use %sadd <song or link>", d.prefix)}, nil
	}
	req, err := d.orch.Enqueue(ctx, cmd.Invocation, cmd.Args)
	if err != nil {
		return reply{}, err
	}
	return reply{content: fmt.Sprintf("**%s** added !", req.Title)}, nil
}

func (d *Dispatcher) list(ctx context.Context, cmd Command) (reply, error) {
	reqs, err := d.orch.Queue(ctx, cmd.Invocation)
	if err != nil {
		return reply{}, err
	}
	if len(reqs) == 0 {
		return reply{}, ErrQueueEmpty
	}
	return reply{content: formatQueue(reqs)}, nil
}

func (d *Dispatcher) pause(_ context.Context, cmd Command) (reply, error) {
	paused, err := d.orch.TogglePause(cmd.GuildID)
	if err != nil {
		return reply{}, err
	}
	if paused {
		return reply{content: "Paused the track"}, nil
	}
	return reply{content: "Unpaused the track"}, nil
}

func (d *Dispatcher) stop(_ context.Context, cmd Command) (reply, error) {
	if err := d.orch.Stop(cmd.GuildID); err != nil {
		return reply{}, err
	}
	return reply{content: "Stopped the track"}, nil
}

func (d *Dispatcher) volume(_ context.Context, cmd Command) (reply, error) {
	arg, _, _ := strings.Cut(cmd.Args, " ")
	if arg == "" {
		return reply{content: fmt.Sprintf("Use %svolume <value>", d.prefix)}, nil
	}

	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return reply{}, fmt.Errorf("%w: %q", ErrInvalidVolume, arg)
	}
	if err := d.orch.SetVolume(cmd.GuildID, v); err != nil {
		return reply{}, err
	}
	return reply{content: fmt.Sprintf("Set the volume to %v", v)}, nil
}

func (d *Dispatcher) elapsed(_ context.Context, cmd Command) (reply, error) {
	elapsed, total, err := d.orch.Elapsed(cmd.GuildID)
	if err != nil {
		return reply{}, err
	}
	return reply{content: formatElapsed(elapsed, total)}, nil
}

func (d *Dispatcher) desc(ctx context.Context, cmd Command) (reply, error) {
	desc, err := d.orch.Describe(ctx, cmd.GuildID)
	if err != nil {
		return reply{}, err
	}
	if strings.TrimSpace(desc) == "" {
		return reply{content: "`This track has no description`"}, nil
	}
	return reply{content: desc}, nil
}

func (d *Dispatcher) help(context.Context, Command) (reply, error) {
	return reply{embed: helpEmbed(d.prefix)}, nil
}

func (d *Dispatcher) dj(ctx context.Context, cmd Command) (reply, error) {
	if cmd.Args == "" {
		return reply{content: fmt.Sprintf("Use %sdj <request>", d.prefix)}, nil
	}
	if d.orch.Playlists == nil {
		return reply{}, ErrDJUnavailable
	}

	d.send(d.log, cmd.ChannelID, reply{content: "The AI DJ is crafting a set for you..."})

	n, err := d.orch.DJ(ctx, cmd.Invocation, cmd.Args)
	if err != nil {
		return reply{}, err
	}
	return reply{content: fmt.Sprintf("Queued **%d** tracks from the AI DJ", n), components: playerButtons}, nil
}

func (d *Dispatcher) preset(p Preset) commandHandler {
	return func(ctx context.Context, cmd Command) (reply, error) {
		if _, err := d.orch.PlayPreset(ctx, cmd.Invocation, p); err != nil {
			return reply{}, err
		}
		return reply{embed: presetEmbed(p, cmd.UserName), components: playerButtons}, nil
	}
}
