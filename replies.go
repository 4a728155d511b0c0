package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// Preset is a fixed radio stream with its own command.
type Preset struct {
	Command string
	URL     string
	Title   string
	Image   string
}

var presets = []Preset{
	{
		Command: "radiozu",
		URL:     "https://live4ro.antenaplay.ro/radiozu/radiozu-48000.m3u8",
		Title:   "RadioZU Romania",
		Image:   "https://static.tuneyou.com/images/logos/500_500/33/3133/RadioZU.jpg",
	},
	{
		Command: "radiovirgin",
		URL:     "https://astreaming.edi.ro:8443/VirginRadio_aac",
		Title:   "Radio Virgin Romania",
		Image:   "https://virginradio.ro/wp-content/uploads/2019/06/VR_ROMANIA_WHITE-STAR-LOGO_RGB_ONLINE_1600x1600.png",
	},
}

func presetEmbed(p Preset, requestor string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: p.Title,
		Image: &discordgo.MessageEmbedImage{URL: p.Image},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Requestor", Value: requestor, Inline: true},
		},
	}
}

var helpLines = []string{
	"!join - join your voice channel",
	"!leave - leave the voice channel",
	"!play [song or link] - play the next queued song, a search result or a link; the default stream with no arguments",
	"!add <song or link> - add a song to the queue",
	"!list - show the queue",
	"!skip - play the next queued song",
	"!pause - pause or resume the track",
	"!stop - stop the track",
	"!volume <0-10> - set the volume",
	"!time - show how far into the track we are",
	"!desc - show the track's description",
	"!dj <request> - queue an AI picked playlist",
	"!radiozu - play RadioZU Romania",
	"!radiovirgin - play Radio Virgin Romania",
}

func helpEmbed(prefix string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Description: "Commands:"}
	for i, line := range helpLines {
		if prefix != "!" {
			line = prefix + strings.TrimPrefix(line, "!")
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   strconv.Itoa(i),
			Value:  line,
			Inline: true,
		})
	}
	return embed
}

// hms splits d into whole hours, minutes and seconds.
func hms(d time.Duration) (int, int, int) {
	secs := int(d / time.Second)
	return secs / 3600, (secs / 60) % 60, secs % 60
}

// formatElapsed renders position/total as `1H:2m:3s/1H:4m:5s`.
func formatElapsed(elapsed, total time.Duration) string {
	eh, em, es := hms(elapsed)
	th, tm, ts := hms(total)
	return fmt.Sprintf("`%dH:%dm:%ds/%dH:%dm:%ds`", eh, em, es, th, tm, ts)
}

func formatQueue(reqs []*TrackRequest) string {
	var sb strings.Builder
	for i, req := range reqs {
		fmt.Fprintf(&sb, "*%d* - %s\n", i+1, req.Title)
	}
	return sb.String()
}

const maxDescriptionRunes = 1999

var (
	urlSchemeRegex = regexp.MustCompile(`https?://`)
	blankLineRegex = regexp.MustCompile(`\n{2,}`)
)

// normalizeDescription makes a description safe to post: links are defused
// so Discord does not unfurl them, blank lines are collapsed and the text is
// cut to fit a message.
func normalizeDescription(desc string) string {
	desc = strings.ReplaceAll(desc, `\n`, "\n")
	desc = urlSchemeRegex.ReplaceAllString(desc, "[http][//]")
	desc = blankLineRegex.ReplaceAllString(desc, "\n")

	if utf8.RuneCountInString(desc) > maxDescriptionRunes {
		desc = string([]rune(desc)[:maxDescriptionRunes])
	}
	return desc
}
