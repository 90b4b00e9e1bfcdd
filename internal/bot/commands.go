package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"absenbot/internal/checkin"
	"absenbot/internal/geofence"
	"absenbot/internal/ledger"

	"github.com/bwmarrin/discordgo"
)

var (
	commands = []*discordgo.ApplicationCommand{
		{
			Name:        "absen",
			Description: "Catat kehadiran hari ini",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "latitude",
					Description: "Latitude lokasi kamu",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "longitude",
					Description: "Longitude lokasi kamu",
					Required:    false,
				},
			},
		},
		{
			Name:        "listabsen",
			Description: "Tampilkan daftar hadir hari ini",
		},
	}

	errCoordinateFormat = errors.New("expected <lat>,<lon>")
)

type textCommand int

const (
	cmdNone textCommand = iota
	cmdAbsen
	cmdLokasi
	cmdList
)

// parseCommand recognizes the chat commands. Anything else returns cmdNone.
func parseCommand(content string) (textCommand, string) {
	text := strings.TrimSpace(content)
	if text == "" {
		return cmdNone, ""
	}
	word, rest, _ := strings.Cut(text, " ")
	switch strings.ToLower(word) {
	case "!absen", "!hadir":
		if strings.TrimSpace(rest) != "" {
			return cmdNone, ""
		}
		return cmdAbsen, ""
	case "!lokasi":
		return cmdLokasi, strings.TrimSpace(rest)
	case "!listabsen":
		if strings.TrimSpace(rest) != "" {
			return cmdNone, ""
		}
		return cmdList, ""
	}
	return cmdNone, ""
}

// parseCoordinate accepts "lat,lon", "lat, lon" or "lat lon".
func parseCoordinate(arg string) (geofence.Coordinate, error) {
	parts := strings.FieldsFunc(arg, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(parts) != 2 {
		return geofence.Coordinate{}, errCoordinateFormat
	}
	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return geofence.Coordinate{}, fmt.Errorf("invalid latitude %q: %w", parts[0], err)
	}
	lon, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return geofence.Coordinate{}, fmt.Errorf("invalid longitude %q: %w", parts[1], err)
	}
	c := geofence.Coordinate{Latitude: lat, Longitude: lon}
	if !c.Valid() || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return geofence.Coordinate{}, fmt.Errorf("coordinate %v,%v out of range", lat, lon)
	}
	return c, nil
}

func (b *Bot) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	cmd, arg := parseCommand(m.Content)
	if cmd == cmdNone {
		return
	}

	if !b.beginHandler() {
		return
	}
	defer b.wg.Done()

	if cmd == cmdList {
		b.sendList(m.ChannelID)
		return
	}

	ev := checkin.Event{
		Identity:    m.Author.ID,
		DisplayName: displayName(m.Member, m.Author),
		Method:      ledger.MethodCommand,
		ReceivedAt:  b.now(),
		Channel:     m.ChannelID,
	}
	if cmd == cmdLokasi {
		c, err := parseCoordinate(arg)
		if err != nil {
			b.logger.Debug("bad location command", "user", m.Author.ID, "error", err)
			b.send(m.ChannelID, usageLokasi)
			return
		}
		ev.Method = ledger.MethodLocation
		ev.Coordinate = &c
	}

	// Replies go through the notifier, including the failure case.
	if _, err := b.checkins.Submit(b.ctx, ev); err != nil {
		b.logger.Error("chat check-in failed", "user", m.Author.ID, "channel_id", m.ChannelID, "error", err)
	}
}

func (b *Bot) sendList(channelID string) {
	date := b.queries.Today(b.now())
	recs, err := b.queries.GetDay(b.ctx, date)
	if err != nil {
		b.logger.Error("failed to read attendance", "date", date, "error", err)
		b.send(channelID, msgReadFailed)
		return
	}
	b.send(channelID, FormatList(date, recs, b.queries.Location()))
}

func (b *Bot) send(channelID, text string) {
	if _, err := b.sender.ChannelMessageSend(channelID, text); err != nil {
		b.logger.Warn("error sending message", "channel_id", channelID, "error", err)
	}
}

func (b *Bot) handleAbsenCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	ev := checkin.Event{
		Identity:    user.ID,
		DisplayName: displayName(i.Member, user),
		Method:      ledger.MethodCommand,
		ReceivedAt:  b.now(),
	}

	var lat, lon *float64
	for _, opt := range i.ApplicationCommandData().Options {
		v := opt.FloatValue()
		switch opt.Name {
		case "latitude":
			lat = &v
		case "longitude":
			lon = &v
		}
	}
	switch {
	case lat != nil && lon != nil:
		c, err := parseCoordinate(fmt.Sprintf("%v,%v", *lat, *lon))
		if err != nil {
			respondWithError(s, i, usageLokasi)
			return
		}
		ev.Method = ledger.MethodLocation
		ev.Coordinate = &c
	case lat != nil || lon != nil:
		respondWithError(s, i, usageLokasi)
		return
	}

	outcome, err := b.checkins.Submit(b.ctx, ev)
	if err != nil && outcome.Kind != checkin.Failed {
		b.logger.Warn("slash check-in rejected", "user", user.ID, "error", err)
		respondWithError(s, i, err.Error())
		return
	}
	if err != nil {
		b.logger.Error("slash check-in failed", "user", user.ID, "error", err)
	}
	respondWithSuccess(s, i, FormatOutcome(outcome, b.queries.Location()))
}

func (b *Bot) handleListCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	date := b.queries.Today(b.now())
	recs, err := b.queries.GetDay(b.ctx, date)
	if err != nil {
		b.logger.Error("failed to read attendance", "date", date, "error", err)
		respondWithError(s, i, msgReadFailed)
		return
	}
	respondWithSuccess(s, i, FormatListTable(date, recs, b.queries.Location()))
}
