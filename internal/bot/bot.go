package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"absenbot/internal/checkin"
	"absenbot/internal/config"
	"absenbot/internal/ledger"

	"github.com/bwmarrin/discordgo"
)

const (
	initialBackoff = time.Second
	maxBackoff     = time.Minute
)

// CheckInService records check-ins coming from chat.
type CheckInService interface {
	Submit(ctx context.Context, ev checkin.Event) (checkin.Outcome, error)
}

// QueryService answers list requests.
type QueryService interface {
	Today(now time.Time) string
	Location() *time.Location
	GetDay(ctx context.Context, date string) ([]ledger.Record, error)
}

// MessageSender is the part of a discord session used to post replies.
type MessageSender interface {
	ChannelMessageSend(channelID string, content string) (*discordgo.Message, error)
}

type Bot struct {
	config   config.Discord
	session  *discordgo.Session
	sender   MessageSender
	checkins CheckInService
	queries  QueryService
	logger   *slog.Logger
	now      func() time.Time

	ctx        context.Context
	removers   []func()
	isShutdown bool
	mu         sync.Mutex
	wg         sync.WaitGroup
}

// NewSession creates the discord session shared by the bot and its notifier.
func NewSession(cfg config.Discord) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return session, nil
}

func New(session *discordgo.Session, cfg config.Discord, checkins CheckInService, queries QueryService, logger *slog.Logger) *Bot {
	logger.Info("discord bot configured", "intents", session.Identify.Intents)

	return &Bot{
		config:   cfg,
		session:  session,
		sender:   session,
		checkins: checkins,
		queries:  queries,
		logger:   logger,
		now:      time.Now,
		ctx:      context.Background(),
	}
}

// registerGuildCommands registers the slash commands for a guild, retrying a
// few times with a linear delay.
func (b *Bot) registerGuildCommands(guildID string) error {
	maxRetries := 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		_, err := b.session.ApplicationCommandBulkOverwrite(b.config.ClientID, guildID, commands)
		if err == nil {
			b.logger.Info("registered commands", "guild_id", guildID, "count", len(commands))
			return nil
		}
		lastErr = err
		b.logger.Warn("command registration failed", "guild_id", guildID, "attempt", i+1, "error", err)
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return fmt.Errorf("failed to register commands after %d attempts: %w", maxRetries, lastErr)
}

// Start connects to discord and blocks until ctx is done. Connection attempts
// back off exponentially from one second to one minute.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("starting discord bot")
	b.ctx = ctx

	b.mu.Lock()
	if b.isShutdown {
		b.mu.Unlock()
		return nil
	}
	b.removers = append(b.removers,
		b.session.AddHandler(b.handleReady),
		b.session.AddHandler(b.handleGuildCreate),
		b.session.AddHandler(b.handleMessageCreate),
		b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			if i.Type == discordgo.InteractionApplicationCommand {
				b.handleCommand(s, i)
			}
		}),
	)
	b.mu.Unlock()

	err := retryWithBackoff(ctx, b.logger, "discord api", initialBackoff, func() error {
		_, err := b.session.User("@me")
		return err
	})
	if err != nil {
		return err
	}

	err = retryWithBackoff(ctx, b.logger, "discord session", initialBackoff, b.session.Open)
	if err != nil {
		return err
	}
	b.logger.Info("discord session opened", "session_id", b.session.State.SessionID)

	<-ctx.Done()
	return b.Shutdown()
}

// retryWithBackoff calls fn until it succeeds or ctx ends, doubling the delay
// after each failure up to maxBackoff.
func retryWithBackoff(ctx context.Context, logger *slog.Logger, what string, initial time.Duration, fn func() error) error {
	delay := initial
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		logger.Warn("connection attempt failed",
			"target", what,
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = nextBackoff(delay)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// beginHandler registers an in-flight handler. It returns false once
// Shutdown has started, in which case the event must be dropped.
func (b *Bot) beginHandler() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isShutdown {
		return false
	}
	b.wg.Add(1)
	return true
}

// Shutdown detaches the event handlers, waits for in-flight ones, removes the
// slash commands and closes the session. It is safe to call more than once.
func (b *Bot) Shutdown() error {
	b.mu.Lock()
	if b.isShutdown {
		b.mu.Unlock()
		return nil
	}
	b.isShutdown = true
	removers := b.removers
	b.removers = nil
	b.mu.Unlock()

	for _, remove := range removers {
		remove()
	}

	b.logger.Info("waiting for active handlers to complete")
	b.wg.Wait()

	if b.session == nil {
		return nil
	}
	if b.session.State != nil {
		for _, guild := range b.session.State.Guilds {
			if _, err := b.session.ApplicationCommandBulkOverwrite(b.config.ClientID, guild.ID, []*discordgo.ApplicationCommand{}); err != nil {
				b.logger.Warn("failed to remove commands", "guild_id", guild.ID, "error", err)
			}
		}
	}

	if err := b.session.Close(); err != nil {
		return fmt.Errorf("error closing Discord session: %w", err)
	}
	b.logger.Info("discord bot stopped")
	return nil
}

func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("bot is ready", "guilds", len(r.Guilds), "user", r.User.Username)
}

func (b *Bot) handleGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	b.logger.Info("guild available", "guild_id", g.ID, "guild", g.Name)
	if err := b.registerGuildCommands(g.ID); err != nil {
		b.logger.Error("error registering commands", "guild_id", g.ID, "error", err)
	}
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			b.logger.Error("panic in command handler",
				"user", interactionUser(i).ID,
				"guild_id", i.GuildID,
				"panic", r,
				"stack", string(buf[:n]),
			)
			respondWithError(s, i, "Terjadi kesalahan internal")
		}
	}()

	if !b.beginHandler() {
		return
	}
	defer b.wg.Done()

	commandName := i.ApplicationCommandData().Name
	switch commandName {
	case "absen":
		b.handleAbsenCommand(s, i)
	case "listabsen":
		b.handleListCommand(s, i)
	default:
		b.logger.Warn("unknown command", "command", commandName, "guild_id", i.GuildID)
		respondWithError(s, i, "Perintah tidak dikenal")
	}
}
