package bot

import (
	"context"
	"fmt"
	"time"

	"absenbot/internal/checkin"
	"absenbot/internal/ledger"
)

// DiscordNotifier posts check-in replies to the source channel and a copy of
// every accepted record to the admin channel.
type DiscordNotifier struct {
	sender         MessageSender
	adminChannelID string
	loc            *time.Location
}

var _ checkin.Notifier = (*DiscordNotifier)(nil)

func NewNotifier(sender MessageSender, adminChannelID string, loc *time.Location) *DiscordNotifier {
	if loc == nil {
		loc = time.UTC
	}
	return &DiscordNotifier{sender: sender, adminChannelID: adminChannelID, loc: loc}
}

// NotifySubmitter is a no-op for events without a channel, such as slash
// commands that answer through the interaction.
func (n *DiscordNotifier) NotifySubmitter(_ context.Context, channel string, outcome checkin.Outcome) error {
	if channel == "" {
		return nil
	}
	if _, err := n.sender.ChannelMessageSend(channel, FormatOutcome(outcome, n.loc)); err != nil {
		return fmt.Errorf("error sending reply to %s: %w", channel, err)
	}
	return nil
}

func (n *DiscordNotifier) NotifyAdmin(_ context.Context, rec ledger.Record) error {
	if n.adminChannelID == "" {
		return nil
	}
	if _, err := n.sender.ChannelMessageSend(n.adminChannelID, FormatAdmin(rec, n.loc)); err != nil {
		return fmt.Errorf("error sending admin notice: %w", err)
	}
	return nil
}
