package checkin

import (
	"context"

	"absenbot/internal/ledger"
)

//go:generate mockgen -source=notifier.go -destination=mocks/notifier_mock.go -package=mocks Notifier

// Notifier delivers check-in results to the submitter and to an admin
// channel. Implementations are best-effort.
type Notifier interface {
	NotifySubmitter(ctx context.Context, channel string, outcome Outcome) error
	NotifyAdmin(ctx context.Context, rec ledger.Record) error
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) NotifySubmitter(context.Context, string, Outcome) error { return nil }

func (NopNotifier) NotifyAdmin(context.Context, ledger.Record) error { return nil }
