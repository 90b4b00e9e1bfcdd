// Package checkin validates, deduplicates and records attendance check-ins.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"absenbot/internal/geofence"
	"absenbot/internal/ledger"
	"absenbot/internal/metrics"

	"github.com/google/uuid"
)

var (
	// ErrMalformedInput is returned for events that cannot be evaluated.
	ErrMalformedInput = errors.New("malformed check-in")
	// ErrStorageWrite wraps a failure to persist an accepted record.
	ErrStorageWrite = errors.New("failed to persist check-in")
)

// DedupPolicy selects which methods are limited to one record per identity
// per day.
type DedupPolicy int

const (
	// PerMethod deduplicates command and web check-ins. Location check-ins
	// inside the fence are always recorded.
	PerMethod DedupPolicy = iota
	// PerIdentityGlobal deduplicates every method.
	PerIdentityGlobal
)

// ParseDedupPolicy converts a configuration value.
func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per_method":
		return PerMethod, nil
	case "per_identity_global":
		return PerIdentityGlobal, nil
	}
	return PerMethod, fmt.Errorf("unknown dedup policy %q", s)
}

func (p DedupPolicy) String() string {
	if p == PerIdentityGlobal {
		return "per_identity_global"
	}
	return "per_method"
}

func (p DedupPolicy) dedups(m ledger.Method) bool {
	if p == PerIdentityGlobal {
		return true
	}
	return m != ledger.MethodLocation
}

// Service orchestrates check-in submissions.
type Service struct {
	store    ledger.Store
	notifier Notifier
	fence    geofence.Fence
	loc      *time.Location
	policy   DedupPolicy
	logger   *slog.Logger
	metrics  *metrics.Metrics
	newID    func() uuid.UUID

	// mu spans the duplicate check and the append.
	mu sync.Mutex
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithDedupPolicy(p DedupPolicy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithLocation sets the reference timezone for day keys. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		s.loc = loc
	}
}

// New constructs a Service. A nil notifier is replaced by NopNotifier.
func New(store ledger.Store, notifier Notifier, fence geofence.Fence, opts ...Option) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	s := &Service{
		store:    store,
		notifier: notifier,
		fence:    fence,
		loc:      time.UTC,
		policy:   PerMethod,
		logger:   slog.Default(),
		newID:    uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the configured dedup policy.
func (s *Service) Policy() DedupPolicy {
	return s.policy
}

// Submit decides and records a check-in. The returned error is non-nil only
// for malformed events and storage failures.
func (s *Service) Submit(ctx context.Context, ev Event) (Outcome, error) {
	ev.Identity = strings.TrimSpace(ev.Identity)
	ev.DisplayName = strings.TrimSpace(ev.DisplayName)
	if ev.Identity == "" {
		return Outcome{}, fmt.Errorf("%w: identity required", ErrMalformedInput)
	}
	if ev.Coordinate != nil && !ev.Coordinate.Valid() {
		return Outcome{}, fmt.Errorf("%w: coordinate must be finite", ErrMalformedInput)
	}
	if ev.DisplayName == "" {
		ev.DisplayName = ev.Identity
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}

	outcome, err := s.decide(ctx, ev)
	s.metrics.IncSubmission(string(ev.Method), outcome.Kind.String())

	s.notify(ctx, ev, outcome)
	if err != nil {
		return outcome, err
	}

	s.logger.Info("check-in processed",
		"identity", ev.Identity,
		"method", ev.Method,
		"outcome", outcome.Kind.String(),
		"date", outcome.Date,
	)
	return outcome, nil
}

func (s *Service) decide(ctx context.Context, ev Event) (Outcome, error) {
	today := ledger.DayKey(ev.ReceivedAt, s.loc)
	base := Outcome{Date: today, DisplayName: ev.DisplayName}

	var distance *int
	if ev.Coordinate != nil {
		d, inside := s.fence.Evaluate(*ev.Coordinate)
		if !inside {
			base.Kind = Rejected
			base.Reason = OutOfRadius
			base.DistanceMeters = d
			return base, nil
		}
		distance = &d
	}

	dedup := ev.Coordinate == nil || s.policy.dedups(ev.Method)

	s.mu.Lock()
	defer s.mu.Unlock()

	if dedup {
		day, err := s.store.QueryDay(ctx, today)
		if err != nil {
			base.Kind = Failed
			return base, fmt.Errorf("error reading ledger: %w", err)
		}
		for _, r := range day {
			if r.Identity == ev.Identity {
				base.Kind = AlreadyRecorded
				return base, nil
			}
		}
	}

	rec := ledger.Record{
		ID:             s.newID(),
		Identity:       ev.Identity,
		DisplayName:    ev.DisplayName,
		Method:         ev.Method,
		Timestamp:      ev.ReceivedAt,
		DistanceMeters: distance,
	}
	if ev.Coordinate != nil {
		c := *ev.Coordinate
		rec.Coordinate = &c
	}

	start := time.Now()
	err := s.store.Append(ctx, today, rec)
	s.metrics.ObserveAppend(start)
	if err != nil {
		base.Kind = Failed
		s.logger.Error("ledger append failed", "identity", ev.Identity, "date", today, "error", err)
		return base, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	base.Kind = Accepted
	base.Record = &rec
	return base, nil
}

func (s *Service) notify(ctx context.Context, ev Event, outcome Outcome) {
	if err := s.notifier.NotifySubmitter(ctx, ev.Channel, outcome); err != nil {
		s.metrics.IncNotifyFailure("submitter")
		s.logger.Warn("submitter notification failed", "identity", ev.Identity, "error", err)
	}
	if outcome.Kind != Accepted || outcome.Record == nil {
		return
	}
	if err := s.notifier.NotifyAdmin(ctx, *outcome.Record); err != nil {
		s.metrics.IncNotifyFailure("admin")
		s.logger.Warn("admin notification failed", "identity", ev.Identity, "error", err)
	}
}
