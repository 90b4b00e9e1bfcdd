// Package query provides read-only views over the attendance ledger.
package query

import (
	"context"
	"fmt"
	"time"

	"absenbot/internal/ledger"
)

// Day is one day's ledger.
type Day struct {
	Date    string
	Records []ledger.Record
}

// Service reads the ledger. It never mutates the store.
type Service struct {
	store ledger.Store
	loc   *time.Location
}

// New constructs a Service; loc is the reference timezone for Today.
func New(store ledger.Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, loc: loc}
}

// Location returns the reference timezone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Today returns the day key for now in the reference timezone.
func (s *Service) Today(now time.Time) string {
	return ledger.DayKey(now, s.loc)
}

// GetDay returns the records for date in arrival order.
func (s *Service) GetDay(ctx context.Context, date string) ([]ledger.Record, error) {
	recs, err := s.store.QueryDay(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("error querying day %s: %w", date, err)
	}
	return recs, nil
}

// GetAllDays returns every day, newest first.
func (s *Service) GetAllDays(ctx context.Context) ([]Day, error) {
	snap, err := s.store.QueryAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("error querying ledger: %w", err)
	}
	days := make([]Day, 0, len(snap))
	for _, date := range snap.Dates() {
		days = append(days, Day{Date: date, Records: snap[date]})
	}
	return days, nil
}
