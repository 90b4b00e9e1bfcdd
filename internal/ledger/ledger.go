// Package ledger holds the attendance data model and the day-keyed,
// append-only store contract shared by every storage backend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"absenbot/internal/geofence"

	"github.com/google/uuid"
)

// DateLayout is the format of a day key.
const DateLayout = "2006-01-02"

// ErrCorruptState is returned by Load when the backing storage could not be
// decoded. The accompanying snapshot is empty and usable; callers treat it as
// a warning.
var ErrCorruptState = errors.New("ledger: corrupt state")

// Method is how a check-in was submitted.
type Method string

const (
	MethodLocation Method = "location"
	MethodCommand  Method = "command"
	MethodWeb      Method = "web"
)

// ParseMethod converts a stored method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodLocation, MethodCommand, MethodWeb:
		return m, nil
	}
	return "", fmt.Errorf("unknown method %q", s)
}

// Record is one accepted check-in. Records are never modified once appended.
type Record struct {
	ID             uuid.UUID
	Identity       string
	DisplayName    string
	Method         Method
	Timestamp      time.Time
	Coordinate     *geofence.Coordinate
	DistanceMeters *int
}

// Name returns the display name, falling back to the identity.
func (r Record) Name() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.Identity
}

// Clone returns a copy that shares no pointers with r.
func (r Record) Clone() Record {
	if r.Coordinate != nil {
		c := *r.Coordinate
		r.Coordinate = &c
	}
	if r.DistanceMeters != nil {
		d := *r.DistanceMeters
		r.DistanceMeters = &d
	}
	return r
}

// Snapshot maps a day key to that day's records in arrival order.
type Snapshot map[string][]Record

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for date, recs := range s {
		out[date] = CloneRecords(recs)
	}
	return out
}

// Dates returns the day keys, newest first.
func (s Snapshot) Dates() []string {
	dates := make([]string, 0, len(s))
	for d := range s {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}

// CloneRecords deep-copies a day ledger. A nil input yields an empty slice.
func CloneRecords(recs []Record) []Record {
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}

// Store is a durable, day-keyed, append-only collection of records.
//
// Append must be safe for concurrent use and must not lose records. Reads
// return copies and never observe a partially applied append.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Append(ctx context.Context, date string, rec Record) error
	QueryDay(ctx context.Context, date string) ([]Record, error)
	QueryAll(ctx context.Context) (Snapshot, error)
}

// DayKey returns the day key of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// ValidDate reports whether s is a well-formed day key.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
