package models

import (
	"time"

	"absenbot/internal/geofence"
	"absenbot/internal/ledger"

	"github.com/google/uuid"
)

// AttendanceRecord is a row of attendance_records.
type AttendanceRecord struct {
	Seq         int64     `db:"seq"`
	ID          uuid.UUID `db:"id"`
	Day         string    `db:"day"`
	Identity    string    `db:"identity"`
	DisplayName string    `db:"display_name"`
	Method      string    `db:"method"`
	RecordedAt  time.Time `db:"recorded_at"`
	Latitude    *float64  `db:"latitude"`
	Longitude   *float64  `db:"longitude"`
	DistanceM   *int      `db:"distance_m"`
}

// FromLedger builds a row for date from rec.
func FromLedger(date string, rec ledger.Record) AttendanceRecord {
	row := AttendanceRecord{
		ID:          rec.ID,
		Day:         date,
		Identity:    rec.Identity,
		DisplayName: rec.DisplayName,
		Method:      string(rec.Method),
		RecordedAt:  rec.Timestamp,
		DistanceM:   rec.DistanceMeters,
	}
	if rec.Coordinate != nil {
		lat, lon := rec.Coordinate.Latitude, rec.Coordinate.Longitude
		row.Latitude, row.Longitude = &lat, &lon
	}
	return row
}

// ToLedger converts the row back into a ledger record.
func (r AttendanceRecord) ToLedger() (ledger.Record, error) {
	method, err := ledger.ParseMethod(r.Method)
	if err != nil {
		return ledger.Record{}, err
	}
	rec := ledger.Record{
		ID:             r.ID,
		Identity:       r.Identity,
		DisplayName:    r.DisplayName,
		Method:         method,
		Timestamp:      r.RecordedAt,
		DistanceMeters: r.DistanceM,
	}
	if r.Latitude != nil && r.Longitude != nil {
		rec.Coordinate = &geofence.Coordinate{Latitude: *r.Latitude, Longitude: *r.Longitude}
	}
	return rec, nil
}
