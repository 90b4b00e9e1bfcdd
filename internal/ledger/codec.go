package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"absenbot/internal/geofence"

	"github.com/google/uuid"
)

// recordJSON is the on-disk and wire shape of a record. Coordinates are
// flattened and absent values are written as null so the file stays easy to
// read by hand.
type recordJSON struct {
	ID        uuid.UUID `json:"id"`
	Who       string    `json:"who"`
	Name      string    `json:"name"`
	Method    Method    `json:"method"`
	Time      time.Time `json:"time"`
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
	Distance  *int      `json:"distance"`
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		ID:       r.ID,
		Who:      r.Identity,
		Name:     r.DisplayName,
		Method:   r.Method,
		Time:     r.Timestamp,
		Distance: r.DistanceMeters,
	}
	if r.Coordinate != nil {
		lat, lon := r.Coordinate.Latitude, r.Coordinate.Longitude
		out.Latitude, out.Longitude = &lat, &lon
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	method, err := ParseMethod(string(in.Method))
	if err != nil {
		return err
	}
	*r = Record{
		ID:             in.ID,
		Identity:       in.Who,
		DisplayName:    in.Name,
		Method:         method,
		Timestamp:      in.Time,
		DistanceMeters: in.Distance,
	}
	if in.Latitude != nil && in.Longitude != nil {
		r.Coordinate = &geofence.Coordinate{Latitude: *in.Latitude, Longitude: *in.Longitude}
	}
	return nil
}

// EncodeSnapshot renders the whole store as indented JSON.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	if s == nil {
		s = Snapshot{}
	}
	return json.MarshalIndent(s, "", "  ")
}

// DecodeSnapshot parses the output of EncodeSnapshot. Any decoding problem,
// including an invalid day key, is reported as ErrCorruptState.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if s == nil {
		return Snapshot{}, nil
	}
	for date := range s {
		if !ValidDate(date) {
			return Snapshot{}, fmt.Errorf("%w: invalid day key %q", ErrCorruptState, date)
		}
	}
	return s, nil
}
