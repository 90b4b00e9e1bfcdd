package checkin

import (
	"time"

	"absenbot/internal/geofence"
	"absenbot/internal/ledger"
)

// Event is a check-in normalized from either ingestion channel.
type Event struct {
	Identity    string
	DisplayName string
	Method      ledger.Method
	Coordinate  *geofence.Coordinate
	ReceivedAt  time.Time
	// Channel is where the submitter expects a reply. Empty when the
	// transport answers on its own (HTTP, slash command interactions).
	Channel string
}

// OutcomeKind tags the result of a submission.
type OutcomeKind int

const (
	Accepted OutcomeKind = iota + 1
	AlreadyRecorded
	Rejected
	// Failed means the record could not be persisted.
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case AlreadyRecorded:
		return "already_recorded"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// RejectReason explains a Rejected outcome.
type RejectReason string

const OutOfRadius RejectReason = "out_of_radius"

// Outcome is the result of Service.Submit.
type Outcome struct {
	Kind        OutcomeKind
	Date        string
	DisplayName string
	// Record is set for Accepted.
	Record *ledger.Record
	// Reason and DistanceMeters are set for Rejected.
	Reason         RejectReason
	DistanceMeters int
}
