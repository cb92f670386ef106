// Package wire defines the JSON messages exchanged with websocket
// subscribers. Outbound messages carry exactly one of the payload fields;
// inbound control messages currently carry only a filter update.
package wire

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/manuelkasper/sotlas-api/spot"
)

// Message is an outbound message to a subscriber. Exactly one payload field
// is set per message.
type Message struct {
	// Spot is a create/update of a polled spot
	Spot *spot.Spot `json:"spot,omitempty"`
	// DeleteSpot signals deletion of a polled spot
	DeleteSpot *DeleteSpot `json:"deleteSpot,omitempty"`
	// RBNSpot is a streamed spot (always a creation)
	RBNSpot *spot.RBNSpot `json:"rbnSpot,omitempty"`
	// Spots is the full snapshot sent on subscribe
	Spots []spot.Spot `json:"spots,omitempty"`
	// RBNSpotHistory is a filtered history replay
	RBNSpotHistory []spot.RBNSpot `json:"rbnSpotHistory,omitempty"`
	// ViewID echoes the client-supplied view identifier on history replays
	ViewID json.RawMessage `json:"viewId,omitempty"`
}

// DeleteSpot identifies a deleted polled spot.
type DeleteSpot struct {
	ID int64 `json:"id"`
}

// Control is an inbound message from a subscriber.
type Control struct {
	RBNFilter *RBNFilter `json:"rbnFilter,omitempty"`
}

// RBNFilter restricts which streamed spots a subscriber receives. A nil or
// empty filter matches nothing; subscribers opt in explicitly.
type RBNFilter struct {
	// HomeCallsign is an allowlist of home callsigns
	HomeCallsign []string `json:"homeCallsign,omitempty"`
	// IsActivator selects spots of known operators only
	IsActivator bool `json:"isActivator,omitempty"`
	// MaxAge bounds history replays, in milliseconds
	MaxAge int64 `json:"maxAge,omitempty"`
	// ViewID is an opaque client correlation token echoed on replays
	ViewID json.RawMessage `json:"viewId,omitempty"`
}

// DefaultHistoryAge bounds history replays when the filter gives no MaxAge.
const DefaultHistoryAge = time.Hour

// Matches reports whether a streamed spot passes the filter.
func (f *RBNFilter) Matches(s *spot.RBNSpot) bool {
	if f == nil || s == nil {
		return false
	}
	if slices.Contains(f.HomeCallsign, s.HomeCallsign) {
		return true
	}
	if f.IsActivator && s.IsActivator {
		return true
	}
	return false
}

// Empty reports whether the filter selects nothing. Empty filters skip
// history replays entirely.
func (f *RBNFilter) Empty() bool {
	return f == nil || (len(f.HomeCallsign) == 0 && !f.IsActivator)
}

// HistoryAge returns the effective history bound for this filter.
func (f *RBNFilter) HistoryAge() time.Duration {
	if f == nil || f.MaxAge <= 0 {
		return DefaultHistoryAge
	}
	return time.Duration(f.MaxAge) * time.Millisecond
}
