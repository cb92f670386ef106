// Package spot defines the canonical spot model shared by both ingestion
// sources, the normalization rules applied to raw upstream records, and the
// ordered live cache of recent spots.
//
// Two spot kinds exist: Spot (from the polled SOTAwatch feed, carrying a
// reconciliation identity and summit enrichment) and RBNSpot (from the
// Reverse Beacon Network stream, carrying signal-quality fields). Both are
// immutable once published; an update is a new value replacing the old one
// under the same id.
package spot

import (
	"regexp"
	"strings"
	"time"
)

// SummitRef identifies the summit a spot refers to. Only Code is guaranteed;
// the remaining fields are enrichment from the summit directory and may be
// absent when the lookup misses.
type SummitRef struct {
	Code            string `json:"code"`
	Name            string `json:"name,omitempty"`
	Altitude        int    `json:"altitude,omitempty"`
	Points          int    `json:"points,omitempty"`
	ActivationCount int    `json:"activationCount,omitempty"`
	IsoCode         string `json:"isoCode,omitempty"`
	Continent       string `json:"continent,omitempty"`
}

// Spot is a canonical spot from the polled source. IDs are assigned
// monotonically by the upstream, which makes the minimum id the oldest entry.
type Spot struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"userID,omitempty"`
	Timestamp         time.Time `json:"timeStamp"`
	Summit            SummitRef `json:"summit"`
	ActivatorCallsign string    `json:"activatorCallsign"`
	Callsign          string    `json:"callsign"`
	Frequency         float64   `json:"frequency"`
	Mode              string    `json:"mode"`
	Comments          string    `json:"comments,omitempty"`
}

// SpotID implements Entry.
func (s Spot) SpotID() int64 { return s.ID }

// SpotTime implements Entry.
func (s Spot) SpotTime() time.Time { return s.Timestamp }

// Equal reports whether two spots for the same id represent the same upstream
// state. Only core fields participate: enrichment-only differences (summit
// name, points, ISO code etc.) do not constitute a change.
func (s Spot) Equal(other Spot) bool {
	return s.ID == other.ID &&
		s.Comments == other.Comments &&
		s.Callsign == other.Callsign &&
		s.Summit.Code == other.Summit.Code &&
		s.ActivatorCallsign == other.ActivatorCallsign &&
		s.Frequency == other.Frequency &&
		s.Mode == other.Mode
}

// RBNSpot is a spot from the streaming source. IDs are assigned locally in
// arrival order; there are no update or delete semantics on this source.
type RBNSpot struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timeStamp"`
	Callsign     string    `json:"callsign"`
	HomeCallsign string    `json:"homeCallsign"`
	Spotter      string    `json:"spotter"`
	Frequency    float64   `json:"frequency"`
	Mode         string    `json:"mode"`
	SNR          int       `json:"snr"`
	Speed        int       `json:"speed"`
	IsActivator  bool      `json:"isActivator,omitempty"`
}

// SpotID implements Entry.
func (s RBNSpot) SpotID() int64 { return s.ID }

// SpotTime implements Entry.
func (s RBNSpot) SpotTime() time.Time { return s.Timestamp }

var callsignStrip = regexp.MustCompile(`[^A-Z0-9/-]`)

// NormalizeCallsign uppercases a callsign and strips everything outside
// [A-Z0-9/-], matching the upstream normalization rule.
func NormalizeCallsign(callsign string) string {
	return callsignStrip.ReplaceAllString(strings.ToUpper(callsign), "")
}

// NormalizeSummitCode trims and uppercases a summit code.
func NormalizeSummitCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AssociationCode returns the association part of a summit code
// ("HB/VD-123" -> "HB"). Empty when the code has no association separator.
func AssociationCode(summitCode string) string {
	idx := strings.IndexByte(summitCode, '/')
	if idx < 0 {
		return ""
	}
	return summitCode[:idx]
}
