// Package refdata provides lookups for summit, association and activator
// reference data. The canonical data lives in JetStream KV buckets maintained
// by a separate import job; a static in-memory implementation covers tests
// and standalone deployments.
package refdata

import (
	"context"

	"github.com/manuelkasper/sotlas-api/errors"
)

// Summit holds the reference attributes merged into outgoing spots
type Summit struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	Altitude        int    `json:"altM"`
	Points          int    `json:"points"`
	ActivationCount int    `json:"activationCount"`
}

// Association holds per-association attributes keyed by association code
type Association struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	IsoCode   string `json:"isoCode"`
	Continent string `json:"continent"`
}

// SummitLookup resolves summit and association reference data. A failed
// lookup returns errors.ErrNotFound; callers treat misses as non-fatal and
// emit the event without enrichment.
type SummitLookup interface {
	Summit(ctx context.Context, code string) (*Summit, error)
	Association(ctx context.Context, code string) (*Association, error)
}

// ActivatorSet answers whether a callsign belongs to a known activator.
// Lookup failures are treated as "not an activator".
type ActivatorSet interface {
	IsActivator(ctx context.Context, callsign string) bool
}

// Static is an in-memory SummitLookup and ActivatorSet
type Static struct {
	Summits      map[string]*Summit
	Associations map[string]*Association
	Activators   map[string]bool
}

// NewStatic creates an empty static lookup
func NewStatic() *Static {
	return &Static{
		Summits:      make(map[string]*Summit),
		Associations: make(map[string]*Association),
		Activators:   make(map[string]bool),
	}
}

// Summit returns the summit for the given code
func (s *Static) Summit(_ context.Context, code string) (*Summit, error) {
	if summit, ok := s.Summits[code]; ok {
		return summit, nil
	}
	return nil, errors.WrapInvalid(errors.ErrNotFound, "Static", "Summit", "lookup "+code)
}

// Association returns the association for the given code
func (s *Static) Association(_ context.Context, code string) (*Association, error) {
	if assoc, ok := s.Associations[code]; ok {
		return assoc, nil
	}
	return nil, errors.WrapInvalid(errors.ErrNotFound, "Static", "Association", "lookup "+code)
}

// IsActivator reports whether the callsign is a known activator
func (s *Static) IsActivator(_ context.Context, callsign string) bool {
	return s.Activators[callsign]
}
