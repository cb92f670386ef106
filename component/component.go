// Package component defines the contracts shared by the long-running pieces
// of the sotlas-api service: ingestors, the subscriber hub and outbound
// bridges. Components are constructed explicitly in main and wired together
// by passing dependencies; there is no dynamic registry.
package component

import (
	"context"
	"time"
)

// Discoverable is implemented by components that can be inspected at runtime.
type Discoverable interface {
	// Meta returns basic component information
	Meta() Metadata

	// Health returns current health status
	Health() HealthStatus

	// DataFlow returns current data flow metrics
	DataFlow() FlowMetrics
}

// LifecycleComponent is implemented by components with a managed lifecycle.
// Start must be non-blocking; long-running work happens in goroutines owned
// by the component and wound down by Stop.
type LifecycleComponent interface {
	// Initialize validates configuration without starting any work
	Initialize() error

	// Start begins the component's background work
	Start(ctx context.Context) error

	// Stop shuts the component down, waiting up to timeout for goroutines
	Stop(timeout time.Duration) error
}

// Metadata describes what a component is
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "input", "output", "hub"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus describes the current health state of a component
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics describes the current data flow through a component
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}
