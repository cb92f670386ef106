// Package config defines the application configuration, loaded from a JSON
// file with defaults and environment variable overrides. Configuration is
// read-only after startup; components receive the sections they need by
// value.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/manuelkasper/sotlas-api/errors"
)

// Duration wraps time.Duration so config files can use "30s"-style strings.
type Duration time.Duration

// UnmarshalJSON accepts either a duration string ("3m") or a number of
// milliseconds (legacy config format).
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(val) * time.Millisecond)
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
	return nil
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	SotaSpots SotaSpotsConfig `json:"sotaspots"`
	RBN       RBNConfig       `json:"rbn"`
	NATS      NATSConfig      `json:"nats"`
	RefData   RefDataConfig   `json:"refdata"`
	Publish   PublishConfig   `json:"publish"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// HTTPConfig defines the websocket server settings
type HTTPConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Path string `json:"path"`
}

// SotaSpotsConfig defines the polled SOTAwatch source settings
type SotaSpotsConfig struct {
	URL               string   `json:"url"`
	UpdateInterval    Duration `json:"updateInterval"`
	FullLoadInterval  Duration `json:"fullLoadInterval"`
	FullLoadSpots     int      `json:"fullLoadSpots"`
	PeriodicLoadSpots int      `json:"periodicLoadSpots"`
	MaxSpotAge        Duration `json:"maxSpotAge"`
	MinBatchSize      int      `json:"minBatchSize"`
}

// RBNConfig defines the Reverse Beacon Network stream settings
type RBNConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Login          string   `json:"login"`
	Commands       []string `json:"commands,omitempty"`
	ReadTimeout    Duration `json:"readTimeout"`
	MaxSpotHistory int      `json:"maxSpotHistory"`
	MaxSpotAge     Duration `json:"maxSpotAge"`
}

// Addr returns the host:port dial target for the stream connection.
func (c RBNConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig defines NATS connection settings for reference data and the
// republish bridge. Disabled means the service runs standalone: reference
// lookups miss and events are not republished.
type NATSConfig struct {
	Enabled       bool     `json:"enabled"`
	URL           string   `json:"url,omitempty"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
	MaxReconnects int      `json:"maxReconnects,omitempty"`
	ReconnectWait Duration `json:"reconnectWait,omitempty"`
}

// RefDataConfig names the JetStream KV buckets holding reference data
type RefDataConfig struct {
	SummitsBucket      string `json:"summitsBucket"`
	AssociationsBucket string `json:"associationsBucket"`
	ActivatorsBucket   string `json:"activatorsBucket"`
}

// PublishConfig defines the NATS republish bridge subjects
type PublishConfig struct {
	Enabled       bool   `json:"enabled"`
	SpotSubject   string `json:"spotSubject"`
	DeleteSubject string `json:"deleteSubject"`
	RBNSubject    string `json:"rbnSubject"`
}

// MetricsConfig defines the metrics HTTP server settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// DefaultConfig returns the configuration defaults. Values mirror the
// upstream service limits; only credentials have no default.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host: "127.0.0.1",
			Port: 8081,
			Path: "/ws",
		},
		SotaSpots: SotaSpotsConfig{
			URL:               "https://api2.sota.org.uk/api/spots",
			UpdateInterval:    Duration(30 * time.Second),
			FullLoadInterval:  Duration(5 * time.Minute),
			FullLoadSpots:     100,
			PeriodicLoadSpots: 20,
			MaxSpotAge:        Duration(24 * time.Hour),
			MinBatchSize:      1,
		},
		RBN: RBNConfig{
			Host:           "telnet.reversebeacon.net",
			Port:           7000,
			ReadTimeout:    Duration(3 * time.Minute),
			MaxSpotHistory: 1000,
			MaxSpotAge:     Duration(24 * time.Hour),
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		RefData: RefDataConfig{
			SummitsBucket:      "summits",
			AssociationsBucket: "associations",
			ActivatorsBucket:   "activators",
		},
		Publish: PublishConfig{
			SpotSubject:   "spots.sota",
			DeleteSubject: "spots.sota.deleted",
			RBNSubject:    "spots.rbn",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("http port %d out of range", c.HTTP.Port))
	}
	if c.HTTP.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "http path cannot be empty")
	}
	if c.SotaSpots.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "sotaspots url")
	}
	if c.SotaSpots.UpdateInterval.Std() <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "sotaspots update interval must be positive")
	}
	if c.SotaSpots.FullLoadSpots <= 0 || c.SotaSpots.PeriodicLoadSpots <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "sotaspots load sizes must be positive")
	}
	if c.SotaSpots.PeriodicLoadSpots > c.SotaSpots.FullLoadSpots {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"periodic load size cannot exceed full load size")
	}
	if c.RBN.Host == "" || c.RBN.Port < 1 || c.RBN.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "rbn host/port")
	}
	if c.RBN.Login == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "rbn login")
	}
	if c.RBN.ReadTimeout.Std() <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "rbn read timeout must be positive")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats url")
	}
	if c.Publish.Enabled && !c.NATS.Enabled {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"publish bridge requires nats to be enabled")
	}
	return nil
}
