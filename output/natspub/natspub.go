// Package natspub republishes spot events to NATS subjects so other backend
// services can consume the normalized feed without their own upstream
// connections. Publishing is fire-and-forget; a NATS outage never blocks the
// websocket fan-out.
package natspub

import (
	"encoding/json"
	"log/slog"

	"github.com/manuelkasper/sotlas-api/config"
	"github.com/manuelkasper/sotlas-api/errors"
	"github.com/manuelkasper/sotlas-api/natsclient"
	"github.com/manuelkasper/sotlas-api/spot"
	"github.com/manuelkasper/sotlas-api/wire"
)

// Publisher republishes spot events to the message bus
type Publisher struct {
	client *natsclient.Client
	cfg    config.PublishConfig
	logger *slog.Logger
}

// New creates a publisher. Returns nil when publishing is disabled; the
// ingestors accept a nil publisher.
func New(client *natsclient.Client, cfg config.PublishConfig, logger *slog.Logger) *Publisher {
	if !cfg.Enabled || client == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "natspub"),
	}
}

// PublishSpot publishes a created or updated polled spot
func (p *Publisher) PublishSpot(s *spot.Spot) error {
	return p.publish(p.cfg.SpotSubject, wire.Message{Spot: s})
}

// PublishDelete publishes a polled spot deletion
func (p *Publisher) PublishDelete(id int64) error {
	return p.publish(p.cfg.DeleteSubject, wire.Message{DeleteSpot: &wire.DeleteSpot{ID: id}})
}

// PublishRBN publishes a streamed spot
func (p *Publisher) PublishRBN(s *spot.RBNSpot) error {
	return p.publish(p.cfg.RBNSubject, wire.Message{RBNSpot: s})
}

func (p *Publisher) publish(subject string, msg wire.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.WrapInvalid(err, "Publisher", "publish", "marshal message")
	}
	return p.client.Publish(subject, data)
}
