package natspub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/manuelkasper/sotlas-api/config"
	"github.com/manuelkasper/sotlas-api/errors"
	"github.com/manuelkasper/sotlas-api/natsclient"
	"github.com/manuelkasper/sotlas-api/spot"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	client := natsclient.NewClient("nats://localhost:4222")

	assert.Nil(t, New(client, config.PublishConfig{Enabled: false}, nil))
	assert.Nil(t, New(nil, config.PublishConfig{Enabled: true}, nil))
}

func TestPublishWithoutConnectionFailsTransiently(t *testing.T) {
	client := natsclient.NewClient("nats://localhost:4222")
	p := New(client, config.PublishConfig{
		Enabled:       true,
		SpotSubject:   "spots.sota",
		DeleteSubject: "spots.sota.deleted",
		RBNSubject:    "spots.rbn",
	}, nil)

	err := p.PublishSpot(&spot.Spot{ID: 1})
	assert.True(t, errors.IsTransient(err))

	err = p.PublishDelete(1)
	assert.True(t, errors.IsTransient(err))

	err = p.PublishRBN(&spot.RBNSpot{ID: 1})
	assert.True(t, errors.IsTransient(err))
}
