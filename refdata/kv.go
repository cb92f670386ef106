package refdata

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/manuelkasper/sotlas-api/errors"
	"github.com/manuelkasper/sotlas-api/natsclient"
)

// KVLookup reads reference data from JetStream KV buckets. Keys are summit
// codes ("HB/ZH-015"), association codes ("HB") and normalized callsigns.
// Values are JSON documents written by the reference data importer.
type KVLookup struct {
	summits      jetstream.KeyValue
	associations jetstream.KeyValue
	activators   jetstream.KeyValue
	logger       *slog.Logger
}

// KVBuckets names the buckets holding each reference data set
type KVBuckets struct {
	Summits      string
	Associations string
	Activators   string
}

// NewKVLookup binds to the reference data buckets. All buckets must exist;
// the importer creates them before this service starts.
func NewKVLookup(ctx context.Context, client *natsclient.Client, buckets KVBuckets) (*KVLookup, error) {
	summits, err := client.KeyValue(ctx, buckets.Summits)
	if err != nil {
		return nil, errors.Wrap(err, "KVLookup", "NewKVLookup", "bind summits bucket")
	}
	associations, err := client.KeyValue(ctx, buckets.Associations)
	if err != nil {
		return nil, errors.Wrap(err, "KVLookup", "NewKVLookup", "bind associations bucket")
	}
	activators, err := client.KeyValue(ctx, buckets.Activators)
	if err != nil {
		return nil, errors.Wrap(err, "KVLookup", "NewKVLookup", "bind activators bucket")
	}

	return &KVLookup{
		summits:      summits,
		associations: associations,
		activators:   activators,
		logger:       slog.Default().With("component", "refdata"),
	}, nil
}

// Summit returns the summit for the given code
func (l *KVLookup) Summit(ctx context.Context, code string) (*Summit, error) {
	var summit Summit
	if err := l.get(ctx, l.summits, code, &summit); err != nil {
		return nil, err
	}
	return &summit, nil
}

// Association returns the association for the given code
func (l *KVLookup) Association(ctx context.Context, code string) (*Association, error) {
	var assoc Association
	if err := l.get(ctx, l.associations, code, &assoc); err != nil {
		return nil, err
	}
	return &assoc, nil
}

// IsActivator reports whether the callsign is a known activator. The bucket
// stores one key per activator callsign; only key presence matters.
func (l *KVLookup) IsActivator(ctx context.Context, callsign string) bool {
	if l.activators == nil || callsign == "" {
		return false
	}
	_, err := l.activators.Get(ctx, callsign)
	if err != nil {
		if !errors.Is(err, jetstream.ErrKeyNotFound) {
			l.logger.Warn("activator lookup failed", "callsign", callsign, "error", err)
		}
		return false
	}
	return true
}

func (l *KVLookup) get(ctx context.Context, bucket jetstream.KeyValue, key string, out any) error {
	entry, err := bucket.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return errors.WrapInvalid(errors.ErrNotFound, "KVLookup", "get", "lookup "+key)
		}
		return errors.WrapTransient(err, "KVLookup", "get", "lookup "+key)
	}
	if err := json.Unmarshal(entry.Value(), out); err != nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "KVLookup", "get", "decode "+key)
	}
	return nil
}
