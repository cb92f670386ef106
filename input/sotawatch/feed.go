package sotawatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/manuelkasper/sotlas-api/errors"
	"github.com/manuelkasper/sotlas-api/spot"
)

// feedSpot is one record of the upstream batch endpoint. Frequency arrives
// as either a JSON number or a string depending on the upstream version.
type feedSpot struct {
	ID                int64       `json:"id"`
	UserID            int64       `json:"userID"`
	Timestamp         string      `json:"timeStamp"`
	Comments          string      `json:"comments"`
	Callsign          string      `json:"callsign"`
	ActivatorCallsign string      `json:"activatorCallsign"`
	SummitCode        string      `json:"summitCode"`
	Frequency         json.Number `json:"frequency"`
	Mode              string      `json:"mode"`
	Epoch             string      `json:"epoch"`
}

// timestampLayouts covers the formats the upstream has been seen to emit.
// Zoneless timestamps are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			if ts.Location() == time.Local {
				ts = ts.UTC()
			}
			return ts.UTC(), nil
		}
	}
	return time.Time{}, errors.WrapInvalid(errors.ErrParsingFailed, "Poller", "parseTimestamp", "timestamp "+value)
}

// normalize converts a feed record into the canonical spot form
func normalize(fs feedSpot) (spot.Spot, error) {
	ts, err := parseTimestamp(fs.Timestamp)
	if err != nil {
		return spot.Spot{}, err
	}

	freq, err := fs.Frequency.Float64()
	if err != nil {
		return spot.Spot{}, errors.WrapInvalid(errors.ErrParsingFailed, "Poller", "normalize",
			fmt.Sprintf("frequency %q", fs.Frequency))
	}

	comments := fs.Comments
	// Upstream encodes absent comments as the literal string "(null)"
	if comments == "(null)" {
		comments = ""
	}

	return spot.Spot{
		ID:                fs.ID,
		UserID:            fs.UserID,
		Timestamp:         ts,
		Summit:            spot.SummitRef{Code: spot.NormalizeSummitCode(fs.SummitCode)},
		ActivatorCallsign: spot.NormalizeCallsign(fs.ActivatorCallsign),
		Callsign:          fs.Callsign,
		Frequency:         freq,
		Mode:              fs.Mode,
		Comments:          comments,
	}, nil
}

// feedClient fetches the epoch token and spot batches from the upstream API
type feedClient struct {
	baseURL string
	client  *http.Client
}

func newFeedClient(baseURL string, client *http.Client) *feedClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &feedClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

// epoch fetches the current feed epoch token. The token changes whenever any
// spot changes upstream; an unchanged token makes the batch fetch redundant.
func (f *feedClient) epoch(ctx context.Context) (string, error) {
	body, err := f.get(ctx, f.baseURL+"/epoch")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(string(body)), `"`)), nil
}

// batch fetches the most recent count spots
func (f *feedClient) batch(ctx context.Context, count int) ([]feedSpot, error) {
	body, err := f.get(ctx, fmt.Sprintf("%s/%d/all/all/", f.baseURL, count))
	if err != nil {
		return nil, err
	}

	var spots []feedSpot
	if err := json.Unmarshal(body, &spots); err != nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Poller", "batch", "decode batch")
	}
	return spots, nil
}

func (f *feedClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Poller", "get", "build request "+url)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "Poller", "get", "fetch "+url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WrapTransient(errors.ErrUpstreamStatus, "Poller", "get",
			fmt.Sprintf("fetch %s: status %d", url, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, errors.WrapTransient(err, "Poller", "get", "read body "+url)
	}
	return body, nil
}
