package rbn

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/manuelkasper/sotlas-api/errors"
	"github.com/manuelkasper/sotlas-api/spot"
)

// dxLine matches the telnet cluster spot format, e.g.
// "DX de DL1XYZ-#:  14062.0  HB9ABC/P      CW    12 dB  22 WPM  CQ      1234Z"
var dxLine = regexp.MustCompile(`^DX de (\S+):\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+dB\s+(\S+)\s+\S+\s+(CQ|DX)\s+(\d+)Z\s*$`)

// parseLine decodes one line from the stream. Returns (nil, nil) for lines
// that are not spot reports (banners, prompts, keepalives); those are normal
// and not counted as errors.
func parseLine(line string, now time.Time) (*spot.RBNSpot, error) {
	matches := dxLine.FindStringSubmatch(line)
	if matches == nil {
		return nil, nil
	}

	freqKHz, err := strconv.ParseFloat(matches[2], 64)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "Input", "parseLine", "frequency "+matches[2])
	}
	snr, err := strconv.Atoi(matches[5])
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "Input", "parseLine", "snr "+matches[5])
	}
	speed, err := strconv.Atoi(matches[6])
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "Input", "parseLine", "speed "+matches[6])
	}
	timestamp, err := parseSpotTime(matches[8], now)
	if err != nil {
		return nil, err
	}

	callsign := spot.NormalizeCallsign(matches[3])

	return &spot.RBNSpot{
		Timestamp: timestamp,
		Callsign:  callsign,
		// Home callsign collapses portable and regional variants
		HomeCallsign: spot.HomeCallsign(callsign),
		Spotter:      strings.TrimSuffix(matches[1], "-#"),
		// Frequency arrives in kHz, published in MHz to 4 decimals
		Frequency: math.Round(freqKHz/1000*10000) / 10000,
		Mode:      matches[4],
		SNR:       snr,
		Speed:     speed,
	}, nil
}

// parseSpotTime resolves an "HHMM" UTC time against the current date. Spots
// just before midnight arriving just after it land on the previous day.
func parseSpotTime(hhmm string, now time.Time) (time.Time, error) {
	if len(hhmm) != 4 {
		return time.Time{}, errors.WrapInvalid(errors.ErrParsingFailed, "Input", "parseSpotTime", "time "+hhmm)
	}
	hour, err := strconv.Atoi(hhmm[:2])
	if err != nil || hour > 23 {
		return time.Time{}, errors.WrapInvalid(errors.ErrParsingFailed, "Input", "parseSpotTime", "hour "+hhmm)
	}
	minute, err := strconv.Atoi(hhmm[2:])
	if err != nil || minute > 59 {
		return time.Time{}, errors.WrapInvalid(errors.ErrParsingFailed, "Input", "parseSpotTime", "minute "+hhmm)
	}

	utc := now.UTC()
	ts := time.Date(utc.Year(), utc.Month(), utc.Day(), hour, minute, 0, 0, time.UTC)
	if ts.After(utc.Add(5 * time.Minute)) {
		ts = ts.AddDate(0, 0, -1)
	}
	return ts, nil
}
