package timedata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Query operation names used in QueryError.
const (
	OpQueryHistoricData            = "QueryHistoricData"
	OpQueryHistoricEnergy          = "QueryHistoricEnergy"
	OpQueryHistoricEnergyPerPeriod = "QueryHistoricEnergyPerPeriod"
)

// SeriesEntry holds the channel values at one timestamp.
type SeriesEntry struct {
	Timestamp time.Time
	Values    map[ChannelAddress]any
}

// Series is a time series ordered by ascending timestamp.
// Gaps are not filled; channels without data at a timestamp are absent.
type Series []SeriesEntry

// Timestamps returns the timestamps of s in order.
func (s Series) Timestamps() []time.Time {
	out := make([]time.Time, len(s))
	for i, e := range s {
		out[i] = e.Timestamp
	}
	return out
}

// Totals holds one cumulative figure per channel. Channels without data
// in the range are absent.
type Totals map[ChannelAddress]any

// QueryHistoricData returns the samples of the channels in [from, to).
//
// With a positive resolution the samples are averaged per resolution
// window; otherwise every stored sample is returned.
//
// Returns:
//   - Series: Ascending by timestamp, timestamps in from's location
//   - error: *QueryError wrapping ErrMalformedDeviceName,
//     ErrInvalidQueryRange, ErrBackendUnavailable or ErrBackendTimeout
func (s *Service) QueryHistoricData(ctx context.Context, deviceName string, from, to time.Time, channels []ChannelAddress, resolution time.Duration) (Series, error) {
	const op = OpQueryHistoricData

	id, err := validateQuery(deviceName, from, to)
	if err != nil {
		return nil, &QueryError{Op: op, Device: deviceName, Err: err}
	}
	if resolution < 0 {
		return nil, &QueryError{Op: op, Device: deviceName, Err: fmt.Errorf("%w: %v", ErrInvalidResolution, resolution)}
	}
	if len(channels) == 0 || !from.Before(to) {
		return Series{}, nil
	}

	rows, err := s.run(ctx, rawFlux(s.selection(id, from, to, channels), resolution))
	if err != nil {
		return nil, &QueryError{Op: op, Device: deviceName, Err: err}
	}

	return toSeries(rows, channels, from.Location()), nil
}

// QueryHistoricEnergyPerPeriod returns, per resolution period starting at
// from, how much each accumulator channel increased.
//
// A trailing partial period is dropped: the range queried is
// [from, from + n*resolution) for the largest n that fits before to.
// Zero full periods yield an empty series without querying InfluxDB.
//
// Returns:
//   - Series: One entry per period with data, labelled by period start
//   - error: *QueryError wrapping ErrMalformedDeviceName,
//     ErrInvalidQueryRange, ErrInvalidResolution, ErrBackendUnavailable
//     or ErrBackendTimeout
func (s *Service) QueryHistoricEnergyPerPeriod(ctx context.Context, deviceName string, from, to time.Time, channels []ChannelAddress, resolution time.Duration) (Series, error) {
	const op = OpQueryHistoricEnergyPerPeriod

	id, err := validateQuery(deviceName, from, to)
	if err != nil {
		return nil, &QueryError{Op: op, Device: deviceName, Err: err}
	}
	if resolution <= 0 {
		return nil, &QueryError{Op: op, Device: deviceName, Err: fmt.Errorf("%w: %v", ErrInvalidResolution, resolution)}
	}

	periods := to.Sub(from) / resolution
	if len(channels) == 0 || periods == 0 {
		return Series{}, nil
	}
	stop := from.Add(periods * resolution)

	rows, err := s.run(ctx, perPeriodFlux(s.selection(id, from, stop, channels), resolution))
	if err != nil {
		return nil, &QueryError{Op: op, Device: deviceName, Err: err}
	}

	return toSeries(rows, channels, from.Location()), nil
}

// QueryHistoricEnergy returns last minus first value of each accumulator
// channel in [from, to), computed from a single query.
//
// Returns:
//   - Totals: int64 when both samples are integers, float64 otherwise
//   - error: *QueryError wrapping ErrMalformedDeviceName,
//     ErrInvalidQueryRange, ErrBackendUnavailable or ErrBackendTimeout
func (s *Service) QueryHistoricEnergy(ctx context.Context, deviceName string, from, to time.Time, channels []ChannelAddress) (Totals, error) {
	const op = OpQueryHistoricEnergy

	id, err := validateQuery(deviceName, from, to)
	if err != nil {
		return nil, &QueryError{Op: op, Device: deviceName, Err: err}
	}
	if len(channels) == 0 || !from.Before(to) {
		return Totals{}, nil
	}

	rows, err := s.run(ctx, energyFlux(s.selection(id, from, to, channels)))
	if err != nil {
		return nil, &QueryError{Op: op, Device: deviceName, Err: err}
	}

	return toTotals(rows, channels), nil
}

// validateQuery checks the device name and range shared by every query.
func validateQuery(deviceName string, from, to time.Time) (uint32, error) {
	id, err := ParseDeviceID(deviceName)
	if err != nil {
		return 0, err
	}
	if from.After(to) {
		return 0, fmt.Errorf("%w: from %s is after to %s", ErrInvalidQueryRange,
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return id, nil
}

// selection scopes a query to the device and channels.
func (s *Service) selection(id uint32, from, to time.Time, channels []ChannelAddress) fluxSelection {
	return fluxSelection{
		bucket:      s.cfg.Bucket,
		measurement: s.cfg.Measurement,
		deviceTag:   s.cfg.DeviceTag,
		device:      id,
		start:       from,
		stop:        to,
		fields:      uniqueFields(channels),
	}
}

// run executes a Flux query under the configured timeout and classifies
// failures as timeout or unavailability.
func (s *Service) run(ctx context.Context, flux string) ([]Row, error) {
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}

	rows, err := s.querier.Query(ctx, flux)
	if err == nil {
		return rows, nil
	}

	s.logger.Warn("historic query failed", "error", err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %w", ErrBackendTimeout, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}

// requested indexes channels by field name.
func requested(channels []ChannelAddress) map[string]ChannelAddress {
	out := make(map[string]ChannelAddress, len(channels))
	for _, c := range channels {
		out[c.String()] = c
	}
	return out
}

// toSeries groups rows by timestamp, keeping only requested channels.
func toSeries(rows []Row, channels []ChannelAddress, loc *time.Location) Series {
	wanted := requested(channels)
	byTime := make(map[int64]*SeriesEntry)

	for _, r := range rows {
		addr, ok := wanted[r.Field]
		if !ok || r.Value == nil || r.Time.IsZero() {
			continue
		}
		key := r.Time.UnixNano()
		entry, ok := byTime[key]
		if !ok {
			entry = &SeriesEntry{Timestamp: r.Time.In(loc), Values: make(map[ChannelAddress]any)}
			byTime[key] = entry
		}
		entry.Values[addr] = r.Value
	}

	series := make(Series, 0, len(byTime))
	for _, e := range byTime {
		series = append(series, *e)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	return series
}

// toTotals computes last - first per requested channel.
func toTotals(rows []Row, channels []ChannelAddress) Totals {
	wanted := requested(channels)
	first := make(map[ChannelAddress]any)
	last := make(map[ChannelAddress]any)

	for _, r := range rows {
		addr, ok := wanted[r.Field]
		if !ok || r.Value == nil {
			continue
		}
		switch r.Values["_agg"] {
		case "first":
			first[addr] = r.Value
		case "last":
			last[addr] = r.Value
		}
	}

	totals := make(Totals, len(last))
	for addr, l := range last {
		f, ok := first[addr]
		if !ok {
			continue
		}
		if d, ok := difference(l, f); ok {
			totals[addr] = d
		}
	}
	return totals
}

// difference returns a - b for numeric values.
func difference(a, b any) (any, bool) {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		return ai - bi, true
	}

	af, ok := toFloat64(a)
	if !ok {
		return nil, false
	}
	bf, ok := toFloat64(b)
	if !ok {
		return nil, false
	}
	return af - bf, true
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
