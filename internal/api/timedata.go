package api

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"

	"github.com/nerrad567/gray-logic-timedata/internal/timedata"
)

// maxQueryParamLen limits query parameter length to prevent DoS via oversized URL params.
const maxQueryParamLen = 100

// maxChannelsPerQuery limits how many channels a single query may select.
const maxChannelsPerQuery = 64

// seriesResponse is the JSON shape of a historic series.
//
// Data holds one array per channel aligned with Timestamps; a null marks a
// timestamp without a value for that channel.
type seriesResponse struct {
	Device     string           `json:"device"`
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
	Resolution string           `json:"resolution,omitempty"`
	Timestamps []time.Time      `json:"timestamps"`
	Data       map[string][]any `json:"data"`
}

// energyResponse is the JSON shape of cumulative energy totals.
type energyResponse struct {
	Device string          `json:"device"`
	From   time.Time       `json:"from"`
	To     time.Time       `json:"to"`
	Data   timedata.Totals `json:"data"`
}

// historicQuery holds the parsed parameters shared by the historic routes.
type historicQuery struct {
	device     string
	from       time.Time
	to         time.Time
	channels   []timedata.ChannelAddress
	resolution time.Duration
	rawRes     string
}

// handleWriteSamples ingests a sample payload for one device.
//
// The body is {"<epoch ms>": {"<component/Channel>": value}} and may be
// gzip-compressed (Content-Encoding: gzip). Writes are queued; the response
// does not wait for InfluxDB.
func (s *Server) handleWriteSamples(w http.ResponseWriter, r *http.Request) {
	deviceName := chi.URLParam(r, "device")
	if deviceName == "" || len(deviceName) > maxQueryParamLen {
		writeBadRequest(w, "invalid device name")
		return
	}

	body, err := readBody(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return
		}
		writeBadRequest(w, "unreadable request body")
		return
	}

	if err := s.service.Ingest(deviceName, body); err != nil {
		s.logger.Debug("sample ingest rejected", "device", deviceName, "error", err)
		writeTimedataError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"device": deviceName,
	})
}

// handleHistoricData returns raw or window-averaged samples.
//
// Query parameters:
//   - from, to: RFC3339 or Unix seconds (required)
//   - channels: comma-separated "component/Channel" list, repeatable
//   - resolution: averaging window, e.g. 5m or 1d (optional, raw when absent)
//   - tz: IANA zone for result timestamps (optional, default from's offset,
//     or the site zone for Unix timestamps)
func (s *Server) handleHistoricData(w http.ResponseWriter, r *http.Request) {
	q, ok := s.parseHistoricQuery(w, r, false)
	if !ok {
		return
	}

	series, err := s.service.QueryHistoricData(r.Context(), q.device, q.from, q.to, q.channels, q.resolution)
	if err != nil {
		writeTimedataError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newSeriesResponse(q, series))
}

// handleHistoricEnergyPerPeriod returns the increase of accumulator
// channels per resolution period. resolution is required.
func (s *Server) handleHistoricEnergyPerPeriod(w http.ResponseWriter, r *http.Request) {
	q, ok := s.parseHistoricQuery(w, r, true)
	if !ok {
		return
	}

	series, err := s.service.QueryHistoricEnergyPerPeriod(r.Context(), q.device, q.from, q.to, q.channels, q.resolution)
	if err != nil {
		writeTimedataError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newSeriesResponse(q, series))
}

// handleHistoricEnergy returns last minus first value of accumulator
// channels over the range.
func (s *Server) handleHistoricEnergy(w http.ResponseWriter, r *http.Request) {
	q, ok := s.parseHistoricQuery(w, r, false)
	if !ok {
		return
	}

	totals, err := s.service.QueryHistoricEnergy(r.Context(), q.device, q.from, q.to, q.channels)
	if err != nil {
		writeTimedataError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, energyResponse{
		Device: q.device,
		From:   q.from,
		To:     q.to,
		Data:   totals,
	})
}

// handleListOverrides returns the field overrides learned since startup.
func (s *Server) handleListOverrides(w http.ResponseWriter, _ *http.Request) {
	overrides := s.service.Registry().Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"overrides": overrides,
		"count":     len(overrides),
	})
}

// parseHistoricQuery reads the device and query parameters, writing a 400
// response and returning false when they are invalid.
func (s *Server) parseHistoricQuery(w http.ResponseWriter, r *http.Request, needResolution bool) (historicQuery, bool) {
	params := r.URL.Query()
	q := historicQuery{device: chi.URLParam(r, "device")}

	if q.device == "" || len(q.device) > maxQueryParamLen {
		writeBadRequest(w, "invalid device name")
		return q, false
	}

	var err error
	if q.from, err = parseTimeParam(params.Get("from"), s.loc); err != nil {
		writeBadRequest(w, "invalid from timestamp")
		return q, false
	}
	if q.to, err = parseTimeParam(params.Get("to"), s.loc); err != nil {
		writeBadRequest(w, "invalid to timestamp")
		return q, false
	}

	if tz := params.Get("tz"); tz != "" {
		if len(tz) > maxQueryParamLen {
			writeBadRequest(w, "invalid tz")
			return q, false
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			writeBadRequest(w, "invalid tz")
			return q, false
		}
		q.from, q.to = q.from.In(loc), q.to.In(loc)
	}

	q.channels, err = parseChannelsParam(params["channels"])
	if err != nil {
		writeTimedataError(w, err)
		return q, false
	}
	if len(q.channels) > maxChannelsPerQuery {
		writeBadRequest(w, fmt.Sprintf("at most %d channels per query", maxChannelsPerQuery))
		return q, false
	}

	q.rawRes = params.Get("resolution")
	switch {
	case q.rawRes != "":
		if q.resolution, err = parseDuration(q.rawRes); err != nil {
			writeBadRequest(w, "invalid resolution")
			return q, false
		}
	case needResolution:
		writeBadRequest(w, "resolution is required")
		return q, false
	}

	return q, true
}

// newSeriesResponse lays a series out as per-channel arrays.
func newSeriesResponse(q historicQuery, series timedata.Series) seriesResponse {
	resp := seriesResponse{
		Device:     q.device,
		From:       q.from,
		To:         q.to,
		Resolution: q.rawRes,
		Timestamps: series.Timestamps(),
		Data:       make(map[string][]any, len(q.channels)),
	}

	for _, ch := range q.channels {
		key := ch.String()
		if _, seen := resp.Data[key]; seen {
			continue
		}
		values := make([]any, len(series))
		for i, entry := range series {
			values[i] = entry.Values[ch]
		}
		resp.Data[key] = values
	}
	return resp
}

// readBody reads the request body, decompressing gzip content.
func readBody(r *http.Request) ([]byte, error) {
	var src io.Reader = r.Body
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip body: %w", err)
		}
		defer zr.Close()
		// Bound the decompressed size as well as the wire size.
		src = io.LimitReader(zr, maxRequestBodySize+1)
	}

	body, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if len(body) > maxRequestBodySize {
		return nil, &http.MaxBytesError{Limit: maxRequestBodySize}
	}
	return body, nil
}

// parseChannelsParam splits comma-separated channel lists.
func parseChannelsParam(values []string) ([]timedata.ChannelAddress, error) {
	var parts []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
	}
	return timedata.ParseChannelAddresses(parts)
}

// parseTimeParam parses an RFC3339 or Unix timestamp. RFC3339 values keep
// their offset so that results are rendered in the caller's zone; Unix
// timestamps are placed in loc.
func parseTimeParam(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("timestamp is required")
	}
	if len(raw) > maxQueryParamLen {
		return time.Time{}, fmt.Errorf("timestamp too long")
	}

	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return parsed, nil
	}

	parsed, err := parseUnixTimestamp(raw)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.In(loc), nil
}

// parseUnixTimestamp parses a Unix timestamp string into time.Time.
func parseUnixTimestamp(raw string) (time.Time, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return time.Time{}, fmt.Errorf("invalid timestamp")
	}

	seconds, fraction := math.Modf(value)
	return time.Unix(int64(seconds), int64(fraction*float64(time.Second))).UTC(), nil
}

// parseDuration parses a Go duration or a day/week suffix (e.g. 1d, 2w).
func parseDuration(raw string) (time.Duration, error) {
	if parsed, err := time.ParseDuration(raw); err == nil {
		if parsed <= 0 {
			return 0, fmt.Errorf("invalid duration")
		}
		return parsed, nil
	}

	return parseExtendedDuration(raw)
}

// parseExtendedDuration handles day/week suffixes not supported by time.ParseDuration.
func parseExtendedDuration(raw string) (time.Duration, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("invalid duration")
	}

	number := raw[:len(raw)-1]
	unit := raw[len(raw)-1]

	multiplier, ok := map[byte]time.Duration{
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
	}[unit]
	if !ok {
		return 0, fmt.Errorf("invalid duration")
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration")
	}
	if value <= 0 {
		return 0, fmt.Errorf("invalid duration")
	}

	return time.Duration(value * float64(multiplier)), nil
}
