package influxdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	http2 "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	protocol "github.com/influxdata/line-protocol"
)

// WriteFailure describes a batch InfluxDB did not store.
type WriteFailure struct {
	// Err is the error returned by the write API, wrapped with ErrWriteFailed.
	Err error

	// StatusCode is the HTTP status of the rejected request, 0 for
	// transport or encoding errors.
	StatusCode int

	// Message is the server's error message, or Err's text when the
	// server sent none.
	Message string

	// Points lists every point of the lost batch.
	Points []FailedPoint
}

// FailedPoint identifies a point of a lost batch.
type FailedPoint struct {
	Measurement string
	Tags        map[string]string
	Time        time.Time
	Fields      []string
}

// WritePointWithTime queues a point with a specific timestamp.
//
// The point is buffered and sent with the next batch.
// Nothing is queued when the client is closed or configured read-only.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data (int64, float64, bool, string)
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if c.cfg.ReadOnly || len(fields) == 0 {
		return
	}

	// Held across the write so Close cannot shut the write API underneath it.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

// Flush sends all pending points to InfluxDB and blocks until done.
//
// Batches waiting for a retry get one more attempt. This is called
// automatically on the flush interval and when a batch is full; call it
// manually for testing.
func (c *Client) Flush() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return
	}

	c.writeAPI.Flush()
}

// retryFailed is the write API's callback for retryable failures
// (network errors, 429, 5xx). It keeps the batch queued until maxRetries
// retries have failed, then reports it and lets it go.
func (c *Client) retryFailed(maxRetries uint) api.WriteFailedCallback {
	return func(batch string, err http2.Error, retryAttempts uint) bool {
		if retryAttempts < maxRetries {
			return true
		}
		c.queueFailure(newWriteFailure(&err, []byte(batch)))
		return false
	}
}

// handleWriteErrors reports write errors that did not come from the
// server, such as points that could not be encoded. Server errors are
// reported by rejectionReporter and retryFailed, which see the batch.
func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	defer c.wg.Done()
	for err := range errorsCh {
		var herr *http2.Error
		if errors.As(err, &herr) {
			continue
		}
		c.queueFailure(WriteFailure{
			Err:     fmt.Errorf("%w: %w", ErrWriteFailed, err),
			Message: err.Error(),
		})
	}
}

// rejectionReporter wraps the HTTP service used by the write API and
// reports every batch the server refuses outright. The write API drops
// those batches without retrying, and swallows "partial write" rejections
// such as field type conflicts entirely.
type rejectionReporter struct {
	http2.Service

	maxRetries uint
	report     func(WriteFailure)
}

// DoPostRequest posts the batch and reports it when it is rejected.
func (r *rejectionReporter) DoPostRequest(ctx context.Context, url string, body io.Reader, requestCallback http2.RequestCallback, responseCallback http2.ResponseCallback) *http2.Error {
	payload, err := io.ReadAll(body)
	if err != nil {
		return http2.NewError(err)
	}

	perr := r.Service.DoPostRequest(ctx, url, bytes.NewReader(payload), requestCallback, responseCallback)
	if perr != nil && (!retryable(perr) || r.maxRetries == 0) {
		r.report(newWriteFailure(perr, payload))
	}
	return perr
}

// retryable mirrors the write API's retry rule: network errors, 429 and 5xx.
func retryable(perr *http2.Error) bool {
	return perr.StatusCode == 0 || perr.StatusCode >= http.StatusTooManyRequests
}

// newWriteFailure builds the failure report for a lost batch.
func newWriteFailure(perr *http2.Error, batch []byte) WriteFailure {
	f := WriteFailure{
		Err:        fmt.Errorf("%w: %w", ErrWriteFailed, perr),
		StatusCode: perr.StatusCode,
		Message:    perr.Message,
		Points:     parseBatch(batch),
	}
	if f.Message == "" {
		f.Message = perr.Error()
	}
	return f
}

// parseBatch decodes a posted line protocol batch into failed points.
// A batch that does not parse yields no points.
func parseBatch(batch []byte) []FailedPoint {
	handler := protocol.NewMetricHandler()
	handler.SetTimePrecision(time.Millisecond)
	metrics, err := protocol.NewParser(handler).Parse(batch)
	if err != nil {
		return nil
	}

	points := make([]FailedPoint, 0, len(metrics))
	for _, m := range metrics {
		fp := FailedPoint{
			Measurement: m.Name(),
			Tags:        make(map[string]string, len(m.TagList())),
			Time:        m.Time(),
			Fields:      make([]string, 0, len(m.FieldList())),
		}
		for _, t := range m.TagList() {
			fp.Tags[t.Key] = t.Value
		}
		for _, fl := range m.FieldList() {
			fp.Fields = append(fp.Fields, fl.Key)
		}
		points = append(points, fp)
	}
	return points
}
