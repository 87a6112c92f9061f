package timedata_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-timedata/internal/timedata"
)

// writtenPoint is a point handed to fakeWriter.
type writtenPoint struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
	ts          time.Time
}

// fakeWriter records queued points.
type fakeWriter struct {
	mu     sync.Mutex
	points []writtenPoint
}

func (w *fakeWriter) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, writtenPoint{measurement: measurement, tags: tags, fields: fields, ts: ts})
}

func (w *fakeWriter) written() []writtenPoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]writtenPoint(nil), w.points...)
}

// fakeQuerier returns canned rows and records every Flux query.
type fakeQuerier struct {
	mu      sync.Mutex
	rows    []timedata.Row
	err     error
	block   bool
	queries []string
}

func (q *fakeQuerier) Query(ctx context.Context, flux string) ([]timedata.Row, error) {
	q.mu.Lock()
	q.queries = append(q.queries, flux)
	rows, err, block := q.rows, q.err, q.block
	q.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, fmt.Errorf("query: %w", ctx.Err())
	}
	return rows, err
}

func (q *fakeQuerier) calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queries)
}

func (q *fakeQuerier) lastQuery() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queries) == 0 {
		return ""
	}
	return q.queries[len(q.queries)-1]
}

// logEntry is one call on recordingLogger.
type logEntry struct {
	level string
	msg   string
	args  []any
}

// recordingLogger captures log calls.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

// find returns the first entry at level whose message contains substr.
func (l *recordingLogger) find(level, substr string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && strings.Contains(e.msg, substr) {
			return e, true
		}
	}
	return logEntry{}, false
}

// arg returns the value logged for key.
func (e logEntry) arg(key string) any {
	for i := 0; i+1 < len(e.args); i += 2 {
		if e.args[i] == key {
			return e.args[i+1]
		}
	}
	return nil
}

// testConfig is the storage layout used by the tests.
func testConfig() timedata.Config {
	return timedata.Config{
		Bucket:      "timedata",
		Measurement: "data",
		DeviceTag:   "edge",
	}
}

// newTestService builds a service over fresh fakes.
func newTestService(t *testing.T, mutate func(*timedata.Deps)) (*timedata.Service, *fakeWriter, *fakeQuerier) {
	t.Helper()
	writer := &fakeWriter{}
	querier := &fakeQuerier{}
	deps := timedata.Deps{
		Config:   testConfig(),
		Writer:   writer,
		Querier:  querier,
		Registry: timedata.NewRegistry(),
	}
	if mutate != nil {
		mutate(&deps)
	}

	svc, err := timedata.NewService(deps)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, writer, querier
}

// addr builds a channel address.
func addr(component, channel string) timedata.ChannelAddress {
	return timedata.ChannelAddress{Component: component, Channel: channel}
}
