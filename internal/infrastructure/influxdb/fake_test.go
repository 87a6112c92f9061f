package influxdb_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	protocol "github.com/influxdata/line-protocol"
)

// fakeInflux is an in-process InfluxDB v2 stand-in serving /ping,
// /api/v2/write and /api/v2/query.
type fakeInflux struct {
	t      *testing.T
	server *httptest.Server

	mu           sync.Mutex
	metrics      []protocol.Metric
	batches      []int
	writes       int
	writeQueue   []int
	writeMessage string
	pingStatus   int
	queryCSV     string
	queryStatus  int
	queries      []string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{t: t, pingStatus: http.StatusNoContent, queryStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", f.handlePing)
	mux.HandleFunc("/api/v2/write", f.handleWrite)
	mux.HandleFunc("/api/v2/query", f.handleQuery)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeInflux) URL() string {
	return f.server.URL
}

// failWrites queues HTTP statuses for the next write requests.
func (f *fakeInflux) failWrites(message string, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeMessage = message
	f.writeQueue = append(f.writeQueue, statuses...)
}

func (f *fakeInflux) setQueryResponse(status int, csv string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryStatus = status
	f.queryCSV = csv
}

func (f *fakeInflux) stored() []protocol.Metric {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Metric, len(f.metrics))
	copy(out, f.metrics)
	return out
}

// batchSizes returns the point count of every stored write request.
func (f *fakeInflux) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.batches...)
}

func (f *fakeInflux) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeInflux) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

func (f *fakeInflux) handlePing(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	status := f.pingStatus
	f.mu.Unlock()
	w.WriteHeader(status)
}

func (f *fakeInflux) handleWrite(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++

	if len(f.writeQueue) > 0 {
		status := f.writeQueue[0]
		f.writeQueue = f.writeQueue[1:]
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "invalid", "message": f.writeMessage})
		return
	}

	if got := r.URL.Query().Get("precision"); got != "ms" {
		f.t.Errorf("write precision = %q, want ms", got)
	}

	handler := protocol.NewMetricHandler()
	handler.SetTimePrecision(time.Millisecond)
	metrics, err := protocol.NewParser(handler).Parse(body)
	if err != nil {
		f.t.Errorf("posted body is not valid line protocol: %v\n%s", err, body)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.metrics = append(f.metrics, metrics...)
	f.batches = append(f.batches, len(metrics))
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeInflux) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.queries = append(f.queries, req.Query)
	status, csv := f.queryStatus, f.queryCSV
	f.mu.Unlock()

	if status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "internal error", "message": "query failed"})
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	_, _ = io.WriteString(w, csv)
}

// fieldValue returns the value of a field on a parsed metric.
func fieldValue(m protocol.Metric, key string) (any, bool) {
	for _, f := range m.FieldList() {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// tagValue returns the value of a tag on a parsed metric.
func tagValue(m protocol.Metric, key string) string {
	for _, t := range m.TagList() {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
