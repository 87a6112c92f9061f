package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/nerrad567/gray-logic-timedata/internal/audit"
	"github.com/nerrad567/gray-logic-timedata/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-timedata/internal/infrastructure/logging"
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
	w.points = append(w.points, writtenPoint{measurement, tags, fields, ts})
}

func (w *fakeWriter) written() []writtenPoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]writtenPoint(nil), w.points...)
}

// fakeQuerier returns canned rows.
type fakeQuerier struct {
	mu      sync.Mutex
	rows    []timedata.Row
	err     error
	queries int
}

func (q *fakeQuerier) Query(_ context.Context, _ string) ([]timedata.Row, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries++
	return q.rows, q.err
}

// fakeJournal records the last filter and returns a canned result.
type fakeJournal struct {
	filter audit.Filter
	result *audit.ListResult
	err    error
}

func (j *fakeJournal) Conflicts(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	j.filter = filter
	return j.result, j.err
}

// checkerFunc adapts a function to HealthChecker.
type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// testEnv bundles a server with its fakes.
type testEnv struct {
	srv     *Server
	writer  *fakeWriter
	querier *fakeQuerier
	journal *fakeJournal
	router  http.Handler
}

// testServer creates a Server over a timedata service with fake backends.
func testServer(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		writer:  &fakeWriter{},
		querier: &fakeQuerier{},
		journal: &fakeJournal{result: &audit.ListResult{Logs: []audit.AuditLog{}, Limit: 50}},
	}

	svc, err := timedata.NewService(timedata.Deps{
		Config: timedata.Config{
			Bucket:      "timedata",
			Measurement: "data",
			DeviceTag:   "edge",
		},
		Writer:  env.writer,
		Querier: env.querier,
	})
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	env.srv, err = New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		Logger:  log,
		Service: svc,
		Journal: env.journal,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	env.router = env.srv.buildRouter()
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(target string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	env := testServer(t)

	if _, err := New(Deps{Service: env.srv.service}); err == nil {
		t.Error("New() without logger error = nil")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without service error = nil")
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	w := env.get("/api/v1/health")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestHealth_ContentType(t *testing.T) {
	env := testServer(t)

	w := env.get("/api/v1/health")
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := testServer(t)
	env.srv.health = map[string]HealthChecker{
		"database": checkerFunc(func(context.Context) error { return nil }),
		"influxdb": checkerFunc(func(context.Context) error { return errors.New("influxdb: not connected") }),
	}

	w := env.get("/api/v1/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeBody(t, w, &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Checks["database"] != "ok" || !strings.Contains(resp.Checks["influxdb"], "not connected") {
		t.Errorf("checks = %v", resp.Checks)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)

	w := env.get("/api/v1/health")
	requestID := w.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(requestID); err != nil {
		t.Errorf("X-Request-ID = %q, want a UUID: %v", requestID, err)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := env.do(req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := env.do(req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	env := testServer(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := env.do(req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestRecovery(t *testing.T) {
	env := testServer(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestCompression(t *testing.T) {
	env := testServer(t)
	for i := 0; i < 100; i++ {
		env.srv.service.Registry().Learn(fmt.Sprintf("meter%d/ActivePower", i), timedata.FieldFloat)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/timedata/overrides", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := env.do(req)

	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}

	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(zr).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 100 {
		t.Errorf("count = %d, want 100", resp.Count)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)

	if w := env.get("/api/v1/nonexistent"); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	env := testServer(t)
	srv := env.srv

	if srv.Addr() != "" {
		t.Errorf("Addr() before Start = %q, want empty", srv.Addr())
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start error = nil")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	url := "http://" + srv.Addr() + "/api/v1/health"
	resp, err := http.Get(url) //nolint:noctx // Test request
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get(url); err == nil { //nolint:noctx,bodyclose // Expected to fail
		t.Error("server still responding after Close()")
	}
}

func TestServer_StartAddressInUse(t *testing.T) {
	first := testServer(t)
	if err := first.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { first.srv.Close() }) //nolint:errcheck // Test cleanup

	var port int
	if _, err := fmt.Sscanf(first.srv.Addr(), "127.0.0.1:%d", &port); err != nil {
		t.Fatalf("parsing Addr(): %v", err)
	}

	second := testServer(t)
	second.srv.cfg.Port = port
	if err := second.srv.Start(context.Background()); err == nil {
		second.srv.Close() //nolint:errcheck // Test cleanup
		t.Error("Start() on a used port error = nil")
	}
}

func TestClose_NotStarted(t *testing.T) {
	env := testServer(t)
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// ─── Helper Tests ──────────────────────────────────────────────────

func TestWriteTimedataError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"malformed device", &timedata.QueryError{Op: timedata.OpQueryHistoricData, Device: "x", Err: timedata.ErrMalformedDeviceName}, 400, ErrCodeValidation},
		{"range", fmt.Errorf("%w: from after to", timedata.ErrInvalidQueryRange), 400, ErrCodeValidation},
		{"resolution", timedata.ErrInvalidResolution, 400, ErrCodeValidation},
		{"channel", timedata.ErrInvalidChannelAddress, 400, ErrCodeValidation},
		{"payload", timedata.ErrInvalidPayload, 400, ErrCodeValidation},
		{"unavailable", &timedata.QueryError{Err: timedata.ErrBackendUnavailable}, 503, ErrCodeServiceUnavailable},
		{"timeout", &timedata.QueryError{Err: timedata.ErrBackendTimeout}, 504, ErrCodeGatewayTimeout},
		{"other", errors.New("boom"), 500, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeTimedataError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp Error
			decodeBody(t, w, &resp)
			if resp.Code != tt.wantCode || resp.Status != tt.wantStatus {
				t.Errorf("body = %+v, want code %q", resp, tt.wantCode)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"5m", 5 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"1d", 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"0.5d", 12 * time.Hour, false},
		{"0s", 0, true},
		{"-5m", 0, true},
		{"1y", 0, true},
		{"d", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseDuration(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDuration(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseTimeParam(t *testing.T) {
	got, err := parseTimeParam("2026-03-29T00:00:00+01:00", time.UTC)
	if err != nil {
		t.Fatalf("parseTimeParam() error = %v", err)
	}
	if _, offset := got.Zone(); offset != 3600 {
		t.Errorf("offset = %d, want 3600 (caller's zone kept)", offset)
	}

	got, err = parseTimeParam("1700000000.5", time.UTC)
	if err != nil {
		t.Fatalf("parseTimeParam() error = %v", err)
	}
	if want := time.Unix(1700000000, 5e8).UTC(); !got.Equal(want) {
		t.Errorf("parseTimeParam() = %v, want %v", got, want)
	}

	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	got, err = parseTimeParam("1700000000", london)
	if err != nil {
		t.Fatalf("parseTimeParam() error = %v", err)
	}
	if got.Location() != london || got.Unix() != 1700000000 {
		t.Errorf("parseTimeParam() = %v, want instant 1700000000 in Europe/London", got)
	}

	for _, raw := range []string{"", "yesterday", "NaN", strings.Repeat("1", maxQueryParamLen+1)} {
		if _, err := parseTimeParam(raw, time.UTC); err == nil {
			t.Errorf("parseTimeParam(%q) error = nil", raw)
		}
	}
}

func TestReadBody_GzipLimit(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(bytes.Repeat([]byte(" "), maxRequestBodySize+10)) //nolint:errcheck // Test data
	zw.Close()                                                 //nolint:errcheck // Test data

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Encoding", "gzip")

	_, err := readBody(req)
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		t.Errorf("readBody() error = %v, want MaxBytesError", err)
	}
}
