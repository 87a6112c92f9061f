package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-timedata/internal/infrastructure/config"
)

// Default timeouts and batching limits for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize        = 1000
	defaultFlushInterval    = 1    // seconds
	defaultRetryInterval    = 5000 // milliseconds
	defaultRetryBufferLimit = 50000

	millisecondsPerSecond = 1000

	// failureQueueSize bounds write failures waiting for the callback.
	failureQueueSize = 64
)

// Client wraps the InfluxDB v2 client with Gray Logic-specific functionality.
//
// Points go through the library's non-blocking write API, which batches
// them (at most BatchSize points per request) and retries transport
// failures with exponential backoff. Lost batches are reported to the
// write-failure callback with the HTTP status, the server message and
// the points of the batch.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - WritePointWithTime hands the point to the library's buffer and does
//     not wait for the server.
//   - The write-failure callback runs on its own goroutine, so a slow
//     callback never holds up writes.
type Client struct {
	client   influxdb2.Client
	writeAPI *api.WriteAPIImpl
	queryAPI api.QueryAPI
	cfg      config.InfluxDBConfig

	// connected tracks current connection state.
	connected bool
	mu        sync.RWMutex

	// failures carries lost batches to the callback goroutine.
	failures  chan WriteFailure
	delivered chan struct{}
	wg        sync.WaitGroup

	// onWriteFailure is called when a batch could not be stored.
	onWriteFailure func(WriteFailure)
	callbackMu     sync.RWMutex
}

// Connect establishes a connection to the InfluxDB server.
//
// It performs the following setup:
//  1. Creates the client with token authentication, millisecond precision
//     and the configured batching and retry options
//  2. Verifies connectivity with a ping
//  3. Creates the non-blocking write API and the query API
//  4. Starts the goroutines delivering write failures
//
// Parameters:
//   - ctx: Context for cancellation (used for the initial ping)
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If the connection fails
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	// Validate and convert config values (ensure non-negative for uint conversion)
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	retryBufferLimit := cfg.RetryBufferLimit
	if retryBufferLimit <= 0 {
		retryBufferLimit = defaultRetryBufferLimit
	}
	maxRetries := max(cfg.MaxRetries, 0)

	// #nosec G115 -- values validated above to be non-negative
	options := influxdb2.DefaultOptions().
		SetPrecision(time.Millisecond).
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flushInterval)*millisecondsPerSecond).
		SetMaxRetries(uint(maxRetries)).
		SetRetryInterval(uint(retryInterval)).
		SetRetryBufferLimit(uint(retryBufferLimit))

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:    client,
		queryAPI:  client.QueryAPI(cfg.Org),
		cfg:       cfg,
		connected: true,
		failures:  make(chan WriteFailure, failureQueueSize),
		delivered: make(chan struct{}),
	}

	// The write API posts through rejectionReporter so that rejected
	// batches are seen with their payload; the library itself only hands
	// retryable failures to its callback.
	c.writeAPI = api.NewWriteAPI(cfg.Org, cfg.Bucket, &rejectionReporter{
		Service:    client.HTTPService(),
		maxRetries: uint(maxRetries), // #nosec G115 -- non-negative
		report:     c.queueFailure,
	}, options.WriteOptions())
	c.writeAPI.SetWriteFailedCallback(c.retryFailed(uint(maxRetries))) // #nosec G115 -- non-negative

	// Errors must be read before the first write
	errorsCh := c.writeAPI.Errors()

	c.wg.Add(1)
	go c.handleWriteErrors(errorsCh)
	go c.deliverFailures()

	return c, nil
}

// Close gracefully shuts down the InfluxDB connection.
//
// It performs:
//  1. Marks client as disconnected so new points are refused
//  2. Flushes pending points and the retry queue (one last attempt each)
//  3. Delivers outstanding write failures to the callback
//  4. Closes the underlying client
//
// Returns:
//   - error: nil (flush errors are delivered via the write-failure callback)
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.mu.Unlock()

	// Closing the write API flushes and closes its error channel,
	// which ends handleWriteErrors.
	c.writeAPI.Close()
	c.wg.Wait()
	close(c.failures)
	<-c.delivered

	c.client.Close()

	return nil
}

// HealthCheck verifies the InfluxDB connection is alive and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}

	return nil
}

// IsConnected returns the current connection state.
//
// Note: This reflects the last known state. For reliability,
// use HealthCheck which performs an active ping.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// ReadOnly reports whether writes are disabled by configuration.
func (c *Client) ReadOnly() bool {
	return c.cfg.ReadOnly
}

// SetOnWriteFailure sets a callback invoked for every batch that was
// rejected by the server or dropped after its retries ran out.
//
// The callback runs on a dedicated goroutine in failure order.
func (c *Client) SetOnWriteFailure(callback func(WriteFailure)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onWriteFailure = callback
}

// queueFailure hands a failure to the delivery goroutine. It blocks
// only when failureQueueSize failures are already waiting.
func (c *Client) queueFailure(f WriteFailure) {
	c.failures <- f
}

// deliverFailures runs the write-failure callback until Close.
func (c *Client) deliverFailures() {
	defer close(c.delivered)
	for f := range c.failures {
		c.callbackMu.RLock()
		callback := c.onWriteFailure
		c.callbackMu.RUnlock()

		if callback != nil {
			callback(f)
		}
	}
}
