// Package influxdb provides InfluxDB connectivity for Gray Logic Timedata.
//
// It wraps the official influxdb-client-go v2 library with Gray Logic-specific
// patterns for connection management, batched writes, Flux queries and
// health monitoring.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "graylogic",
//	    Bucket: "timedata",
//	}
//
//	client, err := influxdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.SetOnWriteFailure(func(f influxdb.WriteFailure) {
//	    log.Printf("lost %d points: %s", len(f.Points), f.Message)
//	})
//	client.WritePointWithTime("data",
//	    map[string]string{"edge": "0"},
//	    map[string]any{"meter0/ActivePower": int64(1200)},
//	    time.UnixMilli(1700000000000))
//
//	records, err := client.Query(ctx, `from(bucket: "timedata") |> range(start: -1h)`)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Writes go through the library's non-blocking write API: points are
// batched (influxdb.batch_size per request, flushed every
// influxdb.flush_interval seconds) and network errors, 429 and 5xx
// responses are retried with exponential backoff (influxdb.max_retries,
// influxdb.retry_interval_ms) while at most influxdb.retry_buffer_limit
// points wait for a retry. Batches the server rejects, such as field type
// conflicts, and batches whose retries ran out are delivered to the
// write-failure callback with the HTTP status, the server message and the
// lost points decoded from the batch. The callback runs on its own
// goroutine. Connection, health check and query errors are returned
// directly.
//
// # Precision
//
// Points are written with millisecond precision.
package influxdb
