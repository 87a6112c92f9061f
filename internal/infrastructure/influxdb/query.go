package influxdb

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Record is one row of a Flux query result.
type Record struct {
	// Time is the row's _time column (zero when absent).
	Time time.Time

	// Field is the row's _field column.
	Field string

	// Value is the row's _value column.
	Value any

	// Values holds every column of the row by name.
	Values map[string]any
}

// Query executes a Flux query and returns all result rows.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - flux: Flux query text
//
// Returns:
//   - []Record: Rows of every result table, in response order
//   - error: ErrNotConnected, or the query error wrapped with ErrQueryFailed
func (c *Client) Query(ctx context.Context, flux string) ([]Record, error) {
	if c == nil || !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if strings.TrimSpace(flux) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrQueryFailed)
	}

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	var records []Record
	for result.Next() {
		r := result.Record()
		rec := Record{
			Value:  r.Value(),
			Values: r.Values(),
		}
		if t, ok := r.ValueByKey("_time").(time.Time); ok {
			rec.Time = t
		}
		if f, ok := r.ValueByKey("_field").(string); ok {
			rec.Field = f
		}
		records = append(records, rec)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	return records, nil
}
