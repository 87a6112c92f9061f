package timedata

import (
	"errors"
	"fmt"
)

// Domain errors for the timedata package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, timedata.ErrMalformedDeviceName) {
//	    // reject the request
//	}
var (
	// ErrMalformedDeviceName is returned when no numeric id can be
	// extracted from a device name.
	ErrMalformedDeviceName = errors.New("timedata: malformed device name")

	// ErrInvalidChannelAddress is returned when a channel is not "component/Channel".
	ErrInvalidChannelAddress = errors.New("timedata: invalid channel address")

	// ErrInvalidPayload is returned when an ingest payload cannot be decoded.
	ErrInvalidPayload = errors.New("timedata: invalid payload")

	// ErrInvalidQueryRange is returned when a query's from is after its to.
	ErrInvalidQueryRange = errors.New("timedata: invalid query range")

	// ErrInvalidResolution is returned when a per-period query has no
	// positive resolution.
	ErrInvalidResolution = errors.New("timedata: invalid resolution")

	// ErrBackendUnavailable is returned when InfluxDB could not answer a query.
	ErrBackendUnavailable = errors.New("timedata: backend unavailable")

	// ErrBackendTimeout is returned when a query exceeded its deadline.
	ErrBackendTimeout = errors.New("timedata: backend timeout")
)

// QueryError describes a failed historic query.
type QueryError struct {
	// Op is the query operation, e.g. "QueryHistoricData".
	Op string

	// Device is the device name as given by the caller.
	Device string

	// Err is one of the package sentinel errors, possibly wrapping the cause.
	Err error
}

// Error implements error.
func (e *QueryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}
