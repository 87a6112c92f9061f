package timedata

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Logger defines the logging interface used by the timedata service.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PointWriter queues points for asynchronous storage.
//
// Failures are reported later through Service.HandleWriteFailure.
// Implemented by influxdb.Client.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time)
}

// Row is one result row of a Flux query.
type Row struct {
	Time   time.Time
	Field  string
	Value  any
	Values map[string]any
}

// QueryRunner executes Flux queries.
type QueryRunner interface {
	Query(ctx context.Context, flux string) ([]Row, error)
}

// ConflictJournal persists learned overrides for later inspection.
type ConflictJournal interface {
	RecordConflict(ctx context.Context, c Conflict) error
}

// ConflictPublisher announces learned overrides to other services.
type ConflictPublisher interface {
	PublishConflict(c Conflict) error
}

// Config holds the storage layout used by the service.
type Config struct {
	// Bucket is the InfluxDB bucket queried.
	Bucket string

	// Measurement is the measurement every point is written to.
	Measurement string

	// DeviceTag is the tag key carrying the numeric device id.
	DeviceTag string

	// ReadOnly discards writes after validation.
	ReadOnly bool

	// QueryTimeout bounds each historic query; zero means no extra bound.
	QueryTimeout time.Duration
}

// Deps holds the dependencies required by the service.
type Deps struct {
	Config    Config
	Writer    PointWriter
	Querier   QueryRunner
	Registry  *Registry         // Optional: a fresh registry is created if nil
	Journal   ConflictJournal   // Optional
	Publisher ConflictPublisher // Optional
	Logger    Logger            // Optional
}

// journalTimeout bounds a single conflict journal write.
const journalTimeout = 5 * time.Second

// Service is the schema-adaptive write path and historic query layer.
//
// Writes are fire-and-forget: Write coerces samples into points and hands
// them to the PointWriter. Rejections reach HandleWriteFailure
// asynchronously, where type conflicts are learned into the Registry so
// later writes of the same field use the stored type.
//
// Thread Safety: All methods are safe for concurrent use.
type Service struct {
	cfg       Config
	writer    PointWriter
	querier   QueryRunner
	registry  *Registry
	coercer   *Coercer
	journal   ConflictJournal
	publisher ConflictPublisher
	logger    Logger
}

// NewService creates the service.
//
// Parameters:
//   - deps: Writer and Querier are required; the rest is optional
//
// Returns:
//   - *Service: Ready to use
//   - error: If required dependencies or config values are missing
func NewService(deps Deps) (*Service, error) {
	if deps.Writer == nil {
		return nil, errors.New("timedata: point writer is required")
	}
	if deps.Querier == nil {
		return nil, errors.New("timedata: query runner is required")
	}
	if deps.Config.Measurement == "" || deps.Config.DeviceTag == "" {
		return nil, errors.New("timedata: measurement and device tag are required")
	}

	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Service{
		cfg:       deps.Config,
		writer:    deps.Writer,
		querier:   deps.Querier,
		registry:  registry,
		coercer:   NewCoercer(registry, logger),
		journal:   deps.Journal,
		publisher: deps.Publisher,
		logger:    logger,
	}, nil
}

// Registry returns the override registry used by the service.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Write coerces the samples of one device and queues one point per
// timestamp, in ascending timestamp order.
//
// Points without fields are never queued. The call does not wait for
// InfluxDB; storage failures are handled by HandleWriteFailure.
//
// Returns:
//   - error: ErrMalformedDeviceName, checked before any coercion
func (s *Service) Write(deviceName string, samples Samples) error {
	id, err := ParseDeviceID(deviceName)
	if err != nil {
		return err
	}

	points := s.BuildPoints(id, samples)
	if s.cfg.ReadOnly {
		s.logger.Debug("read-only mode, discarding points",
			"device", deviceName,
			"points", len(points),
		)
		return nil
	}

	for _, p := range points {
		fields := make(map[string]any, len(p.Fields))
		for name, fv := range p.Fields {
			fields[name] = fv.Any()
		}
		tags := map[string]string{s.cfg.DeviceTag: FormatDeviceTag(p.DeviceID)}
		s.writer.WritePointWithTime(s.cfg.Measurement, tags, fields, time.UnixMilli(p.Timestamp))
	}

	return nil
}

// BuildPoints groups samples into points, one per timestamp in ascending
// order, dropping timestamps whose channels all coerced to nothing.
func (s *Service) BuildPoints(deviceID uint32, samples Samples) []Point {
	timestamps := make([]int64, 0, len(samples))
	for ts := range samples {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	points := make([]Point, 0, len(timestamps))
	for _, ts := range timestamps {
		channels := samples[ts]
		if len(channels) == 0 {
			continue
		}

		fields := make(map[string]FieldValue, len(channels))
		for channel, v := range channels {
			if fv, ok := s.coercer.Coerce(channel, v); ok {
				fields[channel] = fv
			}
		}
		if len(fields) == 0 {
			continue
		}

		points = append(points, Point{DeviceID: deviceID, Timestamp: ts, Fields: fields})
	}

	return points
}
