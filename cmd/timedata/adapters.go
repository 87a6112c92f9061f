package main

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-timedata/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-timedata/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-timedata/internal/timedata"
)

// influxQuerier adapts the InfluxDB client to timedata.QueryRunner.
type influxQuerier struct {
	client *influxdb.Client
}

// Query implements timedata.QueryRunner.
func (q *influxQuerier) Query(ctx context.Context, flux string) ([]timedata.Row, error) {
	records, err := q.client.Query(ctx, flux)
	if err != nil {
		return nil, err
	}
	return toRows(records), nil
}

// toRows converts InfluxDB records to timedata rows.
func toRows(records []influxdb.Record) []timedata.Row {
	rows := make([]timedata.Row, len(records))
	for i, r := range records {
		rows[i] = timedata.Row{
			Time:   r.Time,
			Field:  r.Field,
			Value:  r.Value,
			Values: r.Values,
		}
	}
	return rows
}

// toWriteFailure converts an InfluxDB write failure for the timedata service.
func toWriteFailure(f influxdb.WriteFailure) timedata.WriteFailure {
	points := make([]timedata.FailedPoint, len(f.Points))
	for i, p := range f.Points {
		points[i] = timedata.FailedPoint{
			Tags:   p.Tags,
			Time:   p.Time,
			Fields: p.Fields,
		}
	}
	return timedata.WriteFailure{
		Err:        f.Err,
		StatusCode: f.StatusCode,
		Message:    f.Message,
		Points:     points,
	}
}

// conflictEvent is the payload published for each learned override.
type conflictEvent struct {
	Type      string            `json:"type"`
	Conflict  timedata.Conflict `json:"conflict"`
	Timestamp time.Time         `json:"timestamp"`
}

// eventFieldOverride is the event type of a learned override.
const eventFieldOverride = "field_override"

// mqttConflictPublisher adapts the MQTT client to timedata.ConflictPublisher.
type mqttConflictPublisher struct {
	client *mqtt.Client
	now    func() time.Time
}

// PublishConflict implements timedata.ConflictPublisher.
func (p *mqttConflictPublisher) PublishConflict(c timedata.Conflict) error {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	return p.client.PublishJSON(mqtt.Topics{}.FieldOverride(), newConflictEvent(c, now()), false)
}

// newConflictEvent builds the published payload.
func newConflictEvent(c timedata.Conflict, at time.Time) conflictEvent {
	return conflictEvent{
		Type:      eventFieldOverride,
		Conflict:  c,
		Timestamp: at.UTC(),
	}
}
