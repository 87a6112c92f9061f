package timedata

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// maxLoggedPoints bounds the per-point detail logged for a lost batch.
const maxLoggedPoints = 10

// conflictPattern matches the field type conflict reported by InfluxDB.
// One message may contain several. Field names containing an escaped
// quote are not matched; channel addresses never contain one.
var conflictPattern = regexp.MustCompile(
	`field type conflict: input field "([^"]+)" on measurement "([^"]*)" is type (\w+), already exists as type (\w+)`,
)

// WriteFailure describes a batch the writer could not store.
type WriteFailure struct {
	Err        error
	StatusCode int
	Message    string
	Points     []FailedPoint
}

// FailedPoint identifies a point of a lost batch.
type FailedPoint struct {
	Tags   map[string]string
	Time   time.Time
	Fields []string
}

// Conflict is a field type conflict reported by InfluxDB.
type Conflict struct {
	Field       string    `json:"field"`
	Measurement string    `json:"measurement"`
	Got         string    `json:"got"`
	Want        FieldKind `json:"want"`
	Message     string    `json:"message,omitempty"`
}

// ParseConflicts extracts every type conflict from an InfluxDB error
// message. Conflicts naming an unknown stored type are skipped.
func ParseConflicts(message string) []Conflict {
	matches := conflictPattern.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return nil
	}

	conflicts := make([]Conflict, 0, len(matches))
	for _, m := range matches {
		want, ok := ParseFieldKind(m[4])
		if !ok {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Field:       m[1],
			Measurement: m[2],
			Got:         m[3],
			Want:        want,
			Message:     m[0],
		})
	}
	return conflicts
}

// HandleWriteFailure processes a batch InfluxDB did not store.
//
// Type conflicts are learned into the registry; the rejected values are
// not retried. Each newly learned override is logged, journaled and
// published. Any other failure is logged with the affected points.
//
// Safe for concurrent invocation.
func (s *Service) HandleWriteFailure(f WriteFailure) {
	message := f.Message
	if message == "" && f.Err != nil {
		message = f.Err.Error()
	}

	if conflicts := ParseConflicts(message); len(conflicts) > 0 {
		for _, c := range conflicts {
			s.learn(c)
		}
		return
	}

	s.logger.Error("influxdb write failed",
		"status", f.StatusCode,
		"error", message,
		"points", len(f.Points),
		"lost", s.describePoints(f.Points),
	)
}

// learn registers the override for a conflict and reports it once.
func (s *Service) learn(c Conflict) {
	if !s.registry.Learn(c.Field, c.Want) {
		s.logger.Debug("field override already known", "field", c.Field, "type", c.Want.String())
		return
	}

	s.logger.Info("learned field override",
		"field", c.Field,
		"measurement", c.Measurement,
		"rejected_type", c.Got,
		"stored_type", c.Want.String(),
	)

	if s.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		err := s.journal.RecordConflict(ctx, c)
		cancel()
		if err != nil {
			s.logger.Warn("failed to journal field override", "field", c.Field, "error", err)
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishConflict(c); err != nil {
			s.logger.Warn("failed to publish field override", "field", c.Field, "error", err)
		}
	}
}

// describePoints renders the first points of a lost batch for logging.
func (s *Service) describePoints(points []FailedPoint) []string {
	n := min(len(points), maxLoggedPoints)
	out := make([]string, 0, n)
	for _, p := range points[:n] {
		out = append(out, fmt.Sprintf("device=%s ts=%d fields=%d",
			p.Tags[s.cfg.DeviceTag], p.Time.UnixMilli(), len(p.Fields)))
	}
	return out
}
