package audit

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-timedata/internal/timedata"
)

// Audit vocabulary of the conflict journal.
const (
	ActionLearn    = "learn"
	EntityField    = "field"
	SourceInfluxDB = "influxdb"
)

// ConflictJournal appends learned field overrides to the audit log.
//
// It implements timedata.ConflictJournal. The journal is informational:
// overrides are not restored from it on startup.
type ConflictJournal struct {
	repo Repository
}

// NewConflictJournal creates a journal writing through repo.
func NewConflictJournal(repo Repository) *ConflictJournal {
	return &ConflictJournal{repo: repo}
}

// RecordConflict stores one learned override.
func (j *ConflictJournal) RecordConflict(ctx context.Context, c timedata.Conflict) error {
	details := map[string]any{
		"measurement":   c.Measurement,
		"rejected_type": c.Got,
		"stored_type":   c.Want.String(),
	}
	if c.Message != "" {
		details["message"] = c.Message
	}

	err := j.repo.Create(ctx, &AuditLog{
		Action:     ActionLearn,
		EntityType: EntityField,
		EntityID:   c.Field,
		Source:     SourceInfluxDB,
		Details:    details,
	})
	if err != nil {
		return fmt.Errorf("journaling override for %q: %w", c.Field, err)
	}
	return nil
}

// Conflicts lists journaled overrides, most recent first.
// filter.Action and filter.EntityType are forced to the journal's values.
func (j *ConflictJournal) Conflicts(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.Action = ActionLearn
	filter.EntityType = EntityField
	return j.repo.List(ctx, filter)
}
