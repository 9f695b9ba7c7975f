package attendance

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-portal/core"
)

// Record is an attendance mark. There is at most one per (StudentID, PeriodKey).
type Record struct {
	ID          string      `json:"id"`
	StudentID   string      `json:"student_id"`
	PeriodKey   string      `json:"period_key"`
	Granularity Granularity `json:"granularity"`
	MarkedAt    time.Time   `json:"marked_at"` // UTC
	MarkedBy    string      `json:"marked_by"`
	Note        string      `json:"note,omitempty"`
	Present     bool        `json:"present"`
}

// NewMark contains information needed to mark a student's attendance.
// The period granularity is the ledger's, never the caller's.
type NewMark struct {
	StudentID string    `json:"student_id" validate:"required"`
	Timestamp time.Time `json:"timestamp"` // zero: now
	Note      string    `json:"note" validate:"max=500"`
	Present   *bool     `json:"present"` // nil: present
	MarkedBy  string    `json:"-"`
}

func (nm *NewMark) Validate(validate *validator.Validate) error {
	nm.StudentID = core.CleanString(nm.StudentID)
	nm.Note = core.CleanString(nm.Note)
	return validate.Struct(nm)
}

// ResetFilter selects the records deleted by a reset. Set fields are AND'ed.
// Granularity and Date are a shortcut for the PeriodKey of Date.
type ResetFilter struct {
	PeriodKey   string      `json:"period_key"`
	Granularity Granularity `json:"granularity"`
	Date        time.Time   `json:"date"`
	StudentIDs  []string    `json:"student_ids"`
	MarkedFrom  time.Time   `json:"marked_from"`
	MarkedTo    time.Time   `json:"marked_to"`
}

func (rf ResetFilter) IsEmpty() bool {
	return rf.PeriodKey == "" && rf.Date.IsZero() && len(rf.StudentIDs) == 0 && rf.MarkedFrom.IsZero() && rf.MarkedTo.IsZero()
}

// Match reports whether rec is selected by the filter.
func (rf ResetFilter) Match(rec Record) bool {
	if rf.PeriodKey != "" && rec.PeriodKey != rf.PeriodKey {
		return false
	}
	if len(rf.StudentIDs) > 0 && !contains(rf.StudentIDs, rec.StudentID) {
		return false
	}
	if !rf.MarkedFrom.IsZero() && rec.MarkedAt.Before(rf.MarkedFrom) {
		return false
	}
	if !rf.MarkedTo.IsZero() && rec.MarkedAt.After(rf.MarkedTo) {
		return false
	}
	return true
}

type QueryFilter struct {
	StudentID   string      `query:"student_id"`
	PeriodKey   string      `query:"period_key"`
	Granularity Granularity `query:"granularity"`
	Present     *bool       `query:"present"`
	From        time.Time   `query:"from"`
	To          time.Time   `query:"to"`
}

// Match reports whether rec is selected by the filter.
func (qf *QueryFilter) Match(rec Record) bool {
	if qf == nil {
		return true
	}
	if qf.StudentID != "" && rec.StudentID != qf.StudentID {
		return false
	}
	if qf.PeriodKey != "" && rec.PeriodKey != qf.PeriodKey {
		return false
	}
	if qf.Granularity != "" && rec.Granularity != qf.Granularity {
		return false
	}
	if qf.Present != nil && rec.Present != *qf.Present {
		return false
	}
	if !qf.From.IsZero() && rec.MarkedAt.Before(qf.From) {
		return false
	}
	if !qf.To.IsZero() && rec.MarkedAt.After(qf.To) {
		return false
	}
	return true
}

// Summary is the attendance counter of a student.
type Summary struct {
	StudentID     string     `json:"student_id"`
	Present       int        `json:"present"`
	Absent        int        `json:"absent"`
	LastPeriodKey string     `json:"last_period_key,omitempty"`
	LastMarkedAt  *time.Time `json:"last_marked_at,omitempty"`
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
