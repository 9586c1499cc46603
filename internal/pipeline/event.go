package pipeline

import (
	"time"

	"github.com/TheMichaelB/obseal/internal/models"
)

// EventType defines pipeline event types.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventError     EventType = "error"
	EventCompleted EventType = "completed"
)

// IsTerminal reports whether the event ends a job's stream.
func (t EventType) IsTerminal() bool {
	return t == EventError || t == EventCompleted
}

// Indeterminate marks progress that has no byte granularity.
const Indeterminate int64 = -1

// Progress is a (total, current) pair. Both are Indeterminate for stages
// that only report start and end.
type Progress struct {
	Total   int64 `json:"total"`
	Current int64 `json:"current"`
}

// Done reports whether the stage has finished.
func (p Progress) Done() bool {
	return p.Current == p.Total
}

// Size is the before/after pair of the completion summary.
type Size struct {
	Before int64 `json:"before"`
	After  int64 `json:"after"`
}

// Result is the outcome of a run that got past every stage.
type Result struct {
	JobID     string           `json:"id"`
	Direction models.Direction `json:"direction"`
	Source    string           `json:"source"`
	Path      string           `json:"path,omitempty"`
	Dismissed bool             `json:"dismissed,omitempty"`
	Size      Size             `json:"size"`
	Timings   Timings          `json:"timings"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
}

// Event is one notification for a job.
type Event struct {
	Type      EventType        `json:"type"`
	JobID     string           `json:"id"`
	Direction models.Direction `json:"direction,omitempty"`
	Stage     Stage            `json:"stage,omitempty"`
	Progress  *Progress        `json:"progress,omitempty"`
	Kind      models.ErrorKind `json:"kind,omitempty"`
	Code      int              `json:"code,omitempty"`
	Message   string           `json:"message,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	Result    *Result          `json:"result,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
