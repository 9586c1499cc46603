package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction selects the pipeline run.
type Direction string

const (
	DirectionSeal   Direction = "seal"
	DirectionUnseal Direction = "unseal"
)

// ParseDirection accepts the names used by the CLI and HTTP API.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "seal", "encrypt":
		return DirectionSeal, nil
	case "unseal", "decrypt":
		return DirectionUnseal, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidJob, s)
	}
}

// Job describes one pipeline run. It is immutable once submitted.
type Job struct {
	ID        string
	Direction Direction
	Path      string
	Secret    []byte
	Bit       byte
}

// NewJob creates a job with a fresh correlation ID.
func NewJob(direction Direction, path string, secret []byte, bit byte) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Direction: direction,
		Path:      path,
		Secret:    secret,
		Bit:       bit,
	}
}

// Validate checks the descriptor before a run starts.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: missing correlation id", ErrInvalidJob)
	}
	if strings.ContainsAny(j.ID, `/\`) {
		return fmt.Errorf("%w: correlation id %q is not a valid file name", ErrInvalidJob, j.ID)
	}
	if j.Path == "" {
		return fmt.Errorf("%w: missing source path", ErrInvalidJob)
	}
	if j.Direction != DirectionSeal && j.Direction != DirectionUnseal {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidJob, j.Direction)
	}
	return nil
}

// Wipe zeroes the secret once the key has been derived.
func (j *Job) Wipe() {
	clear(j.Secret)
}

// JobStatus is the recorded outcome of a job.
type JobStatus string

const (
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusDismissed JobStatus = "dismissed" // save was cancelled by the user
)

// JobRecord is the journal entry for a finished job. It never holds the secret
// or stage timings.
type JobRecord struct {
	ID           string    `json:"id"`
	Direction    Direction `json:"direction"`
	Source       string    `json:"source"`
	Output       string    `json:"output,omitempty"`
	Status       JobStatus `json:"status"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	SizeBefore   int64     `json:"size_before"`
	SizeAfter    int64     `json:"size_after"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Duration returns how long the job ran.
func (r *JobRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
