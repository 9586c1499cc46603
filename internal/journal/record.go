package journal

import (
	"time"

	"github.com/TheMichaelB/obseal/internal/models"
	"github.com/TheMichaelB/obseal/internal/pipeline"
)

// NewRecord builds the history entry for a finished run. startedAt and
// finishedAt are used when the run failed before producing a result.
func NewRecord(job *models.Job, res *pipeline.Result, err error, startedAt, finishedAt time.Time) *models.JobRecord {
	rec := &models.JobRecord{
		ID:         job.ID,
		Direction:  job.Direction,
		Source:     job.Path,
		StartedAt:  startedAt.UTC(),
		FinishedAt: finishedAt.UTC(),
	}

	if res != nil {
		rec.Output = res.Path
		rec.SizeBefore = res.Size.Before
		rec.SizeAfter = res.Size.After
		if !res.StartedAt.IsZero() {
			rec.StartedAt = res.StartedAt.UTC()
		}
		if !res.EndedAt.IsZero() {
			rec.FinishedAt = res.EndedAt.UTC()
		}
	}

	switch {
	case err != nil:
		rec.Status = models.StatusFailed
		rec.ErrorMessage = err.Error()
		if kind, ok := models.KindOf(err); ok {
			rec.ErrorKind = kind
		}
	case res != nil && res.Dismissed:
		rec.Status = models.StatusDismissed
	default:
		rec.Status = models.StatusCompleted
	}

	return rec
}
