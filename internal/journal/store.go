// Package journal keeps a history of finished jobs.
package journal

import (
	"sort"
	"time"

	"github.com/TheMichaelB/obseal/internal/models"
)

// CurrentSchemaVersion is bumped whenever the jobs table changes.
const CurrentSchemaVersion = 1

// Store persists job records. Records never carry the secret or timings.
type Store interface {
	// Record inserts or replaces the record with the same ID.
	Record(rec *models.JobRecord) error

	// Get returns one record or models.ErrJobNotFound.
	Get(id string) (*models.JobRecord, error)

	// List returns records newest first.
	List(opts ListOptions) ([]*models.JobRecord, error)

	// Prune removes records that finished before the cutoff and reports how many.
	Prune(before time.Time) (int64, error)

	Close() error
}

// ListOptions filters List. Zero values match everything.
type ListOptions struct {
	Limit     int
	Direction models.Direction
	Status    models.JobStatus
}

func (o ListOptions) matches(rec *models.JobRecord) bool {
	if o.Direction != "" && rec.Direction != o.Direction {
		return false
	}
	if o.Status != "" && rec.Status != o.Status {
		return false
	}
	return true
}

// apply orders already filtered records newest first and applies the limit.
func (o ListOptions) apply(recs []*models.JobRecord) []*models.JobRecord {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].FinishedAt.Equal(recs[j].FinishedAt) {
			return recs[i].FinishedAt.After(recs[j].FinishedAt)
		}
		return recs[i].ID < recs[j].ID
	})

	if o.Limit > 0 && len(recs) > o.Limit {
		recs = recs[:o.Limit]
	}
	return recs
}
