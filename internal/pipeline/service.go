package pipeline

import (
	"context"
	"sync"

	"github.com/TheMichaelB/obseal/internal/events"
	"github.com/TheMichaelB/obseal/internal/models"
	"github.com/TheMichaelB/obseal/internal/workers"
)

// Outcome pairs a job with how it ended.
type Outcome struct {
	Job    *models.Job
	Result *Result
	Err    error
}

// Service runs many independent jobs on one orchestrator.
type Service struct {
	orch          *Orchestrator
	maxConcurrent int
	logger        *events.Logger

	wg sync.WaitGroup
}

// NewService creates a service allowing maxConcurrent jobs per batch.
func NewService(orch *Orchestrator, maxConcurrent int, logger *events.Logger) *Service {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Service{
		orch:          orch,
		maxConcurrent: maxConcurrent,
		logger:        logger.WithField("service", "pipeline"),
	}
}

// Run executes a single job synchronously.
func (s *Service) Run(ctx context.Context, job *models.Job) (*Result, error) {
	return s.orch.Run(ctx, job)
}

// RunBatch executes jobs concurrently and returns one outcome per job, in
// input order. The error is a *workers.BatchError when any job failed.
func (s *Service) RunBatch(ctx context.Context, jobs []*models.Job) ([]Outcome, error) {
	outcomes := make([]Outcome, len(jobs))
	for i, job := range jobs {
		outcomes[i].Job = job
	}

	s.logger.WithFields(map[string]interface{}{
		"jobs":           len(jobs),
		"max_concurrent": s.maxConcurrent,
	}).Debug("Starting batch")

	err := workers.RunBatch(ctx, len(jobs), s.maxConcurrent, func(ctx context.Context, i int) error {
		res, err := s.orch.Run(ctx, jobs[i])
		outcomes[i].Result = res
		outcomes[i].Err = err
		return err
	})

	if batchErr, ok := err.(*workers.BatchError); ok {
		// Jobs that never started because ctx ended.
		for i, e := range batchErr.Errors {
			if outcomes[i].Err == nil {
				outcomes[i].Err = e
			}
		}
	}

	return outcomes, err
}

// Go starts job in the background and calls done with its outcome.
func (s *Service) Go(ctx context.Context, job *models.Job, done func(Outcome)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.orch.Run(ctx, job)
		if done != nil {
			done(Outcome{Job: job, Result: res, Err: err})
		}
	}()
}

// Wait blocks until every job started with Go has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
