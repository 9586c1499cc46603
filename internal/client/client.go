// Package client wires configuration, pipeline stages, persistence and the
// job journal into one entry point for the CLI and the daemon.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/TheMichaelB/obseal/internal/config"
	"github.com/TheMichaelB/obseal/internal/crypto"
	"github.com/TheMichaelB/obseal/internal/events"
	"github.com/TheMichaelB/obseal/internal/journal"
	"github.com/TheMichaelB/obseal/internal/models"
	"github.com/TheMichaelB/obseal/internal/pipeline"
	"github.com/TheMichaelB/obseal/internal/sniff"
	"github.com/TheMichaelB/obseal/internal/storage"
	"github.com/TheMichaelB/obseal/internal/workers"
)

// Options override parts of what New builds from the config.
type Options struct {
	// Sink receives every job event in addition to the log.
	Sink pipeline.Sink

	// Saver replaces the configured local or S3 saver.
	Saver storage.Saver

	// Choose, when set, confirms or renames each destination before saving.
	Choose storage.ChooseFunc

	// Journal replaces the configured journal.
	Journal journal.Store
}

// Client provides the high-level API for obseal operations.
type Client struct {
	Service *pipeline.Service
	Journal journal.Store

	config *config.Config
	logger *events.Logger
	pool   *workers.Pool
	now    func() time.Time
}

// New creates a client from cfg.
func New(ctx context.Context, cfg *config.Config, logger *events.Logger, opts Options) (*Client, error) {
	kdf, err := crypto.NewKeyDeriver(cfg.Pipeline.KDF)
	if err != nil {
		return nil, err
	}

	saver := opts.Saver
	if saver == nil {
		saver, err = newSaver(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	if opts.Choose != nil {
		saver = storage.NewDialogSaver(saver, opts.Choose)
	}

	store := opts.Journal
	if store == nil && cfg.Journal.Enabled {
		store, err = newJournal(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}

	pool := workers.NewPool(cfg.Pipeline.Workers)

	sinks := pipeline.FanOut{pipeline.NewLogSink(logger)}
	if opts.Sink != nil {
		sinks = append(sinks, opts.Sink)
	}

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Crypto:  crypto.NewProvider(kdf),
		Reader:  storage.NewChunkedReader(cfg.Pipeline.ChunkSize),
		Spill:   storage.NewSpill(cfg.Pipeline.TempDir, cfg.Pipeline.ChunkSize, logger),
		Saver:   saver,
		Sniffer: sniff.New(),
		Pool:    pool,
	}, sinks, logger)

	return &Client{
		Service: pipeline.NewService(orch, cfg.Pipeline.MaxConcurrent, logger),
		Journal: store,
		config:  cfg,
		logger:  logger.WithField("component", "client"),
		pool:    pool,
		now:     time.Now,
	}, nil
}

func newSaver(ctx context.Context, cfg *config.Config, logger *events.Logger) (storage.Saver, error) {
	strategy, err := storage.ParseConflictStrategy(cfg.Storage.Conflict)
	if err != nil {
		return nil, err
	}

	if cfg.Storage.S3.Bucket != "" {
		s3Saver, err := storage.NewS3Saver(ctx, cfg.Storage.S3, logger)
		if err != nil {
			return nil, fmt.Errorf("create s3 saver: %w", err)
		}
		s3Saver.SetConflictStrategy(strategy)
		return s3Saver, nil
	}

	local, err := storage.NewLocalSaver(cfg.Storage.OutputDir, logger)
	if err != nil {
		return nil, fmt.Errorf("create local saver: %w", err)
	}
	local.SetConflictStrategy(strategy)
	return local, nil
}

func newJournal(ctx context.Context, cfg *config.Config, logger *events.Logger) (journal.Store, error) {
	switch cfg.Journal.Backend {
	case config.JournalDynamoDB:
		return journal.NewDynamoDBStore(ctx, cfg.Journal, logger)
	default:
		return journal.NewSQLiteStore(cfg.Journal.Path, logger)
	}
}

// Run executes one job and records its outcome.
func (c *Client) Run(ctx context.Context, job *models.Job) (*pipeline.Result, error) {
	started := c.now()
	res, err := c.Service.Run(ctx, job)
	c.record(job, res, err, started)
	return res, err
}

// RunBatch executes jobs concurrently and records every outcome.
func (c *Client) RunBatch(ctx context.Context, jobs []*models.Job) ([]pipeline.Outcome, error) {
	started := c.now()
	outcomes, err := c.Service.RunBatch(ctx, jobs)
	for _, o := range outcomes {
		c.record(o.Job, o.Result, o.Err, started)
	}
	return outcomes, err
}

// Go starts job in the background, records it when it finishes, then calls
// done.
func (c *Client) Go(ctx context.Context, job *models.Job, done func(pipeline.Outcome)) {
	started := c.now()
	c.Service.Go(ctx, job, func(o pipeline.Outcome) {
		c.record(o.Job, o.Result, o.Err, started)
		if done != nil {
			done(o)
		}
	})
}

// History lists recorded jobs, newest first.
func (c *Client) History(opts journal.ListOptions) ([]*models.JobRecord, error) {
	if c.Journal == nil {
		return nil, fmt.Errorf("job history is disabled")
	}
	return c.Journal.List(opts)
}

// Config returns the configuration the client was built from.
func (c *Client) Config() *config.Config {
	return c.config
}

// Close waits for background jobs and releases the pool and journal.
func (c *Client) Close() error {
	c.Service.Wait()
	c.pool.Close()
	if c.Journal != nil {
		return c.Journal.Close()
	}
	return nil
}

// record never fails the job; a journal problem is only logged.
func (c *Client) record(job *models.Job, res *pipeline.Result, runErr error, started time.Time) {
	if c.Journal == nil || job == nil {
		return
	}

	rec := journal.NewRecord(job, res, runErr, started, c.now())
	if err := c.Journal.Record(rec); err != nil {
		c.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to record job")
	}
}
