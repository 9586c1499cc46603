package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheMichaelB/obseal/internal/compress"
	"github.com/TheMichaelB/obseal/internal/crypto"
	"github.com/TheMichaelB/obseal/internal/events"
	"github.com/TheMichaelB/obseal/internal/models"
	"github.com/TheMichaelB/obseal/internal/sniff"
	"github.com/TheMichaelB/obseal/internal/storage"
	"github.com/TheMichaelB/obseal/internal/workers"
)

// Stage failure messages shown to users.
const (
	msgReadFailed       = "Read failed"
	msgCompressFailed   = "Compress failed"
	msgDecompressFailed = "Decompress failed"
	msgEncryptFailed    = "Encrypt failed"
	msgDecryptFailed    = "Decrypt failed"
	msgChecksumFailed   = "Checksum failed."
	msgDigestFailed     = "Digest failed"
	msgTempFailed       = "Temp storage failed"
	msgSaveFailed       = "Save failed"
	msgCanceled         = "Canceled"
)

// Deps are the stage implementations an Orchestrator sequences. They are
// shared read-only by every job.
type Deps struct {
	Crypto  crypto.Provider
	Reader  *storage.ChunkedReader
	Spill   *storage.Spill
	Saver   storage.Saver
	Sniffer sniff.Sniffer
	Pool    *workers.Pool
}

// Orchestrator runs seal and unseal jobs. Each call owns its working buffer,
// spill file and timing table; nothing is shared between concurrent jobs.
type Orchestrator struct {
	deps   Deps
	sink   Sink
	logger *events.Logger
	now    func() time.Time
}

// NewOrchestrator creates an orchestrator. Missing optional deps get
// defaults; Saver is required.
func NewOrchestrator(deps Deps, sink Sink, logger *events.Logger) *Orchestrator {
	if deps.Crypto == nil {
		deps.Crypto = crypto.NewProvider(nil)
	}
	if deps.Reader == nil {
		deps.Reader = storage.NewChunkedReader(storage.DefaultChunkSize)
	}
	if deps.Spill == nil {
		deps.Spill = storage.NewSpill("", storage.DefaultChunkSize, logger)
	}
	if deps.Sniffer == nil {
		deps.Sniffer = sniff.New()
	}
	if sink == nil {
		sink = NopSink{}
	}

	return &Orchestrator{
		deps:   deps,
		sink:   sink,
		logger: logger.WithField("component", "orchestrator"),
		now:    time.Now,
	}
}

// SetClock replaces the time source used for timings and event timestamps.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Seal runs job in the seal direction.
func (o *Orchestrator) Seal(ctx context.Context, job *models.Job) (*Result, error) {
	j := *job
	j.Direction = models.DirectionSeal
	return o.Run(ctx, &j)
}

// Unseal runs job in the unseal direction.
func (o *Orchestrator) Unseal(ctx context.Context, job *models.Job) (*Result, error) {
	j := *job
	j.Direction = models.DirectionUnseal
	return o.Run(ctx, &j)
}

// Run executes one job end to end. On failure it emits exactly one error
// event and returns a *models.PipelineError. On success it emits exactly one
// completed event, unless the saver declined, in which case no terminal event
// is emitted and the result has Dismissed set.
//
// A job that fails validation, or an orchestrator without a saver, is
// rejected before the job exists on the event stream: the error is returned
// and nothing is emitted.
//
// Context cancellation is observed between stages only.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if o.deps.Saver == nil {
		return nil, fmt.Errorf("%w: no saver configured", models.ErrInvalidJob)
	}

	r := &run{
		o:       o,
		job:     job,
		machine: NewMachine(job.Direction),
		timer:   newTimer(o.now),
		logger: o.logger.WithFields(map[string]interface{}{
			"job_id":    job.ID,
			"direction": string(job.Direction),
		}),
		started: o.now(),
	}
	defer r.release()

	r.emit(Event{Type: EventStarted})
	r.logger.WithField("source", job.Path).Debug("Job started")

	var (
		res *Result
		err error
	)
	if job.Direction == models.DirectionSeal {
		res, err = r.seal(ctx)
	} else {
		res, err = r.unseal(ctx)
	}

	if err != nil {
		return nil, r.fail(err)
	}
	return res, nil
}

// run is the private state of one job.
type run struct {
	o       *Orchestrator
	job     *models.Job
	machine *Machine
	timer   *timer
	logger  *events.Logger
	started time.Time

	stage  Stage
	buf    []byte
	loaded int64 // raw size at load, reported as size.before
}

func (r *run) emit(e Event) {
	e.JobID = r.job.ID
	e.Direction = r.job.Direction
	e.Timestamp = r.o.now()
	r.o.sink.Emit(e)
}

func (r *run) progress(total, current int64) {
	r.emit(Event{
		Type:     EventProgress,
		Stage:    r.stage,
		Progress: &Progress{Total: total, Current: current},
	})
}

// enter checks for cancellation and moves the machine into the next state.
func (r *run) enter(ctx context.Context, state State, stage Stage) error {
	r.stage = stage
	if err := ctx.Err(); err != nil {
		return r.stageError(models.KindCanceled, msgCanceled, err)
	}
	if err := r.machine.Advance(state); err != nil {
		// The run functions walk the path in order; reaching this is a bug.
		panic(err)
	}
	return nil
}

// cpu runs a CPU-bound stage on the shared pool.
func (r *run) cpu(ctx context.Context, fn func() error) error {
	if r.o.deps.Pool == nil {
		return fn()
	}
	return r.o.deps.Pool.Do(ctx, fn)
}

// replace hands ownership of the working buffer to the next stage.
func (r *run) replace(next []byte) {
	if len(r.buf) > 0 && len(next) > 0 && &r.buf[0] == &next[0] {
		r.buf = next
		return
	}
	clear(r.buf)
	r.buf = next
}

func (r *run) release() {
	clear(r.buf)
	r.buf = nil
}

func (r *run) stageError(kind models.ErrorKind, msg string, err error) *models.PipelineError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = models.KindCanceled
		msg = msgCanceled
	}
	return &models.PipelineError{
		JobID:   r.job.ID,
		Kind:    kind,
		Stage:   string(r.stage),
		Message: msg,
		Err:     err,
	}
}

func (r *run) fail(err error) error {
	var pe *models.PipelineError
	if !errors.As(err, &pe) {
		pe = r.stageError(models.KindFileAccess, err.Error(), err)
	}

	_ = r.machine.Fail()

	e := Event{
		Type:    EventError,
		Stage:   Stage(pe.Stage),
		Kind:    pe.Kind,
		Code:    pe.Kind.Code(),
		Message: pe.Message,
	}
	if pe.Err != nil {
		e.Detail = pe.Err.Error()
	}
	r.emit(e)

	r.logger.WithError(err).WithField("stage", pe.Stage).Debug("Job failed")
	return pe
}

func (r *run) load(ctx context.Context) error {
	if err := r.enter(ctx, StateLoading, StageLoad); err != nil {
		return err
	}

	r.timer.start(StageLoad)
	data, err := r.o.deps.Reader.Read(ctx, r.job.Path, r.progress)
	r.timer.stop(StageLoad)
	if err != nil {
		return r.stageError(models.KindFileAccess, msgReadFailed, err)
	}

	r.replace(data)
	r.loaded = int64(len(data))
	return nil
}

func (r *run) obfuscate(ctx context.Context) error {
	if err := r.enter(ctx, StateObfuscating, StageObfuscate); err != nil {
		return err
	}

	r.timer.start(StageObfuscate)
	in := r.buf
	r.buf = nil
	out, err := r.o.deps.Spill.XOR(ctx, r.job.ID, in, r.job.Bit, r.progress)
	r.timer.stop(StageObfuscate)
	if err != nil {
		return r.stageError(models.KindTempStorage, msgTempFailed, err)
	}

	r.replace(out)
	return nil
}

// persist saves the working buffer. An empty saved path dismisses the job
// without a terminal event.
func (r *run) persist(ctx context.Context, name string) (*Result, error) {
	if err := r.enter(ctx, StatePersisting, StagePersist); err != nil {
		return nil, err
	}

	path, err := r.o.deps.Saver.Save(ctx, name, r.buf)
	if err != nil {
		return nil, r.stageError(models.KindPersistence, msgSaveFailed, err)
	}

	res := &Result{
		JobID:     r.job.ID,
		Direction: r.job.Direction,
		Source:    r.job.Path,
		Path:      path,
		Size:      Size{Before: r.loaded, After: int64(len(r.buf))},
		Timings:   r.timer.snapshot(),
		StartedAt: r.started,
		EndedAt:   r.o.now(),
	}

	if path == "" {
		_ = r.machine.Advance(StateDismissed)
		res.Dismissed = true
		r.logger.Info("Save declined, job dismissed")
		return res, nil
	}

	_ = r.machine.Advance(StateCompleted)
	r.emit(Event{Type: EventCompleted, Result: res})
	return res, nil
}

func (r *run) seal(ctx context.Context) (*Result, error) {
	if err := r.load(ctx); err != nil {
		return nil, err
	}

	// Digest
	if err := r.enter(ctx, StateDigesting, StageDigest); err != nil {
		return nil, err
	}
	var digest []byte
	r.timer.start(StageDigest)
	err := r.cpu(ctx, func() error {
		digest = r.o.deps.Crypto.Digest(r.buf)
		return nil
	})
	r.timer.stop(StageDigest)
	if err != nil {
		return nil, r.stageError(models.KindIntegrity, msgDigestFailed, err)
	}

	// Compress
	if err := r.enter(ctx, StateCompressing, StageCompress); err != nil {
		return nil, err
	}
	r.progress(Indeterminate, Indeterminate)
	r.timer.start(StageCompress)
	var packed []byte
	err = r.cpu(ctx, func() error {
		var err error
		packed, err = compress.Deflate(r.buf)
		return err
	})
	r.timer.stop(StageCompress)
	if err != nil {
		return nil, r.stageError(models.KindCompression, msgCompressFailed, err)
	}
	r.replace(packed)
	r.progress(Indeterminate, Indeterminate)

	// Encrypt digest || payload
	if err := r.enter(ctx, StateCiphering, StageCipher); err != nil {
		return nil, err
	}
	r.progress(1, 0)
	r.timer.start(StageCipher)
	var sealed []byte
	err = r.cpu(ctx, func() error {
		key, err := r.o.deps.Crypto.DeriveKey(r.job.Secret)
		if err != nil {
			return err
		}
		defer clear(key)

		plain := make([]byte, 0, len(digest)+len(r.buf))
		plain = append(append(plain, digest...), r.buf...)
		defer clear(plain)

		sealed, err = r.o.deps.Crypto.Encrypt(plain, key)
		return err
	})
	r.timer.stop(StageCipher)
	if err != nil {
		return nil, r.stageError(models.KindCipher, msgEncryptFailed, err)
	}
	r.replace(sealed)
	r.progress(1, 1)

	if err := r.obfuscate(ctx); err != nil {
		return nil, err
	}

	return r.persist(ctx, SealName(r.job.Path))
}

func (r *run) unseal(ctx context.Context) (*Result, error) {
	if err := r.load(ctx); err != nil {
		return nil, err
	}

	if err := r.obfuscate(ctx); err != nil {
		return nil, err
	}

	// Decrypt
	if err := r.enter(ctx, StateCiphering, StageCipher); err != nil {
		return nil, err
	}
	r.progress(1, 0)
	r.timer.start(StageCipher)
	var plain []byte
	err := r.cpu(ctx, func() error {
		key, err := r.o.deps.Crypto.DeriveKey(r.job.Secret)
		if err != nil {
			return err
		}
		defer clear(key)

		plain, err = r.o.deps.Crypto.Decrypt(r.buf, key)
		return err
	})
	r.timer.stop(StageCipher)
	if err != nil {
		return nil, r.stageError(models.KindCipher, msgDecryptFailed, err)
	}
	r.replace(plain)
	r.progress(1, 1)

	// Split and decompress
	if err := r.enter(ctx, StateDecompressing, StageCompress); err != nil {
		return nil, err
	}
	if len(r.buf) < crypto.DigestSize {
		return nil, r.stageError(models.KindIntegrity, msgChecksumFailed,
			fmt.Errorf("%w: payload holds %d bytes, shorter than the digest", models.ErrIntegrityCheckFail, len(r.buf)))
	}
	stored := make([]byte, crypto.DigestSize)
	copy(stored, r.buf[:crypto.DigestSize])

	r.progress(Indeterminate, Indeterminate)
	r.timer.start(StageCompress)
	var recovered []byte
	err = r.cpu(ctx, func() error {
		var err error
		recovered, err = compress.Inflate(r.buf[crypto.DigestSize:])
		return err
	})
	r.timer.stop(StageCompress)
	if err != nil {
		return nil, r.stageError(models.KindCompression, msgDecompressFailed, err)
	}
	r.replace(recovered)
	r.progress(Indeterminate, Indeterminate)

	// Verify
	if err := r.enter(ctx, StateVerifying, StageVerify); err != nil {
		return nil, err
	}
	var ok bool
	r.timer.start(StageVerify)
	err = r.cpu(ctx, func() error {
		ok = r.o.deps.Crypto.DigestEqual(r.o.deps.Crypto.Digest(r.buf), stored)
		return nil
	})
	r.timer.stop(StageVerify)
	if err != nil {
		return nil, r.stageError(models.KindIntegrity, msgDigestFailed, err)
	}
	if !ok {
		return nil, r.stageError(models.KindIntegrity, msgChecksumFailed, models.ErrIntegrityCheckFail)
	}

	ext, _ := r.o.deps.Sniffer.Sniff(r.buf)
	return r.persist(ctx, UnsealName(r.job.Path, ext))
}
