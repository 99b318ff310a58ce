// Package upload synchronizes a local directory tree to a remote directory
// over any protocol.Connection.
//
// Files are uploaded in two phases. Regular files go first, entry files such as
// index.html are held back until every regular file has been processed so the
// remote never serves a new entry point that refers to missing assets. Each
// phase is drained by a bounded number of workers, each owning one connection.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/ftpkit/ftpkit/fileset"
	"github.com/ftpkit/ftpkit/log"
	"github.com/ftpkit/ftpkit/progress"
	"github.com/ftpkit/ftpkit/protocol"
)

const (
	DefaultMaxConcurrency = 3
	DefaultMaxAttempts    = 5
	DefaultEntry          = "index.html"
	DefaultRemoteRoot     = "/"
)

// Job describes what to upload and where.
type Job struct {
	LocalRoot  string
	RemoteRoot string
	// Entries lists the base names of files uploaded last, in this order.
	// A nil slice means index.html, an empty one disables entry handling.
	Entries []string
	// MaxConcurrency bounds the number of simultaneous connections per phase.
	MaxConcurrency int
	// MaxAttempts bounds the number of tries per file.
	MaxAttempts int
	// RetryDelay is waited between attempts, multiplied by the attempt number.
	RetryDelay time.Duration
}

func (j *Job) setDefaults() error {
	if j.LocalRoot == "" {
		return fmt.Errorf("%w: local root is required", ErrInvalidJob)
	}
	abs, err := filepath.Abs(j.LocalRoot)
	if err != nil {
		return fmt.Errorf("%w: resolve local root: %w", ErrInvalidJob, err)
	}
	j.LocalRoot = abs
	if j.RemoteRoot == "" {
		j.RemoteRoot = DefaultRemoteRoot
	}
	if j.Entries == nil {
		j.Entries = []string{DefaultEntry}
	} else {
		j.Entries = append([]string(nil), j.Entries...)
	}
	if j.MaxConcurrency == 0 {
		j.MaxConcurrency = DefaultMaxConcurrency
	}
	if j.MaxConcurrency < 0 {
		return fmt.Errorf("%w: max concurrency must be positive", ErrInvalidJob)
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	if j.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidJob)
	}
	if j.RetryDelay < 0 {
		return fmt.Errorf("%w: retry delay can not be negative", ErrInvalidJob)
	}
	return nil
}

// Options for the Uploader.
type Options struct {
	log.LoggerInjectable
	observers []progress.Observer
}

// Option is a functional option for the Uploader.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *Options) {
		o.SetLogger(l)
	}
}

// WithObserver attaches a progress observer. Nil observers are ignored.
func WithObserver(obs progress.Observer) Option {
	return func(o *Options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithProgressFunc calls fn after every uploaded or skipped file.
func WithProgressFunc(fn func(progress.Progress)) Option {
	if fn == nil {
		return func(*Options) {}
	}
	return WithObserver(progress.Func(fn))
}

// Uploader runs a single upload job.
type Uploader struct {
	log.LoggerInjectable

	job        Job
	configurer protocol.ConnectionConfigurer
	reporter   *progress.Reporter

	state     atomic.Int32
	cancelled atomic.Bool
}

// New returns an Uploader for job that connects using configurer.
func New(job Job, configurer protocol.ConnectionConfigurer, opts ...Option) (*Uploader, error) {
	if configurer == nil {
		return nil, fmt.Errorf("%w: no connection configured", ErrInvalidJob)
	}
	if err := job.setDefaults(); err != nil {
		return nil, err
	}

	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	reporter, err := progress.NewReporter(options.observers...)
	if err != nil {
		return nil, fmt.Errorf("create progress reporter: %w", err)
	}

	u := &Uploader{job: job, configurer: configurer, reporter: reporter}
	options.InjectLoggerTo(u, log.KeyComponent, "upload")
	return u, nil
}

// Job returns the job with defaults applied.
func (u *Uploader) Job() Job {
	return u.job
}

// State returns the current lifecycle state.
func (u *Uploader) State() State {
	return State(u.state.Load())
}

func (u *Uploader) setState(s State) {
	u.state.Store(int32(s))
}

// Cancel asks the run to stop. Workers finish the file they are transferring
// and take no new work, the entry phase does not start and progress display
// stops immediately. Calling Cancel more than once has no further effect.
func (u *Uploader) Cancel() {
	if !u.cancelled.CompareAndSwap(false, true) {
		return
	}
	u.reporter.Halt()
	u.Log().Warn("upload cancelled by user")
}

// Cancelled returns true once Cancel has been called.
func (u *Uploader) Cancelled() bool {
	return u.cancelled.Load()
}

// Run performs the upload. It can be called once.
//
// The returned error is nil when every file was uploaded or found up to date.
// Otherwise it is a *RunFailedError listing the failed files, ErrCancelled,
// an ErrEnumeration wrapped error or a *ConnectionError. The Result is
// returned whenever the run got past argument checks.
func (u *Uploader) Run(ctx context.Context) (*Result, error) {
	if !u.state.CompareAndSwap(int32(StateIdle), int32(StateEnumerating)) {
		return nil, ErrAlreadyStarted
	}

	u.Log().Info("syncing directory", log.FileAttr(u.job.LocalRoot), log.RemoteAttr(u.job.RemoteRoot), log.HostAttr(u.configurer))

	files, err := fileset.Enumerate(u.job.LocalRoot)
	if err != nil {
		return u.abort(newRunState(0), err)
	}
	total, err := fileset.TotalSize(files)
	if err != nil {
		return u.abort(newRunState(0), fmt.Errorf("%w: %w", ErrEnumeration, err))
	}
	regular, entries := fileset.Partition(files, u.job.Entries)
	log.Trace(ctx, "partitioned files", "regular", len(regular), "entries", len(entries), log.KeyBytes, total)

	st := newRunState(total)
	u.reporter.Start(total)
	defer u.reporter.Finish()

	u.setState(StateUploadingRegular)
	if err := u.runPhase(ctx, PhaseRegular, regular, st); err != nil {
		st.skip(len(entries))
		return u.abort(st, err)
	}

	if u.stopRequested(ctx) {
		st.skip(len(entries))
	} else {
		u.setState(StateUploadingEntries)
		if err := u.runPhase(ctx, PhaseEntries, entries, st); err != nil {
			return u.abort(st, err)
		}
	}

	return u.finish(ctx, st)
}

func (u *Uploader) abort(st *runState, err error) (*Result, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		u.setState(StateCancelled)
		return st.result(StateCancelled), fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	u.setState(StateFailed)
	u.Log().Error("upload failed", log.ErrorAttr(err))
	return st.result(StateFailed), err
}

func (u *Uploader) finish(ctx context.Context, st *runState) (*Result, error) {
	state := StateCompleted
	switch {
	case u.stopRequested(ctx):
		state = StateCancelled
	case len(st.failed) > 0:
		state = StateCompletedWithFailures
	}
	u.setState(state)
	result := st.result(state)

	if len(result.Failed) > 0 {
		for _, f := range result.Failed {
			u.Log().Error("file was not uploaded", log.FileAttr(f))
		}
		u.Log().Error("upload finished with failures", log.KeyCount, len(result.Failed))
		return result, &RunFailedError{Files: result.Failed}
	}
	if state == StateCancelled {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		return result, ErrCancelled
	}
	u.Log().Info("upload finished", "uploaded", result.Uploaded, "skipped", result.Skipped, log.KeyBytes, result.UploadedBytes)
	return result, nil
}
