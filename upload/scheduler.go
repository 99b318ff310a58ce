package upload

import (
	"context"

	"github.com/ftpkit/ftpkit/fileset"
	"github.com/ftpkit/ftpkit/log"
	"github.com/ftpkit/ftpkit/progress"
	"golang.org/x/sync/errgroup"
)

// stopRequested returns true when the run should take no new work.
func (u *Uploader) stopRequested(ctx context.Context) bool {
	return u.cancelled.Load() || ctx.Err() != nil
}

// runPhase drains files with up to MaxConcurrency workers. Per-file failures
// are recorded in st, only a worker that can not connect makes it return an
// error. Files left in the queue when the workers stop are counted as not
// attempted.
func (u *Uploader) runPhase(ctx context.Context, phase Phase, files []fileset.FileRecord, st *runState) error {
	if len(files) == 0 {
		return nil
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	queue := newWorkQueue(paths)

	workers := min(u.job.MaxConcurrency, len(paths))
	u.Log().Debug("starting upload phase", log.KeyPhase, phase.String(), log.KeyCount, len(paths), "workers", workers)

	var g errgroup.Group
	for id := 1; id <= workers; id++ {
		g.Go(func() error {
			return u.runWorker(ctx, id, phase, queue, st)
		})
	}
	err := g.Wait()

	if left := queue.remaining(); left > 0 {
		st.skip(left)
	}
	return err //nolint:wrapcheck
}

func (u *Uploader) runWorker(ctx context.Context, id int, phase Phase, queue *workQueue, st *runState) error {
	logger := u.LogWithAttrs(log.KeyWorker, id, log.KeyPhase, phase.String())

	conn, err := u.configurer.Connection()
	if err != nil {
		return &ConnectionError{Host: u.configurer.String(), Err: err}
	}
	log.InjectLogger(logger, conn)

	if err := conn.Connect(ctx); err != nil {
		logger.Error("connect failed", log.HostAttr(conn), log.ErrorAttr(err))
		return &ConnectionError{Host: conn.String(), Err: err}
	}
	defer conn.Disconnect()

	w := &worker{
		conn:        conn,
		dirs:        st.dirs,
		log:         logger,
		maxAttempts: u.job.MaxAttempts,
		retryDelay:  u.job.RetryDelay,
	}

	for !u.stopRequested(ctx) {
		localPath, ok := queue.pop()
		if !ok {
			break
		}
		u.process(ctx, w, localPath, st)
	}
	return nil
}

func (u *Uploader) process(ctx context.Context, w *worker, localPath string, st *runState) {
	file, err := fileset.Analyze(localPath, u.job.LocalRoot, u.job.RemoteRoot)
	if err != nil {
		w.log.Error("file upload failed", log.FileAttr(localPath), log.ErrorAttr(err))
		st.fail(localPath)
		return
	}

	skipped, err := w.transfer(ctx, localPath, file)
	if err != nil {
		if ctx.Err() != nil {
			w.log.Debug("transfer interrupted", log.FileAttr(localPath))
			st.skip(1)
			return
		}
		w.log.Error("file upload failed", log.FileAttr(localPath), log.RemoteAttr(file.RemotePath), log.ErrorAttr(err))
		st.fail(localPath)
		return
	}

	uploaded := st.done(file.Size, skipped)
	u.reporter.Report(progress.Progress{
		UploadedBytes: uploaded,
		TotalBytes:    st.totalBytes,
		CurrentFile:   localPath,
		Percent:       progress.Percent(uploaded, st.totalBytes),
	})
}
