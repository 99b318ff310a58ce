package upload

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/ftpkit/ftpkit/dircache"
	"github.com/ftpkit/ftpkit/fileset"
	"github.com/ftpkit/ftpkit/log"
	"github.com/ftpkit/ftpkit/protocol"
	"github.com/ftpkit/ftpkit/retry"
)

// isSameFile reports whether the remote file matches the local one by size
// and is at least as new. Any failure to query the remote means the file is
// treated as different.
func isSameFile(ctx context.Context, conn protocol.Statter, logger log.Logger, localSize int64, localModTime time.Time, remotePath string) bool {
	remoteSize, err := conn.Size(ctx, remotePath)
	if err != nil {
		logger.Debug("remote size unavailable", log.RemoteAttr(remotePath), log.ErrorAttr(err))
		return false
	}
	if remoteSize != localSize {
		return false
	}
	remoteModTime, err := conn.LastModified(ctx, remotePath)
	if err != nil {
		logger.Debug("remote modification time unavailable", log.RemoteAttr(remotePath), log.ErrorAttr(err))
		return false
	}
	return !remoteModTime.Before(localModTime)
}

// worker owns one connection and transfers files popped from a shared queue.
type worker struct {
	conn         protocol.Connection
	dirs         *dircache.Cache
	log          log.Logger
	maxAttempts  int
	retryDelay   time.Duration
	reconnectErr error
}

func (w *worker) reconnect(ctx context.Context) {
	w.conn.Disconnect()
	if err := w.conn.Connect(ctx); err != nil {
		w.log.Warn("reconnect failed", log.HostAttr(w.conn), log.ErrorAttr(err))
		w.reconnectErr = err
	}
}

// transfer uploads a single file unless the remote already has it. Every
// failed attempt is followed by a reconnect.
func (w *worker) transfer(ctx context.Context, localPath string, file fileset.AnalyzedFile) (bool, error) {
	var skipped bool
	attempts := 0

	err := retry.DoWithContext(ctx, func(ctx context.Context) error {
		err := w.attempt(ctx, localPath, file, &skipped)
		if err != nil && w.reconnectErr != nil {
			err = errors.Join(err, w.reconnectErr)
		}
		w.reconnectErr = nil
		return err
	},
		retry.MaxRetries(w.maxAttempts),
		retry.Delay(w.retryDelay),
		retry.RescuePanic(),
		retry.If(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			return !errors.Is(err, protocol.ErrAbort) && !errors.Is(err, retry.ErrAbort)
		}),
		retry.OnFailure(func(attempt int, err error) {
			attempts = attempt
			w.log.Warn("upload attempt failed", log.KeyAttempt, attempt, "maxAttempts", w.maxAttempts, log.RemoteAttr(file.RemotePath), log.ErrorAttr(err))
			w.reconnect(ctx)
		}),
	)
	if err == nil {
		return skipped, nil
	}
	if errors.Is(err, retry.ErrMaxRetries) {
		return false, &ExhaustedError{Path: localPath, RemotePath: file.RemotePath, Attempts: attempts, Err: err}
	}
	return false, &TransferError{Path: localPath, RemotePath: file.RemotePath, Err: err}
}

func (w *worker) attempt(ctx context.Context, localPath string, file fileset.AnalyzedFile, skipped *bool) error {
	if isSameFile(ctx, w.conn, w.log, file.Size, file.ModTime, file.RemotePath) {
		w.log.Debug("remote file is up to date", log.RemoteAttr(file.RemotePath))
		*skipped = true
		return nil
	}
	if err := w.dirs.Ensure(ctx, w.conn, path.Dir(file.RemotePath)); err != nil {
		return err //nolint:wrapcheck
	}
	if err := w.conn.UploadFrom(ctx, localPath, file.RemotePath); err != nil {
		return err //nolint:wrapcheck
	}
	w.log.Debug("uploaded", log.FileAttr(localPath), log.RemoteAttr(file.RemotePath), log.KeyBytes, file.Size)
	return nil
}
