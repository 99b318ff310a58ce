package upload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ftpkit/ftpkit/fileset"
)

var (
	// ErrEnumeration is returned when the local tree can not be listed. No
	// connection is opened in that case.
	ErrEnumeration = fileset.ErrEnumeration
	// ErrConnection is returned when a worker can not establish its connection.
	ErrConnection = errors.New("connection failed")
	// ErrTransfer is returned when a file transfer fails and can not be retried.
	ErrTransfer = errors.New("transfer failed")
	// ErrUploadExhausted is returned when every attempt to upload a file failed.
	ErrUploadExhausted = errors.New("upload attempts exhausted")
	// ErrRunFailed is returned when one or more files could not be uploaded.
	ErrRunFailed = errors.New("upload run failed")
	// ErrCancelled is returned when the run was cancelled before it completed.
	ErrCancelled = errors.New("upload cancelled")
	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("upload already started")
	// ErrInvalidJob is returned by New for unusable job parameters.
	ErrInvalidJob = errors.New("invalid job")
)

// ConnectionError is returned when a worker fails to connect.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Host == "" {
		return "connect: " + e.Err.Error()
	}
	return "connect " + e.Host + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is returns true for ErrConnection.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection } //nolint:errorlint

// TransferError is returned when a transfer fails with an error that retrying
// will not fix.
type TransferError struct {
	Path       string
	RemotePath string
	Err        error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("upload %s to %s: %v", e.Path, e.RemotePath, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Is returns true for ErrTransfer.
func (e *TransferError) Is(target error) bool { return target == ErrTransfer } //nolint:errorlint

// ExhaustedError is returned when all attempts to upload a file failed.
type ExhaustedError struct {
	Path       string
	RemotePath string
	Attempts   int
	Err        error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("upload %s to %s failed after %d attempts: %v", e.Path, e.RemotePath, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is returns true for ErrUploadExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == ErrUploadExhausted } //nolint:errorlint

// RunFailedError lists the local paths that could not be uploaded.
type RunFailedError struct {
	Files []string
}

func (e *RunFailedError) Error() string {
	if len(e.Files) == 1 {
		return "upload failed for 1 file: " + e.Files[0]
	}
	return fmt.Sprintf("upload failed for %d files: %s", len(e.Files), strings.Join(e.Files, ", "))
}

// Is returns true for ErrRunFailed.
func (e *RunFailedError) Is(target error) bool { return target == ErrRunFailed } //nolint:errorlint
