// Package protocol contains the interfaces for the file transfer protocol implementations
package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidationFailed is returned when a connection config fails validation.
	ErrValidationFailed = errors.New("validation failed")

	// ErrAbort is returned when retrying an operation will not result in a
	// different outcome.
	ErrAbort = errors.New("operation can not be completed")

	// ErrAlreadyExists is returned by EnsureDir when the directory was created
	// concurrently by someone else.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotConnected is returned when an operation is attempted on a closed connection.
	ErrNotConnected = errors.New("not connected")
)

// Connector is a connection that can be established in a context aware fashion.
type Connector interface {
	Connect(ctx context.Context) error
}

// Disconnector is a connection that can be closed.
type Disconnector interface {
	Disconnect()
}

// Statter can report the size and modification time of remote files.
type Statter interface {
	Size(ctx context.Context, path string) (int64, error)
	LastModified(ctx context.Context, path string) (time.Time, error)
}

// Uploader can store a local file on the remote.
type Uploader interface {
	UploadFrom(ctx context.Context, localPath, remotePath string) error
}

// DirMaker can create remote directories.
type DirMaker interface {
	// EnsureDir creates the directory and any missing parents. It returns nil or
	// an error wrapping ErrAlreadyExists when the directory is already there.
	EnsureDir(ctx context.Context, path string) error
}

// Connection is the interface for protocol implementations. A connection is
// used by a single goroutine at a time.
type Connection interface {
	fmt.Stringer
	Protocol() string
	Connector
	Disconnector
	Statter
	Uploader
	DirMaker
}

// ConnectionConfigurer can create new unconnected connections.
type ConnectionConfigurer interface {
	fmt.Stringer
	Connection() (Connection, error)
}

// DefaultsSetter has a SetDefaults method
type DefaultsSetter interface {
	SetDefaults() error
}
