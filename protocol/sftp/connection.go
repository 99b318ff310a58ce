package sftp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ftpkit/ftpkit/log"
	"github.com/ftpkit/ftpkit/protocol"
	"github.com/ftpkit/ftpkit/protocol/sftp/hostkey"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

var _ protocol.Connection = (*Connection)(nil)

// SSH_FX_FILE_ALREADY_EXISTS from draft-ietf-secsh-filexfer-13
const sshFxFileAlreadyExists = 11

// Connection is an SFTP connection. It is not safe for concurrent use.
type Connection struct {
	log.LoggerInjectable `yaml:"-"`
	Config               `yaml:",inline"`

	sshClient *ssh.Client
	client    *sftp.Client
}

// NewConnection creates a new unconnected SFTP connection.
func NewConnection(cfg Config) (*Connection, error) {
	if err := cfg.SetDefaults(); err != nil {
		return nil, err
	}
	c := &Connection{Config: cfg}
	cfg.InjectLoggerTo(c, log.KeyProtocol, "sftp")
	return c, nil
}

// Protocol returns the protocol name.
func (c *Connection) Protocol() string {
	return "SFTP"
}

// String returns a printable representation of the connection.
func (c *Connection) String() string {
	if c.alias != "" {
		return "[sftp] " + c.alias + " (" + c.HostPort() + ")"
	}
	return "[sftp] " + c.HostPort()
}

// IsConnected returns true if the connection has been established.
func (c *Connection) IsConnected() bool {
	return c.client != nil
}

// Connect opens the SSH connection and starts the SFTP subsystem. An existing
// session is closed first.
func (c *Connection) Connect(ctx context.Context) error {
	c.Disconnect()

	config, err := c.clientConfig()
	if err != nil {
		return fmt.Errorf("%w: create config: %w", protocol.ErrAbort, err)
	}

	dst := c.HostPort()
	dialer := &net.Dialer{Timeout: c.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", dst)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", dst, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.Timeout))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, dst, config)
	if err != nil {
		_ = conn.Close()
		if errors.Is(err, hostkey.ErrHostKeyMismatch) {
			return fmt.Errorf("%w: %w", protocol.ErrAbort, err)
		}
		return fmt.Errorf("ssh handshake %s: %w", dst, err)
	}
	_ = conn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(sshConn, chans, reqs)
	client, err := sftp.NewClient(sshClient, sftp.UseConcurrentWrites(true))
	if err != nil {
		_ = sshClient.Close()
		return fmt.Errorf("start sftp subsystem: %w", err)
	}

	c.sshClient = sshClient
	c.client = client
	c.Log().Debug("connected", log.HostAttr(c))
	return nil
}

// Disconnect closes the SFTP session and the SSH connection. It is safe to
// call on a closed connection.
func (c *Connection) Disconnect() {
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			log.Trace(context.Background(), "close sftp client", log.HostAttr(c), log.ErrorAttr(err))
		}
		c.client = nil
	}
	if c.sshClient != nil {
		if err := c.sshClient.Close(); err != nil {
			log.Trace(context.Background(), "close ssh client", log.HostAttr(c), log.ErrorAttr(err))
		}
		c.sshClient = nil
	}
}

func (c *Connection) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	if c.client == nil {
		return fmt.Errorf("%s: %w", c, protocol.ErrNotConnected)
	}
	return nil
}

func (c *Connection) stat(ctx context.Context, remotePath string) (fs.FileInfo, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	info, err := c.client.Stat(remotePath)
	if err != nil {
		return nil, fmt.Errorf("sftp stat %s: %w", remotePath, err)
	}
	return info, nil
}

// Size returns the size of the remote file.
func (c *Connection) Size(ctx context.Context, remotePath string) (int64, error) {
	info, err := c.stat(ctx, remotePath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// LastModified returns the modification time of the remote file.
func (c *Connection) LastModified(ctx context.Context, remotePath string) (time.Time, error) {
	info, err := c.stat(ctx, remotePath)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// UploadFrom stores the local file at remotePath, replacing any existing file.
func (c *Connection) UploadFrom(ctx context.Context, localPath, remotePath string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	dst, err := c.client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("sftp create %s: %w", remotePath, err)
	}

	n, err := dst.ReadFrom(src)
	if err != nil {
		_ = dst.Close()
		return fmt.Errorf("sftp write %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("sftp close %s: %w", remotePath, err)
	}
	log.Trace(ctx, "uploaded", log.HostAttr(c), log.RemoteAttr(remotePath), log.KeyBytes, n)
	return nil
}

// EnsureDir creates dir and every missing parent. When another client created
// the directory in the meantime the returned error wraps protocol.ErrAlreadyExists.
func (c *Connection) EnsureDir(ctx context.Context, dir string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	err := c.client.MkdirAll(dir)
	if err == nil {
		return nil
	}
	if isExistError(err) {
		return fmt.Errorf("sftp mkdir %s: %w: %w", dir, protocol.ErrAlreadyExists, err)
	}
	if info, statErr := c.client.Stat(dir); statErr == nil && info.IsDir() {
		return fmt.Errorf("sftp mkdir %s: %w: %w", dir, protocol.ErrAlreadyExists, err)
	}
	return fmt.Errorf("sftp mkdir %s: %w", dir, err)
}

func isExistError(err error) bool {
	if errors.Is(err, fs.ErrExist) {
		return true
	}
	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) && statusErr.Code == sshFxFileAlreadyExists {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "file exists")
}
