package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/textproto"
	"os"
	"path"
	"strings"
	"time"

	"github.com/ftpkit/ftpkit/log"
	"github.com/ftpkit/ftpkit/protocol"
	"github.com/jlaffaye/ftp"
)

var _ protocol.Connection = (*Connection)(nil)

// Connection is an FTP connection. It is not safe for concurrent use.
type Connection struct {
	log.LoggerInjectable `yaml:"-"`
	Config               `yaml:",inline"`

	client *ftp.ServerConn
	home   string
}

// NewConnection creates a new unconnected FTP connection.
func NewConnection(cfg Config) (*Connection, error) {
	if err := cfg.SetDefaults(); err != nil {
		return nil, err
	}
	c := &Connection{Config: cfg}
	cfg.InjectLoggerTo(c, log.KeyProtocol, "ftp")
	return c, nil
}

// Protocol returns the protocol name.
func (c *Connection) Protocol() string {
	if c.TLS != TLSNone {
		return "FTPS"
	}
	return "FTP"
}

// String returns a printable representation of the connection.
func (c *Connection) String() string {
	return "[ftp] " + c.HostPort()
}

// IsConnected returns true if the connection has been established.
func (c *Connection) IsConnected() bool {
	return c.client != nil
}

func (c *Connection) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         c.Address,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec
		MinVersion:         tls.VersionTLS12,
		// data connections must resume the control connection's session on many servers
		ClientSessionCache: tls.NewLRUClientSessionCache(0),
	}
}

func (c *Connection) dialOptions(ctx context.Context) []ftp.DialOption {
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.Timeout),
		ftp.DialWithDisabledEPSV(c.DisableEPSV),
	}
	switch c.TLS {
	case TLSExplicit:
		opts = append(opts, ftp.DialWithExplicitTLS(c.tlsConfig()))
	case TLSImplicit:
		opts = append(opts, ftp.DialWithTLS(c.tlsConfig()))
	}
	return opts
}

// Connect dials the server and logs in. An existing session is closed first.
func (c *Connection) Connect(ctx context.Context) error {
	c.Disconnect()

	log.Trace(ctx, "dialing", log.HostAttr(c), log.KeyProtocol, c.Protocol())
	client, err := ftp.Dial(c.HostPort(), c.dialOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("ftp dial %s: %w", c.HostPort(), err)
	}

	if err := client.Login(c.User, c.Password); err != nil {
		_ = client.Quit()
		if statusCode(err) == ftp.StatusNotLoggedIn {
			return fmt.Errorf("%w: ftp login as %s: %w", protocol.ErrAbort, c.User, err)
		}
		return fmt.Errorf("ftp login as %s: %w", c.User, err)
	}

	home, err := client.CurrentDir()
	if err != nil {
		_ = client.Quit()
		return fmt.Errorf("ftp pwd: %w", err)
	}

	c.client = client
	c.home = home
	c.Log().Debug("connected", log.HostAttr(c), "home", home)
	return nil
}

// Disconnect closes the session. It is safe to call on a closed connection.
func (c *Connection) Disconnect() {
	if c.client == nil {
		return
	}
	if err := c.client.Quit(); err != nil {
		log.Trace(context.Background(), "ftp quit", log.HostAttr(c), log.ErrorAttr(err))
	}
	c.client = nil
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

// Size returns the size of the remote file using the SIZE command.
func (c *Connection) Size(ctx context.Context, remotePath string) (int64, error) {
	if err := c.ready(ctx); err != nil {
		return 0, err
	}
	size, err := c.client.FileSize(remotePath)
	if err != nil {
		return 0, fmt.Errorf("ftp size %s: %w", remotePath, err)
	}
	return size, nil
}

// LastModified returns the modification time of the remote file using the MDTM command.
func (c *Connection) LastModified(ctx context.Context, remotePath string) (time.Time, error) {
	if err := c.ready(ctx); err != nil {
		return time.Time{}, err
	}
	mtime, err := c.client.GetTime(remotePath)
	if err != nil {
		return time.Time{}, fmt.Errorf("ftp mdtm %s: %w", remotePath, err)
	}
	return mtime, nil
}

// UploadFrom stores the local file at remotePath, replacing any existing file.
func (c *Connection) UploadFrom(ctx context.Context, localPath, remotePath string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	if err := c.client.Stor(remotePath, f); err != nil {
		return fmt.Errorf("ftp stor %s: %w", remotePath, err)
	}
	return nil
}

// EnsureDir creates dir and every missing parent. A relative dir is resolved
// against the login directory. A segment that can not be created but can be
// entered is taken to exist. The working directory is restored afterwards.
func (c *Connection) EnsureDir(ctx context.Context, dir string) (err error) {
	if err := c.ready(ctx); err != nil {
		return err
	}
	// segments are probed with CWD, so they must not depend on the working directory
	if !path.IsAbs(dir) {
		dir = path.Join(c.home, dir)
	}

	changed := false
	defer func() {
		if !changed {
			return
		}
		if cdErr := c.client.ChangeDir(c.home); cdErr != nil {
			err = errors.Join(err, fmt.Errorf("ftp restore working directory %s: %w", c.home, cdErr))
		}
	}()

	for _, segment := range dirSegments(dir) {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck
		}
		mkErr := c.client.MakeDir(segment)
		if mkErr == nil {
			log.Trace(ctx, "created directory", log.HostAttr(c), log.RemoteAttr(segment))
			continue
		}
		if statusCode(mkErr) == 0 {
			// not a server reply, the connection is likely gone
			return fmt.Errorf("ftp mkdir %s: %w", segment, mkErr)
		}
		changed = true
		if cdErr := c.client.ChangeDir(segment); cdErr != nil {
			return fmt.Errorf("ftp mkdir %s: %w", segment, mkErr)
		}
	}
	return nil
}

// dirSegments returns every prefix of dir, shortest first.
// "/a/b" gives ["/a", "/a/b"], "a/b" gives ["a", "a/b"].
func dirSegments(dir string) []string {
	dir = path.Clean(dir)
	if dir == "/" || dir == "." {
		return nil
	}
	absolute := strings.HasPrefix(dir, "/")
	parts := strings.Split(strings.TrimPrefix(dir, "/"), "/")
	segments := make([]string, 0, len(parts))
	current := ""
	for i, part := range parts {
		if i == 0 {
			current = part
			if absolute {
				current = "/" + part
			}
		} else {
			current = current + "/" + part
		}
		segments = append(segments, current)
	}
	return segments
}

func statusCode(err error) int {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code
	}
	return 0
}
