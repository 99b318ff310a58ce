// Package uploadtest provides an in-memory remote and other test doubles for
// exercising the upload engine without a server.
package uploadtest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sync"
	"time"

	"github.com/ftpkit/ftpkit/log"
	"github.com/ftpkit/ftpkit/protocol"
)

var (
	_ protocol.ConnectionConfigurer = (*MockRemote)(nil)
	_ protocol.Connection           = (*MockConnection)(nil)

	// ErrInjected is returned by operations that were set up to fail.
	ErrInjected = errors.New("injected failure")
)

// Always can be passed as the count to the Fail methods to fail every call.
const Always = -1

// RemoteFile is a file stored on a MockRemote.
type RemoteFile struct {
	Data    []byte
	ModTime time.Time
}

// MockRemote is an in-memory remote file system shared by all the connections
// it hands out. It implements protocol.ConnectionConfigurer.
type MockRemote struct {
	mu sync.Mutex

	files map[string]RemoteFile
	dirs  map[string]struct{}

	failConnect int
	failUpload  map[string]int
	failStat    map[string]struct{}
	failEnsure  map[string]error
	uploadDelay time.Duration
	onUpload    []func(remotePath string)
	now         func() time.Time
	open        int
	maxOpen     int
	connects    int
	connections int
	attempts    map[string]int
	ensureCalls map[string]int
	uploadOrder []string
}

// NewMockRemote returns an empty remote with only the root directory present.
func NewMockRemote() *MockRemote {
	return &MockRemote{
		files:       make(map[string]RemoteFile),
		dirs:        map[string]struct{}{"/": {}},
		failUpload:  make(map[string]int),
		failStat:    make(map[string]struct{}),
		failEnsure:  make(map[string]error),
		attempts:    make(map[string]int),
		ensureCalls: make(map[string]int),
		now:         time.Now,
	}
}

// String returns the string representation of the remote.
func (m *MockRemote) String() string { return "mockremote" }

// Connection returns a new unconnected connection to the remote.
func (m *MockRemote) Connection() (protocol.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections++
	return &MockConnection{remote: m, id: m.connections}, nil
}

// SetFile stores a file on the remote, creating its parent directories.
func (m *MockRemote) SetFile(remotePath string, data []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(path.Dir(remotePath))
	m.files[remotePath] = RemoteFile{Data: data, ModTime: modTime}
}

// SetClock replaces the function used to timestamp uploaded files.
func (m *MockRemote) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailConnect makes the next count connection attempts fail.
func (m *MockRemote) FailConnect(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failConnect = count
}

// FailUpload makes the next count uploads to remotePath fail.
func (m *MockRemote) FailUpload(remotePath string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpload[remotePath] = count
}

// FailStat makes size and modification time queries for remotePath fail.
func (m *MockRemote) FailStat(remotePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStat[remotePath] = struct{}{}
}

// FailEnsureDir makes directory creation for dir return err.
func (m *MockRemote) FailEnsureDir(dir string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failEnsure[dir] = err
}

// SetUploadDelay makes every upload take at least d.
func (m *MockRemote) SetUploadDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadDelay = d
}

// OnUpload registers a function called after every successful upload.
func (m *MockRemote) OnUpload(fn func(remotePath string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpload = append(m.onUpload, fn)
}

// File returns the file stored at remotePath.
func (m *MockRemote) File(remotePath string) (RemoteFile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[remotePath]
	return f, ok
}

// HasDir returns true if the directory exists on the remote.
func (m *MockRemote) HasDir(dir string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dirs[dir]
	return ok
}

// Uploads returns the remote paths of successful uploads in the order they
// completed.
func (m *MockRemote) Uploads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := make([]string, len(m.uploadOrder))
	copy(dup, m.uploadOrder)
	return dup
}

// Attempts returns the number of upload attempts made for remotePath.
func (m *MockRemote) Attempts(remotePath string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[remotePath]
}

// EnsureDirCalls returns the number of times EnsureDir was called for dir.
func (m *MockRemote) EnsureDirCalls(dir string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureCalls[dir]
}

// Connects returns the number of connection attempts, including failed ones.
func (m *MockRemote) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Open returns the number of currently open connections.
func (m *MockRemote) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// MaxOpen returns the highest number of simultaneously open connections seen.
func (m *MockRemote) MaxOpen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxOpen
}

// consume decrements a failure counter and reports whether the call should fail.
func consume(counts map[string]int, key string) bool {
	n, ok := counts[key]
	if !ok || n == 0 {
		return false
	}
	if n > 0 {
		counts[key] = n - 1
	}
	return true
}

func (m *MockRemote) mkdirAll(dir string) bool {
	created := false
	for d := path.Clean(dir); ; d = path.Dir(d) {
		if _, ok := m.dirs[d]; !ok {
			m.dirs[d] = struct{}{}
			created = true
		}
		if d == "/" || d == "." {
			break
		}
	}
	return created
}

// MockConnection is a connection to a MockRemote.
type MockConnection struct {
	log.LoggerInjectable

	remote    *MockRemote
	id        int
	connected bool
}

// String returns the string representation of the connection.
func (c *MockConnection) String() string { return fmt.Sprintf("mockremote#%d", c.id) }

// Protocol returns the protocol name.
func (c *MockConnection) Protocol() string { return "mock" }

// Connect opens the connection.
func (c *MockConnection) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	m := c.remote
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.failConnect != 0 {
		if m.failConnect > 0 {
			m.failConnect--
		}
		return fmt.Errorf("connect: %w", ErrInjected)
	}
	if !c.connected {
		c.connected = true
		m.open++
		m.maxOpen = max(m.maxOpen, m.open)
	}
	c.Log().Debug("connected", log.HostAttr(c))
	return nil
}

// Disconnect closes the connection.
func (c *MockConnection) Disconnect() {
	m := c.remote
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.connected {
		c.connected = false
		m.open--
	}
}

func (c *MockConnection) stat(remotePath string) (RemoteFile, error) {
	m := c.remote
	m.mu.Lock()
	defer m.mu.Unlock()
	if !c.connected {
		return RemoteFile{}, protocol.ErrNotConnected
	}
	if _, ok := m.failStat[remotePath]; ok {
		return RemoteFile{}, fmt.Errorf("stat %s: %w", remotePath, ErrInjected)
	}
	f, ok := m.files[remotePath]
	if !ok {
		return RemoteFile{}, fmt.Errorf("stat %s: %w", remotePath, fs.ErrNotExist)
	}
	return f, nil
}

// Size returns the size of the remote file.
func (c *MockConnection) Size(_ context.Context, remotePath string) (int64, error) {
	f, err := c.stat(remotePath)
	if err != nil {
		return 0, err
	}
	return int64(len(f.Data)), nil
}

// LastModified returns the modification time of the remote file.
func (c *MockConnection) LastModified(_ context.Context, remotePath string) (time.Time, error) {
	f, err := c.stat(remotePath)
	if err != nil {
		return time.Time{}, err
	}
	return f.ModTime, nil
}

// EnsureDir creates dir and its parents.
func (c *MockConnection) EnsureDir(_ context.Context, dir string) error {
	m := c.remote
	m.mu.Lock()
	defer m.mu.Unlock()
	if !c.connected {
		return protocol.ErrNotConnected
	}
	m.ensureCalls[dir]++
	if err := m.failEnsure[dir]; err != nil {
		return err
	}
	if !m.mkdirAll(dir) {
		return fmt.Errorf("mkdir %s: %w", dir, protocol.ErrAlreadyExists)
	}
	return nil
}

// UploadFrom stores the local file at remotePath. The parent directory must exist.
func (c *MockConnection) UploadFrom(ctx context.Context, localPath, remotePath string) error {
	m := c.remote
	m.mu.Lock()
	if !c.connected {
		m.mu.Unlock()
		return protocol.ErrNotConnected
	}
	m.attempts[remotePath]++
	delay := m.uploadDelay
	fail := consume(m.failUpload, remotePath)
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("upload %s: %w", remotePath, ctx.Err())
		}
	}
	if fail {
		return fmt.Errorf("upload %s: %w", remotePath, ErrInjected)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", localPath, err)
	}

	m.mu.Lock()
	if _, ok := m.dirs[path.Dir(remotePath)]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("upload %s: parent directory: %w", remotePath, fs.ErrNotExist)
	}
	m.files[remotePath] = RemoteFile{Data: data, ModTime: m.now()}
	m.uploadOrder = append(m.uploadOrder, remotePath)
	hooks := append([]func(string){}, m.onUpload...)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(remotePath)
	}
	return nil
}
