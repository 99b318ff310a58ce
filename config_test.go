package ftpkit_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ftpkit/ftpkit"
	"github.com/ftpkit/ftpkit/progress"
	"github.com/ftpkit/ftpkit/protocol"
	"github.com/ftpkit/ftpkit/protocol/ftp"
	"github.com/ftpkit/ftpkit/protocol/sftp"
	"github.com/ftpkit/ftpkit/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ftpkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
localDir: ./dist
remoteDir: /var/www
entries: [index.html, 200.html]
maxConcurrency: 5
retryDelay: 2s
logStyle: bar
ftp:
  address: ftp.example.com
  user: deploy
  password: secret
  tls: explicit
`)
	cfg, err := ftpkit.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "./dist", cfg.LocalDir)
	assert.Equal(t, "/var/www", cfg.RemoteDir)
	assert.Equal(t, []string{"index.html", "200.html"}, cfg.Entries)
	assert.Equal(t, 5, cfg.MaxConcurrency)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, progress.StyleBar, cfg.LogStyle)
	require.NotNil(t, cfg.FTP)
	assert.Nil(t, cfg.SFTP)
	assert.Equal(t, "ftp.example.com", cfg.FTP.Address)
	assert.Equal(t, ftp.TLSExplicit, cfg.FTP.TLS)
	assert.Equal(t, "ftp", cfg.Protocol())

	require.NoError(t, cfg.SetDefaults())
	assert.Equal(t, "dist", cfg.LocalDir)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 21, cfg.FTP.Port)
}

func TestLoadConfigSFTP(t *testing.T) {
	path := writeConfig(t, `
localDir: /srv/site
sftp:
  address: 10.0.0.1
  port: 2222
  user: root
  keyPath: ~/.ssh/deploy
`)
	cfg, err := ftpkit.LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.SFTP)
	assert.Equal(t, 2222, cfg.SFTP.Port)
	require.NotNil(t, cfg.SFTP.KeyPath)
	assert.Equal(t, "~/.ssh/deploy", *cfg.SFTP.KeyPath)
	assert.Equal(t, "sftp", cfg.Protocol())
	assert.Equal(t, "sftp.Config{10.0.0.1:2222}", cfg.String())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := ftpkit.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, ftpkit.ErrInvalidConfig)

	_, err = ftpkit.LoadConfig(writeConfig(t, "localDir: [unterminated"))
	require.ErrorIs(t, err, ftpkit.ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := &ftpkit.Config{LocalDir: t.TempDir(), CompositeConfig: ftpkit.CompositeConfig{FTP: &ftp.Config{Endpoint: protocol.Endpoint{Address: "localhost"}}}}
	require.NoError(t, cfg.SetDefaults())
	assert.Equal(t, "/", cfg.RemoteDir)
	assert.Equal(t, []string{"index.html"}, cfg.Entries)
	assert.Equal(t, 3, cfg.MaxConcurrency)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, progress.StyleText, cfg.LogStyle)
	assert.Equal(t, "anonymous", cfg.FTP.User)
	assert.Equal(t, "anonymous@", cfg.FTP.Password)
	require.NoError(t, cfg.Validate())

	job := cfg.Job()
	assert.Equal(t, cfg.LocalDir, job.LocalRoot)
	assert.Equal(t, "/", job.RemoteRoot)
	assert.Equal(t, 3, job.MaxConcurrency)
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	valid := func() *ftpkit.Config {
		cfg := &ftpkit.Config{LocalDir: dir, CompositeConfig: ftpkit.CompositeConfig{FTP: &ftp.Config{Endpoint: protocol.Endpoint{Address: "localhost"}}}}
		require.NoError(t, cfg.SetDefaults())
		return cfg
	}
	require.NoError(t, valid().Validate())

	for name, mutate := range map[string]func(*ftpkit.Config){
		"no local dir":      func(c *ftpkit.Config) { c.LocalDir = "" },
		"missing local dir": func(c *ftpkit.Config) { c.LocalDir = filepath.Join(dir, "nope") },
		"zero concurrency":  func(c *ftpkit.Config) { c.MaxConcurrency = 0 },
		"zero attempts":     func(c *ftpkit.Config) { c.MaxAttempts = 0 },
		"negative delay":    func(c *ftpkit.Config) { c.RetryDelay = -time.Second },
		"bad style":         func(c *ftpkit.Config) { c.LogStyle = "rainbow" },
		"no protocol":       func(c *ftpkit.Config) { c.FTP = nil },
		"two protocols":     func(c *ftpkit.Config) { c.SFTP = &sftp.Config{} },
		"no ftp address":    func(c *ftpkit.Config) { c.FTP.Address = "" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), protocol.ErrValidationFailed)
		})
	}
}

func TestCompositeConfig(t *testing.T) {
	c := &ftpkit.CompositeConfig{}
	_, err := c.Connection()
	require.ErrorIs(t, err, protocol.ErrValidationFailed)
	assert.Equal(t, "unknown{}", c.String())
	assert.Empty(t, c.Protocol())

	c.FTP = &ftp.Config{Endpoint: protocol.Endpoint{Address: "ftp.example.com"}}
	conn, err := c.Connection()
	require.NoError(t, err)
	assert.IsType(t, &ftp.Connection{}, conn)
	assert.Equal(t, "FTP", conn.Protocol())
}

func TestNewUploader(t *testing.T) {
	dir := t.TempDir()
	cfg := &ftpkit.Config{
		LocalDir:        dir,
		RemoteDir:       "/www",
		CompositeConfig: ftpkit.CompositeConfig{FTP: &ftp.Config{Endpoint: protocol.Endpoint{Address: "localhost"}}},
	}
	u, err := ftpkit.NewUploader(cfg, ftpkit.WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	assert.Equal(t, "/www", u.Job().RemoteRoot)
	assert.Equal(t, upload.StateIdle, u.State())

	_, err = ftpkit.NewUploader(&ftpkit.Config{LocalDir: dir})
	require.ErrorIs(t, err, ftpkit.ErrInvalidConfig)
}
