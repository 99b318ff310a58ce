package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ftpkit/ftpkit"
	"github.com/ftpkit/ftpkit/log"
	"github.com/ftpkit/ftpkit/progress"
	"github.com/ftpkit/ftpkit/protocol/ftp"
	"github.com/ftpkit/ftpkit/protocol/sftp"
	"github.com/ftpkit/ftpkit/upload"
	"github.com/spf13/cobra"
)

var version = "dev"

type cliFlags struct {
	config      string
	localDir    string
	remoteDir   string
	host        string
	port        int
	user        string
	password    string
	secure      bool
	mode        string
	keyPath     string
	entries     []string
	concurrency int
	attempts    int
	retryDelay  time.Duration
	logStyle    string
	verbose     bool
}

func newRootCommand(flags *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ftpkit",
		Short: "Upload a directory to an FTP or SFTP server",
		Long: `Upload a local directory to an FTP or SFTP server.

Files that already exist on the server with the same size and a modification
time at least as new as the local copy are skipped. Entry files such as
index.html are uploaded after every other file.`,
		Version:       version,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildConfig(flags, cmd.Flags().Changed)
			if err != nil {
				return err
			}
			return run(cmd, cfg, flags.verbose)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.config, "config", "c", "", "path to a YAML configuration file")
	f.StringVarP(&flags.localDir, "local-dir", "l", "", "local directory to upload")
	f.StringVarP(&flags.remoteDir, "remote-dir", "r", "", "remote directory to upload to (default \"/\")")
	f.StringVar(&flags.host, "host", "", "server address")
	f.IntVar(&flags.port, "port", 0, "server port (default 21 for ftp, 22 for sftp)")
	f.StringVarP(&flags.user, "user", "u", "", "user name")
	f.StringVarP(&flags.password, "password", "p", "", "password")
	f.BoolVar(&flags.secure, "secure", false, "use explicit FTPS")
	f.StringVar(&flags.mode, "mode", "ftp", "protocol: ftp or sftp")
	f.StringVar(&flags.keyPath, "key-path", "", "private key file for sftp")
	f.StringSliceVar(&flags.entries, "entries", nil, "file names uploaded last, in order (default [index.html])")
	f.IntVar(&flags.concurrency, "concurrency", upload.DefaultMaxConcurrency, "maximum number of simultaneous connections")
	f.IntVar(&flags.attempts, "attempts", upload.DefaultMaxAttempts, "maximum number of attempts per file")
	f.DurationVar(&flags.retryDelay, "retry-delay", 0, "base delay between attempts, multiplied by the attempt number")
	f.StringVar(&flags.logStyle, "log-style", string(progress.StyleText), "progress display: bar, text or none")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

// buildConfig loads the configuration file if one was given and applies the
// flags that were set on top of it.
func buildConfig(flags *cliFlags, changed func(string) bool) (*ftpkit.Config, error) {
	cfg := &ftpkit.Config{}
	if flags.config != "" {
		loaded, err := ftpkit.LoadConfig(flags.config)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		cfg = loaded
	}

	if changed("local-dir") {
		cfg.LocalDir = flags.localDir
	}
	if changed("remote-dir") {
		cfg.RemoteDir = flags.remoteDir
	}
	if changed("entries") {
		cfg.Entries = flags.entries
	}
	if changed("concurrency") {
		cfg.MaxConcurrency = flags.concurrency
	}
	if changed("attempts") {
		cfg.MaxAttempts = flags.attempts
	}
	if changed("retry-delay") {
		cfg.RetryDelay = flags.retryDelay
	}
	if changed("log-style") {
		cfg.LogStyle = progress.Style(flags.logStyle)
	}

	mode := cfg.Protocol()
	if changed("mode") || mode == "" {
		mode = strings.ToLower(flags.mode)
	}

	switch mode {
	case "ftp":
		cfg.SFTP = nil
		if cfg.FTP == nil {
			cfg.FTP = &ftp.Config{}
		}
		applyFTPFlags(cfg.FTP, flags, changed)
	case "sftp", "ssh":
		if flags.secure {
			return nil, fmt.Errorf("%w: --secure only applies to ftp, sftp is always encrypted", ftpkit.ErrInvalidConfig)
		}
		cfg.FTP = nil
		if cfg.SFTP == nil {
			cfg.SFTP = &sftp.Config{}
		}
		applySFTPFlags(cfg.SFTP, flags, changed)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q (want ftp or sftp)", ftpkit.ErrInvalidConfig, flags.mode)
	}

	return cfg, nil
}

func applyFTPFlags(cfg *ftp.Config, flags *cliFlags, changed func(string) bool) {
	if changed("host") {
		cfg.Address = flags.host
	}
	if changed("port") {
		cfg.Port = flags.port
	}
	if changed("user") {
		cfg.User = flags.user
	}
	if changed("password") {
		cfg.Password = flags.password
	}
	if flags.secure {
		cfg.TLS = ftp.TLSExplicit
	}
}

func applySFTPFlags(cfg *sftp.Config, flags *cliFlags, changed func(string) bool) {
	if changed("host") {
		cfg.Address = flags.host
	}
	if changed("port") {
		cfg.Port = flags.port
	}
	if changed("user") {
		cfg.User = flags.user
	}
	if changed("password") {
		cfg.Password = flags.password
	}
	if changed("key-path") {
		keyPath := flags.keyPath
		cfg.KeyPath = &keyPath
	}
}

func run(cmd *cobra.Command, cfg *ftpkit.Config, verbose bool) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := log.New(cmd.ErrOrStderr(), level)
	if verbose {
		log.SetTraceLogger(logger)
	}

	if cfg.SFTP != nil && cfg.SFTP.Password == "" && cfg.SFTP.PasswordCallback == nil {
		cfg.SFTP.PasswordCallback = sftp.DefaultPasswordCallback
	}

	u, err := ftpkit.NewUploader(cfg, ftpkit.WithLogger(logger), ftpkit.WithOutput(cmd.OutOrStdout()))
	if err != nil {
		return err //nolint:wrapcheck
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	handleSignals(ctx, cancel, u)

	result, err := u.Run(ctx)
	if result != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d files, %d up to date, %d not attempted, %d failed.\n",
			result.Uploaded, result.Skipped, result.NotAttempted, len(result.Failed))
	}
	return err //nolint:wrapcheck
}

// handleSignals cancels the upload cooperatively on the first interrupt and
// aborts in-flight transfers on the second one.
func handleSignals(ctx context.Context, abort context.CancelFunc, u *upload.Uploader) {
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sig)
		select {
		case <-sig:
		case <-ctx.Done():
			return
		}
		u.Cancel()
		select {
		case <-sig:
			abort()
		case <-ctx.Done():
		}
	}()
}
