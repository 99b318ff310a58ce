package ftpkit

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ftpkit/ftpkit/log"
	"github.com/ftpkit/ftpkit/progress"
	"github.com/ftpkit/ftpkit/upload"
)

// Options for NewUploader and Upload.
type Options struct {
	log.LoggerInjectable
	out        io.Writer
	progressFn func(progress.Progress)
}

// Apply applies the supplied options to the Options struct.
func (o *Options) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}

// Option is a functional option type for the Options struct.
type Option func(*Options)

// WithLogger is a functional option that sets the logger for the uploader and
// the connections it opens.
func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.SetLogger(logger)
	}
}

// WithProgressFunc is a functional option that sets a function to be called
// with the progress after every processed file.
func WithProgressFunc(fn func(progress.Progress)) Option {
	return func(o *Options) {
		o.progressFn = fn
	}
}

// WithOutput is a functional option that sets where the progress display is
// written. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		o.out = w
	}
}

// NewUploader validates the configuration and returns an uploader for it.
func NewUploader(cfg *Config, opts ...Option) (*upload.Uploader, error) {
	options := &Options{out: os.Stdout}
	options.Apply(opts...)

	if err := cfg.SetDefaults(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	uploadOpts := []upload.Option{
		upload.WithObserver(progress.ForStyle(cfg.LogStyle, options.out)),
		upload.WithProgressFunc(options.progressFn),
	}
	if options.HasLogger() {
		cfg.SetLogger(options.Log())
		uploadOpts = append(uploadOpts, upload.WithLogger(options.Log()))
	}

	u, err := upload.New(cfg.Job(), &cfg.CompositeConfig, uploadOpts...)
	if err != nil {
		return nil, fmt.Errorf("create uploader: %w", err)
	}
	return u, nil
}

// Upload uploads the configured local directory and returns the result of
// the run.
func Upload(ctx context.Context, cfg *Config, opts ...Option) (*upload.Result, error) {
	u, err := NewUploader(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return u.Run(ctx) //nolint:wrapcheck
}
