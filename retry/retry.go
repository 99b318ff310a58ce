// Package retry provides context based retry functionality for functions.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPanic is returned when a panic is rescued.
	ErrPanic = errors.New("panic")
	// ErrAbort is returned when retrying an operation will not result in a
	// different outcome.
	ErrAbort = errors.New("operation can not be completed")
	// ErrMaxRetries is returned when the attempt limit has been reached.
	ErrMaxRetries = errors.New("max retries reached")
)

// Options for retry.
type Options struct {
	rescuePanic   bool
	delay         time.Duration
	maxRetries    int
	continueOnErr func(error) bool
	onFailure     []func(attempt int, err error)
}

// NewOptions returns a new Options with the given options applied.
func NewOptions(opts ...Option) Options {
	options := Options{
		rescuePanic: false,
		delay:       2 * time.Second,
		continueOnErr: func(err error) bool {
			return !errors.Is(err, ErrAbort)
		},
	}

	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Option is a functional option function for Options.
type Option func(*Options)

// RescuePanic is a functional option that controls if panics should be rescued.
func RescuePanic() Option {
	return func(o *Options) {
		o.rescuePanic = true
	}
}

// Delay is a functional option that sets the base delay between retries. The
// wait after an attempt is the delay multiplied by the attempt number. The
// default is 2 seconds.
func Delay(d time.Duration) Option {
	return func(o *Options) {
		o.delay = d
	}
}

// MaxRetries is a functional option that sets the maximum number of attempts. The default
// is to retry indefinitely or until the context is done or canceled.
func MaxRetries(n int) Option {
	return func(o *Options) {
		o.maxRetries = n
	}
}

// If is a functional option that sets the function to determine if
// an error should continue the retry. If the function returns true,
// the retry will continue.
func If(f func(error) bool) Option {
	return func(o *Options) {
		o.continueOnErr = f
	}
}

// OnFailure registers a function that is called after every failed attempt,
// including the last one. Attempts are counted from 1.
func OnFailure(f func(attempt int, err error)) Option {
	return func(o *Options) {
		o.onFailure = append(o.onFailure, f)
	}
}

type retrier struct {
	fn   func(context.Context) error
	opts Options
}

// DoWithContext runs the function and passes the context to it until it returns nil
// or the context is done or canceled.
func DoWithContext(ctx context.Context, fn func(context.Context) error, opts ...Option) error {
	r := &retrier{
		fn:   fn,
		opts: NewOptions(opts...),
	}
	return r.do(ctx)
}

func (r *retrier) doOnce(ctx context.Context) (err error) {
	if r.opts.rescuePanic {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%w: %v", ErrPanic, p)
			}
		}()
	}

	return r.fn(ctx)
}

func (r *retrier) do(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("retry: context done or canceled before first attempt: %w", ctx.Err())
	}
	attempt := 0
	for {
		attempt++
		err := r.doOnce(ctx)
		if err == nil {
			return nil
		}

		for _, f := range r.opts.onFailure {
			f(attempt, err)
		}

		if !r.opts.continueOnErr(err) {
			return fmt.Errorf("retry: abort condition reached after %d attempts: %w", attempt, err)
		}

		if r.opts.maxRetries > 0 && attempt >= r.opts.maxRetries {
			return fmt.Errorf("retry: %w: %w", ErrMaxRetries, err)
		}

		select {
		case <-time.After(r.opts.delay * time.Duration(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("retry: context done after %d attempts: %w: %w", attempt, ctx.Err(), err)
		}
	}
}
