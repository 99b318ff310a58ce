package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ftpkit/ftpkit/log"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Style selects how progress is displayed.
type Style string

const (
	StyleBar  Style = "bar"
	StyleText Style = "text"
	StyleNone Style = "none"
)

// ErrInvalidStyle is returned for unknown display styles.
var ErrInvalidStyle = errors.New("invalid progress style")

// Validate returns an error for unknown styles.
func (s Style) Validate() error {
	switch s {
	case StyleBar, StyleText, StyleNone:
		return nil
	default:
		return fmt.Errorf("%w: %q (want bar, text or none)", ErrInvalidStyle, s)
	}
}

// ForStyle returns the display observer for style writing to w, or nil for
// StyleNone. A bar falls back to text when w is a file that is not a terminal.
func ForStyle(style Style, w io.Writer) Observer {
	switch style {
	case StyleNone:
		return nil
	case StyleBar:
		if f, ok := w.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
			return NewText(w)
		}
		return NewBar(w)
	default:
		return NewText(w)
	}
}

// Func adapts a function to an Observer that only receives updates.
type Func func(Progress)

func (f Func) Start(int64)       {}
func (f Func) Update(p Progress) { f(p) }
func (f Func) Stop()             {}

// Text writes a line per completed file.
type Text struct {
	w io.Writer
}

// NewText returns a text observer writing to w.
func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

func (t *Text) Start(int64) {}

func (t *Text) Update(p Progress) {
	fmt.Fprintf(t.w, "%d%% Uploaded %s\n", p.Percent, p.CurrentFile)
}

func (t *Text) Stop() {}

// Bar draws a terminal progress bar counting bytes.
type Bar struct {
	w        io.Writer
	bar      *progressbar.ProgressBar
	total    int64
	uploaded int64
}

// NewBar returns a bar observer writing to w.
func NewBar(w io.Writer) *Bar {
	return &Bar{w: w}
}

func (b *Bar) Start(totalBytes int64) {
	b.total = totalBytes
	// the bar can not render an empty maximum
	b.bar = progressbar.NewOptions64(
		max(totalBytes, 1),
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionSetDescription("uploading"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
	)
}

func (b *Bar) Update(p Progress) {
	if b.bar == nil {
		b.Start(p.TotalBytes)
	}
	b.uploaded = p.UploadedBytes
	b.bar.Describe(p.CurrentFile)
	if err := b.bar.Set64(p.UploadedBytes); err != nil {
		log.Trace(context.Background(), "progress bar update failed", log.FileAttr(p.CurrentFile), log.ErrorAttr(err))
	}
}

func (b *Bar) Stop() {
	if b.bar == nil {
		return
	}
	if b.uploaded >= b.total {
		if err := b.bar.Finish(); err != nil {
			log.Trace(context.Background(), "progress bar finish failed", log.ErrorAttr(err))
		}
	}
	fmt.Fprintln(b.w)
}
