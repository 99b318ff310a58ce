// Package progress reports upload progress to a set of observers.
package progress

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	EventBus "github.com/asaskevich/EventBus"
)

// Topics published on the reporter's bus.
const (
	TopicStart  = "progress:start"
	TopicUpdate = "progress:update"
	TopicStop   = "progress:stop"
)

// Progress is a snapshot taken after a file has been uploaded or skipped.
type Progress struct {
	UploadedBytes int64
	TotalBytes    int64
	CurrentFile   string
	Percent       int
}

// Percent returns uploaded as a rounded percentage of total. An empty total
// counts as complete.
func Percent(uploaded, total int64) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(uploaded) / float64(total) * 100))
}

// Observer receives progress events.
type Observer interface {
	Start(totalBytes int64)
	Update(p Progress)
	Stop()
}

// Reporter fans progress events out to the attached observers. Events are
// delivered synchronously and in order.
type Reporter struct {
	bus     EventBus.Bus
	mu      sync.Mutex
	halted  atomic.Bool
	stopped bool
	last    int64
}

// NewReporter returns a reporter with the given observers attached.
func NewReporter(observers ...Observer) (*Reporter, error) {
	r := &Reporter{bus: EventBus.New()}
	for _, o := range observers {
		if err := r.Attach(o); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Attach subscribes an observer to the reporter's events.
func (r *Reporter) Attach(o Observer) error {
	if o == nil {
		return nil
	}
	for topic, fn := range map[string]any{TopicStart: o.Start, TopicUpdate: o.Update, TopicStop: o.Stop} {
		if err := r.bus.Subscribe(topic, fn); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

// Start announces the total number of bytes in the run.
func (r *Reporter) Start(totalBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.halted.Load() {
		return
	}
	r.last = 0
	r.bus.Publish(TopicStart, totalBytes)
}

// Report publishes a progress snapshot unless the reporter has been halted.
// Snapshots are taken concurrently, so one that arrives after a snapshot with
// more uploaded bytes is dropped and observers never see progress go back.
func (r *Reporter) Report(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.halted.Load() || p.UploadedBytes < r.last {
		return
	}
	r.last = p.UploadedBytes
	r.bus.Publish(TopicUpdate, p)
}

// Halt stops all further updates. Once Halt returns no observer receives
// another update. Calling it again has no effect.
func (r *Reporter) Halt() {
	r.halted.Store(true)
	r.stop()
}

// Halted returns true once Halt has been called.
func (r *Reporter) Halted() bool {
	return r.halted.Load()
}

// Finish stops the observers at the end of a run.
func (r *Reporter) Finish() {
	r.stop()
}

func (r *Reporter) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	r.bus.Publish(TopicStop)
}
