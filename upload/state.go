package upload

import (
	"sync"

	"github.com/ftpkit/ftpkit/dircache"
)

// State is the lifecycle state of an Uploader.
type State int32

const (
	StateIdle State = iota
	StateEnumerating
	StateUploadingRegular
	StateUploadingEntries
	StateCompleted
	StateCompletedWithFailures
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnumerating:
		return "enumerating"
	case StateUploadingRegular:
		return "uploading regular files"
	case StateUploadingEntries:
		return "uploading entry files"
	case StateCompleted:
		return "completed"
	case StateCompletedWithFailures:
		return "completed with failures"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal returns true for states a run ends in.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Phase is one of the two sequential upload stages.
type Phase int

const (
	PhaseRegular Phase = iota
	PhaseEntries
)

func (p Phase) String() string {
	if p == PhaseEntries {
		return "entries"
	}
	return "regular"
}

// Result summarizes a run.
type Result struct {
	State         State
	TotalBytes    int64
	UploadedBytes int64
	// Uploaded is the number of files transferred.
	Uploaded int
	// Skipped is the number of files found identical on the remote.
	Skipped int
	// NotAttempted is the number of files left unprocessed because of cancellation.
	NotAttempted int
	// Failed lists the local paths that could not be uploaded.
	Failed []string
}

// runState is shared by every worker of a run.
type runState struct {
	mu            sync.Mutex
	totalBytes    int64
	uploadedBytes int64
	uploaded      int
	skipped       int
	notAttempted  int
	failed        []string

	dirs *dircache.Cache
}

func newRunState(totalBytes int64) *runState {
	return &runState{totalBytes: totalBytes, dirs: dircache.New()}
}

// done records a completed file and returns the new byte count.
func (s *runState) done(size int64, skipped bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadedBytes += size
	if skipped {
		s.skipped++
	} else {
		s.uploaded++
	}
	return s.uploadedBytes
}

func (s *runState) fail(localPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, localPath)
}

func (s *runState) skip(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notAttempted += count
}

func (s *runState) result(state State) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	failed := make([]string, len(s.failed))
	copy(failed, s.failed)
	return &Result{
		State:         state,
		TotalBytes:    s.totalBytes,
		UploadedBytes: s.uploadedBytes,
		Uploaded:      s.uploaded,
		Skipped:       s.skipped,
		NotAttempted:  s.notAttempted,
		Failed:        failed,
	}
}

// workQueue hands out each path exactly once.
type workQueue struct {
	mu    sync.Mutex
	items []string
	next  int
}

func newWorkQueue(items []string) *workQueue {
	return &workQueue{items: items}
}

func (q *workQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= len(q.items) {
		return "", false
	}
	item := q.items[q.next]
	q.next++
	return item, true
}

func (q *workQueue) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.next
}
