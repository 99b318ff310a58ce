package uploadtest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// TestingT is an interface that is compatible with the testing.T.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

type tHelper interface {
	Helper()
}

type fatalT interface {
	FailNow()
}

func logExtraMsg(t TestingT, msgAndArgs ...any) { //nolint:varnamelen
	if len(msgAndArgs) == 0 {
		return
	}
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	if len(msgAndArgs) == 1 {
		if s, ok := msgAndArgs[0].(string); ok {
			t.Errorf(s)
		} else {
			t.Errorf("%v", msgAndArgs[0])
		}
		return
	}

	if s, ok := msgAndArgs[0].(string); ok {
		t.Errorf(s, msgAndArgs[1:]...)
		return
	}
	t.Errorf(fmt.Sprint(msgAndArgs...))
}

// Uploaded asserts that remotePath was uploaded with the contents of localPath.
func Uploaded(t TestingT, m *MockRemote, localPath, remotePath string, msgAndArgs ...any) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	if !slices.Contains(m.Uploads(), remotePath) {
		t.Errorf("Expected `%s` to have been uploaded", remotePath)
		logExtraMsg(t, msgAndArgs...)
		return
	}
	want, err := os.ReadFile(localPath)
	if err != nil {
		t.Errorf("Failed to read `%s`: %v", localPath, err)
		return
	}
	if got, _ := m.File(remotePath); !bytes.Equal(got.Data, want) {
		t.Errorf("Expected `%s` to have the contents of `%s`", remotePath, localPath)
		logExtraMsg(t, msgAndArgs...)
	}
}

// NotUploaded asserts that remotePath was never uploaded.
func NotUploaded(t TestingT, m *MockRemote, remotePath string, msgAndArgs ...any) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	if slices.Contains(m.Uploads(), remotePath) {
		t.Errorf("Expected `%s` to not have been uploaded but it was", remotePath)
		logExtraMsg(t, msgAndArgs...)
	}
}

// UploadedBefore asserts that every one of first was uploaded before any of then.
func UploadedBefore(t TestingT, m *MockRemote, first, then []string, msgAndArgs ...any) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	order := m.Uploads()
	last := -1
	for _, p := range first {
		if i := slices.Index(order, p); i > last {
			last = i
		}
	}
	for _, p := range then {
		if i := slices.Index(order, p); i >= 0 && i < last {
			t.Errorf("Expected `%s` to be uploaded after %v, got order %v", p, first, order)
			logExtraMsg(t, msgAndArgs...)
			return
		}
	}
}

// File describes a local file for WriteTree.
type File struct {
	Data    string
	ModTime time.Time
}

// WriteTree creates the given files below root. Keys are slash separated
// relative paths. A zero ModTime leaves the time the file was written.
func WriteTree(t TestingT, root string, files map[string]File) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	for rel, f := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Errorf("Failed to create directory for `%s`: %v", rel, err)
			failNow(t)
			return
		}
		if err := os.WriteFile(p, []byte(f.Data), 0o644); err != nil { //nolint:gosec
			t.Errorf("Failed to write `%s`: %v", rel, err)
			failNow(t)
			return
		}
		if !f.ModTime.IsZero() {
			if err := os.Chtimes(p, f.ModTime, f.ModTime); err != nil {
				t.Errorf("Failed to set times on `%s`: %v", rel, err)
				failNow(t)
				return
			}
		}
	}
}

func failNow(t TestingT) {
	if f, ok := t.(fatalT); ok {
		f.FailNow()
	}
}
