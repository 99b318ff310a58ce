package upload_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ftpkit/ftpkit/progress"
	"github.com/ftpkit/ftpkit/upload"
	"github.com/ftpkit/ftpkit/uploadtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var past = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func newUploader(t *testing.T, job upload.Job, remote *uploadtest.MockRemote, opts ...upload.Option) *upload.Uploader {
	t.Helper()
	if job.RemoteRoot == "" {
		job.RemoteRoot = "/site"
	}
	u, err := upload.New(job, remote, opts...)
	require.NoError(t, err)
	return u
}

func TestUploadEntriesLast(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{
		"index.html":      {Data: "<html>"},
		"about.html":      {Data: "about"},
		"css/app.css":     {Data: "body{}"},
		"docs/index.html": {Data: "docs"},
		"js/app.js":       {Data: "let a"},
	})
	remote := uploadtest.NewMockRemote()

	var updates []progress.Progress
	var mu sync.Mutex
	u := newUploader(t, upload.Job{LocalRoot: dir}, remote, upload.WithProgressFunc(func(p progress.Progress) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, p)
	}))

	result, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, upload.StateCompleted, u.State())
	assert.Equal(t, upload.StateCompleted, result.State)
	assert.Equal(t, 5, result.Uploaded)
	assert.Zero(t, result.Skipped)
	assert.Empty(t, result.Failed)
	assert.Equal(t, int64(26), result.TotalBytes)
	assert.Equal(t, result.TotalBytes, result.UploadedBytes)

	uploadtest.Uploaded(t, remote, filepath.Join(dir, "css", "app.css"), "/site/css/app.css")
	uploadtest.Uploaded(t, remote, filepath.Join(dir, "index.html"), "/site/index.html")
	uploadtest.UploadedBefore(t, remote,
		[]string{"/site/about.html", "/site/css/app.css", "/site/js/app.js"},
		[]string{"/site/index.html", "/site/docs/index.html"},
	)

	require.NotEmpty(t, updates)
	require.LessOrEqual(t, len(updates), 5)
	for _, p := range updates {
		assert.Equal(t, int64(26), p.TotalBytes)
	}
	last := updates[len(updates)-1]
	assert.Equal(t, int64(26), last.UploadedBytes)
	assert.Equal(t, 100, last.Percent)
}

func TestUploadProgressNeverRegresses(t *testing.T) {
	dir := t.TempDir()
	tree := make(map[string]uploadtest.File)
	for i := range 40 {
		tree[fmt.Sprintf("assets/file%02d.txt", i)] = uploadtest.File{Data: fmt.Sprintf("%0*d", i+1, i)}
	}
	uploadtest.WriteTree(t, dir, tree)
	remote := uploadtest.NewMockRemote()

	var updates []progress.Progress
	var mu sync.Mutex
	u := newUploader(t, upload.Job{LocalRoot: dir, MaxConcurrency: 8}, remote, upload.WithProgressFunc(func(p progress.Progress) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, p)
	}))

	result, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, result.Uploaded)

	require.NotEmpty(t, updates)
	for i := 1; i < len(updates); i++ {
		require.GreaterOrEqual(t, updates[i].UploadedBytes, updates[i-1].UploadedBytes, "update %d went back", i)
		require.GreaterOrEqual(t, updates[i].Percent, updates[i-1].Percent, "update %d went back", i)
	}
	assert.Equal(t, result.TotalBytes, updates[len(updates)-1].UploadedBytes)
}

func TestUploadEntryOrder(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{
		"index.html": {Data: "i"},
		"200.html":   {Data: "2"},
		"a.txt":      {Data: "a"},
	})
	remote := uploadtest.NewMockRemote()
	u := newUploader(t, upload.Job{LocalRoot: dir, Entries: []string{"index.html", "200.html"}, MaxConcurrency: 1}, remote)

	_, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/site/a.txt", "/site/index.html", "/site/200.html"}, remote.Uploads())
}

func TestUploadNoEntries(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{
		"index.html": {Data: "i"},
		"z.txt":      {Data: "z"},
	})
	remote := uploadtest.NewMockRemote()
	u := newUploader(t, upload.Job{LocalRoot: dir, Entries: []string{}, MaxConcurrency: 1}, remote)

	_, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/site/index.html", "/site/z.txt"}, remote.Uploads())
}

func TestUploadConcurrencyLimit(t *testing.T) {
	dir := t.TempDir()
	files := make(map[string]uploadtest.File)
	for i := 0; i < 10; i++ {
		files[fmt.Sprintf("file%02d.txt", i)] = uploadtest.File{Data: "data"}
	}
	uploadtest.WriteTree(t, dir, files)
	remote := uploadtest.NewMockRemote()
	remote.SetUploadDelay(20 * time.Millisecond)

	u := newUploader(t, upload.Job{LocalRoot: dir}, remote)
	result, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, result.Uploaded)
	assert.LessOrEqual(t, remote.MaxOpen(), 3)
	assert.Equal(t, 3, remote.Connects())
	assert.Zero(t, remote.Open(), "all connections are closed")
}

func TestUploadWorkerCountFollowsQueue(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{
		"a.txt":      {Data: "a"},
		"index.html": {Data: "i"},
	})
	remote := uploadtest.NewMockRemote()
	u := newUploader(t, upload.Job{LocalRoot: dir, MaxConcurrency: 8}, remote)

	_, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, remote.Connects(), "one worker per phase")
	assert.Equal(t, 1, remote.MaxOpen())
}

func TestUploadEmptyDirectory(t *testing.T) {
	remote := uploadtest.NewMockRemote()
	var calls int
	u := newUploader(t, upload.Job{LocalRoot: t.TempDir()}, remote, upload.WithProgressFunc(func(progress.Progress) { calls++ }))

	result, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, upload.StateCompleted, result.State)
	assert.Zero(t, remote.Connects())
	assert.Zero(t, calls)
}

func TestUploadRetryExhausted(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{
		"a.txt":   {Data: "a"},
		"bad.txt": {Data: "bad"},
		"c.txt":   {Data: "c"},
	})
	remote := uploadtest.NewMockRemote()
	remote.FailUpload("/site/bad.txt", uploadtest.Always)
	logger := &uploadtest.MockLogger{}

	u := newUploader(t, upload.Job{LocalRoot: dir, MaxConcurrency: 1}, remote, upload.WithLogger(logger))
	result, err := u.Run(context.Background())

	require.ErrorIs(t, err, upload.ErrRunFailed)
	var runErr *upload.RunFailedError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, []string{filepath.Join(dir, "bad.txt")}, runErr.Files)
	assert.Equal(t, upload.StateCompletedWithFailures, result.State)
	assert.Equal(t, upload.StateCompletedWithFailures, u.State())
	assert.Equal(t, 2, result.Uploaded)

	assert.Equal(t, 5, remote.Attempts("/site/bad.txt"))
	assert.Equal(t, 6, remote.Connects(), "initial connect and one reconnect per failed attempt")
	uploadtest.Uploaded(t, remote, filepath.Join(dir, "c.txt"), "/site/c.txt")
	uploadtest.NotUploaded(t, remote, "/site/bad.txt")

	assert.Len(t, logger.AtLevel(uploadtest.LevelWarn), 5)
	assert.True(t, logger.ReceivedString("file upload failed"))
	assert.True(t, logger.ReceivedString("file was not uploaded"))
	assert.False(t, logger.ReceivedString("upload finished"))
}

func TestUploadRetryRecovers(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{"flaky.txt": {Data: "f"}})
	remote := uploadtest.NewMockRemote()
	remote.FailUpload("/site/flaky.txt", 2)

	u := newUploader(t, upload.Job{LocalRoot: dir}, remote)
	result, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, 3, remote.Attempts("/site/flaky.txt"))
}

func TestUploadMaxAttempts(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{"bad.txt": {Data: "b"}})
	remote := uploadtest.NewMockRemote()
	remote.FailUpload("/site/bad.txt", uploadtest.Always)

	u := newUploader(t, upload.Job{LocalRoot: dir, MaxAttempts: 2}, remote)
	_, err := u.Run(context.Background())
	require.ErrorIs(t, err, upload.ErrRunFailed)
	assert.Equal(t, 2, remote.Attempts("/site/bad.txt"))
}

func TestUploadSkipsSameFile(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{
		"same.txt":    {Data: "same", ModTime: past},
		"resized.txt": {Data: "longer", ModTime: past},
		"older.txt":   {Data: "old!", ModTime: past},
	})
	remote := uploadtest.NewMockRemote()
	remote.SetFile("/site/same.txt", []byte("SAME"), past.Add(time.Hour))
	remote.SetFile("/site/resized.txt", []byte("short"), past.Add(time.Hour))
	remote.SetFile("/site/older.txt", []byte("OLD!"), past.Add(-time.Hour))

	var updates []progress.Progress
	u := newUploader(t, upload.Job{LocalRoot: dir, MaxConcurrency: 1}, remote, upload.WithProgressFunc(func(p progress.Progress) {
		updates = append(updates, p)
	}))
	result, err := u.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 2, result.Uploaded)
	assert.Equal(t, result.TotalBytes, result.UploadedBytes, "skipped bytes count as uploaded")
	require.Len(t, updates, 3)
	assert.Equal(t, 100, updates[2].Percent)

	uploadtest.NotUploaded(t, remote, "/site/same.txt")
	uploadtest.Uploaded(t, remote, filepath.Join(dir, "resized.txt"), "/site/resized.txt")
	uploadtest.Uploaded(t, remote, filepath.Join(dir, "older.txt"), "/site/older.txt")
}

func TestUploadSameModTimeSkips(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{"a.txt": {Data: "abc", ModTime: past}})
	remote := uploadtest.NewMockRemote()
	remote.SetFile("/site/a.txt", []byte("xyz"), past)

	u := newUploader(t, upload.Job{LocalRoot: dir}, remote)
	result, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
}

func TestUploadStatFailureUploads(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{"a.txt": {Data: "abc", ModTime: past}})
	remote := uploadtest.NewMockRemote()
	remote.SetFile("/site/a.txt", []byte("abc"), past.Add(time.Hour))
	remote.FailStat("/site/a.txt")

	u := newUploader(t, upload.Job{LocalRoot: dir}, remote)
	result, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.Zero(t, result.Skipped)
	assert.Equal(t, 1, remote.Attempts("/site/a.txt"))
}

func TestUploadSecondRunSkipsEverything(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{
		"a.txt":      {Data: "a", ModTime: past},
		"b/c.txt":    {Data: "c", ModTime: past},
		"index.html": {Data: "i", ModTime: past},
	})
	remote := uploadtest.NewMockRemote()

	first := newUploader(t, upload.Job{LocalRoot: dir}, remote)
	_, err := first.Run(context.Background())
	require.NoError(t, err)

	second := newUploader(t, upload.Job{LocalRoot: dir}, remote)
	result, err := second.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Skipped)
	assert.Zero(t, result.Uploaded)
	assert.Len(t, remote.Uploads(), 3)
}

func TestUploadDirectoryCache(t *testing.T) {
	dir := t.TempDir()
	files := make(map[string]uploadtest.File)
	for i := 0; i < 12; i++ {
		files[fmt.Sprintf("assets/img/%02d.png", i)] = uploadtest.File{Data: "png"}
	}
	uploadtest.WriteTree(t, dir, files)
	remote := uploadtest.NewMockRemote()
	remote.SetUploadDelay(5 * time.Millisecond)

	u := newUploader(t, upload.Job{LocalRoot: dir}, remote)
	_, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, remote.EnsureDirCalls("/site/assets/img"))
	assert.True(t, remote.HasDir("/site/assets"))
}

func TestUploadEnsureDirFailure(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{
		"locked/a.txt": {Data: "a"},
		"open/b.txt":   {Data: "b"},
	})
	remote := uploadtest.NewMockRemote()
	remote.FailEnsureDir("/site/locked", errors.New("permission denied"))

	u := newUploader(t, upload.Job{LocalRoot: dir, MaxConcurrency: 1}, remote)
	result, err := u.Run(context.Background())
	require.ErrorIs(t, err, upload.ErrRunFailed)
	assert.Equal(t, []string{filepath.Join(dir, "locked", "a.txt")}, result.Failed)
	assert.Equal(t, 5, remote.EnsureDirCalls("/site/locked"), "failed directories are not cached")
	assert.Zero(t, remote.Attempts("/site/locked/a.txt"))
	uploadtest.Uploaded(t, remote, filepath.Join(dir, "open", "b.txt"), "/site/open/b.txt")
}

func TestUploadCancel(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{
		"a.txt":      {Data: "a"},
		"b.txt":      {Data: "b"},
		"c.txt":      {Data: "c"},
		"d.txt":      {Data: "d"},
		"e.txt":      {Data: "e"},
		"index.html": {Data: "i"},
	})
	remote := uploadtest.NewMockRemote()
	logger := &uploadtest.MockLogger{}
	var updates int
	u := newUploader(t, upload.Job{LocalRoot: dir, MaxConcurrency: 1}, remote,
		upload.WithLogger(logger),
		upload.WithProgressFunc(func(progress.Progress) { updates++ }),
	)
	remote.OnUpload(func(string) { u.Cancel() })

	result, err := u.Run(context.Background())
	require.ErrorIs(t, err, upload.ErrCancelled)
	assert.Equal(t, upload.StateCancelled, u.State())
	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, 5, result.NotAttempted)
	assert.Equal(t, []string{"/site/a.txt"}, remote.Uploads())
	uploadtest.NotUploaded(t, remote, "/site/index.html")
	assert.Zero(t, updates, "progress is silenced on cancel")
	assert.True(t, logger.ReceivedString("upload cancelled by user"))
	assert.True(t, u.Cancelled())

	u.Cancel()
	assert.Len(t, logger.AtLevel(uploadtest.LevelWarn), 1, "cancel is idempotent")
}

func TestUploadCancelWithFailures(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{
		"a.txt": {Data: "a"},
		"b.txt": {Data: "b"},
		"c.txt": {Data: "c"},
	})
	remote := uploadtest.NewMockRemote()
	remote.FailUpload("/site/a.txt", uploadtest.Always)
	u := newUploader(t, upload.Job{LocalRoot: dir, MaxConcurrency: 1, MaxAttempts: 1}, remote)
	remote.OnUpload(func(string) { u.Cancel() })

	result, err := u.Run(context.Background())
	require.ErrorIs(t, err, upload.ErrRunFailed)
	assert.Equal(t, upload.StateCancelled, result.State)
	assert.Equal(t, 1, result.NotAttempted)
}

func TestUploadContextCancel(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{
		"a.txt":      {Data: "a"},
		"b.txt":      {Data: "b"},
		"index.html": {Data: "i"},
	})
	remote := uploadtest.NewMockRemote()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	remote.OnUpload(func(string) { cancel() })

	u := newUploader(t, upload.Job{LocalRoot: dir, MaxConcurrency: 1}, remote)
	result, err := u.Run(ctx)
	require.ErrorIs(t, err, upload.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, upload.StateCancelled, result.State)
	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, 2, result.NotAttempted)
}

func TestUploadConnectFailure(t *testing.T) {
	dir := t.TempDir()
	uploadtest.WriteTree(t, dir, map[string]uploadtest.File{"a.txt": {Data: "a"}, "index.html": {Data: "i"}})
	remote := uploadtest.NewMockRemote()
	remote.FailConnect(uploadtest.Always)

	u := newUploader(t, upload.Job{LocalRoot: dir}, remote)
	result, err := u.Run(context.Background())
	require.ErrorIs(t, err, upload.ErrConnection)
	require.ErrorIs(t, err, uploadtest.ErrInjected)
	var connErr *upload.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "mockremote#1", connErr.Host)
	assert.Equal(t, upload.StateFailed, u.State())
	assert.Equal(t, 2, result.NotAttempted)
	assert.Empty(t, remote.Uploads())
}

func TestUploadEnumerationFailure(t *testing.T) {
	remote := uploadtest.NewMockRemote()
	u := newUploader(t, upload.Job{LocalRoot: filepath.Join(t.TempDir(), "missing")}, remote)

	_, err := u.Run(context.Background())
	require.ErrorIs(t, err, upload.ErrEnumeration)
	assert.Equal(t, upload.StateFailed, u.State())
	assert.Zero(t, remote.Connects(), "no network activity")
}

func TestUploadRunOnce(t *testing.T) {
	remote := uploadtest.NewMockRemote()
	u := newUploader(t, upload.Job{LocalRoot: t.TempDir()}, remote)
	_, err := u.Run(context.Background())
	require.NoError(t, err)
	_, err = u.Run(context.Background())
	require.ErrorIs(t, err, upload.ErrAlreadyStarted)
}

func TestJobDefaults(t *testing.T) {
	u, err := upload.New(upload.Job{LocalRoot: "."}, uploadtest.NewMockRemote())
	require.NoError(t, err)
	job := u.Job()
	assert.True(t, filepath.IsAbs(job.LocalRoot))
	assert.Equal(t, "/", job.RemoteRoot)
	assert.Equal(t, []string{"index.html"}, job.Entries)
	assert.Equal(t, 3, job.MaxConcurrency)
	assert.Equal(t, 5, job.MaxAttempts)
	assert.Equal(t, upload.StateIdle, u.State())
}

func TestJobInvalid(t *testing.T) {
	remote := uploadtest.NewMockRemote()
	for name, job := range map[string]upload.Job{
		"no local root":        {},
		"negative concurrency": {LocalRoot: ".", MaxConcurrency: -1},
		"negative attempts":    {LocalRoot: ".", MaxAttempts: -1},
		"negative delay":       {LocalRoot: ".", RetryDelay: -time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := upload.New(job, remote)
			require.ErrorIs(t, err, upload.ErrInvalidJob)
		})
	}
	_, err := upload.New(upload.Job{LocalRoot: "."}, nil)
	require.ErrorIs(t, err, upload.ErrInvalidJob)
}
