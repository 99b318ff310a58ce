// Package fileset enumerates a local directory tree and maps its files to
// their remote locations.
package fileset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var (
	// ErrEnumeration is returned when the local tree can not be listed.
	ErrEnumeration = errors.New("enumerate local files")
	// ErrLocalStat is returned when a local file can not be inspected.
	ErrLocalStat = errors.New("stat local file")
)

// FileRecord is a file found under the local root.
type FileRecord struct {
	// Path is the absolute local path.
	Path string
	// Name is the base name.
	Name string
}

// AnalyzedFile holds what is needed to transfer a single file.
type AnalyzedFile struct {
	Size       int64
	ModTime    time.Time
	RemotePath string
}

// Enumerate returns every non-directory entry below root in lexical order.
// Symlinks are reported as files and are not followed.
func Enumerate(root string) ([]FileRecord, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", ErrEnumeration, root, err)
	}

	var files []FileRecord
	walkErr := filepath.WalkDir(abs, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		files = append(files, FileRecord{Path: p, Name: entry.Name()})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("%w: walk %s: %w", ErrEnumeration, abs, walkErr)
	}
	return files, nil
}

// Partition splits files into regular files in their original order and entry
// files ordered by the position of their name in entries.
func Partition(files []FileRecord, entries []string) (regular, entry []FileRecord) {
	rank := make(map[string]int, len(entries))
	for i, name := range entries {
		if _, ok := rank[name]; !ok {
			rank[name] = i
		}
	}

	for _, f := range files {
		if _, ok := rank[f.Name]; ok {
			entry = append(entry, f)
			continue
		}
		regular = append(regular, f)
	}

	slices.SortStableFunc(entry, func(a, b FileRecord) int {
		return rank[a.Name] - rank[b.Name]
	})
	return regular, entry
}

// RemotePath maps a local path under localRoot to its location under remoteRoot.
// Backslashes are treated as separators so Windows paths map the same way.
func RemotePath(localPath, localRoot, remoteRoot string) string {
	rel := strings.TrimPrefix(localPath, localRoot)
	rel = strings.ReplaceAll(rel, `\`, "/")
	return path.Join(remoteRoot, rel)
}

// Analyze stats the local file and computes its remote path.
func Analyze(localPath, localRoot, remoteRoot string) (AnalyzedFile, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return AnalyzedFile{}, fmt.Errorf("%w: %w", ErrLocalStat, err)
	}
	return AnalyzedFile{
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		RemotePath: RemotePath(localPath, localRoot, remoteRoot),
	}, nil
}

// TotalSize returns the sum of the sizes of the given files.
func TotalSize(files []FileRecord) (int64, error) {
	var total int64
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrLocalStat, err)
		}
		total += info.Size()
	}
	return total, nil
}
