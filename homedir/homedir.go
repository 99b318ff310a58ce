// Package homedir expands paths like ~/.ssh/id_rsa.
package homedir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gohomedir "github.com/mitchellh/go-homedir"
)

// ErrInvalidPath is returned when the given path is invalid.
var ErrInvalidPath = errors.New("invalid path")

var windowsHomePrefixes = []string{"%USERPROFILE%", "%userprofile%", "%HOME%", "%home%"}

// Expand does ~/ style path expansion for files under the current user home.
// Paths starting with %USERPROFILE% or %HOME% are expanded the same way.
func Expand(path string) (string, error) {
	for _, prefix := range windowsHomePrefixes {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			path = "~" + rest
			break
		}
	}
	expanded, err := gohomedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("homedir expand %s: %w", path, err)
	}
	return filepath.Clean(expanded), nil
}

func expandStat(path string) (string, os.FileInfo, error) {
	if len(path) == 0 {
		return "", nil, fmt.Errorf("%w: path is empty", ErrInvalidPath)
	}
	path, err := Expand(path)
	if err != nil {
		return "", nil, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("stat: %w", err)
	}
	return path, stat, nil
}

// ExpandFile expands the path and checks that it is an existing file.
func ExpandFile(path string) (string, error) {
	expanded, stat, err := expandStat(path)
	if err != nil {
		return "", fmt.Errorf("file does not exist: %w", err)
	}

	if stat.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrInvalidPath, path)
	}

	return expanded, nil
}

// ExpandDir expands the path and checks that it is an existing directory.
func ExpandDir(path string) (string, error) {
	expanded, stat, err := expandStat(path)
	if err != nil {
		return "", fmt.Errorf("directory does not exist: %w", err)
	}

	if !stat.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, path)
	}

	return expanded, nil
}
