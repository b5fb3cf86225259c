// Package fsutil holds the small path helpers shared by the config loader,
// the manifest scanner and the file-backed asset fetcher.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned by JoinUnder for paths that would leave root.
var ErrOutsideRoot = errors.New("path escapes root")

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// JoinUnder resolves the slash-separated rel inside root. A leading slash is
// relative to root; ".." segments that climb above root are rejected.
func JoinUnder(root, rel string) (string, error) {
	root, err := ExpandHome(root)
	if err != nil {
		return "", err
	}
	if root == "" {
		return "", errors.New("empty root")
	}
	clean := filepath.FromSlash(strings.TrimPrefix(rel, "/"))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	return filepath.Join(root, clean), nil
}

// DirExists reports whether path names an existing directory.
func DirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
