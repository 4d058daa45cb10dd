// Package testutil holds helpers shared by tests that need a realistic
// target root on disk: a state subtree, a tmpfiles.d directory and an
// identity database that covers the user running the tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const (
	// FixtureUser is the name the fixture identity database assigns to
	// the uid running the tests.
	FixtureUser = "testuser"
	// FixtureGroup is the name the fixture identity database assigns to
	// the gid running the tests.
	FixtureGroup = "testgroup"
)

// NewTargetRoot creates a throwaway target root containing a var subtree,
// a usr/lib/tmpfiles.d directory and etc/passwd plus etc/group mapping the
// current uid and gid to FixtureUser and FixtureGroup.
func NewTargetRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	MkdirMode(t, filepath.Join(dir, "var"), 0o755)
	MkdirMode(t, filepath.Join(dir, "usr/lib/tmpfiles.d"), 0o755)
	MkdirMode(t, filepath.Join(dir, "etc"), 0o755)

	passwd := fmt.Sprintf("root:x:0:0:root:/root:/bin/bash\n%s:x:%d:%d::/home/%s:/bin/bash\n",
		FixtureUser, os.Getuid(), os.Getgid(), FixtureUser)
	group := fmt.Sprintf("root:x:0:\n%s:x:%d:\n", FixtureGroup, os.Getgid())
	WriteFile(t, filepath.Join(dir, "etc/passwd"), passwd)
	WriteFile(t, filepath.Join(dir, "etc/group"), group)

	return dir
}

// MkdirMode creates dir with all missing parents, then forces mode on the
// leaf so the fixture is independent of the process umask.
func MkdirMode(t *testing.T, dir string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
	if err := os.Chmod(dir, mode); err != nil {
		t.Fatalf("failed to chmod %s: %v", dir, err)
	}
}

// WriteFile writes content to path with mode 0644.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// Symlink creates a symbolic link at path pointing at target.
func Symlink(t *testing.T, target, path string) {
	t.Helper()
	if err := os.Symlink(target, path); err != nil {
		t.Fatalf("failed to create symlink %s: %v", path, err)
	}
}
