package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewTargetRoot(t *testing.T) {
	root := NewTargetRoot(t)

	for _, sub := range []string{"var", "usr/lib/tmpfiles.d", "etc"} {
		info, err := os.Stat(filepath.Join(root, sub))
		if err != nil {
			t.Fatalf("missing %s: %v", sub, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", sub)
		}
	}

	passwd, err := os.ReadFile(filepath.Join(root, "etc/passwd"))
	if err != nil {
		t.Fatalf("failed to read passwd: %v", err)
	}
	wantUser := fmt.Sprintf("%s:x:%d:%d:", FixtureUser, os.Getuid(), os.Getgid())
	if !strings.Contains(string(passwd), wantUser) {
		t.Errorf("passwd does not map current uid; got:\n%s", passwd)
	}

	group, err := os.ReadFile(filepath.Join(root, "etc/group"))
	if err != nil {
		t.Fatalf("failed to read group: %v", err)
	}
	wantGroup := fmt.Sprintf("%s:x:%d:", FixtureGroup, os.Getgid())
	if !strings.Contains(string(group), wantGroup) {
		t.Errorf("group does not map current gid; got:\n%s", group)
	}
}

func TestMkdirMode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a/b/c")
	MkdirMode(t, dir, 0o777)

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o777 {
		t.Errorf("mode = %o, want %o", got, 0o777)
	}
}

func TestSymlink(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "link")
	Symlink(t, "../target", link)

	got, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if got != "../target" {
		t.Errorf("target = %q, want %q", got, "../target")
	}
}
