package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// saveGlobals snapshots the flag-bound globals and restores them after the test.
func saveGlobals(t *testing.T) {
	t.Helper()
	origCfg := cfgFile
	origLevel := logLevel
	origFormat := logFormat
	origRoot := rootDir
	origDryRun := dryRun
	t.Cleanup(func() {
		cfgFile = origCfg
		logLevel = origLevel
		logFormat = origFormat
		rootDir = origRoot
		dryRun = origDryRun
	})
}

func TestSetupLogger(t *testing.T) {
	saveGlobals(t)

	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel slog.Level
	}{
		{"debug text", "debug", "text", slog.LevelDebug},
		{"info text", "info", "text", slog.LevelInfo},
		{"warn json", "warn", "json", slog.LevelWarn},
		{"error text", "error", "text", slog.LevelError},
		{"invalid level falls back to info", "bogus", "text", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logLevel = tt.level
			logFormat = tt.format

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger() returned nil")
			}
			if !logger.Enabled(context.Background(), tt.wantLevel) {
				t.Errorf("logger does not enable level %v", tt.wantLevel)
			}
			if tt.wantLevel > slog.LevelDebug && logger.Enabled(context.Background(), tt.wantLevel-4) {
				t.Errorf("logger unexpectedly enables level %v", tt.wantLevel-4)
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	saveGlobals(t)
	cfgFile = ""
	rootDir = ""

	cfg, err := loadConfig(testLogger())
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Paths.Root != "/" {
		t.Errorf("Root = %q, want %q", cfg.Paths.Root, "/")
	}
	if cfg.Paths.Subtree != "var" {
		t.Errorf("Subtree = %q, want %q", cfg.Paths.Subtree, "var")
	}
	if cfg.Paths.TmpfilesDir != "usr/lib/tmpfiles.d" {
		t.Errorf("TmpfilesDir = %q, want %q", cfg.Paths.TmpfilesDir, "usr/lib/tmpfiles.d")
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	saveGlobals(t)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "varlift.yaml")
	content := `paths:
  root: /srv/images/fedora
  subtree: var
  tmpfiles_dir: etc/tmpfiles.d
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfgFile = cfgPath
	rootDir = ""

	cfg, err := loadConfig(testLogger())
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Paths.Root != "/srv/images/fedora" {
		t.Errorf("Root = %q, want %q", cfg.Paths.Root, "/srv/images/fedora")
	}
	if cfg.Paths.TmpfilesDir != "etc/tmpfiles.d" {
		t.Errorf("TmpfilesDir = %q, want %q", cfg.Paths.TmpfilesDir, "etc/tmpfiles.d")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	saveGlobals(t)
	cfgFile = filepath.Join(t.TempDir(), "does-not-exist.yaml")

	if _, err := loadConfig(testLogger()); err == nil {
		t.Error("loadConfig() expected error for missing file, got nil")
	}
}

func TestLoadConfig_RootOverride(t *testing.T) {
	saveGlobals(t)
	cfgFile = ""
	rootDir = "/srv/target"

	cfg, err := loadConfig(testLogger())
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Paths.Root != "/srv/target" {
		t.Errorf("Root = %q, want %q", cfg.Paths.Root, "/srv/target")
	}
}

func TestLoadConfig_InvalidRootOverride(t *testing.T) {
	saveGlobals(t)
	cfgFile = ""
	rootDir = "relative/path"

	if _, err := loadConfig(testLogger()); err == nil {
		t.Error("loadConfig() expected error for relative root override, got nil")
	}
}

func TestBuildEngine(t *testing.T) {
	saveGlobals(t)

	dir := t.TempDir()
	for _, sub := range []string{"var", "usr/lib/tmpfiles.d", "etc"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", sub, err)
		}
	}
	passwd := fmt.Sprintf("root:x:0:0:root:/root:/bin/bash\ntest:x:%d:%d::/home/test:/bin/bash\n", os.Getuid(), os.Getgid())
	group := fmt.Sprintf("root:x:0:\ntest:x:%d:\n", os.Getgid())
	if err := os.WriteFile(filepath.Join(dir, "etc/passwd"), []byte(passwd), 0o644); err != nil {
		t.Fatalf("failed to write passwd: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "etc/group"), []byte(group), 0o644); err != nil {
		t.Fatalf("failed to write group: %v", err)
	}

	cfgFile = ""
	rootDir = dir

	engine, err := buildEngine(testLogger(), true)
	if err != nil {
		t.Fatalf("buildEngine() error = %v", err)
	}
	if engine == nil {
		t.Fatal("buildEngine() returned nil engine")
	}
}

func TestBuildEngine_MissingIdentityDatabase(t *testing.T) {
	saveGlobals(t)

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "var"), 0o755); err != nil {
		t.Fatalf("failed to create var: %v", err)
	}

	cfgFile = ""
	rootDir = dir

	if _, err := buildEngine(testLogger(), false); err == nil {
		t.Error("buildEngine() expected error without etc/passwd, got nil")
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("context cancelled before any signal")
	default:
	}

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled")
	}
}

func TestVersionCmd(t *testing.T) {
	// Smoke test, must not panic.
	versionCmd.Run(versionCmd, nil)
}
