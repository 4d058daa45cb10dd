//go:build integration

package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/varlift/internal/testutil"
)

const defaultTimeout = 2 * time.Minute

// Harness compiles the varlift binary once and runs it against fixture
// target roots built in temporary directories.
type Harness struct {
	t       *testing.T
	binPath string
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return &Harness{t: t}
}

// BuildBinary compiles the varlift binary into a temporary directory
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	moduleRoot, err := testutil.ModuleRoot()
	if err != nil {
		return fmt.Errorf("get module root: %w", err)
	}

	h.binPath = filepath.Join(h.t.TempDir(), "varlift")
	h.t.Logf("Building %s", h.binPath)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binPath, "./cmd/varlift")
	cmd.Dir = moduleRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}

	h.t.Logf("Binary built successfully")
	return nil
}

// Run executes the built binary with the given arguments
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	if h.binPath == "" {
		return "", "", 0, fmt.Errorf("binary not built")
	}

	cmd := exec.CommandContext(ctx, h.binPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes the binary and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("run failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout, stderr
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
