//go:build e2e_roundtrip

// Package harness orchestrates a throwaway container carrying the varlift
// binary next to a real systemd-tmpfiles, so tests can verify that the
// generated declarations recreate the state they were lifted from.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	defaultImageTag      = "varlift-e2e-sut:latest"
	defaultDockerfileDir = "./docker/sut-tmpfiles"
	defaultTimeout       = 10 * time.Minute
)

// Suite orchestrates round-trip tests in a container
type Suite struct {
	// immutable config
	Name          string
	ImageTag      string
	DockerfileDir string
	Timeout       time.Duration
	KeepContainer bool

	// runtime state
	ContainerID string

	// optional logger hook
	Logf func(format string, args ...any)

	// test reference
	t *testing.T
}

// SuiteOption configures a Suite
type SuiteOption func(*Suite)

// WithImageTag sets a custom image tag
func WithImageTag(tag string) SuiteOption {
	return func(s *Suite) { s.ImageTag = tag }
}

// WithDockerfileDir sets a custom dockerfile directory
func WithDockerfileDir(dir string) SuiteOption {
	return func(s *Suite) { s.DockerfileDir = dir }
}

// WithTimeout sets a custom suite timeout
func WithTimeout(d time.Duration) SuiteOption {
	return func(s *Suite) { s.Timeout = d }
}

// WithKeepContainer sets whether to keep the container on failure
func WithKeepContainer(v bool) SuiteOption {
	return func(s *Suite) { s.KeepContainer = v }
}

// WithLogf sets a custom logger
func WithLogf(logf func(string, ...any)) SuiteOption {
	return func(s *Suite) { s.Logf = logf }
}

// NewSuite creates a new round-trip test suite
func NewSuite(name string, t *testing.T, opts ...SuiteOption) *Suite {
	s := &Suite{
		Name:          name,
		ImageTag:      defaultImageTag,
		DockerfileDir: defaultDockerfileDir,
		Timeout:       defaultTimeout,
		KeepContainer: os.Getenv("E2E_KEEP_CONTAINER") == "1",
		t:             t,
		Logf:          t.Logf,
	}

	for _, opt := range opts {
		opt(s)
	}

	// Check for env overrides
	if tag := os.Getenv("E2E_SUT_TAG"); tag != "" {
		s.ImageTag = tag
	}
	if timeout := os.Getenv("E2E_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			s.Timeout = d
		}
	}

	return s
}

// BuildImage builds the SUT container image
func (s *Suite) BuildImage(ctx context.Context) error {
	s.Logf("Building image %s from %s", s.ImageTag, s.DockerfileDir)

	// Get absolute path to project root (one level up from e2e)
	projectRoot, err := filepath.Abs("..")
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	cmd := exec.CommandContext(ctx,
		"docker", "build",
		"-t", s.ImageTag,
		"-f", filepath.Join(s.DockerfileDir, "Dockerfile"),
		projectRoot, // build context is project root
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		s.Logf("build stdout: %s", stdout.String())
		s.Logf("build stderr: %s", stderr.String())
		return fmt.Errorf("docker build: %w", err)
	}

	s.Logf("Image %s built successfully", s.ImageTag)
	return nil
}

// StartContainer starts the SUT container
func (s *Suite) StartContainer(ctx context.Context) error {
	s.Logf("Starting container")

	cmd := exec.CommandContext(ctx,
		"docker", "run",
		"-d",
		"--rm",
		s.ImageTag,
	)

	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("docker run: %w", err)
	}

	s.ContainerID = strings.TrimSpace(string(out))
	s.Logf("Container started: %s", s.ContainerID)
	return nil
}

// StopAndRemove stops and removes the container
func (s *Suite) StopAndRemove(ctx context.Context) error {
	if s.ContainerID == "" {
		return nil
	}

	if s.KeepContainer && s.t.Failed() {
		s.Logf("Test failed and E2E_KEEP_CONTAINER=1, keeping container %s", s.ContainerID)
		s.Logf("To inspect: docker exec -it %s /bin/bash", s.ContainerID)
		s.Logf("To cleanup: docker stop %s", s.ContainerID)
		return nil
	}

	s.Logf("Stopping container %s", s.ContainerID)
	cmd := exec.CommandContext(ctx, "docker", "stop", s.ContainerID)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker stop: %w", err)
	}

	return nil
}

// Ready probes the container until both the varlift binary and
// systemd-tmpfiles respond
func (s *Suite) Ready(ctx context.Context) error {
	s.Logf("Running readiness probe")

	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			s.DumpDiagnostics(ctx)
			return fmt.Errorf("timeout waiting for SUT tooling")
		case <-ticker.C:
			tmpfilesRes, _ := s.ExecRoot(ctx, "systemd-tmpfiles", "--version")
			varliftRes, _ := s.ExecRoot(ctx, "varlift", "version")
			if tmpfilesRes.ExitCode == 0 && varliftRes.ExitCode == 0 {
				s.Logf("SUT ready: %s", strings.TrimSpace(strings.SplitN(tmpfilesRes.Stdout, "\n", 2)[0]))
				return nil
			}
			s.Logf("SUT tooling not ready yet (waiting...)")
		}
	}
}

// ExecResult represents the result of a command execution
type ExecResult struct {
	Cmd      []string
	ExitCode int
	Stdout   string
	Stderr   string
}

// ExecRoot executes a command as root in the container
func (s *Suite) ExecRoot(ctx context.Context, cmd ...string) (ExecResult, error) {
	if s.ContainerID == "" {
		return ExecResult{}, fmt.Errorf("container not started")
	}

	args := append([]string{"exec", s.ContainerID}, cmd...)
	execCmd := exec.CommandContext(ctx, "docker", args...)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return ExecResult{}, fmt.Errorf("exec failed: %w", err)
		}
	}

	return ExecResult{
		Cmd:      cmd,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// MustExecRoot executes a command as root and fails on non-zero exit
func (s *Suite) MustExecRoot(ctx context.Context, cmd ...string) (ExecResult, error) {
	res, err := s.ExecRoot(ctx, cmd...)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, fmt.Errorf("command failed with exit %d: %v\nstdout: %s\nstderr: %s",
			res.ExitCode, cmd, res.Stdout, res.Stderr)
	}
	return res, nil
}

// WriteFileRoot writes a file as root
func (s *Suite) WriteFileRoot(ctx context.Context, path string, content []byte, mode os.FileMode) error {
	// Create parent directory
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if _, err := s.MustExecRoot(ctx, "mkdir", "-p", dir); err != nil {
			return fmt.Errorf("mkdir parent: %w", err)
		}
	}

	// Write file
	cmd := exec.CommandContext(ctx,
		"docker", "exec", "-i", s.ContainerID,
		"sh", "-c", fmt.Sprintf("cat > %s", path),
	)
	cmd.Stdin = bytes.NewReader(content)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	// Set permissions
	if _, err := s.MustExecRoot(ctx, "chmod", fmt.Sprintf("%o", mode), path); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}

	return nil
}

// MkdirRoot creates a directory as root with the given mode
func (s *Suite) MkdirRoot(ctx context.Context, path string, mode os.FileMode) error {
	if _, err := s.MustExecRoot(ctx, "mkdir", "-p", path); err != nil {
		return err
	}
	if _, err := s.MustExecRoot(ctx, "chmod", fmt.Sprintf("%o", mode), path); err != nil {
		return err
	}
	return nil
}

// SymlinkRoot creates a symbolic link as root
func (s *Suite) SymlinkRoot(ctx context.Context, target, path string) error {
	_, err := s.MustExecRoot(ctx, "ln", "-s", target, path)
	return err
}

// ReadFile reads a file from the container
func (s *Suite) ReadFile(ctx context.Context, path string) (string, error) {
	res, err := s.ExecRoot(ctx, "cat", path)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("cat failed with exit %d: %s", res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

// FileExists checks if a path exists in the container
func (s *Suite) FileExists(ctx context.Context, path string) bool {
	res, _ := s.ExecRoot(ctx, "test", "-e", path)
	return res.ExitCode == 0
}
