//go:build integration

package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schaermu/varlift/internal/testutil"
)

const (
	confDirRel = "usr/lib/tmpfiles.d"
	gen0Conf   = "varlift-autogenerated-var-0.conf"
	gen1Conf   = "varlift-autogenerated-var-1.conf"
)

func TestCLIConvert(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	if err := h.BuildBinary(ctx); err != nil {
		t.Fatalf("build binary: %v", err)
	}

	// Scenarios A and B share one root to exercise generation numbering
	root := testutil.NewTargetRoot(t)

	t.Run("A_ConvertWritesGeneration", func(t *testing.T) {
		testConvertWritesGeneration(t, h, ctx, root)
	})

	t.Run("B_SecondRunTakesNextGeneration", func(t *testing.T) {
		testSecondRunTakesNextGeneration(t, h, ctx, root)
	})

	t.Run("C_CheckPrintsEntriesOnly", func(t *testing.T) {
		testCheckPrintsEntriesOnly(t, h, ctx)
	})

	t.Run("D_DryRunLeavesTreeIntact", func(t *testing.T) {
		testDryRunLeavesTreeIntact(t, h, ctx)
	})

	t.Run("E_UnsupportedReportedAsComments", func(t *testing.T) {
		testUnsupportedReportedAsComments(t, h, ctx)
	})

	t.Run("F_RunDirMustBeSymlink", func(t *testing.T) {
		testRunDirMustBeSymlink(t, h, ctx)
	})

	t.Run("G_Version", func(t *testing.T) {
		stdout, _ := h.MustRun(ctx, "version")
		if !strings.Contains(stdout, "varlift") {
			t.Errorf("version output missing binary name: %q", stdout)
		}
	})
}

// testConvertWritesGeneration converts a populated subtree and verifies the
// generated conf plus the removal of everything it translated
func testConvertWritesGeneration(t *testing.T, h *Harness, ctx context.Context, root string) {
	testutil.MkdirMode(t, filepath.Join(root, "var/lib"), 0o755)
	testutil.MkdirMode(t, filepath.Join(root, "var/lib/systemd"), 0o755)
	testutil.MkdirMode(t, filepath.Join(root, "var/log"), 0o777)
	testutil.Symlink(t, "../run", filepath.Join(root, "var/run"))

	_, stderr := h.MustRun(ctx, "convert", "--root", root, "--log-level", "debug")
	t.Logf("stderr: %s", stderr)

	want := "L /run - - - - ../run\n" +
		"d /var/lib 0755 testuser testgroup - -\n" +
		"d /var/lib/systemd 0755 testuser testgroup - -\n" +
		"d /var/log 0777 testuser testgroup - -\n"
	got := readGenerated(t, root, gen0Conf)
	if got != want {
		t.Errorf("generated conf mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}

	// The converted subtree is emptied, the subtree root itself stays
	entries, err := os.ReadDir(filepath.Join(root, "var"))
	if err != nil {
		t.Fatalf("read var: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("var not emptied, still contains %d entries", len(entries))
	}
}

// testSecondRunTakesNextGeneration verifies a later conversion lands in a
// fresh conf file one generation up
func testSecondRunTakesNextGeneration(t *testing.T, h *Harness, ctx context.Context, root string) {
	testutil.MkdirMode(t, filepath.Join(root, "var/spool"), 0o755)

	h.MustRun(ctx, "convert", "--root", root)

	want := "d /var/spool 0755 testuser testgroup - -\n"
	got := readGenerated(t, root, gen1Conf)
	if got != want {
		t.Errorf("generated conf mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

// testCheckPrintsEntriesOnly verifies check emits entry lines on stdout and
// leaves both the subtree and the tmpfiles.d directory alone
func testCheckPrintsEntriesOnly(t *testing.T, h *Harness, ctx context.Context) {
	root := testutil.NewTargetRoot(t)
	testutil.MkdirMode(t, filepath.Join(root, "var/opt"), 0o755)
	testutil.WriteFile(t, filepath.Join(root, "var/opt/data.txt"), "payload")

	stdout, stderr := h.MustRun(ctx, "check", "--root", root)
	t.Logf("stderr: %s", stderr)

	want := "d /var/opt 0755 testuser testgroup - -\n"
	if stdout != want {
		t.Errorf("stdout = %q, want %q", stdout, want)
	}

	if _, err := os.Stat(filepath.Join(root, "var/opt/data.txt")); err != nil {
		t.Errorf("data file touched by check: %v", err)
	}
	confs, err := os.ReadDir(filepath.Join(root, confDirRel))
	if err != nil {
		t.Fatalf("read tmpfiles.d: %v", err)
	}
	if len(confs) != 0 {
		t.Errorf("check wrote %d conf files", len(confs))
	}
}

// testDryRunLeavesTreeIntact verifies dry-run computes entries without
// deleting or writing anything
func testDryRunLeavesTreeIntact(t *testing.T, h *Harness, ctx context.Context) {
	root := testutil.NewTargetRoot(t)
	testutil.MkdirMode(t, filepath.Join(root, "var/tmp"), 0o777|os.ModeSticky)

	_, stderr := h.MustRun(ctx, "convert", "--dry-run", "--root", root)
	t.Logf("stderr: %s", stderr)

	confs, err := os.ReadDir(filepath.Join(root, confDirRel))
	if err != nil {
		t.Fatalf("read tmpfiles.d: %v", err)
	}
	if len(confs) != 0 {
		t.Errorf("dry-run wrote %d conf files", len(confs))
	}

	info, err := os.Lstat(filepath.Join(root, "var/tmp"))
	if err != nil {
		t.Fatalf("var/tmp removed by dry-run: %v", err)
	}
	if !info.IsDir() || info.Mode()&os.ModeSticky == 0 || info.Mode().Perm() != 0o777 {
		t.Errorf("var/tmp mode changed: %v", info.Mode())
	}
}

// testUnsupportedReportedAsComments verifies untranslatable objects end up
// as comment lines and are swept with their parent
func testUnsupportedReportedAsComments(t *testing.T, h *Harness, ctx context.Context) {
	root := testutil.NewTargetRoot(t)
	testutil.MkdirMode(t, filepath.Join(root, "var/log"), 0o755)
	testutil.WriteFile(t, filepath.Join(root, "var/log/app.log"), "x")

	h.MustRun(ctx, "convert", "--root", root)

	want := "d /var/log 0755 testuser testgroup - -\n" +
		"# varlift ignored: \"var/log/app.log\"\n"
	got := readGenerated(t, root, gen0Conf)
	if got != want {
		t.Errorf("generated conf mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}

	if _, err := os.Lstat(filepath.Join(root, "var/log")); !os.IsNotExist(err) {
		t.Errorf("var/log still present after conversion: %v", err)
	}
}

// testRunDirMustBeSymlink verifies a real directory at var/run aborts the
// conversion before anything is touched
func testRunDirMustBeSymlink(t *testing.T, h *Harness, ctx context.Context) {
	root := testutil.NewTargetRoot(t)
	testutil.MkdirMode(t, filepath.Join(root, "var/run"), 0o755)

	stdout, stderr, exitCode, err := h.Run(ctx, "convert", "--root", root)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exitCode == 0 {
		t.Fatalf("convert succeeded with a real var/run directory\nstdout: %s", stdout)
	}
	if !strings.Contains(stderr, "non-symlink") {
		t.Errorf("stderr does not name the failed precondition: %q", stderr)
	}

	if _, err := os.Stat(filepath.Join(root, "var/run")); err != nil {
		t.Errorf("var/run touched by failed conversion: %v", err)
	}
}

// readGenerated reads a conf file from the fixture root's tmpfiles.d directory
func readGenerated(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, confDirRel, name))
	if err != nil {
		t.Fatalf("read generated conf: %v", err)
	}
	return string(data)
}
