package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

// TestAcquireRelease verifies the working directory exists while held
// and is gone after release, including anything left inside it.
func TestAcquireRelease(t *testing.T) {
	wd, err := AcquireWorkdir()
	if err != nil {
		t.Fatalf("AcquireWorkdir failed: %v", err)
	}
	path := wd.Path()

	writeFile(t, path, "leftover.txt", "x")

	wd.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected workdir removed, stat err=%v", err)
	}

	// releasing again must be harmless
	wd.Release()
}

// TestCollectTransformParamsOrder verifies that output files are moved
// into the destinations in ascending filename order, regardless of
// creation order.
func TestCollectTransformParamsOrder(t *testing.T) {
	wd, err := AcquireWorkdir()
	if err != nil {
		t.Fatalf("AcquireWorkdir failed: %v", err)
	}
	defer wd.Release()

	// created out of order on purpose
	writeFile(t, wd.Path(), "TransformParameters.1.txt", "second")
	writeFile(t, wd.Path(), "TransformParameters.0.txt", "first")

	dstDir := t.TempDir()
	dst := []string{
		filepath.Join(dstDir, "affine.txt"),
		filepath.Join(dstDir, "bspline.txt"),
	}
	if err := wd.CollectTransformParams(dst); err != nil {
		t.Fatalf("CollectTransformParams failed: %v", err)
	}

	first, _ := os.ReadFile(dst[0])
	second, _ := os.ReadFile(dst[1])
	if string(first) != "first" {
		t.Errorf("Expected stage 0 output in first destination, got %q", first)
	}
	if string(second) != "second" {
		t.Errorf("Expected stage 1 output in second destination, got %q", second)
	}

	// the files must have been moved, not copied
	n, err := wd.TransformParamsCount()
	if err != nil {
		t.Fatalf("TransformParamsCount failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 parameter files left in workdir, got %d", n)
	}
}

// TestCollectTransformParamsCountMismatch verifies that a count mismatch
// between engine outputs and expected destinations is an error and moves
// nothing.
func TestCollectTransformParamsCountMismatch(t *testing.T) {
	wd, err := AcquireWorkdir()
	if err != nil {
		t.Fatalf("AcquireWorkdir failed: %v", err)
	}
	defer wd.Release()

	writeFile(t, wd.Path(), "TransformParameters.0.txt", "only")

	dstDir := t.TempDir()
	dst := []string{
		filepath.Join(dstDir, "affine.txt"),
		filepath.Join(dstDir, "bspline.txt"),
	}
	if err := wd.CollectTransformParams(dst); err == nil {
		t.Fatalf("Expected error for count mismatch, got nil")
	}
	if _, err := os.Stat(dst[0]); !os.IsNotExist(err) {
		t.Errorf("Expected nothing moved on mismatch")
	}
}

// TestCopyThenRemove verifies the copy-based move used when a rename
// cannot cross filesystems: the destination receives the full content,
// the source is removed, and no temporary sibling is left behind.
func TestCopyThenRemove(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	src := filepath.Join(srcDir, "TransformParameters.0.txt")
	writeFile(t, srcDir, "TransformParameters.0.txt", "stage output")
	dst := filepath.Join(dstDir, "affine.txt")

	if err := copyThenRemove(src, dst); err != nil {
		t.Fatalf("copyThenRemove failed: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("Reading destination: %v", err)
	}
	if string(data) != "stage output" {
		t.Errorf("Expected full content at destination, got %q", data)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("Expected source removed, stat err=%v", err)
	}
	entries, _ := os.ReadDir(dstDir)
	if len(entries) != 1 || entries[0].Name() != "affine.txt" {
		t.Errorf("Expected only the destination file, got %v", entries)
	}
}

// TestCopyThenRemoveMissingSource verifies a missing source is an error
// and leaves the destination directory untouched.
func TestCopyThenRemoveMissingSource(t *testing.T) {
	dstDir := t.TempDir()
	src := filepath.Join(t.TempDir(), "absent.txt")
	dst := filepath.Join(dstDir, "affine.txt")

	if err := copyThenRemove(src, dst); err == nil {
		t.Fatalf("Expected error for missing source, got nil")
	}
	entries, _ := os.ReadDir(dstDir)
	if len(entries) != 0 {
		t.Errorf("Expected empty destination dir, got %v", entries)
	}
}

// TestRemoveIterationLogs verifies only iteration logs are deleted.
func TestRemoveIterationLogs(t *testing.T) {
	wd, err := AcquireWorkdir()
	if err != nil {
		t.Fatalf("AcquireWorkdir failed: %v", err)
	}
	defer wd.Release()

	writeFile(t, wd.Path(), "IterationInfo.0.R0.txt", "log")
	writeFile(t, wd.Path(), "IterationInfo.1.R0.txt", "log")
	writeFile(t, wd.Path(), "TransformParameters.0.txt", "keep")

	if err := wd.RemoveIterationLogs(); err != nil {
		t.Fatalf("RemoveIterationLogs failed: %v", err)
	}

	entries, _ := os.ReadDir(wd.Path())
	if len(entries) != 1 || entries[0].Name() != "TransformParameters.0.txt" {
		t.Errorf("Expected only the parameter file to remain, got %v", entries)
	}
}
