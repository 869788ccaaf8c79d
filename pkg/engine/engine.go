// Package engine defines the call contracts of the external registration
// and transform engines, and the scoped working directory that isolates
// their filesystem side effects.
//
// The registration engine writes per-iteration log files and its output
// parameter maps into its current working directory. Every invocation
// therefore runs inside a dedicated temporary directory: expected outputs
// are collected by explicit filename prefix and moved into the artifact
// cache, logs are deleted, and the directory is removed on every exit
// path so stale files from a crashed run can never be picked up.
package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"brainregister/internal/models"
	"brainregister/pkg/params"
)

// Registration output file conventions.
const (
	// TransformParamsPrefix prefixes the engine's per-stage parameter-map
	// output files. Ascending filename order is application order.
	TransformParamsPrefix = "TransformParameters."

	// IterationLogPrefix prefixes the transient per-iteration log files
	// the engine drops; they are discarded, never persisted.
	IterationLogPrefix = "IterationInfo."
)

// Registrar estimates the transform moving -> fixed. The parameter
// templates are applied in order (e.g. affine then B-spline) and the
// result is one parameter map per template, in the same order.
type Registrar interface {
	Register(workdir string, moving, fixed *models.Volume, templates params.Set) (params.Set, error)
}

// Transformer applies a chained parameter-map set to a volume and returns
// the transformed volume. Interpolation may overshoot the input's value
// range; callers reconcile the result against the source.
type Transformer interface {
	Apply(vol *models.Volume, set params.Set) (*models.Volume, error)
}

// Workdir is a scoped temporary working directory for one engine
// invocation.
type Workdir struct {
	path string
}

// AcquireWorkdir creates a fresh temporary directory for an engine run.
func AcquireWorkdir() (*Workdir, error) {
	path, err := os.MkdirTemp("", "brainregister-engine-*")
	if err != nil {
		return nil, fmt.Errorf("acquiring engine workdir: %w", err)
	}
	return &Workdir{path: path}, nil
}

// Path returns the directory the engine should run in.
func (w *Workdir) Path() string {
	return w.path
}

// CollectTransformParams moves the engine's parameter-map output files
// into the given destination paths. Outputs are matched by the
// TransformParameters prefix and assigned in ascending filename order,
// which is the engine's stage order. The number of outputs must match
// the number of destinations exactly.
func (w *Workdir) CollectTransformParams(dst []string) error {
	names, err := w.list(TransformParamsPrefix)
	if err != nil {
		return err
	}
	if len(names) != len(dst) {
		return fmt.Errorf("engine produced %d parameter files, expected %d", len(names), len(dst))
	}
	sort.Strings(names)
	for i, name := range names {
		src := filepath.Join(w.path, name)
		if err := os.MkdirAll(filepath.Dir(dst[i]), 0755); err != nil {
			return err
		}
		if err := moveFile(src, dst[i]); err != nil {
			return fmt.Errorf("moving %s to %s: %w", name, dst[i], err)
		}
	}
	return nil
}

// moveFile renames src to dst, falling back to a copy when the rename
// fails: the temporary working directory commonly lives on a different
// filesystem than the artifact cache, where a rename cannot cross.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyThenRemove(src, dst)
}

// copyThenRemove copies src through a temporary sibling of dst and
// renames it into place, so dst never names a partially written file,
// then removes src.
func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Remove(src)
}

// TransformParamsCount returns how many parameter-map output files the
// engine wrote. Engines that only return maps in memory write none.
func (w *Workdir) TransformParamsCount() (int, error) {
	names, err := w.list(TransformParamsPrefix)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// RemoveIterationLogs deletes the engine's transient iteration logs.
func (w *Workdir) RemoveIterationLogs() error {
	names, err := w.list(IterationLogPrefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(w.path, name)); err != nil {
			return err
		}
	}
	return nil
}

// Release removes the working directory and everything left in it.
// It is safe to call on every exit path.
func (w *Workdir) Release() {
	if w != nil && w.path != "" {
		os.RemoveAll(w.path)
		w.path = ""
	}
}

func (w *Workdir) list(prefix string) ([]string, error) {
	entries, err := os.ReadDir(w.path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
