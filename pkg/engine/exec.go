package engine

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"brainregister/internal/models"
	"brainregister/pkg/cache"
	"brainregister/pkg/params"
)

// File exchange conventions with the external engine executables.
const (
	movingFile = "moving.brv"
	fixedFile  = "fixed.brv"
	inputFile  = "input.brv"
	resultFile = "result.brv"
)

// ExecRegistrar invokes an external registration executable. The moving
// and fixed volumes and the parameter templates are written into the
// working directory, the executable runs with the directory as its
// current directory, and the TransformParameters output files it writes
// there are read back as the result set.
type ExecRegistrar struct {
	// Command is the registration executable name or path.
	Command string
}

// Register implements Registrar.
func (e *ExecRegistrar) Register(workdir string, moving, fixed *models.Volume, templates params.Set) (params.Set, error) {
	c := cache.New(cache.Layout{Root: workdir})
	if err := c.SaveVolume(moving, filepath.Join(workdir, movingFile)); err != nil {
		return nil, err
	}
	if err := c.SaveVolume(fixed, filepath.Join(workdir, fixedFile)); err != nil {
		return nil, err
	}

	args := []string{"-m", movingFile, "-f", fixedFile, "-out", "."}
	for i, m := range templates {
		name := fmt.Sprintf("parameters.%d.txt", i)
		if err := m.WriteFile(filepath.Join(workdir, name)); err != nil {
			return nil, err
		}
		args = append(args, "-p", name)
	}

	cmd := exec.Command(e.Command, args...)
	cmd.Dir = workdir
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", e.Command, err, firstLine(out))
	}

	return readTransformParams(workdir, len(templates))
}

// ExecTransformer invokes an external transform executable, handing it
// the input volume and the chained parameter-map files and reading the
// transformed volume back.
type ExecTransformer struct {
	// Command is the transform executable name or path.
	Command string
}

// Apply implements Transformer.
func (e *ExecTransformer) Apply(vol *models.Volume, set params.Set) (*models.Volume, error) {
	wd, err := AcquireWorkdir()
	if err != nil {
		return nil, err
	}
	defer wd.Release()

	c := cache.New(cache.Layout{Root: wd.Path()})
	if err := c.SaveVolume(vol, filepath.Join(wd.Path(), inputFile)); err != nil {
		return nil, err
	}

	args := []string{"-in", inputFile, "-out", "."}
	for i, m := range set {
		name := fmt.Sprintf("%s%d.txt", TransformParamsPrefix, i)
		if err := m.WriteFile(filepath.Join(wd.Path(), name)); err != nil {
			return nil, err
		}
		args = append(args, "-tp", name)
	}

	cmd := exec.Command(e.Command, args...)
	cmd.Dir = wd.Path()
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", e.Command, err, firstLine(out))
	}

	return c.LoadVolume(filepath.Join(wd.Path(), resultFile))
}

// readTransformParams loads the engine's parameter-map output files in
// ascending filename order.
func readTransformParams(dir string, want int) (params.Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), TransformParamsPrefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) != want {
		return nil, fmt.Errorf("engine wrote %d parameter files, expected %d", len(names), want)
	}
	sort.Strings(names)
	set := make(params.Set, 0, len(names))
	for _, name := range names {
		m, err := params.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		set = append(set, m)
	}
	return set, nil
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
