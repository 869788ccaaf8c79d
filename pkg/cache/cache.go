// Package cache maps pipeline artifacts to filesystem paths and owns
// their on-disk representation across runs. Existence of a fully written
// file is the sole truth of "this artifact is resolved": every write goes
// to a temporary file first and is renamed into place only once complete,
// so a crash can never leave a partial file that looks finished.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"brainregister/internal/models"
	"brainregister/pkg/params"
)

// Layout resolves the four output directory trees, one per directed
// space-pair group, and the filename conventions within them.
type Layout struct {
	// Root is the directory holding the parameters file; all output
	// trees hang off it.
	Root string

	// Dir per directed edge, relative to Root.
	FsDsDir  string
	DsFsDir  string
	DsCcfDir string
	CcfDsDir string

	// Filename prefix per directed edge. Output names are built by
	// prefix concatenation so repeated runs reproduce the same names.
	FsDsPrefix  string
	DsFsPrefix  string
	DsCcfPrefix string
	CcfDsPrefix string

	// Output image extension per directed edge.
	FsDsType  string
	DsFsType  string
	DsCcfType string
	CcfDsType string
}

// Cache is the artifact cache over a resolved layout.
type Cache struct {
	layout Layout
}

// New returns a cache over the given layout.
func New(layout Layout) *Cache {
	return &Cache{layout: layout}
}

// EdgeDir returns the absolute output directory for an edge.
func (c *Cache) EdgeDir(edge models.Edge) string {
	var rel string
	switch edge {
	case models.FullstackToDownsampled:
		rel = c.layout.FsDsDir
	case models.DownsampledToFullstack:
		rel = c.layout.DsFsDir
	case models.DownsampledToCCF:
		rel = c.layout.DsCcfDir
	case models.CCFToDownsampled:
		rel = c.layout.CcfDsDir
	}
	return filepath.Join(c.layout.Root, rel)
}

func (c *Cache) edgePrefix(edge models.Edge) string {
	switch edge {
	case models.FullstackToDownsampled:
		return c.layout.FsDsPrefix
	case models.DownsampledToFullstack:
		return c.layout.DsFsPrefix
	case models.DownsampledToCCF:
		return c.layout.DsCcfPrefix
	case models.CCFToDownsampled:
		return c.layout.CcfDsPrefix
	}
	return ""
}

func (c *Cache) edgeType(edge models.Edge) string {
	switch edge {
	case models.FullstackToDownsampled:
		return c.layout.FsDsType
	case models.DownsampledToFullstack:
		return c.layout.DsFsType
	case models.DownsampledToCCF:
		return c.layout.DsCcfType
	case models.CCFToDownsampled:
		return c.layout.CcfDsType
	}
	return ""
}

// CreateDirs makes all four output directories.
func (c *Cache) CreateDirs() error {
	for _, edge := range []models.Edge{
		models.FullstackToDownsampled,
		models.DownsampledToFullstack,
		models.DownsampledToCCF,
		models.CCFToDownsampled,
	} {
		if err := os.MkdirAll(c.EdgeDir(edge), 0755); err != nil {
			return fmt.Errorf("creating %s output dir: %w", edge, err)
		}
	}
	return nil
}

// VolumePath returns the output path of a volume carried through edge.
// sourceName is the originating file name; its stem is kept and the
// edge's prefix and image type applied. Volumes that have already passed
// through earlier edges keep those edges' prefixes in sourceName, so the
// full provenance accumulates in the final filename.
func (c *Cache) VolumePath(edge models.Edge, sourceName string) string {
	stem := strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName))
	name := c.edgePrefix(edge) + stem + "." + c.edgeType(edge)
	return filepath.Join(c.EdgeDir(edge), name)
}

// ChainedName returns the filename a VolumePath output would have, for
// feeding into the next edge's VolumePath.
func (c *Cache) ChainedName(edge models.Edge, sourceName string) string {
	return filepath.Base(c.VolumePath(edge, sourceName))
}

// ParamPaths returns the parameter-map file paths of an edge, in
// application order.
func (c *Cache) ParamPaths(edge models.Edge, filenames []string) []string {
	dir := c.EdgeDir(edge)
	out := make([]string, len(filenames))
	for i, fn := range filenames {
		out[i] = filepath.Join(dir, fn)
	}
	return out
}

// Exists reports whether path names a fully materialised artifact.
func (c *Cache) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// AllExist reports whether every path names an existing artifact.
func (c *Cache) AllExist(paths []string) bool {
	if len(paths) == 0 {
		return false
	}
	for _, p := range paths {
		if !c.Exists(p) {
			return false
		}
	}
	return true
}

// SaveParams persists a parameter-map set, one file per map, each written
// atomically.
func (c *Cache) SaveParams(set params.Set, paths []string) error {
	if len(set) != len(paths) {
		return fmt.Errorf("parameter set has %d maps but %d paths given", len(set), len(paths))
	}
	for i, m := range set {
		m := m
		if err := atomicWrite(paths[i], func(f *os.File) error {
			return m.Write(f)
		}); err != nil {
			return fmt.Errorf("saving parameter map %s: %w", paths[i], err)
		}
	}
	return nil
}

// LoadParams loads a parameter-map set from its files, or returns nil if
// the set is not (fully) on disk.
func (c *Cache) LoadParams(paths []string) (params.Set, error) {
	if !c.AllExist(paths) {
		return nil, nil
	}
	set := make(params.Set, 0, len(paths))
	for _, p := range paths {
		m, err := params.ReadFile(p)
		if err != nil {
			return nil, err
		}
		set = append(set, m)
	}
	return set, nil
}

// SaveVolume persists a volume atomically at its native bit depth.
func (c *Cache) SaveVolume(vol *models.Volume, path string) error {
	if err := vol.Validate(); err != nil {
		return fmt.Errorf("saving volume %s: %w", path, err)
	}
	if err := atomicWrite(path, func(f *os.File) error {
		return writeVolume(f, vol)
	}); err != nil {
		return fmt.Errorf("saving volume %s: %w", path, err)
	}
	return nil
}

// LoadVolume loads a previously saved volume.
func (c *Cache) LoadVolume(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loading volume %s: %w", path, err)
	}
	defer f.Close()
	vol, err := readVolume(f)
	if err != nil {
		return nil, fmt.Errorf("loading volume %s: %w", path, err)
	}
	return vol, nil
}

// atomicWrite writes through a temporary sibling file and renames it into
// place, so path never names a partially written artifact.
func atomicWrite(path string, write func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
