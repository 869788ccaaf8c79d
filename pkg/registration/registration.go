// Package registration orchestrates the multi-stage coordinate-space
// transform pipeline: fullstack <-> downsampled scaling, downsampled <->
// atlas registration, and the transform of atlas-derived volumes back to
// full resolution.
//
// Every edge follows the same resolve-or-skip protocol: if the edge's
// serialized parameter files exist they are loaded and the computation is
// skipped, otherwise the endpoint volumes are produced (recursively
// triggering upstream stages), filtered if configured, and handed to the
// scaling computation or the registration engine, and the result is
// persisted immediately. A failed or interrupted run can therefore be
// re-invoked and will not redo completed edges.
package registration

import (
	"fmt"
	"math"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"brainregister/internal/models"
	"brainregister/pkg/cache"
	"brainregister/pkg/config"
	"brainregister/pkg/engine"
	"brainregister/pkg/filter"
	"brainregister/pkg/metrics"
	"brainregister/pkg/params"
	"brainregister/pkg/reconcile"
	"brainregister/pkg/scaling"
)

// Stage selects a group of pipeline edges for Run.
type Stage string

const (
	// StageScale resolves the fullstack <-> downsampled scale transforms
	// and materialises the downsampled sample volumes.
	StageScale Stage = "scale"

	// StageRegister runs the downsampled <-> ccf registrations and their
	// transform/persist steps.
	StageRegister Stage = "register"

	// StageFinalize transforms the ccf-derived volumes back to fullstack
	// resolution.
	StageFinalize Stage = "finalize"
)

// AllStages returns the stages in execution order.
func AllStages() []Stage {
	return []Stage{StageScale, StageRegister, StageFinalize}
}

// Registration owns the in-memory artifacts and parameter sets for one
// pipeline run. The artifact cache owns the on-disk representations
// across runs.
type Registration struct {
	cfg   *config.Config
	atlas *config.Atlas
	cache *cache.Cache

	registrar   engine.Registrar
	transformer engine.Transformer

	baseDir string
	verbose bool

	// factors holds the sample <-> atlas scale ratios; AtoB is
	// fullstack -> downsampled.
	factors scaling.Factors

	// resolved source paths
	templatePath        string
	sampleImages        []string
	atlasTemplatePath   string
	atlasAnnotationPath string

	// resolved artifact paths
	templateDsPath          string
	templateDsCcfPath       string
	sampleDsPaths           []string
	sampleDsCcfPaths        []string
	atlasTemplateDsPath     string
	atlasAnnotationDsPath   string
	atlasTemplateDsFsPath   string
	atlasAnnotationDsFsPath string

	// lazy artifact state
	fsTemplate        volumeState
	dsTemplate        volumeState
	atlasTemplate     volumeState
	atlasAnnotation   volumeState
	atlasTemplateDs   volumeState
	atlasAnnotationDs volumeState

	// lazy parameter-set state, one per directed edge
	fsDs  paramsState
	dsFs  paramsState
	dsCcf paramsState
	ccfDs paramsState
}

// New builds a Registration over a validated configuration. baseDir is
// the directory the configuration paths are relative to (normally the
// directory of the parameters file).
func New(cfg *config.Config, baseDir string, atlas *config.Atlas, registrar engine.Registrar, transformer engine.Transformer) (*Registration, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Registration{
		cfg:         cfg,
		atlas:       atlas,
		registrar:   registrar,
		transformer: transformer,
		baseDir:     baseDir,
		verbose:     cfg.Output.Verbose,
		factors:     scaling.ComputeScaleFactors(cfg.Sample.Resolution, atlas.Resolution),
	}

	r.cache = cache.New(cache.Layout{
		Root:        baseDir,
		FsDsDir:     cfg.FullstackToDownsampled.Path,
		DsFsDir:     cfg.DownsampledToFullstack.Path,
		DsCcfDir:    cfg.DownsampledToCCF.Path,
		CcfDsDir:    cfg.CCFToDownsampled.Path,
		FsDsPrefix:  cfg.FullstackToDownsampled.Prefix,
		DsFsPrefix:  cfg.DownsampledToFullstack.Prefix,
		DsCcfPrefix: cfg.DownsampledToCCF.Prefix,
		CcfDsPrefix: cfg.CCFToDownsampled.Prefix,
		FsDsType:    cfg.FullstackToDownsampled.ImageType,
		DsFsType:    cfg.DownsampledToFullstack.ImageType,
		DsCcfType:   cfg.DownsampledToCCF.ImageType,
		CcfDsType:   cfg.CCFToDownsampled.ImageType,
	})
	if err := r.cache.CreateDirs(); err != nil {
		return nil, err
	}

	r.resolvePaths()
	return r, nil
}

// Load reads the parameters file at configPath, loads the atlas
// descriptor it names, and builds the Registration.
func Load(configPath string, registrar engine.Registrar, transformer engine.Transformer) (*Registration, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	baseDir := filepath.Dir(configPath)
	atlas, err := config.LoadAtlas(filepath.Join(baseDir, cfg.Atlas.Path))
	if err != nil {
		return nil, err
	}
	return New(cfg, baseDir, atlas, registrar, transformer)
}

func (r *Registration) resolvePaths() {
	c := r.cache

	r.templatePath = filepath.Join(r.baseDir, r.cfg.Sample.TemplatePath)
	sampleDir := filepath.Dir(r.templatePath)
	for _, name := range r.cfg.Sample.Images {
		r.sampleImages = append(r.sampleImages, filepath.Join(sampleDir, name))
	}

	atlasDir := filepath.Join(r.baseDir, r.cfg.Atlas.Path)
	r.atlasTemplatePath = filepath.Join(atlasDir, r.atlas.TemplatePath)
	r.atlasAnnotationPath = filepath.Join(atlasDir, r.atlas.AnnotationPath)

	// output names accumulate each edge's prefix as volumes move through
	// the pipeline, so repeated runs reproduce the same filenames
	r.templateDsPath = c.VolumePath(models.FullstackToDownsampled, r.templatePath)
	r.templateDsCcfPath = c.VolumePath(models.DownsampledToCCF,
		c.ChainedName(models.FullstackToDownsampled, r.templatePath))

	for _, src := range r.sampleImages {
		r.sampleDsPaths = append(r.sampleDsPaths,
			c.VolumePath(models.FullstackToDownsampled, src))
		r.sampleDsCcfPaths = append(r.sampleDsCcfPaths,
			c.VolumePath(models.DownsampledToCCF,
				c.ChainedName(models.FullstackToDownsampled, src)))
	}

	r.atlasTemplateDsPath = c.VolumePath(models.CCFToDownsampled, r.atlasTemplatePath)
	r.atlasAnnotationDsPath = c.VolumePath(models.CCFToDownsampled, r.atlasAnnotationPath)
	r.atlasTemplateDsFsPath = c.VolumePath(models.DownsampledToFullstack,
		c.ChainedName(models.CCFToDownsampled, r.atlasTemplatePath))
	r.atlasAnnotationDsFsPath = c.VolumePath(models.DownsampledToFullstack,
		c.ChainedName(models.CCFToDownsampled, r.atlasAnnotationPath))

	r.fsTemplate = volumeState{path: ""}
	r.dsTemplate = volumeState{path: r.templateDsPath}
	r.atlasTemplate = volumeState{}
	r.atlasAnnotation = volumeState{}
	r.atlasTemplateDs = volumeState{path: r.atlasTemplateDsPath}
	r.atlasAnnotationDs = volumeState{path: r.atlasAnnotationDsPath}

	r.fsDs = paramsState{paths: c.ParamPaths(models.FullstackToDownsampled,
		[]string{r.cfg.FullstackToDownsampled.ParamsFilename})}
	r.dsFs = paramsState{paths: c.ParamPaths(models.DownsampledToFullstack,
		[]string{r.cfg.DownsampledToFullstack.ParamsFilename})}
	r.dsCcf = paramsState{paths: c.ParamPaths(models.DownsampledToCCF,
		r.cfg.DownsampledToCCF.ParamsFilenames)}
	r.ccfDs = paramsState{paths: c.ParamPaths(models.CCFToDownsampled,
		r.cfg.CCFToDownsampled.ParamsFilenames)}
}

// Run executes the selected stages in fixed order. With no arguments the
// whole pipeline runs.
func (r *Registration) Run(stages ...Stage) error {
	if len(stages) == 0 {
		stages = AllStages()
	}
	selected := make(map[Stage]bool, len(stages))
	for _, s := range stages {
		selected[s] = true
	}

	if selected[StageScale] {
		if err := r.runScaleStage(); err != nil {
			return err
		}
	}
	if selected[StageRegister] {
		if err := r.runRegisterStage(); err != nil {
			return err
		}
	}
	if selected[StageFinalize] {
		if err := r.runFinalizeStage(); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------
// stage 1: fullstack <-> downsampled scaling

func (r *Registration) runScaleStage() error {
	r.banner("FULLSTACK TO DOWNSAMPLED")

	if _, err := r.resolveFsDs(); err != nil {
		return err
	}
	if _, err := r.resolveDsFs(); err != nil {
		return err
	}

	if _, err := r.downsampledTemplate(); err != nil {
		return err
	}

	if r.cfg.FullstackToDownsampled.SaveImages {
		for i := range r.sampleImages {
			if r.cache.Exists(r.sampleDsPaths[i]) {
				r.logf("  downsampled image exists : %s", r.sampleDsPaths[i])
				continue
			}
			vol, err := r.sampleImageDs(i)
			if err != nil {
				return err
			}
			vol.Release()
		}
	} else {
		r.logf("  transforming and saving fs images to ds : not requested")
	}

	// the fullstack template can be very large; nothing after this stage
	// needs it unless a later produce reloads it
	r.fsTemplate.release()
	return nil
}

func (r *Registration) resolveFsDs() (params.Set, error) {
	return r.fsDs.get(r.cache, func() (params.Set, error) {
		r.logf("  defining fullstack to downsampled scaling parameters..")
		fs, err := r.fullstackTemplate()
		if err != nil {
			return nil, err
		}
		m := scaling.FullstackToDownsampledMap(r.factors, fs.Width, fs.Height, fs.Depth,
			r.cfg.FullstackToDownsampled.ImageType)
		set := params.Set{m}
		if err := r.cache.SaveParams(set, r.fsDs.paths); err != nil {
			return nil, err
		}
		r.logf("  saved fullstack-to-downsampled transform parameters : %s", r.fsDs.paths[0])
		return set, nil
	})
}

func (r *Registration) resolveDsFs() (params.Set, error) {
	return r.dsFs.get(r.cache, func() (params.Set, error) {
		r.logf("  defining downsampled to fullstack scaling parameters..")
		fs, err := r.fullstackTemplate()
		if err != nil {
			return nil, err
		}
		m := scaling.DownsampledToFullstackMap(r.factors, fs.Width, fs.Height, fs.Depth,
			r.cfg.DownsampledToFullstack.ImageType)
		set := params.Set{m}
		if err := r.cache.SaveParams(set, r.dsFs.paths); err != nil {
			return nil, err
		}
		r.logf("  saved downsampled-to-fullstack transform parameters : %s", r.dsFs.paths[0])
		return set, nil
	})
}

// downsampledTemplate produces the sample template in downsampled space:
// loaded from the cache when the artifact exists, otherwise computed from
// the fullstack template and persisted immediately.
func (r *Registration) downsampledTemplate() (*models.Volume, error) {
	return r.dsTemplate.get(r.cache, func() (*models.Volume, error) {
		fs, err := r.fullstackTemplate()
		if err != nil {
			return nil, err
		}
		set, err := r.resolveFsDs()
		if err != nil {
			return nil, err
		}

		vol := fs
		if r.cfg.FullstackToDownsampled.AdaptiveFilter {
			r.logf("  running fullstack to downsampled adaptive filter..")
			vol, err = r.applyScaleFilter(fs)
			if err != nil {
				return nil, err
			}
		}

		r.logf("  transforming sample template image to downsampled space..")
		out, err := r.applyTransform(models.FullstackToDownsampled, vol, set)
		if err != nil {
			return nil, err
		}
		rec := reconcile.Reconcile(vol, out)
		out.Release()
		if vol != fs {
			vol.Release()
		}

		if err := r.cache.SaveVolume(rec, r.templateDsPath); err != nil {
			return nil, err
		}
		r.logf("  saved downsampled template image : %s", r.templateDsPath)
		return rec, nil
	})
}

// sampleImageDs computes sample image i in downsampled space and
// persists it.
func (r *Registration) sampleImageDs(i int) (*models.Volume, error) {
	if r.cache.Exists(r.sampleDsPaths[i]) {
		return r.cache.LoadVolume(r.sampleDsPaths[i])
	}

	src, err := r.loadSource(r.sampleImages[i], models.RoleSampleImage)
	if err != nil {
		return nil, err
	}
	set, err := r.resolveFsDs()
	if err != nil {
		return nil, err
	}

	vol := src
	if r.cfg.FullstackToDownsampled.AdaptiveFilter {
		vol, err = r.applyScaleFilter(src)
		if err != nil {
			return nil, err
		}
	}

	r.logf("    transforming sample image : %s", r.sampleImages[i])
	out, err := r.applyTransform(models.FullstackToDownsampled, vol, set)
	if err != nil {
		return nil, err
	}
	rec := reconcile.Reconcile(vol, out)
	out.Release()
	if vol != src {
		vol.Release()
	}
	src.Release()

	if err := r.cache.SaveVolume(rec, r.sampleDsPaths[i]); err != nil {
		return nil, err
	}
	r.logf("    saved downsampled image : %s", r.sampleDsPaths[i])
	return rec, nil
}

// applyScaleFilter runs the resolution-matched median prefilter used
// before scaling down: the kernel radius per axis is half the
// downsampled-to-fullstack ratio, so each output voxel summarises the
// fullstack voxels it covers.
func (r *Registration) applyScaleFilter(vol *models.Volume) (*models.Volume, error) {
	spec := fmt.Sprintf("M,%d,%d,%d",
		int(math.Round(r.factors.BtoA[0]/2)),
		int(math.Round(r.factors.BtoA[1]/2)),
		int(math.Round(r.factors.BtoA[2]/2)))
	p, err := filter.Parse(spec)
	if err != nil {
		return nil, err
	}
	return p.Apply(vol)
}

// ---------------------------------------------------------------------
// stage 2: downsampled <-> ccf registration and transform

func (r *Registration) runRegisterStage() error {
	needDsCcf := !r.dsCcf.resolved(r.cache)
	needCcfDs := !r.ccfDs.resolved(r.cache)

	if needDsCcf || needCcfDs {
		// both registrations consume the downsampled template; it must be
		// materialised before either may start
		if _, err := r.downsampledTemplate(); err != nil {
			return err
		}
		if _, err := r.atlasTemplateVol(); err != nil {
			return err
		}

		// the two directions are independent computations over the same
		// inputs and may run concurrently
		var g errgroup.Group
		if needDsCcf {
			g.Go(func() error {
				_, err := r.resolveDsCcf()
				return err
			})
		}
		if needCcfDs {
			g.Go(func() error {
				_, err := r.resolveCcfDs()
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	if err := r.transformDownsampledToCCF(); err != nil {
		return err
	}
	if err := r.transformCCFToDownsampled(); err != nil {
		return err
	}

	r.atlasTemplate.release()
	r.atlasAnnotation.release()
	r.dsTemplate.release()
	return nil
}

func (r *Registration) resolveDsCcf() (params.Set, error) {
	return r.dsCcf.get(r.cache, func() (params.Set, error) {
		r.banner("DOWNSAMPLED TO CCF")
		ds, err := r.downsampledTemplate()
		if err != nil {
			return nil, err
		}
		atlasVol, err := r.atlasTemplateVol()
		if err != nil {
			return nil, err
		}
		return r.registerEdge(models.DownsampledToCCF, ds, atlasVol,
			r.cfg.DownsampledToCCF, r.dsCcf.paths)
	})
}

func (r *Registration) resolveCcfDs() (params.Set, error) {
	return r.ccfDs.get(r.cache, func() (params.Set, error) {
		r.banner("CCF TO DOWNSAMPLED")
		ds, err := r.downsampledTemplate()
		if err != nil {
			return nil, err
		}
		atlasVol, err := r.atlasTemplateVol()
		if err != nil {
			return nil, err
		}
		// deliberately an independent optimisation, not the inverse of
		// downsampled-to-ccf: registration transforms are not generally
		// invertible
		return r.registerEdge(models.CCFToDownsampled, atlasVol, ds,
			r.cfg.CCFToDownsampled, r.ccfDs.paths)
	})
}

// registerEdge runs one registration-engine invocation for edge inside a
// scoped working directory and persists the resulting parameter-map set.
func (r *Registration) registerEdge(edge models.Edge, moving, fixed *models.Volume, ec config.RegistrationEdge, paramPaths []string) (params.Set, error) {
	pipeline, err := prefilterPipeline(ec.Prefilter)
	if err != nil {
		return nil, err
	}

	m, f := moving, fixed
	if pipeline != nil && !pipeline.Empty() {
		// both endpoints receive identical smoothing; filtered copies are
		// used for optimisation only and dropped afterwards
		r.logf("  running %s prefilter..", edge)
		if m, err = pipeline.Apply(moving); err != nil {
			return nil, err
		}
		if f, err = pipeline.Apply(fixed); err != nil {
			return nil, err
		}
	}

	templates, err := r.resolveTemplates(ec.ParameterFiles)
	if err != nil {
		return nil, err
	}

	wd, err := engine.AcquireWorkdir()
	if err != nil {
		return nil, err
	}
	defer wd.Release()

	r.logf("  registering %s..", edge)
	set, err := r.registrar.Register(wd.Path(), m, f, templates)
	if err != nil {
		return nil, &EngineError{Edge: edge, Op: "register", Err: err}
	}
	if len(set) != len(paramPaths) {
		return nil, &EngineError{Edge: edge, Op: "register",
			Err: fmt.Errorf("engine returned %d parameter maps, expected %d", len(set), len(paramPaths))}
	}

	// iteration logs are transient engine noise, never persisted
	if err := wd.RemoveIterationLogs(); err != nil {
		return nil, err
	}

	// the engine's own parameter files, when present, are the persisted
	// record; otherwise serialize the returned set
	n, err := wd.TransformParamsCount()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		if err := wd.CollectTransformParams(paramPaths); err != nil {
			return nil, err
		}
	} else if err := r.cache.SaveParams(set, paramPaths); err != nil {
		return nil, err
	}
	r.logf("  saved %s parameter map file[s]", edge)

	if m != moving {
		m.Release()
	}
	if f != fixed {
		f.Release()
	}
	return set, nil
}

func (r *Registration) transformDownsampledToCCF() error {
	ec := r.cfg.DownsampledToCCF

	if ec.SaveTemplate {
		if r.cache.Exists(r.templateDsCcfPath) {
			r.logf("  ds template in ccf space exists : %s", r.templateDsCcfPath)
		} else {
			ds, err := r.downsampledTemplate()
			if err != nil {
				return err
			}
			set, err := r.resolveDsCcf()
			if err != nil {
				return err
			}
			r.logf("  transforming sample template ds image to ccf space..")
			out, err := r.applyTransform(models.DownsampledToCCF, ds, set)
			if err != nil {
				return err
			}
			rec := reconcile.Reconcile(ds, out)
			out.Release()
			if err := r.cache.SaveVolume(rec, r.templateDsCcfPath); err != nil {
				return err
			}
			r.reportAlignment(models.DownsampledToCCF, rec, &r.atlasTemplate)
			rec.Release()
		}
	} else {
		r.logf("  transforming and saving ds template image to ccf : not requested")
	}

	if ec.SaveImages {
		for i := range r.sampleImages {
			if r.cache.Exists(r.sampleDsCcfPaths[i]) {
				r.logf("  ds image in ccf space exists : %s", r.sampleDsCcfPaths[i])
				continue
			}
			src, err := r.sampleImageDs(i)
			if err != nil {
				return err
			}
			set, err := r.resolveDsCcf()
			if err != nil {
				return err
			}
			out, err := r.applyTransform(models.DownsampledToCCF, src, set)
			if err != nil {
				return err
			}
			rec := reconcile.Reconcile(src, out)
			out.Release()
			src.Release()
			if err := r.cache.SaveVolume(rec, r.sampleDsCcfPaths[i]); err != nil {
				return err
			}
			r.logf("  saved downsampled to ccf image : %s", r.sampleDsCcfPaths[i])
			rec.Release()
		}
	} else {
		r.logf("  transforming and saving ds images to ccf : not requested")
	}
	return nil
}

func (r *Registration) transformCCFToDownsampled() error {
	ec := r.cfg.CCFToDownsampled

	if ec.SaveTemplate {
		vol, err := r.atlasTemplateDsVol()
		if err != nil {
			return err
		}
		r.reportAlignment(models.CCFToDownsampled, vol, &r.dsTemplate)
	} else {
		r.logf("  transforming and saving ccf template image to ds : not requested")
	}

	if ec.SaveAnnotation {
		if _, err := r.atlasAnnotationDsVol(); err != nil {
			return err
		}
	} else {
		r.logf("  transforming and saving ccf annotation to ds : not requested")
	}
	return nil
}

// atlasTemplateDsVol produces the atlas template in downsampled space.
func (r *Registration) atlasTemplateDsVol() (*models.Volume, error) {
	return r.atlasTemplateDs.get(r.cache, func() (*models.Volume, error) {
		atlasVol, err := r.atlasTemplateVol()
		if err != nil {
			return nil, err
		}
		set, err := r.resolveCcfDs()
		if err != nil {
			return nil, err
		}
		r.logf("  transforming ccf template to ds space..")
		out, err := r.applyTransform(models.CCFToDownsampled, atlasVol, set)
		if err != nil {
			return nil, err
		}
		rec := reconcile.Reconcile(atlasVol, out)
		out.Release()
		if err := r.cache.SaveVolume(rec, r.atlasTemplateDsPath); err != nil {
			return nil, err
		}
		r.logf("  saved ccf template image to ds : %s", r.atlasTemplateDsPath)
		return rec, nil
	})
}

// atlasAnnotationDsVol produces the atlas annotation in downsampled
// space using the nearest-neighbour variant of the ccf-to-downsampled
// set, so no fractional label values are invented.
func (r *Registration) atlasAnnotationDsVol() (*models.Volume, error) {
	return r.atlasAnnotationDs.get(r.cache, func() (*models.Volume, error) {
		anno, err := r.atlasAnnotationVol()
		if err != nil {
			return nil, err
		}
		set, err := r.ccfDs.annotation(r.cache, func() (params.Set, error) {
			return r.resolveCcfDs()
		})
		if err != nil {
			return nil, err
		}
		r.logf("  transforming ccf annotation to ds space..")
		out, err := r.applyTransform(models.CCFToDownsampled, anno, set)
		if err != nil {
			return nil, err
		}
		rec := reconcile.Reconcile(anno, out)
		out.Release()
		if err := r.cache.SaveVolume(rec, r.atlasAnnotationDsPath); err != nil {
			return nil, err
		}
		r.logf("  saved ccf annotation to ds : %s", r.atlasAnnotationDsPath)
		return rec, nil
	})
}

// ---------------------------------------------------------------------
// stage 3: downsampled -> fullstack finalisation

func (r *Registration) runFinalizeStage() error {
	r.banner("DOWNSAMPLED TO FULLSTACK")
	ec := r.cfg.DownsampledToFullstack

	if ec.SaveTemplate {
		if r.cache.Exists(r.atlasTemplateDsFsPath) {
			r.logf("  ccf template ds in fs space exists : %s", r.atlasTemplateDsFsPath)
		} else {
			src, err := r.atlasTemplateDsVol()
			if err != nil {
				return err
			}
			set, err := r.resolveDsFs()
			if err != nil {
				return err
			}
			r.logf("  transforming ccf template ds to fs space..")
			out, err := r.applyTransform(models.DownsampledToFullstack, src, set)
			if err != nil {
				return err
			}
			rec := reconcile.Reconcile(src, out)
			out.Release()
			if err := r.cache.SaveVolume(rec, r.atlasTemplateDsFsPath); err != nil {
				return err
			}
			r.logf("  saved ccf template ds image to fs : %s", r.atlasTemplateDsFsPath)
			rec.Release()
		}
	} else {
		r.logf("  transforming and saving ccf template ds image to fs : not requested")
	}

	if ec.SaveAnnotation {
		if r.cache.Exists(r.atlasAnnotationDsFsPath) {
			r.logf("  ccf annotation ds in fs space exists : %s", r.atlasAnnotationDsFsPath)
		} else {
			src, err := r.atlasAnnotationDsVol()
			if err != nil {
				return err
			}
			set, err := r.dsFs.annotation(r.cache, func() (params.Set, error) {
				return r.resolveDsFs()
			})
			if err != nil {
				return err
			}
			r.logf("  transforming ccf annotation ds to fs space..")
			out, err := r.applyTransform(models.DownsampledToFullstack, src, set)
			if err != nil {
				return err
			}
			rec := reconcile.Reconcile(src, out)
			out.Release()
			if err := r.cache.SaveVolume(rec, r.atlasAnnotationDsFsPath); err != nil {
				return err
			}
			r.logf("  saved ds annotation to fs : %s", r.atlasAnnotationDsFsPath)
			rec.Release()
		}
	} else {
		r.logf("  transforming and saving ccf annotation ds to fs : not requested")
	}

	r.atlasTemplateDs.release()
	r.atlasAnnotationDs.release()
	return nil
}

// ---------------------------------------------------------------------
// shared helpers

func (r *Registration) fullstackTemplate() (*models.Volume, error) {
	return r.fsTemplate.get(r.cache, func() (*models.Volume, error) {
		r.logf("  loading sample template image : %s", r.templatePath)
		return r.loadSource(r.templatePath, models.RoleTemplate)
	})
}

func (r *Registration) atlasTemplateVol() (*models.Volume, error) {
	return r.atlasTemplate.get(r.cache, func() (*models.Volume, error) {
		r.logf("  loading ccf template image : %s", r.atlasTemplatePath)
		return r.loadSource(r.atlasTemplatePath, models.RoleTemplate)
	})
}

func (r *Registration) atlasAnnotationVol() (*models.Volume, error) {
	return r.atlasAnnotation.get(r.cache, func() (*models.Volume, error) {
		r.logf("  loading ccf annotation image : %s", r.atlasAnnotationPath)
		return r.loadSource(r.atlasAnnotationPath, models.RoleAnnotation)
	})
}

func (r *Registration) loadSource(path string, role models.Role) (*models.Volume, error) {
	vol, err := r.cache.LoadVolume(path)
	if err != nil {
		return nil, &SourceError{Path: path, Role: role, Err: err}
	}
	return vol, nil
}

func (r *Registration) applyTransform(edge models.Edge, vol *models.Volume, set params.Set) (*models.Volume, error) {
	out, err := r.transformer.Apply(vol, set)
	if err != nil {
		return nil, &EngineError{Edge: edge, Op: "transform", Err: err}
	}
	return out, nil
}

func (r *Registration) resolveTemplates(ids []string) (params.Set, error) {
	set := make(params.Set, 0, len(ids))
	for _, id := range ids {
		switch id {
		case config.TemplateAffine:
			set = append(set, params.DefaultAffineTemplate())
		case config.TemplateBSpline:
			set = append(set, params.DefaultBSplineTemplate())
		default:
			m, err := params.ReadFile(filepath.Join(r.baseDir, id))
			if err != nil {
				return nil, err
			}
			set = append(set, m)
		}
	}
	return set, nil
}

// prefilterPipeline maps a configured prefilter spec to a parsed
// pipeline: "none" (or empty) disables filtering, "adaptive" selects the
// default isotropic median, anything else is parsed as a filter grammar
// string.
func prefilterPipeline(spec string) (*filter.Pipeline, error) {
	switch spec {
	case "", "none":
		return nil, nil
	case "adaptive":
		return filter.Parse("M,4,4,4")
	default:
		return filter.Parse(spec)
	}
}

// reportAlignment prints similarity scores between a transformed volume
// and the target space's template when verbose.
func (r *Registration) reportAlignment(edge models.Edge, moved *models.Volume, target *volumeState) {
	if !r.verbose || target.kind != cached {
		return
	}
	mw, mh, md := moved.Size()
	tw, th, td := target.vol.Size()
	if mw != tw || mh != th || md != td {
		return
	}
	rep := metrics.Compare(moved, target.vol)
	fmt.Printf("  %s alignment : MI=%.3f RMSE=%.6f SSIM=%.3f\n", edge, rep.MI, rep.RMSE, rep.SSIM)
}

func (r *Registration) banner(title string) {
	if !r.verbose {
		return
	}
	fmt.Println()
	for range title {
		fmt.Print("=")
	}
	fmt.Println()
	fmt.Println(title)
	for range title {
		fmt.Print("=")
	}
	fmt.Println()
}

func (r *Registration) logf(format string, args ...interface{}) {
	if r.verbose {
		fmt.Printf(format+"\n", args...)
	}
}
