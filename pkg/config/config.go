// Package config provides configuration loading and management for
// brainregister. It handles loading the pipeline parameters from YAML
// files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"brainregister/internal/models"
)

// InvalidError reports a configuration that can never produce a valid
// run. It aborts before any stage executes.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return "invalid configuration: " + e.Reason
}

func invalidf(format string, args ...interface{}) error {
	return &InvalidError{Reason: fmt.Sprintf(format, args...)}
}

// Named parameter-template identifiers resolvable without a file.
const (
	TemplateAffine  = "brainregister_affine"
	TemplateBSpline = "brainregister_bspline"
)

// ScaleEdge configures the fullstack-to-downsampled scaling edge.
type ScaleEdge struct {
	// Path is the output directory, relative to the config file.
	Path string `yaml:"path"`

	// Prefix is prepended to every output filename of this edge.
	Prefix string `yaml:"prefix"`

	// SaveImages selects whether companion sample images are persisted.
	// The downsampled template itself is always persisted: every later
	// stage resolves against it.
	SaveImages bool `yaml:"saveImages"`

	// ImageType is the output image extension.
	ImageType string `yaml:"saveImageType"`

	// ParamsFilename names the serialized scaling parameter map.
	ParamsFilename string `yaml:"transformParamsFilename"`

	// AdaptiveFilter enables the resolution-matched median prefilter
	// before scaling down.
	AdaptiveFilter bool `yaml:"adaptiveFilter"`
}

// ReverseScaleEdge configures the downsampled-to-fullstack edge.
type ReverseScaleEdge struct {
	Path           string `yaml:"path"`
	Prefix         string `yaml:"prefix"`
	SaveTemplate   bool   `yaml:"saveTemplate"`
	SaveAnnotation bool   `yaml:"saveAnnotation"`
	ImageType      string `yaml:"saveImageType"`
	ParamsFilename string `yaml:"transformParamsFilename"`
}

// RegistrationEdge configures one optimiser-driven registration edge.
type RegistrationEdge struct {
	Path         string `yaml:"path"`
	Prefix       string `yaml:"prefix"`
	SaveTemplate bool   `yaml:"saveTemplate"`

	// SaveImages applies to the downsampled-to-ccf direction,
	// SaveAnnotation to the ccf-to-downsampled direction.
	SaveImages     bool `yaml:"saveImages"`
	SaveAnnotation bool `yaml:"saveAnnotation"`

	ImageType string `yaml:"saveImageType"`

	// ParamsFilenames name the serialized parameter-map files, one per
	// registration stage, in application order.
	ParamsFilenames []string `yaml:"transformParamsFilenames"`

	// ParameterFiles are the registration parameter templates, one per
	// stage: a named built-in identifier or a path relative to the
	// config file.
	ParameterFiles []string `yaml:"parametersFiles"`

	// Prefilter is the pre-registration filter spec: "none", "adaptive",
	// or a custom filter grammar string.
	Prefilter string `yaml:"prefilter"`
}

// Config represents the pipeline configuration loaded from YAML.
type Config struct {
	// Sample describes the full-resolution input data.
	Sample struct {
		// TemplatePath points to the sample template image, relative to
		// the config file. Registration is optimised on this image.
		TemplatePath string `yaml:"templatePath"`

		// Images are companion sample images transformed alongside the
		// template, named relative to the template's directory.
		Images []string `yaml:"images"`

		// Resolution is the physical voxel size of the sample.
		Resolution models.Resolution `yaml:"resolution"`
	} `yaml:"sample"`

	// Atlas points to the reference atlas directory holding an
	// atlas_parameters.yaml descriptor.
	Atlas struct {
		Path string `yaml:"path"`
	} `yaml:"atlas"`

	FullstackToDownsampled ScaleEdge        `yaml:"fullstackToDownsampled"`
	DownsampledToFullstack ReverseScaleEdge `yaml:"downsampledToFullstack"`
	DownsampledToCCF       RegistrationEdge `yaml:"downsampledToCcf"`
	CCFToDownsampled       RegistrationEdge `yaml:"ccfToDownsampled"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output.
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// Atlas is the reference atlas descriptor, loaded from
// atlas_parameters.yaml inside the atlas directory.
type Atlas struct {
	// TemplatePath and AnnotationPath are relative to the descriptor.
	TemplatePath   string `yaml:"templatePath"`
	AnnotationPath string `yaml:"annotationPath"`

	// Resolution is the physical voxel size of the atlas; the
	// downsampled space is scaled to match it.
	Resolution models.Resolution `yaml:"resolution"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.FullstackToDownsampled = ScaleEdge{
		Path:           "fullstack-to-downsampled",
		Prefix:         "ds_",
		SaveImages:     true,
		ImageType:      "brv",
		ParamsFilename: "fullstack-to-downsampled_scaling.txt",
		AdaptiveFilter: true,
	}

	cfg.DownsampledToFullstack = ReverseScaleEdge{
		Path:           "downsampled-to-fullstack",
		Prefix:         "fs_",
		SaveTemplate:   true,
		SaveAnnotation: true,
		ImageType:      "brv",
		ParamsFilename: "downsampled-to-fullstack_scaling.txt",
	}

	cfg.DownsampledToCCF = RegistrationEdge{
		Path:         "downsampled-to-ccf",
		Prefix:       "ccf_",
		SaveTemplate: true,
		SaveImages:   true,
		ImageType:    "brv",
		ParamsFilenames: []string{
			"downsampled-to-ccf_affine.txt",
			"downsampled-to-ccf_bspline.txt",
		},
		ParameterFiles: []string{TemplateAffine, TemplateBSpline},
		Prefilter:      "adaptive",
	}

	cfg.CCFToDownsampled = RegistrationEdge{
		Path:           "ccf-to-downsampled",
		Prefix:         "ds_",
		SaveTemplate:   true,
		SaveAnnotation: true,
		ImageType:      "brv",
		ParamsFilenames: []string{
			"ccf-to-downsampled_affine.txt",
			"ccf-to-downsampled_bspline.txt",
		},
		ParameterFiles: []string{TemplateAffine, TemplateBSpline},
		Prefilter:      "adaptive",
	}

	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path, pointed at the given sample template image.
func CreateDefaultConfigFile(configPath, sampleTemplatePath string) error {
	cfg := DefaultConfig()
	cfg.Sample.TemplatePath = sampleTemplatePath
	return SaveConfig(cfg, configPath)
}

// LoadAtlas loads the atlas descriptor from the atlas directory.
func LoadAtlas(atlasDir string) (*Atlas, error) {
	path := filepath.Join(atlasDir, "atlas_parameters.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading atlas descriptor: %w", err)
	}
	atlas := &Atlas{}
	if err := yaml.Unmarshal(data, atlas); err != nil {
		return nil, fmt.Errorf("error parsing atlas descriptor %s: %w", path, err)
	}
	if !atlas.Resolution.IsSet() {
		return nil, invalidf("atlas resolution not set in %s", path)
	}
	return atlas, nil
}

// Validate checks the configuration for contradictions that would make
// any run fail. It runs before any stage does.
func (c *Config) Validate() error {
	if c.Sample.TemplatePath == "" {
		return invalidf("sample template path not set")
	}
	if !c.Sample.Resolution.IsSet() {
		return invalidf("sample resolution not set")
	}
	if len(c.DownsampledToCCF.ParamsFilenames) != len(c.DownsampledToCCF.ParameterFiles) {
		return invalidf("downsampled-to-ccf: %d transform-params filenames for %d parameter files",
			len(c.DownsampledToCCF.ParamsFilenames), len(c.DownsampledToCCF.ParameterFiles))
	}
	if len(c.CCFToDownsampled.ParamsFilenames) != len(c.CCFToDownsampled.ParameterFiles) {
		return invalidf("ccf-to-downsampled: %d transform-params filenames for %d parameter files",
			len(c.CCFToDownsampled.ParamsFilenames), len(c.CCFToDownsampled.ParameterFiles))
	}
	if len(c.DownsampledToCCF.ParameterFiles) == 0 {
		return invalidf("downsampled-to-ccf: no registration parameter files")
	}
	if len(c.CCFToDownsampled.ParameterFiles) == 0 {
		return invalidf("ccf-to-downsampled: no registration parameter files")
	}
	return nil
}
