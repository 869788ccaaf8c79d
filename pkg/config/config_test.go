package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"brainregister/internal/models"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Sample.TemplatePath = "template.brv"
	cfg.Sample.Resolution = models.Resolution{X: 1, Y: 1, Z: 1}
	return cfg
}

// TestDefaultConfig verifies the shipped defaults carry matched
// per-stage filename and template lists for both registration edges.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.DownsampledToCCF.ParamsFilenames) != len(cfg.DownsampledToCCF.ParameterFiles) {
		t.Errorf("downsampled-to-ccf defaults mismatched: %d filenames, %d templates",
			len(cfg.DownsampledToCCF.ParamsFilenames), len(cfg.DownsampledToCCF.ParameterFiles))
	}
	if len(cfg.CCFToDownsampled.ParamsFilenames) != len(cfg.CCFToDownsampled.ParameterFiles) {
		t.Errorf("ccf-to-downsampled defaults mismatched: %d filenames, %d templates",
			len(cfg.CCFToDownsampled.ParamsFilenames), len(cfg.CCFToDownsampled.ParameterFiles))
	}
	if cfg.DownsampledToCCF.ParameterFiles[0] != TemplateAffine {
		t.Errorf("Expected first stage %q, got %q", TemplateAffine, cfg.DownsampledToCCF.ParameterFiles[0])
	}
	if cfg.DownsampledToCCF.Prefilter != "adaptive" {
		t.Errorf("Expected adaptive prefilter default, got %q", cfg.DownsampledToCCF.Prefilter)
	}
}

// TestSaveLoadRoundTrip verifies YAML persistence of a configuration.
func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brainregister_parameters.yaml")

	cfg := validConfig()
	cfg.Sample.Images = []string{"channel1.brv", "channel2.brv"}
	cfg.Output.Verbose = false
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got.Sample.TemplatePath != "template.brv" {
		t.Errorf("Expected template.brv, got %q", got.Sample.TemplatePath)
	}
	if len(got.Sample.Images) != 2 || got.Sample.Images[1] != "channel2.brv" {
		t.Errorf("Sample images lost: %v", got.Sample.Images)
	}
	if got.Sample.Resolution.X != 1 {
		t.Errorf("Resolution lost: %v", got.Sample.Resolution)
	}
	if got.Output.Verbose {
		t.Errorf("Expected verbose=false preserved")
	}
}

// TestLoadConfigMissingFile verifies a missing file yields defaults.
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got error: %v", err)
	}
	if cfg.FullstackToDownsampled.Prefix != "ds_" {
		t.Errorf("Expected default prefix ds_, got %q", cfg.FullstackToDownsampled.Prefix)
	}
}

// TestCreateDefaultConfigFile verifies the -create flow writes a file
// pointed at the given template.
func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "brainregister_parameters.yaml")
	if err := CreateDefaultConfigFile(path, "my_template.brv"); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Sample.TemplatePath != "my_template.brv" {
		t.Errorf("Expected my_template.brv, got %q", cfg.Sample.TemplatePath)
	}
}

// TestScaleEdgeYAMLSurface verifies the fullstack-to-downsampled
// section only advertises switches the pipeline consults. The
// downsampled template is persisted unconditionally, so no saveTemplate
// switch exists for it.
func TestScaleEdgeYAMLSurface(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brainregister_parameters.yaml")
	if err := SaveConfig(validConfig(), path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Reading config: %v", err)
	}

	var raw map[string]map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	section, ok := raw["fullstackToDownsampled"]
	if !ok {
		t.Fatalf("Missing fullstackToDownsampled section")
	}
	if _, ok := section["saveTemplate"]; ok {
		t.Errorf("Expected no saveTemplate switch in fullstackToDownsampled section")
	}
	if _, ok := section["saveImages"]; !ok {
		t.Errorf("Expected saveImages switch in fullstackToDownsampled section")
	}
}

// TestValidate verifies the fatal pre-run checks: every contradiction
// must be caught before any stage runs.
func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Expected valid config, got: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing template path", func(c *Config) { c.Sample.TemplatePath = "" }},
		{"unset resolution", func(c *Config) { c.Sample.Resolution.Y = 0 }},
		{"ds-ccf count mismatch", func(c *Config) {
			c.DownsampledToCCF.ParamsFilenames = c.DownsampledToCCF.ParamsFilenames[:1]
		}},
		{"ccf-ds count mismatch", func(c *Config) {
			c.CCFToDownsampled.ParameterFiles = append(c.CCFToDownsampled.ParameterFiles, TemplateBSpline)
		}},
		{"no registration stages", func(c *Config) {
			c.DownsampledToCCF.ParameterFiles = nil
			c.DownsampledToCCF.ParamsFilenames = nil
		}},
	}

	for _, c := range cases {
		cfg := validConfig()
		c.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected error, got nil", c.name)
			continue
		}
		var ie *InvalidError
		if !errors.As(err, &ie) {
			t.Errorf("%s: expected *InvalidError, got %T", c.name, err)
		}
	}
}

// TestLoadAtlas verifies descriptor loading and the resolution check.
func TestLoadAtlas(t *testing.T) {
	dir := t.TempDir()
	descriptor := `templatePath: atlas_template.brv
annotationPath: atlas_annotation.brv
resolution:
  x-um: 25
  y-um: 25
  z-um: 25
`
	if err := os.WriteFile(filepath.Join(dir, "atlas_parameters.yaml"), []byte(descriptor), 0644); err != nil {
		t.Fatalf("writing descriptor: %v", err)
	}

	atlas, err := LoadAtlas(dir)
	if err != nil {
		t.Fatalf("LoadAtlas failed: %v", err)
	}
	if atlas.TemplatePath != "atlas_template.brv" {
		t.Errorf("Expected atlas_template.brv, got %q", atlas.TemplatePath)
	}
	if atlas.Resolution.X != 25 {
		t.Errorf("Expected 25um resolution, got %v", atlas.Resolution.X)
	}
}

// TestLoadAtlasMissingResolution verifies a descriptor without a full
// resolution is rejected.
func TestLoadAtlasMissingResolution(t *testing.T) {
	dir := t.TempDir()
	descriptor := `templatePath: atlas_template.brv
annotationPath: atlas_annotation.brv
`
	if err := os.WriteFile(filepath.Join(dir, "atlas_parameters.yaml"), []byte(descriptor), 0644); err != nil {
		t.Fatalf("writing descriptor: %v", err)
	}
	if _, err := LoadAtlas(dir); err == nil {
		t.Errorf("Expected error for unset atlas resolution, got nil")
	}
}
