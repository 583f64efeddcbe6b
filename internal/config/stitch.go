package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/volstitch/internal/stitch"
	"github.com/banshee-data/volstitch/internal/tiling"
	"github.com/banshee-data/volstitch/internal/volume"
)

// DefaultConfigPath is the path to the canonical stitching defaults file.
const DefaultConfigPath = "config/stitch.defaults.json"

// StitchConfig is the JSON configuration for one stitching run. Every field is
// optional; the Get* methods supply fallbacks for fields that are absent.
// Shapes are ordered Z, Y, X.
type StitchConfig struct {
	// Tiling
	PatchShape  *[3]int `json:"patch_shape,omitempty"`
	StrideShape *[3]int `json:"stride_shape,omitempty"`

	// Blending
	Halo          *[3]int `json:"halo,omitempty"`
	MirrorPadding *[3]int `json:"mirror_padding,omitempty"`

	// Model output
	OutputHeads       *int `json:"output_heads,omitempty"`
	PredictionChannel *int `json:"prediction_channel,omitempty"`

	// Execution
	BatchSize *int `json:"batch_size,omitempty"`
	Workers   *int `json:"workers,omitempty"`
	Prefetch  *int `json:"prefetch,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrShape(v [3]int) *[3]int { return &v }

// EmptyStitchConfig returns a StitchConfig with all fields unset.
func EmptyStitchConfig() *StitchConfig {
	return &StitchConfig{}
}

// Load reads a StitchConfig from a JSON file. The file must have a .json
// extension and be at most 1MB. Fields omitted from the file stay nil.
func Load(path string) (*StitchConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a StitchConfig from JSON. Unknown fields are
// rejected so that typos do not silently fall back to defaults.
func Parse(data []byte) (*StitchConfig, error) {
	cfg := EmptyStitchConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// one of its parents. Panics if the file cannot be loaded; intended for test
// setup.
func MustLoadDefaultConfig() *StitchConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/volstitch/ and deeper
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks field ranges that do not depend on the adapter or the input
// volume. Cross-field checks (halo against overlap) are left to stitch.New so
// they surface as configuration errors with the same wording everywhere.
func (c *StitchConfig) Validate() error {
	if c.PatchShape != nil && !volume.Triple(*c.PatchShape).AllPositive() {
		return fmt.Errorf("patch_shape must be positive, got %v", *c.PatchShape)
	}
	if c.StrideShape != nil && !volume.Triple(*c.StrideShape).AllPositive() {
		return fmt.Errorf("stride_shape must be positive, got %v", *c.StrideShape)
	}
	if c.Halo != nil && volume.Triple(*c.Halo).AnyNegative() {
		return fmt.Errorf("halo must be non-negative, got %v", *c.Halo)
	}
	if c.MirrorPadding != nil && volume.Triple(*c.MirrorPadding).AnyNegative() {
		return fmt.Errorf("mirror_padding must be non-negative, got %v", *c.MirrorPadding)
	}
	if c.OutputHeads != nil && *c.OutputHeads < 0 {
		return fmt.Errorf("output_heads must be non-negative, got %d", *c.OutputHeads)
	}
	if c.PredictionChannel != nil && *c.PredictionChannel < 0 {
		return fmt.Errorf("prediction_channel must be non-negative, got %d", *c.PredictionChannel)
	}
	if c.BatchSize != nil && *c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", *c.BatchSize)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.Prefetch != nil && *c.Prefetch < 0 {
		return fmt.Errorf("prefetch must be non-negative, got %d", *c.Prefetch)
	}
	return nil
}

// GetPatchShape returns patch_shape or the default.
func (c *StitchConfig) GetPatchShape() volume.Triple {
	if c.PatchShape == nil {
		return volume.Triple{32, 128, 128}
	}
	return volume.Triple(*c.PatchShape)
}

// GetStrideShape returns stride_shape, defaulting to the patch shape (no
// overlap).
func (c *StitchConfig) GetStrideShape() volume.Triple {
	if c.StrideShape == nil {
		return c.GetPatchShape()
	}
	return volume.Triple(*c.StrideShape)
}

// GetHalo returns halo or the default (no trimming).
func (c *StitchConfig) GetHalo() volume.Triple {
	if c.Halo == nil {
		return volume.Triple{}
	}
	return volume.Triple(*c.Halo)
}

// GetMirrorPadding returns mirror_padding, or nil when padding is disabled.
func (c *StitchConfig) GetMirrorPadding() *volume.Triple {
	if c.MirrorPadding == nil {
		return nil
	}
	pad := volume.Triple(*c.MirrorPadding)
	return &pad
}

// GetOutputHeads returns output_heads, or 0 to accept whatever the adapter
// produces.
func (c *StitchConfig) GetOutputHeads() int {
	if c.OutputHeads == nil {
		return 0
	}
	return *c.OutputHeads
}

// GetBatchSize returns batch_size or the default.
func (c *StitchConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 1
	}
	return *c.BatchSize
}

// GetWorkers returns workers or the default (sequential).
func (c *StitchConfig) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}

// GetPrefetch returns prefetch or the default (no background slicing).
func (c *StitchConfig) GetPrefetch() int {
	if c.Prefetch == nil {
		return 0
	}
	return *c.Prefetch
}

// ToPlan returns the tiling plan described by the config.
func (c *StitchConfig) ToPlan() tiling.Plan {
	return tiling.Plan{Patch: c.GetPatchShape(), Stride: c.GetStrideShape()}
}

// ToEngineConfig returns the engine configuration described by the config.
func (c *StitchConfig) ToEngineConfig() stitch.Config {
	cfg := stitch.Config{
		Plan:          c.ToPlan(),
		Halo:          c.GetHalo(),
		MirrorPadding: c.GetMirrorPadding(),
		Heads:         c.GetOutputHeads(),
		Workers:       c.GetWorkers(),
	}
	if c.PredictionChannel != nil {
		cfg.PredictionChannel = ptrInt(*c.PredictionChannel)
	}
	return cfg
}

// SourceOptions returns the array-source options described by the config.
func (c *StitchConfig) SourceOptions() []tiling.SourceOption {
	opts := []tiling.SourceOption{tiling.WithBatchSize(c.GetBatchSize())}
	if n := c.GetPrefetch(); n > 0 {
		opts = append(opts, tiling.WithPrefetch(n, c.GetWorkers()))
	}
	if pad := c.GetMirrorPadding(); pad != nil {
		opts = append(opts, tiling.WithMirrorPadding(*pad))
	}
	return opts
}
