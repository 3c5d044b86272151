// Package config loads run configuration from defaults, an optional TOML
// file and CROWDTAG_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"crowdtag/internal/blob"
	"crowdtag/internal/checkpoint"
	"crowdtag/internal/metrics"
	"crowdtag/internal/spatial"
	"crowdtag/internal/tagger"
)

// Thresholds are the close/far bands of group and goal distances.
type Thresholds struct {
	GroupClose float64 `toml:"group_close"`
	GroupFar   float64 `toml:"group_far"`
	GoalClose  float64 `toml:"goal_close"`
	GoalFar    float64 `toml:"goal_far"`
}

// Ground configures the downward surface probe.
type Ground struct {
	RayStartHeight       float64 `toml:"ray_start_height"`
	RayLength            float64 `toml:"ray_length"`
	OnlyTriggerColliders bool    `toml:"only_trigger_colliders"`
}

// Capture configures anchor images.
type Capture struct {
	Enabled           bool    `toml:"enabled"`
	Width             int     `toml:"width"`
	Height            int     `toml:"height"`
	Format            string  `toml:"format"`
	ImagesDir         string  `toml:"images_dir"`
	OverwriteExisting bool    `toml:"overwrite_existing"`
	ClearOnStart      bool    `toml:"clear_on_start"`
	ViewExtent        float64 `toml:"view_extent"`
	JPEGQuality       int     `toml:"jpeg_quality"`
}

// Blob selects where captured images are stored. The fs driver roots at
// the output folder.
type Blob struct {
	Driver blob.Driver   `toml:"driver"`
	S3     blob.S3Config `toml:"s3"`
}

// Replay configures the trajectory driver.
type Replay struct {
	TailFrames int `toml:"tail_frames"`
}

// Config is the full run configuration.
type Config struct {
	InputDir                  string  `toml:"input_dir"`
	ScenePath                 string  `toml:"scene_path"`
	OutputSubdir              string  `toml:"output_subdir"`
	OutputSuffix              string  `toml:"output_suffix"`
	AgentNamePrefix           string  `toml:"agent_name_prefix"`
	OverwriteOutputsOnStart   bool    `toml:"overwrite_outputs_on_start"`
	RecordOnlyAnnotatedFrames bool    `toml:"record_only_annotated_frames"`
	TimePerFrame              float64 `toml:"time_per_frame"`
	TagRetentionFrames        int     `toml:"tag_retention_frames"`
	ProgressEveryFrames       int     `toml:"progress_every_frames"`
	WriteFailurePolicy        string  `toml:"write_failure_policy"`

	Radii      tagger.RadiusTable `toml:"radii"`
	Thresholds Thresholds         `toml:"thresholds"`
	Ground     Ground             `toml:"ground"`
	Tags       spatial.Vocabulary `toml:"tags"`
	Capture    Capture            `toml:"capture"`
	Blob       Blob               `toml:"blob"`
	Checkpoint checkpoint.Config  `toml:"checkpoint"`
	Metrics    metrics.Config     `toml:"metrics"`
	Replay     Replay             `toml:"replay"`
}

// Default returns the configuration existing datasets were produced with.
func Default() *Config {
	opts := tagger.DefaultOptions()
	return &Config{
		OutputSubdir:              "_TAGGED_OUT",
		OutputSuffix:              "_tagged",
		AgentNamePrefix:           "agent_",
		OverwriteOutputsOnStart:   true,
		RecordOnlyAnnotatedFrames: true,
		TimePerFrame:              0.05,
		TagRetentionFrames:        64,
		ProgressEveryFrames:       100,
		WriteFailurePolicy:        "advance",
		Radii:                     opts.Radii,
		Thresholds: Thresholds{
			GroupClose: opts.GroupClose,
			GroupFar:   opts.GroupFar,
			GoalClose:  opts.GoalClose,
			GoalFar:    opts.GoalFar,
		},
		Ground: Ground{
			RayStartHeight:       opts.RayStartHeight,
			RayLength:            opts.RayLength,
			OnlyTriggerColliders: opts.OnlyTriggerColliders,
		},
		Tags: spatial.DefaultVocabulary(),
		Capture: Capture{
			Width:       640,
			Height:      360,
			Format:      "jpg",
			ImagesDir:   "images",
			ViewExtent:  20,
			JPEGQuality: 90,
		},
		Blob:       Blob{Driver: blob.DriverFilesystem},
		Checkpoint: checkpoint.Config{Driver: checkpoint.DriverNone},
		Metrics:    metrics.Config{Backend: metrics.BackendNone},
		Replay:     Replay{TailFrames: 5},
	}
}

// Load applies the TOML file at path (skipped when empty) and environment
// overrides on top of Default. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		dec := toml.NewDecoder(f)
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.InputDir, "CROWDTAG_INPUT_DIR")
	overrideString(&c.ScenePath, "CROWDTAG_SCENE")
	overrideString(&c.OutputSubdir, "CROWDTAG_OUTPUT_SUBDIR")
	overrideFloat(&c.TimePerFrame, "CROWDTAG_TIME_PER_FRAME")
	overrideString(&c.WriteFailurePolicy, "CROWDTAG_WRITE_FAILURE_POLICY")
	overrideBool(&c.OverwriteOutputsOnStart, "CROWDTAG_OVERWRITE_OUTPUTS_ON_START")

	overrideBool(&c.Capture.Enabled, "CROWDTAG_CAPTURE_ENABLED")
	overrideString(&c.Capture.Format, "CROWDTAG_CAPTURE_FORMAT")
	overrideInt(&c.Capture.Width, "CROWDTAG_CAPTURE_WIDTH")
	overrideInt(&c.Capture.Height, "CROWDTAG_CAPTURE_HEIGHT")

	driver := string(c.Blob.Driver)
	overrideString(&driver, "CROWDTAG_BLOB_DRIVER")
	c.Blob.Driver = blob.Driver(driver)
	overrideString(&c.Blob.S3.Bucket, "CROWDTAG_S3_BUCKET")
	overrideString(&c.Blob.S3.Region, "CROWDTAG_S3_REGION")
	overrideString(&c.Blob.S3.Endpoint, "CROWDTAG_S3_ENDPOINT")
	overrideString(&c.Blob.S3.Prefix, "CROWDTAG_S3_PREFIX")

	cp := string(c.Checkpoint.Driver)
	overrideString(&cp, "CROWDTAG_CHECKPOINT_DRIVER")
	c.Checkpoint.Driver = checkpoint.Driver(cp)
	overrideString(&c.Checkpoint.DSN, "CROWDTAG_CHECKPOINT_DSN")
	overrideBool(&c.Checkpoint.Resume, "CROWDTAG_CHECKPOINT_RESUME")

	backend := string(c.Metrics.Backend)
	overrideString(&backend, "CROWDTAG_METRICS_BACKEND")
	c.Metrics.Backend = metrics.Backend(backend)
	overrideString(&c.Metrics.Listen, "CROWDTAG_METRICS_LISTEN")
}

// ValidationError reports one invalid setting.
type ValidationError struct {
	Field   string
	Problem string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Problem)
}

// Validate clamps negative radii to zero and checks every other setting.
// All problems are returned joined.
func (c *Config) Validate() error {
	c.Radii = c.Radii.Clamped()
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Problem: fmt.Sprintf(format, args...)})
	}
	if strings.TrimSpace(c.InputDir) == "" {
		bad("input_dir", "required")
	}
	if c.OutputSubdir == "" || filepath.IsAbs(c.OutputSubdir) {
		bad("output_subdir", "must be a relative folder name, got %q", c.OutputSubdir)
	}
	if c.AgentNamePrefix == "" {
		bad("agent_name_prefix", "required")
	}
	if !(c.TimePerFrame > 0) {
		bad("time_per_frame", "must be positive, got %v", c.TimePerFrame)
	}
	if c.TagRetentionFrames < 1 {
		bad("tag_retention_frames", "must be at least 1, got %d", c.TagRetentionFrames)
	}
	if c.ProgressEveryFrames < 0 {
		bad("progress_every_frames", "must not be negative, got %d", c.ProgressEveryFrames)
	}
	switch c.WriteFailurePolicy {
	case "advance", "retry":
	default:
		bad("write_failure_policy", "must be advance or retry, got %q", c.WriteFailurePolicy)
	}
	if c.Thresholds.GroupClose > c.Thresholds.GroupFar {
		bad("thresholds.group_close", "must not exceed group_far")
	}
	if c.Thresholds.GoalClose > c.Thresholds.GoalFar {
		bad("thresholds.goal_close", "must not exceed goal_far")
	}
	if c.Ground.RayLength < 0 {
		bad("ground.ray_length", "must not be negative")
	}
	switch c.Capture.Format {
	case "jpg", "png":
	default:
		bad("capture.format", "must be jpg or png, got %q", c.Capture.Format)
	}
	if c.Capture.Enabled && (c.Capture.ImagesDir == "" || filepath.IsAbs(c.Capture.ImagesDir)) {
		bad("capture.images_dir", "must be a relative folder name, got %q", c.Capture.ImagesDir)
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		bad("capture.jpeg_quality", "must be within 1..100, got %d", c.Capture.JPEGQuality)
	}
	switch c.Blob.Driver {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			bad("blob.s3.bucket", "required for the s3 driver")
		}
	default:
		bad("blob.driver", "unknown driver %q", c.Blob.Driver)
	}
	switch c.Checkpoint.Driver {
	case "", checkpoint.DriverNone, checkpoint.DriverMemory, checkpoint.DriverSQLite, checkpoint.DriverPostgres:
	default:
		bad("checkpoint.driver", "unknown driver %q", c.Checkpoint.Driver)
	}
	switch c.Metrics.Backend {
	case "", metrics.BackendNone, metrics.BackendPrometheus, metrics.BackendExpvar:
	default:
		bad("metrics.backend", "unknown backend %q", c.Metrics.Backend)
	}
	return errors.Join(errs...)
}

// OutputDir is the folder receiving tagged files and images.
func (c *Config) OutputDir() string {
	return filepath.Join(c.InputDir, c.OutputSubdir)
}

// TaggerOptions projects the tagging settings.
func (c *Config) TaggerOptions() tagger.Options {
	return tagger.Options{
		Radii:                c.Radii,
		GroupClose:           c.Thresholds.GroupClose,
		GroupFar:             c.Thresholds.GroupFar,
		GoalClose:            c.Thresholds.GoalClose,
		GoalFar:              c.Thresholds.GoalFar,
		RayStartHeight:       c.Ground.RayStartHeight,
		RayLength:            c.Ground.RayLength,
		OnlyTriggerColliders: c.Ground.OnlyTriggerColliders,
	}
}

func overrideString(dest *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dest = val
	}
}

func overrideBool(dest *bool, key string) {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "y", "on":
			*dest = true
		case "0", "false", "no", "n", "off":
			*dest = false
		}
	}
}

func overrideInt(dest *int, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*dest = parsed
		}
	}
}

func overrideFloat(dest *float64, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			*dest = parsed
		}
	}
}
