package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crowdtag/internal/checkpoint"
	"crowdtag/internal/metrics"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crowdtag.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValidOnceInputIsSet(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("missing input_dir must fail")
	}
	cfg.InputDir = "data"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.OutputDir() != filepath.Join("data", "_TAGGED_OUT") {
		t.Fatalf("output dir %s", cfg.OutputDir())
	}
	opts := cfg.TaggerOptions()
	if opts.GroupFar != 6 || opts.GoalFar != 10 || !opts.OnlyTriggerColliders || opts.Radii.Agent.Near != 2 {
		t.Fatalf("tagger defaults %+v", opts)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
input_dir = "runs/a"
time_per_frame = 0.1
write_failure_policy = "retry"

[radii.vehicle]
near = 4.0
hit = -1.0

[capture]
enabled = true
format = "png"

[checkpoint]
driver = "sqlite"
dsn = "state.db"
`)
	t.Setenv("CROWDTAG_INPUT_DIR", "runs/b")
	t.Setenv("CROWDTAG_METRICS_BACKEND", "prometheus")
	t.Setenv("CROWDTAG_CHECKPOINT_RESUME", "yes")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InputDir != "runs/b" {
		t.Fatalf("env must override the file: %s", cfg.InputDir)
	}
	if cfg.TimePerFrame != 0.1 || cfg.WriteFailurePolicy != "retry" || cfg.Capture.Format != "png" || !cfg.Capture.Enabled {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.Capture.Width != 640 || cfg.Radii.Agent.Near != 2 {
		t.Fatalf("unset keys must keep defaults: %+v", cfg.Capture)
	}
	if cfg.Checkpoint.Driver != checkpoint.DriverSQLite || !cfg.Checkpoint.Resume || cfg.Metrics.Backend != metrics.BackendPrometheus {
		t.Fatalf("sections: %+v %+v", cfg.Checkpoint, cfg.Metrics)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Radii.Vehicle.Hit != 0 || cfg.Radii.Vehicle.Near != 4 {
		t.Fatalf("negative radii must be clamped: %+v", cfg.Radii.Vehicle)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("missing file must fail")
	}
	if _, err := Load(writeConfig(t, "unknown_key = 1\n")); err == nil {
		t.Fatalf("unknown keys must be rejected")
	}
	if _, err := Load(writeConfig(t, "time_per_frame = \"fast\"\n")); err == nil {
		t.Fatalf("type mismatch must fail")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.InputDir = "x"
	cfg.TimePerFrame = 0
	cfg.WriteFailurePolicy = "drop"
	cfg.Capture.Format = "gif"
	cfg.Blob.Driver = "ftp"
	cfg.Checkpoint.Driver = "etcd"
	cfg.Metrics.Backend = "statsd"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected errors")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	for _, field := range []string{"time_per_frame", "write_failure_policy", "capture.format", "blob.driver", "checkpoint.driver", "metrics.backend"} {
		if !strings.Contains(err.Error(), "invalid "+field) {
			t.Errorf("missing problem for %s in %v", field, err)
		}
	}
}

func TestValidate_S3NeedsBucket(t *testing.T) {
	cfg := Default()
	cfg.InputDir = "x"
	cfg.Blob.Driver = "s3"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "blob.s3.bucket") {
		t.Fatalf("expected bucket error, got %v", err)
	}
}
