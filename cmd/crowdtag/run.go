package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/mudler/xlog"

	"crowdtag/internal/anchors"
	"crowdtag/internal/blob"
	"crowdtag/internal/capture"
	"crowdtag/internal/checkpoint"
	"crowdtag/internal/config"
	"crowdtag/internal/engine"
	"crowdtag/internal/metrics"
	"crowdtag/internal/render"
	"crowdtag/internal/replay"
	"crowdtag/internal/spatial"
	"crowdtag/internal/tagger"
	"crowdtag/internal/writer"
)

func loadConfig(f flags, resumeSet bool) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	if f.input != "" {
		cfg.InputDir = f.input
	}
	if f.scene != "" {
		cfg.ScenePath = f.scene
	}
	if resumeSet {
		cfg.Checkpoint.Resume = f.resume
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fileOptions(cfg *config.Config) anchors.Options {
	return anchors.Options{AgentPrefix: cfg.AgentNamePrefix, OutputSuffix: cfg.OutputSuffix}
}

// runTagging replays cfg.InputDir to the end and returns the run totals.
func runTagging(ctx context.Context, cfg *config.Config, out io.Writer) (engine.Stats, error) {
	runID := uuid.NewString()
	outDir := cfg.OutputDir()

	reg, err := anchors.Load(cfg.InputDir, fileOptions(cfg))
	if err != nil {
		return engine.Stats{}, fmt.Errorf("load annotations: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return engine.Stats{}, fmt.Errorf("create output folder: %w", err)
	}
	sink := writer.NewFileSink(outDir, cfg.OutputSuffix)
	if cfg.OverwriteOutputsOnStart && !cfg.Checkpoint.Resume {
		if err := sink.Reset(reg); err != nil {
			return engine.Stats{}, fmt.Errorf("clear outputs: %w", err)
		}
	}

	var scene *spatial.Scene
	if cfg.ScenePath != "" {
		if scene, err = spatial.LoadScene(cfg.ScenePath, cfg.Tags); err != nil {
			return engine.Stats{}, fmt.Errorf("load scene: %w", err)
		}
	}

	rp, err := replay.Load(cfg.InputDir, replay.Options{
		Files:      fileOptions(cfg),
		TailFrames: cfg.Replay.TailFrames,
		Cameras:    cfg.Capture.Enabled,
	})
	if err != nil {
		return engine.Stats{}, fmt.Errorf("load trajectories: %w", err)
	}

	store, err := blob.Open(ctx, blob.Config{Driver: cfg.Blob.Driver, FSRoot: outDir, S3: cfg.Blob.S3})
	if err != nil {
		return engine.Stats{}, fmt.Errorf("open blob store: %w", err)
	}
	var renderer capture.Renderer
	if cfg.Capture.Enabled {
		renderer = render.New(scene, rp, render.Options{
			ViewExtent:  cfg.Capture.ViewExtent,
			Format:      cfg.Capture.Format,
			JPEGQuality: cfg.Capture.JPEGQuality,
		})
	}
	coord := capture.NewCoordinator(store, renderer, capture.Options{
		Width:             cfg.Capture.Width,
		Height:            cfg.Capture.Height,
		Format:            capture.Format(cfg.Capture.Format),
		ImagesDir:         cfg.Capture.ImagesDir,
		AgentPrefix:       cfg.AgentNamePrefix,
		OverwriteExisting: cfg.Capture.OverwriteExisting,
		RunID:             runID,
	})
	if cfg.Capture.ClearOnStart && !cfg.Checkpoint.Resume {
		n, err := coord.Clear(ctx)
		if err != nil {
			return engine.Stats{}, fmt.Errorf("clear images: %w", err)
		}
		xlog.Info("Cleared previous images", "driver", string(store.Driver()), "count", n)
	}

	cp, err := checkpoint.Open(ctx, cfg.Checkpoint)
	if err != nil {
		return engine.Stats{}, fmt.Errorf("open checkpoints: %w", err)
	}
	defer func() {
		if err := cp.Close(); err != nil {
			xlog.Warn("Closing checkpoint store failed", "error", err)
		}
	}()

	rec, handler, err := metrics.New(cfg.Metrics)
	if err != nil {
		return engine.Stats{}, err
	}
	if handler != nil && cfg.Metrics.Listen != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(srvCtx, cfg.Metrics.Listen, handler); err != nil {
				xlog.Error("Metrics endpoint stopped", "listen", cfg.Metrics.Listen, "error", err)
			}
		}()
	}

	var index spatial.Index
	if scene != nil {
		index = scene
	}
	eng := engine.New(reg, rp, engine.Deps{
		Tagger:      tagger.New(index, cfg.TaggerOptions()),
		Capture:     coord,
		Writer:      writer.New(sink, writer.Options{TimePerFrame: cfg.TimePerFrame, Policy: writer.Policy(cfg.WriteFailurePolicy)}),
		Checkpoints: cp,
		Metrics:     rec,
	}, engine.Options{
		RecordOnlyAnnotatedFrames: cfg.RecordOnlyAnnotatedFrames,
		TimePerFrame:              cfg.TimePerFrame,
		TagRetentionFrames:        cfg.TagRetentionFrames,
		ProgressEveryFrames:       cfg.ProgressEveryFrames,
		RunID:                     runID,
	})

	if cfg.Checkpoint.Resume {
		if _, err := eng.Resume(ctx); err != nil {
			return engine.Stats{}, fmt.Errorf("resume: %w", err)
		}
	}
	if _, hi, ok := reg.FrameRange(); ok {
		rp.ExtendTo(hi)
	}
	first, last := rp.Bounds()
	xlog.Info("Run started", "run", runID, "input", cfg.InputDir, "output", outDir, "first_frame", first, "last_frame", last)
	if rp.Ready() {
		eng.Discover(rp)
	} else {
		xlog.Warn("No trajectory frames to replay", "input", cfg.InputDir)
	}

	var stepErr error
	for {
		if stepErr = eng.Step(ctx); stepErr != nil {
			break
		}
		if !rp.Advance() {
			break
		}
	}
	st := eng.Finish(context.WithoutCancel(ctx))
	if errors.Is(stepErr, context.Canceled) {
		xlog.Warn("Run interrupted", "run", runID)
	}
	fmt.Fprintf(out, "run %s: %d frames, %d written, %d placeholders, %d failed, %d images\n",
		runID, st.Ticks, st.Written, st.Placeholders, st.WriteFailures, st.Images.Stored+st.Images.Reused)
	return st, stepErr
}

// inspectProgress prints per-agent anchor progress, restored from the
// checkpoint store when one is configured.
func inspectProgress(ctx context.Context, cfg *config.Config, out io.Writer) error {
	reg, err := anchors.Load(cfg.InputDir, fileOptions(cfg))
	if err != nil {
		return fmt.Errorf("load annotations: %w", err)
	}
	frame, hasFrame := 0, false
	cp, err := checkpoint.Open(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer cp.Close()
	snap, ok, err := cp.Load(ctx)
	if err != nil {
		return err
	}
	if ok {
		reg.Restore(snap.Progress)
		frame, hasFrame = snap.Frame, true
		fmt.Fprintf(out, "checkpoint run=%s frame=%d saved=%s\n", snap.RunID, snap.Frame, snap.SavedAt.Format(time.RFC3339))
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tWRITTEN\tTOTAL\tNEXT\tREMAINING_S")
	for _, p := range engine.Summarize(reg, frame, hasFrame, cfg.TimePerFrame) {
		next := "-"
		if p.HasNext {
			next = fmt.Sprintf("%d..%d", p.NextStart, p.NextEnd)
		}
		remaining := "-"
		if p.RemainingTrajSec >= 0 {
			remaining = fmt.Sprintf("%.2f", p.RemainingTrajSec)
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", p.ID, p.Written, p.Total, next, remaining)
	}
	return tw.Flush()
}
