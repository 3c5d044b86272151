// Package engine runs the per-frame pipeline: tag every agent, capture
// anchor images, flush finished anchors, then evict old tags and checkpoint.
package engine

import (
	"context"
	"time"

	"github.com/mudler/xlog"

	"crowdtag/internal/anchors"
	"crowdtag/internal/capture"
	"crowdtag/internal/checkpoint"
	"crowdtag/internal/kinematics"
	"crowdtag/internal/metrics"
	"crowdtag/internal/tagger"
	"crowdtag/internal/writer"
	"crowdtag/pkg/domain"
)

// FrameSource reports the global frame currently shown by the driver.
type FrameSource interface {
	CurrentFrame() (frame int, ok bool)
}

// World is the simulation the engine reads poses and cameras from.
type World interface {
	AgentIDs() []domain.AgentID
	Pose(id domain.AgentID) (domain.Pose, bool)
	Camera(id domain.AgentID) (string, bool)
}

// Options configures an Engine.
type Options struct {
	// RecordOnlyAnnotatedFrames stores tags only on frames with metadata.
	RecordOnlyAnnotatedFrames bool
	TimePerFrame              float64
	// TagRetentionFrames is how many recent frames of tags are kept beyond
	// those pinned by unwritten anchors.
	TagRetentionFrames  int
	ProgressEveryFrames int
	RunID               string
}

// DefaultOptions matches config.Default.
func DefaultOptions() Options {
	return Options{RecordOnlyAnnotatedFrames: true, TimePerFrame: 0.05, TagRetentionFrames: 64, ProgressEveryFrames: 100}
}

// Deps are the collaborators of an Engine. Capture, Checkpoints and Metrics
// may be nil.
type Deps struct {
	Tagger      *tagger.Tagger
	Capture     *capture.Coordinator
	Writer      *writer.Writer
	Checkpoints *checkpoint.Store
	Metrics     metrics.Recorder
}

type agentRuntime struct {
	id      domain.AgentID
	tracker *kinematics.Tracker
	tags    tagStore
	meta    *anchors.AgentMeta
}

// Stats accumulates over a run.
type Stats struct {
	Ticks          int
	Skipped        int
	TagsStored     int
	Images         capture.Stats
	Written        int
	Placeholders   int
	WriteFailures  int
	CheckpointErrs int
}

// Engine owns the agent runtimes of one run. It is not safe for concurrent use.
type Engine struct {
	reg  *anchors.Registry
	src  FrameSource
	deps Deps
	opts Options

	world     World
	runtimes  []agentRuntime
	byID      map[domain.AgentID]int
	lastFrame int
	hasLast   bool
	stats     Stats
}

// New returns an Engine over reg driven by src. Step does nothing until
// Discover.
func New(reg *anchors.Registry, src FrameSource, deps Deps, opts Options) *Engine {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.Tagger == nil {
		deps.Tagger = tagger.New(nil, tagger.DefaultOptions())
	}
	if opts.TagRetentionFrames < 1 {
		opts.TagRetentionFrames = 1
	}
	return &Engine{reg: reg, src: src, deps: deps, opts: opts}
}

// Resume restores capture sides and write cursors from the last checkpoint.
// It returns the number of agents restored.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	snap, ok, err := e.deps.Checkpoints.Load(ctx)
	if err != nil || !ok {
		return 0, err
	}
	n := e.reg.Restore(snap.Progress)
	xlog.Info("Resumed from checkpoint", "run", snap.RunID, "frame", snap.Frame, "agents", n)
	return n, nil
}

// Discover builds a runtime for every agent of world. Calling it again
// replaces the previous topology.
func (e *Engine) Discover(world World) int {
	ids := world.AgentIDs()
	e.world = world
	e.runtimes = make([]agentRuntime, 0, len(ids))
	e.byID = make(map[domain.AgentID]int, len(ids))
	for _, id := range ids {
		if _, dup := e.byID[id]; dup {
			continue
		}
		am, _ := e.reg.Agent(id)
		e.byID[id] = len(e.runtimes)
		e.runtimes = append(e.runtimes, agentRuntime{
			id:      id,
			tracker: kinematics.NewTracker(e.opts.TimePerFrame),
			tags:    newTagStore(),
			meta:    am,
		})
	}
	xlog.Info("Agents discovered", "agents", len(e.runtimes), "annotated", len(e.reg.Agents()))
	return len(e.runtimes)
}

// Discovered reports whether Discover has run.
func (e *Engine) Discovered() bool { return e.world != nil }

// Step processes the driver's current frame once. Before discovery, without
// a frame, or on a repeated frame it does nothing. The only error is a
// cancelled context.
func (e *Engine) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.world == nil {
		return nil
	}
	frame, ok := e.src.CurrentFrame()
	if !ok {
		e.stats.Skipped++
		return nil
	}
	if e.hasLast && frame == e.lastFrame {
		return nil
	}
	tickStart := time.Now()

	e.timed(ctx, "tag", func() bool { e.tagAll(frame); return true })

	var cst capture.Stats
	if e.deps.Capture != nil {
		e.timed(ctx, "capture", func() bool {
			cst = e.deps.Capture.CaptureAt(ctx, frame, e.reg, e.world)
			return cst.Failed == 0
		})
	}

	var wst writer.Stats
	if e.deps.Writer != nil {
		e.timed(ctx, "flush", func() bool {
			wst = e.deps.Writer.FlushUpTo(frame, e.reg, e)
			return wst.Failed == 0
		})
	}

	evicted := 0
	for i := range e.runtimes {
		rt := &e.runtimes[i]
		evicted += rt.tags.evict(frame-e.opts.TagRetentionFrames+1, rt.meta)
	}

	if cst.Total() > 0 || wst.Written+wst.Placeholders+wst.Failed > 0 {
		e.checkpoint(ctx, frame)
	}

	e.record(cst, wst)
	e.lastFrame, e.hasLast = frame, true
	e.stats.Ticks++
	e.deps.Metrics.Observe(ctx, "tick", true, time.Since(tickStart))
	if evicted > 0 {
		xlog.Debug("Evicted tags", "frame", frame, "count", evicted)
	}
	if n := e.opts.ProgressEveryFrames; n > 0 && e.stats.Ticks%n == 0 {
		e.logProgress(frame)
	}
	return nil
}

func (e *Engine) tagAll(frame int) {
	members := make([]tagger.Member, len(e.runtimes))
	for i, rt := range e.runtimes {
		pose, ok := e.world.Pose(rt.id)
		if !ok {
			pose = domain.Pose{}
		}
		members[i] = tagger.Member{ID: rt.id, Pose: pose}
	}
	crowd := tagger.NewCrowd(members)

	for i := range e.runtimes {
		rt := &e.runtimes[i]
		pose, _ := crowd.Lookup(rt.id)
		kin := rt.tracker.Observe(frame, pose.Position, pose.Forward, pose.Active)

		var meta *domain.FrameMeta
		if rt.meta != nil {
			if m, ok := rt.meta.Meta(frame); ok {
				meta = &m
			}
		}
		if e.opts.RecordOnlyAnnotatedFrames && meta == nil {
			continue
		}
		rt.tags.put(frame, e.deps.Tagger.Tag(rt.id, pose, crowd, meta, kin))
		e.stats.TagsStored++
	}
}

// Tag implements writer.TagSource.
func (e *Engine) Tag(id domain.AgentID, frame int) (domain.FrameTag, bool) {
	i, ok := e.byID[id]
	if !ok {
		return domain.FrameTag{}, false
	}
	return e.runtimes[i].tags.get(frame)
}

func (e *Engine) timed(ctx context.Context, op string, fn func() bool) {
	start := time.Now()
	ok := fn()
	e.deps.Metrics.Observe(ctx, op, ok, time.Since(start))
}

func (e *Engine) record(cst capture.Stats, wst writer.Stats) {
	e.stats.Images.Stored += cst.Stored
	e.stats.Images.Reused += cst.Reused
	e.stats.Images.Skipped += cst.Skipped
	e.stats.Images.Failed += cst.Failed
	e.stats.Written += wst.Written
	e.stats.Placeholders += wst.Placeholders
	e.stats.WriteFailures += wst.Failed

	m := e.deps.Metrics
	m.Add("images_stored", cst.Stored)
	m.Add("images_reused", cst.Reused)
	m.Add("images_skipped", cst.Skipped)
	m.Add("images_failed", cst.Failed)
	m.Add("records_written", wst.Written)
	m.Add("records_placeholder", wst.Placeholders)
	m.Add("records_failed", wst.Failed)
}

func (e *Engine) checkpoint(ctx context.Context, frame int) {
	if !e.deps.Checkpoints.Enabled() {
		return
	}
	start := time.Now()
	err := e.deps.Checkpoints.Save(ctx, checkpoint.Snapshot{
		RunID:    e.opts.RunID,
		Frame:    frame,
		SavedAt:  time.Now().UTC(),
		Progress: e.reg.Progress(),
	})
	e.deps.Metrics.Observe(ctx, "checkpoint", err == nil, time.Since(start))
	if err != nil {
		e.stats.CheckpointErrs++
		xlog.Warn("Checkpoint save failed", "frame", frame, "error", err)
	}
}

// Stats returns the run totals so far.
func (e *Engine) Stats() Stats { return e.stats }

// Done reports whether every annotated anchor has been written.
func (e *Engine) Done() bool {
	for _, am := range e.reg.Agents() {
		if !am.Done() {
			return false
		}
	}
	return true
}

// Finish saves a final checkpoint and logs the run summary.
func (e *Engine) Finish(ctx context.Context) Stats {
	if e.hasLast {
		e.checkpoint(ctx, e.lastFrame)
	}
	pending := 0
	for _, am := range e.reg.Agents() {
		n := len(am.Anchors) - am.NextToWrite
		if n > 0 {
			iv := am.Anchors[am.NextToWrite]
			xlog.Warn("Anchors left unwritten", "agent", am.ID, "count", n, "next_start", iv.Start, "next_end", iv.End)
		}
		pending += n
	}
	xlog.Info("Run finished",
		"ticks", e.stats.Ticks,
		"written", e.stats.Written,
		"placeholders", e.stats.Placeholders,
		"write_failures", e.stats.WriteFailures,
		"images_stored", e.stats.Images.Stored,
		"images_reused", e.stats.Images.Reused,
		"images_failed", e.stats.Images.Failed,
		"pending", pending,
	)
	return e.stats
}
