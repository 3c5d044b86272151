// Package replay drives recorded trajectories frame by frame. An agent is
// active exactly on the frames it has a recorded pose for.
package replay

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/mudler/xlog"
	"github.com/tidwall/gjson"

	"crowdtag/internal/anchors"
	"crowdtag/pkg/domain"
)

// Options configures a Replayer.
type Options struct {
	Files anchors.Options
	// TailFrames keeps the replay running past the last recorded frame.
	TailFrames int
	// Cameras attaches a camera named after the file prefix to every agent.
	Cameras bool
}

// DefaultOptions plays five tail frames without cameras.
func DefaultOptions() Options {
	return Options{Files: anchors.DefaultOptions(), TailFrames: 5}
}

type track struct {
	id     domain.AgentID
	camera string
	poses  map[int]domain.Pose
}

// Replayer implements the engine's frame source and world.
type Replayer struct {
	tracks []*track
	byID   map[domain.AgentID]*track
	first  int
	last   int
	frame  int
	ready  bool
}

// Load reads every trajectory in dir.
func Load(dir string, opts Options) (*Replayer, error) {
	files, err := anchors.Files(dir, opts.Files)
	if err != nil {
		return nil, err
	}
	r := &Replayer{byID: make(map[domain.AgentID]*track)}
	seen := false
	for _, path := range files {
		id, ok := anchors.ParseAgentID(anchors.BaseName(path), opts.Files.AgentPrefix)
		if !ok {
			continue
		}
		tr := &track{id: id, poses: make(map[int]domain.Pose)}
		if opts.Cameras {
			tr.camera = fmt.Sprintf("%s%d", opts.Files.AgentPrefix, id)
		}
		if err := loadTrack(path, tr); err != nil {
			return nil, err
		}
		for f := range tr.poses {
			if !seen {
				r.first, r.last, seen = f, f, true
			}
			r.first = min(r.first, f)
			r.last = max(r.last, f)
		}
		r.byID[id] = tr
	}
	for _, tr := range r.byID {
		r.tracks = append(r.tracks, tr)
	}
	sort.Slice(r.tracks, func(i, j int) bool { return r.tracks[i].id < r.tracks[j].id })
	if seen {
		r.last += max(0, opts.TailFrames)
		r.frame = r.first
		r.ready = true
	}
	xlog.Info("Trajectories loaded", "agents", len(r.tracks), "first", r.first, "last", r.last)
	return r, nil
}

func loadTrack(path string, tr *track) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open trajectory %s: %w", path, err)
	}
	defer f.Close()
	err = anchors.EachLine(f, func(line []byte) {
		if len(bytes.TrimSpace(line)) > 0 && gjson.ValidBytes(line) {
			addChunk(gjson.ParseBytes(line), tr)
		}
	})
	if err != nil {
		return fmt.Errorf("read trajectory %s: %w", path, err)
	}
	return nil
}

// addChunk places startWorldPosition + localCurrent[i] at globalFrames[i].
func addChunk(doc gjson.Result, tr *track) {
	gfs, lc := doc.Get("globalFrames"), doc.Get("localCurrent")
	if !gfs.IsArray() || !lc.IsArray() {
		return
	}
	frames, local := gfs.Array(), lc.Array()
	start := vec(doc.Get("startWorldPosition"))
	n := min(len(frames), len(local))
	pos := make([]domain.Vec3, n)
	for i := 0; i < n; i++ {
		pos[i] = start.Add(vec(local[i]))
	}
	for i := 0; i < n; i++ {
		if frames[i].Type != gjson.Number {
			continue
		}
		var dir domain.Vec3
		switch {
		case i < n-1:
			dir = pos[i+1].Sub(pos[i])
		case i > 0:
			dir = pos[i].Sub(pos[i-1])
		}
		fwd := dir.Normalized()
		if fwd.Len() == 0 {
			fwd = domain.Forward
		}
		tr.poses[int(frames[i].Int())] = domain.Pose{Position: pos[i], Forward: fwd, Active: true}
	}
}

func vec(v gjson.Result) domain.Vec3 {
	a := v.Array()
	if !v.IsArray() || len(a) < 3 {
		return domain.Vec3{}
	}
	return domain.V3(a[0].Float(), a[1].Float(), a[2].Float())
}

// Ready reports whether at least one recorded frame was loaded.
func (r *Replayer) Ready() bool { return r.ready }

// CurrentFrame returns the frame being shown. ok is false once the replay
// ran past its last frame.
func (r *Replayer) CurrentFrame() (int, bool) {
	if !r.ready || r.frame > r.last {
		return 0, false
	}
	return r.frame, true
}

// Advance moves to the next frame and reports whether one remains.
func (r *Replayer) Advance() bool {
	if r.ready && r.frame <= r.last {
		r.frame++
	}
	_, ok := r.CurrentFrame()
	return ok
}

// ExtendTo keeps the replay running until at least frame.
func (r *Replayer) ExtendTo(frame int) {
	if r.ready && frame > r.last {
		r.last = frame
	}
}

// Bounds returns the first and last frame the replay will show.
func (r *Replayer) Bounds() (first, last int) { return r.first, r.last }

// AgentIDs returns every loaded agent in ascending order.
func (r *Replayer) AgentIDs() []domain.AgentID {
	ids := make([]domain.AgentID, len(r.tracks))
	for i, tr := range r.tracks {
		ids[i] = tr.id
	}
	return ids
}

// Pose returns the agent's pose at the current frame; inactive when it has
// none recorded there.
func (r *Replayer) Pose(id domain.AgentID) (domain.Pose, bool) {
	tr, ok := r.byID[id]
	if !ok {
		return domain.Pose{}, false
	}
	return tr.poses[r.frame], true
}

// Camera returns the camera attached to id, if any.
func (r *Replayer) Camera(id domain.AgentID) (string, bool) {
	tr, ok := r.byID[id]
	if !ok || tr.camera == "" {
		return "", false
	}
	return tr.camera, true
}

// CameraPose resolves a camera name to its agent's current pose.
func (r *Replayer) CameraPose(camera string) (domain.Pose, bool) {
	for _, tr := range r.tracks {
		if tr.camera == camera && camera != "" {
			p := tr.poses[r.frame]
			return p, p.Active
		}
	}
	return domain.Pose{}, false
}

// ActivePoses returns the poses of every agent active at the current frame.
func (r *Replayer) ActivePoses() []domain.Pose {
	var out []domain.Pose
	for _, tr := range r.tracks {
		if p, ok := tr.poses[r.frame]; ok {
			out = append(out, p)
		}
	}
	return out
}
