// Package capture stores camera images at the start and end frame of every
// anchor. Each side is attempted at most once; failures are terminal.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mudler/xlog"

	"crowdtag/internal/anchors"
	"crowdtag/internal/blob"
	"crowdtag/pkg/domain"
)

// Renderer turns a camera view into an encoded image.
type Renderer interface {
	Render(ctx context.Context, camera string, width, height int) ([]byte, error)
}

// World is the subset of the simulation the coordinator reads.
type World interface {
	Pose(id domain.AgentID) (domain.Pose, bool)
	Camera(id domain.AgentID) (string, bool)
}

// Format is the encoded image type.
type Format string

const (
	FormatJPG Format = "jpg"
	FormatPNG Format = "png"
)

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// Options configures a Coordinator.
type Options struct {
	Width             int
	Height            int
	Format            Format
	ImagesDir         string
	AgentPrefix       string
	OverwriteExisting bool
	RunID             string
}

// DefaultOptions returns 640x360 jpg images under images/agent_<id>.
func DefaultOptions() Options {
	return Options{Width: 640, Height: 360, Format: FormatJPG, ImagesDir: "images", AgentPrefix: "agent_"}
}

// Stats summarises one CaptureAt call.
type Stats struct {
	Stored  int
	Reused  int
	Skipped int
	Failed  int
}

// Total is the number of sides resolved.
func (s Stats) Total() int { return s.Stored + s.Reused + s.Skipped + s.Failed }

// Coordinator resolves anchor sides against a renderer and a blob store.
type Coordinator struct {
	store    blob.Store
	renderer Renderer
	opts     Options
}

// NewCoordinator returns a Coordinator. A nil renderer marks every side as
// captured without an image.
func NewCoordinator(store blob.Store, renderer Renderer, opts Options) *Coordinator {
	return &Coordinator{store: store, renderer: renderer, opts: opts}
}

// Clear deletes every stored image under ImagesDir and returns how many
// were removed.
func (c *Coordinator) Clear(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	infos, err := c.store.List(ctx, c.opts.ImagesDir+"/")
	if err != nil {
		return 0, fmt.Errorf("list images: %w", err)
	}
	n := 0
	for _, info := range infos {
		ok, err := c.store.Delete(ctx, info.Key)
		if err != nil {
			return n, fmt.Errorf("delete image %s: %w", info.Key, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Key is the deterministic storage key of one anchor side. It doubles as the
// image path relative to the output root.
func (c *Coordinator) Key(id domain.AgentID, anchor int, side string, frame int) string {
	return fmt.Sprintf("%s/%s%d/anchor_%06d_%s_gf_%06d.%s", c.opts.ImagesDir, c.opts.AgentPrefix, id, anchor, side, frame, c.opts.Format)
}

// CaptureAt resolves every uncaptured side whose frame equals frame, agents
// in ascending id order, starts before ends.
func (c *Coordinator) CaptureAt(ctx context.Context, frame int, reg *anchors.Registry, world World) Stats {
	var st Stats
	for _, am := range reg.Agents() {
		starts, ends := am.StartsAt[frame], am.EndsAt[frame]
		if len(starts) == 0 && len(ends) == 0 {
			continue
		}
		pose, known := world.Pose(am.ID)
		camera, hasCamera := world.Camera(am.ID)
		usable := known && pose.Active && hasCamera && camera != "" && c.renderer != nil && c.store != nil
		for _, i := range starts {
			c.resolve(ctx, am.ID, am.Anchors[i], &am.Anchors[i].StartSide, "start", frame, camera, usable, &st)
		}
		for _, i := range ends {
			c.resolve(ctx, am.ID, am.Anchors[i], &am.Anchors[i].EndSide, "end", frame, camera, usable, &st)
		}
	}
	return st
}

func (c *Coordinator) resolve(ctx context.Context, id domain.AgentID, iv *anchors.Interval, side *anchors.Side, name string, frame int, camera string, usable bool, st *Stats) {
	if side.Captured {
		return
	}
	if !usable {
		side.Mark("")
		st.Skipped++
		return
	}
	key := c.Key(id, iv.Index, name, frame)
	reused, err := c.storeImage(ctx, key, id, camera, name, frame)
	if err != nil {
		xlog.Warn("Anchor capture failed", "agent", id, "anchor", iv.Index, "side", name, "frame", frame, "error", err)
		side.Mark("")
		st.Failed++
		return
	}
	side.Mark(key)
	if reused {
		st.Reused++
	} else {
		st.Stored++
	}
}

// storeImage renders and stores key unless a previous run already did.
func (c *Coordinator) storeImage(ctx context.Context, key string, id domain.AgentID, camera, side string, frame int) (bool, error) {
	_, err := c.store.Head(ctx, key)
	switch {
	case err == nil && !c.opts.OverwriteExisting:
		return true, nil
	case err == nil:
		if _, err := c.store.Delete(ctx, key); err != nil {
			return false, fmt.Errorf("delete existing image: %w", err)
		}
	case !errors.Is(err, blob.ErrNotFound):
		return false, fmt.Errorf("stat image: %w", err)
	}
	data, err := c.renderer.Render(ctx, camera, max(8, c.opts.Width), max(8, c.opts.Height))
	if err != nil {
		return false, fmt.Errorf("render %s: %w", camera, err)
	}
	if len(data) == 0 {
		return false, fmt.Errorf("render %s: empty image", camera)
	}
	md := map[string]string{
		"agent": strconv.Itoa(int(id)),
		"side":  side,
		"frame": strconv.Itoa(frame),
	}
	if c.opts.RunID != "" {
		md["run"] = c.opts.RunID
	}
	if _, err := c.store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: c.opts.Format.ContentType(), Metadata: md}); err != nil {
		return false, fmt.Errorf("store image: %w", err)
	}
	return false, nil
}
