// Package render rasterises a top-down view around an agent. It stands in for
// a camera when no graphics engine is attached to the replay.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"

	"crowdtag/internal/spatial"
	"crowdtag/pkg/domain"
)

// Crowd supplies the poses drawn into a view.
type Crowd interface {
	// CameraPose resolves a camera handle to the pose it is attached to.
	CameraPose(camera string) (domain.Pose, bool)
	// ActivePoses returns every active agent.
	ActivePoses() []domain.Pose
}

// Options configures a TopDown renderer.
type Options struct {
	// ViewExtent is the world width in metres covered by the image.
	ViewExtent  float64
	Format      string
	JPEGQuality int
}

// DefaultOptions renders 20 m wide jpg views at quality 90.
func DefaultOptions() Options {
	return Options{ViewExtent: 20, Format: "jpg", JPEGQuality: 90}
}

var (
	background  = color.RGBA{R: 48, G: 48, B: 48, A: 255}
	selfColor   = color.RGBA{R: 230, G: 40, B: 40, A: 255}
	agentColor  = color.RGBA{R: 250, G: 250, B: 250, A: 255}
	shapeColors = map[domain.Category]color.RGBA{
		domain.CategoryObstacle: {R: 200, G: 140, B: 40, A: 255},
		domain.CategoryBuilding: {R: 110, G: 110, B: 160, A: 255},
		domain.CategoryEntrance: {R: 60, G: 180, B: 200, A: 255},
		domain.CategoryVehicle:  {R: 220, G: 200, B: 30, A: 255},
	}
	groundColors = map[domain.GroundKind]color.RGBA{
		domain.GroundSidewalk:  {R: 150, G: 150, B: 150, A: 255},
		domain.GroundCrosswalk: {R: 235, G: 235, B: 235, A: 255},
		domain.GroundRoad:      {R: 70, G: 70, B: 70, A: 255},
		domain.GroundGrass:     {R: 70, G: 140, B: 60, A: 255},
		domain.GroundInside:    {R: 120, G: 90, B: 70, A: 255},
	}
)

// TopDown draws scene shapes and agents around the camera's agent.
type TopDown struct {
	scene *spatial.Scene
	crowd Crowd
	opts  Options
}

// New returns a TopDown renderer. scene may be nil.
func New(scene *spatial.Scene, crowd Crowd, opts Options) *TopDown {
	if opts.ViewExtent <= 0 {
		opts.ViewExtent = DefaultOptions().ViewExtent
	}
	return &TopDown{scene: scene, crowd: crowd, opts: opts}
}

// Render implements capture.Renderer.
func (r *TopDown) Render(ctx context.Context, camera string, width, height int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	self, ok := r.crowd.CameraPose(camera)
	if !ok {
		return nil, fmt.Errorf("unknown camera %q", camera)
	}
	img := r.Draw(self, max(8, width), max(8, height))
	return Encode(img, r.opts.Format, r.opts.JPEGQuality)
}

// Draw rasterises the view centred on self. The image's up axis is world +Z.
func (r *TopDown) Draw(self domain.Pose, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)
	v := viewport{center: self.Position, scale: float64(width) / r.opts.ViewExtent, w: width, h: height}

	if r.scene != nil {
		// ground first so obstacles stay visible on top of it
		for pass := 0; pass < 2; pass++ {
			for i := 0; i < r.scene.Len(); i++ {
				h := spatial.Handle(i)
				c, isShape := shapeColors[r.scene.ResolveCategory(h)]
				g, isGround := groundColors[r.scene.ResolveGround(h)]
				switch {
				case pass == 0 && isGround && !isShape:
					v.fillShape(img, r.scene.Shape(h), g)
				case pass == 1 && isShape:
					v.fillShape(img, r.scene.Shape(h), c)
				}
			}
		}
	}
	for _, p := range r.crowd.ActivePoses() {
		v.fillDisc(img, p.Position, 0.3, agentColor)
	}
	v.fillDisc(img, self.Position, 0.35, selfColor)
	if fwd := domain.V3(self.Forward.X, 0, self.Forward.Z).Normalized(); fwd.Len() > 0 {
		v.line(img, self.Position, self.Position.Add(fwd.Scale(1.5)), selfColor)
	}
	return img
}

// Encode writes img as "png" or "jpg".
func Encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case "jpg", "jpeg", "":
		if quality < 1 || quality > 100 {
			quality = 90
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
	return buf.Bytes(), nil
}

type viewport struct {
	center domain.Vec3
	scale  float64
	w, h   int
}

func (v viewport) toPixel(p domain.Vec3) (float64, float64) {
	return float64(v.w)/2 + (p.X-v.center.X)*v.scale, float64(v.h)/2 - (p.Z-v.center.Z)*v.scale
}

func (v viewport) fillShape(img *image.RGBA, s spatial.Shape, c color.RGBA) {
	if s.Kind == spatial.ShapeSphere {
		v.fillDisc(img, s.Center, s.Radius, c)
		return
	}
	x0, y0 := v.toPixel(domain.V3(s.Center.X-s.HalfExtents.X, 0, s.Center.Z+s.HalfExtents.Z))
	x1, y1 := v.toPixel(domain.V3(s.Center.X+s.HalfExtents.X, 0, s.Center.Z-s.HalfExtents.Z))
	rect := image.Rect(int(math.Floor(x0)), int(math.Floor(y0)), int(math.Ceil(x1)), int(math.Ceil(y1))).Intersect(img.Bounds())
	if !rect.Empty() {
		draw.Draw(img, rect, &image.Uniform{c}, image.Point{}, draw.Src)
	}
}

func (v viewport) fillDisc(img *image.RGBA, center domain.Vec3, radius float64, c color.RGBA) {
	cx, cy := v.toPixel(center)
	rp := math.Max(1, radius*v.scale)
	b := image.Rect(int(cx-rp), int(cy-rp), int(cx+rp)+1, int(cy+rp)+1).Intersect(img.Bounds())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
			if dx*dx+dy*dy <= rp*rp {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

func (v viewport) line(img *image.RGBA, from, to domain.Vec3, c color.RGBA) {
	x0, y0 := v.toPixel(from)
	x1, y1 := v.toPixel(to)
	steps := int(math.Max(math.Abs(x1-x0), math.Abs(y1-y0))) + 1
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x, y := int(x0+(x1-x0)*t), int(y0+(y1-y0)*t)
		if image.Pt(x, y).In(img.Bounds()) {
			img.SetRGBA(x, y, c)
		}
	}
}
