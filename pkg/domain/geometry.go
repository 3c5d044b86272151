package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// Vec3 is a world-space vector in metres. Y is up.
type Vec3 struct {
	X, Y, Z float64
}

var (
	// Up is the world up axis.
	Up = Vec3{Y: 1}
	// Down is the world down axis.
	Down = Vec3{Y: -1}
	// Forward is the identity heading.
	Forward = Vec3{Z: 1}
)

// V3 builds a vector from components.
func V3(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// Len returns the euclidean length.
func (v Vec3) Len() float64 { return math.Sqrt(v.Dot(v)) }

// Dist returns the euclidean distance between two points.
func (v Vec3) Dist(o Vec3) float64 { return v.Sub(o).Len() }

// Normalized returns the unit vector, or the zero vector when v is degenerate.
func (v Vec3) Normalized() Vec3 {
	l := v.Len()
	if l < 1e-9 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

// AngleDeg returns the unsigned angle between v and o in degrees (0..180).
// Degenerate inputs yield 0.
func (v Vec3) AngleDeg(o Vec3) float64 {
	denom := math.Sqrt(v.Dot(v) * o.Dot(o))
	if denom < 1e-15 {
		return 0
	}
	c := v.Dot(o) / denom
	c = math.Max(-1, math.Min(1, c))
	return math.Acos(c) * 180 / math.Pi
}

// MarshalJSON encodes the vector as [x, y, z].
func (v Vec3) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{v.X, v.Y, v.Z})
}

// UnmarshalJSON accepts [x, y, z].
func (v *Vec3) UnmarshalJSON(b []byte) error {
	var arr []float64
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	if len(arr) < 3 {
		return fmt.Errorf("vec3 needs 3 components, got %d", len(arr))
	}
	*v = Vec3{arr[0], arr[1], arr[2]}
	return nil
}

// Pose is an agent's world transform at one frame.
type Pose struct {
	Position Vec3
	Forward  Vec3
	Active   bool
}
