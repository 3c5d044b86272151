package spatial

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"crowdtag/pkg/domain"
)

// ShapeKind selects the collision primitive of a node.
type ShapeKind string

const (
	ShapeBox    ShapeKind = "box"
	ShapeSphere ShapeKind = "sphere"
)

// Shape is an axis-aligned box or a sphere in world space.
type Shape struct {
	Kind        ShapeKind   `json:"kind"`
	Center      domain.Vec3 `json:"center"`
	HalfExtents domain.Vec3 `json:"halfExtents"`
	Radius      float64     `json:"radius,omitempty"`
}

// Node is one element of the ownership tree. Nodes without a shape only group
// and tag their descendants.
type Node struct {
	ID      string   `json:"id"`
	Parent  string   `json:"parent,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Trigger bool     `json:"trigger,omitempty"`
	Shape   *Shape   `json:"shape,omitempty"`
}

type sceneFile struct {
	Nodes []Node `json:"nodes"`
}

// ErrInvalidScene wraps every structural problem found while building a Scene.
var ErrInvalidScene = errors.New("invalid scene")

// cellSize is the edge of the XZ bucketing grid in metres.
const cellSize = 4.0

type cellKey struct{ x, z int }

type entry struct {
	shape    Shape
	trigger  bool
	category domain.Category
	ground   domain.GroundKind
	min, max domain.Vec3
}

// Scene is an immutable in-memory Index over boxes and spheres. Category and
// ground resolution are computed once at construction.
type Scene struct {
	entries []entry
	grid    map[cellKey][]Handle
}

var _ Index = (*Scene)(nil)

// LoadScene reads a JSON scene file ({"nodes": [...]}).
func LoadScene(path string, vocab Vocabulary) (*Scene, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene: %w", err)
	}
	var sf sceneFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("decode scene %s: %w", path, err)
	}
	return NewScene(sf.Nodes, vocab)
}

// NewScene validates the ownership tree and indexes every shaped node.
func NewScene(nodes []Node, vocab Vocabulary) (*Scene, error) {
	byID := make(map[string]*Node, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node %d has no id", ErrInvalidScene, i)
		}
		if _, dup := byID[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %q", ErrInvalidScene, n.ID)
		}
		byID[n.ID] = n
	}
	chains := make(map[string][]*Node, len(nodes))
	for i := range nodes {
		chain, err := chainOf(&nodes[i], byID)
		if err != nil {
			return nil, err
		}
		chains[nodes[i].ID] = chain
	}

	s := &Scene{grid: make(map[cellKey][]Handle)}
	for i := range nodes {
		n := &nodes[i]
		if n.Shape == nil {
			continue
		}
		if err := validateShape(n); err != nil {
			return nil, err
		}
		chain := chains[n.ID]
		e := entry{
			shape:    *n.Shape,
			trigger:  n.Trigger,
			category: resolveCategory(chain, vocab),
			ground:   resolveGround(chain, vocab),
		}
		e.min, e.max = bounds(e.shape)
		h := Handle(len(s.entries))
		s.entries = append(s.entries, e)
		for _, k := range cellsCovering(e.min, e.max) {
			s.grid[k] = append(s.grid[k], h)
		}
	}
	return s, nil
}

// chainOf returns the node followed by its ancestors up to the root.
func chainOf(n *Node, byID map[string]*Node) ([]*Node, error) {
	chain := []*Node{n}
	seen := map[string]bool{n.ID: true}
	for cur := n; cur.Parent != ""; {
		p, ok := byID[cur.Parent]
		if !ok {
			return nil, fmt.Errorf("%w: node %q references unknown parent %q", ErrInvalidScene, cur.ID, cur.Parent)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("%w: ownership cycle through %q", ErrInvalidScene, p.ID)
		}
		seen[p.ID] = true
		chain = append(chain, p)
		cur = p
	}
	return chain, nil
}

func validateShape(n *Node) error {
	sh := n.Shape
	switch sh.Kind {
	case ShapeBox:
		if sh.HalfExtents.X < 0 || sh.HalfExtents.Y < 0 || sh.HalfExtents.Z < 0 {
			return fmt.Errorf("%w: node %q has negative half extents", ErrInvalidScene, n.ID)
		}
	case ShapeSphere:
		if sh.Radius <= 0 {
			return fmt.Errorf("%w: node %q has non-positive radius", ErrInvalidScene, n.ID)
		}
	default:
		return fmt.Errorf("%w: node %q has unknown shape kind %q", ErrInvalidScene, n.ID, sh.Kind)
	}
	return nil
}

func resolveCategory(chain []*Node, vocab Vocabulary) domain.Category {
	found := make(map[domain.Category]bool)
	for _, n := range chain {
		for _, t := range n.Tags {
			found[vocab.categoryOf(t)] = true
		}
	}
	for _, c := range categoryPriority {
		if found[c] {
			return c
		}
	}
	return domain.CategoryNone
}

func resolveGround(chain []*Node, vocab Vocabulary) domain.GroundKind {
	order := vocab.groundOrder()
	for _, n := range chain {
		for _, g := range order {
			if g.tag != "" && hasTag(n.Tags, g.tag) {
				return g.kind
			}
		}
	}
	return domain.GroundUnknown
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func bounds(sh Shape) (lo, hi domain.Vec3) {
	ext := sh.HalfExtents
	if sh.Kind == ShapeSphere {
		ext = domain.V3(sh.Radius, sh.Radius, sh.Radius)
	}
	return sh.Center.Sub(ext), sh.Center.Add(ext)
}

func cellOf(x float64) int { return int(math.Floor(x / cellSize)) }

func cellsCovering(lo, hi domain.Vec3) []cellKey {
	var out []cellKey
	for x := cellOf(lo.X); x <= cellOf(hi.X); x++ {
		for z := cellOf(lo.Z); z <= cellOf(hi.Z); z++ {
			out = append(out, cellKey{x, z})
		}
	}
	return out
}

// Len reports the number of indexed shapes.
func (s *Scene) Len() int { return len(s.entries) }

// Shape returns the primitive behind h.
func (s *Scene) Shape(h Handle) Shape { return s.entries[h].shape }

func (s *Scene) candidates(lo, hi domain.Vec3) []Handle {
	seen := make(map[Handle]struct{})
	var out []Handle
	for _, k := range cellsCovering(lo, hi) {
		for _, h := range s.grid[k] {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Scene) RangeQuery(center domain.Vec3, radius float64) []Handle {
	r := domain.V3(radius, radius, radius)
	var out []Handle
	for _, h := range s.candidates(center.Sub(r), center.Add(r)) {
		if s.ClosestPointDistance(center, h) <= radius {
			out = append(out, h)
		}
	}
	return out
}

func (s *Scene) ClosestPointDistance(p domain.Vec3, h Handle) float64 {
	e := s.entries[h]
	if e.shape.Kind == ShapeSphere {
		return math.Max(0, p.Dist(e.shape.Center)-e.shape.Radius)
	}
	closest := domain.V3(
		clamp(p.X, e.min.X, e.max.X),
		clamp(p.Y, e.min.Y, e.max.Y),
		clamp(p.Z, e.min.Z, e.max.Z),
	)
	return p.Dist(closest)
}

// DownwardRay skips trigger shapes and shapes that already contain origin.
func (s *Scene) DownwardRay(origin domain.Vec3, maxDistance float64) []Hit {
	var hits []Hit
	probe := domain.V3(origin.X, origin.Y-maxDistance, origin.Z)
	for _, h := range s.candidates(probe, origin) {
		e := s.entries[h]
		if e.trigger {
			continue
		}
		top, ok := topAt(e, origin.X, origin.Z)
		if !ok {
			continue
		}
		d := origin.Y - top
		if d < 0 || d > maxDistance {
			continue
		}
		hits = append(hits, Hit{Handle: h, Distance: d, Point: domain.V3(origin.X, top, origin.Z)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return hits
}

// topAt returns the highest surface point of e above (x, z).
func topAt(e entry, x, z float64) (float64, bool) {
	if e.shape.Kind == ShapeSphere {
		dx, dz := x-e.shape.Center.X, z-e.shape.Center.Z
		rr := e.shape.Radius*e.shape.Radius - dx*dx - dz*dz
		if rr < 0 {
			return 0, false
		}
		return e.shape.Center.Y + math.Sqrt(rr), true
	}
	if x < e.min.X || x > e.max.X || z < e.min.Z || z > e.max.Z {
		return 0, false
	}
	return e.max.Y, true
}

func (s *Scene) ResolveCategory(h Handle) domain.Category { return s.entries[h].category }

func (s *Scene) ResolveGround(h Handle) domain.GroundKind { return s.entries[h].ground }

func (s *Scene) IsTrigger(h Handle) bool { return s.entries[h].trigger }

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }
