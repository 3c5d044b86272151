package spatial

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"crowdtag/pkg/domain"
)

func box(id, parent string, center, half domain.Vec3, tags ...string) Node {
	return Node{ID: id, Parent: parent, Tags: tags, Shape: &Shape{Kind: ShapeBox, Center: center, HalfExtents: half}}
}

func mustScene(t *testing.T, nodes ...Node) *Scene {
	t.Helper()
	s, err := NewScene(nodes, DefaultVocabulary())
	if err != nil {
		t.Fatalf("NewScene: %v", err)
	}
	return s
}

func TestScene_CategoryPriorityAlongChain(t *testing.T) {
	car := Node{ID: "car", Tags: []string{"Vehicle"}}
	door := box("door", "car", domain.V3(0, 0, 0), domain.V3(1, 1, 1), "Obstacle")
	wall := box("wall", "", domain.V3(10, 0, 0), domain.V3(1, 1, 1), "Building")
	plain := box("plain", "", domain.V3(20, 0, 0), domain.V3(1, 1, 1))
	s := mustScene(t, car, door, wall, plain)

	if got := s.ResolveCategory(0); got != domain.CategoryVehicle {
		t.Fatalf("vehicle ancestor should win over obstacle, got %s", got)
	}
	if got := s.ResolveCategory(1); got != domain.CategoryBuilding {
		t.Fatalf("expected building, got %s", got)
	}
	if got := s.ResolveCategory(2); got != domain.CategoryNone {
		t.Fatalf("expected none, got %s", got)
	}
}

func TestScene_GroundFirstMatchWalkingUp(t *testing.T) {
	root := Node{ID: "block", Tags: []string{"road"}}
	tile := box("tile", "block", domain.V3(0, -0.5, 0), domain.V3(5, 0.5, 5), "grass", "sidewalk")
	s := mustScene(t, root, tile)
	if got := s.ResolveGround(0); got != domain.GroundSidewalk {
		t.Fatalf("node's own tags are checked before its parent, in order; got %s", got)
	}
}

func TestScene_RangeQueryAndClosestPoint(t *testing.T) {
	s := mustScene(t,
		box("b", "", domain.V3(3, 0, 0), domain.V3(1, 1, 1), "Obstacle"),
		Node{ID: "s", Tags: []string{"Vehicle"}, Trigger: true, Shape: &Shape{Kind: ShapeSphere, Center: domain.V3(0, 0, -5), Radius: 1}},
	)
	origin := domain.V3(0, 0, 0)
	if d := s.ClosestPointDistance(origin, 0); math.Abs(d-2) > 1e-9 {
		t.Fatalf("box distance: got %v", d)
	}
	if d := s.ClosestPointDistance(origin, 1); math.Abs(d-4) > 1e-9 {
		t.Fatalf("sphere distance: got %v", d)
	}
	if d := s.ClosestPointDistance(domain.V3(3, 0, 0), 0); d != 0 {
		t.Fatalf("inside box should be zero, got %v", d)
	}
	if got := s.RangeQuery(origin, 2); len(got) != 1 || got[0] != 0 {
		t.Fatalf("radius bound is inclusive: %v", got)
	}
	if got := s.RangeQuery(origin, 4.5); len(got) != 2 {
		t.Fatalf("range query must include triggers: %v", got)
	}
	if !s.IsTrigger(1) || s.IsTrigger(0) {
		t.Fatalf("trigger flags wrong")
	}
}

func TestScene_DownwardRayOrderingAndTriggers(t *testing.T) {
	s := mustScene(t,
		box("floor", "", domain.V3(0, -0.5, 0), domain.V3(10, 0.5, 10), "road"),
		box("mat", "", domain.V3(0, 0.1, 0), domain.V3(1, 0.1, 1), "sidewalk"),
		Node{ID: "zone", Trigger: true, Tags: []string{"grass"}, Shape: &Shape{Kind: ShapeBox, Center: domain.V3(0, 0.5, 0), HalfExtents: domain.V3(1, 0.1, 1)}},
		box("roof", "", domain.V3(0, 5, 0), domain.V3(2, 0.5, 2), "inside"),
	)
	hits := s.DownwardRay(domain.V3(0, 2, 0), 10)
	if len(hits) != 2 {
		t.Fatalf("expected mat and floor, got %+v", hits)
	}
	if hits[0].Handle != 1 || hits[1].Handle != 0 {
		t.Fatalf("hits must be ordered by distance: %+v", hits)
	}
	if math.Abs(hits[0].Distance-1.8) > 1e-9 || math.Abs(hits[1].Distance-2) > 1e-9 {
		t.Fatalf("unexpected distances: %+v", hits)
	}
	if got := s.DownwardRay(domain.V3(0, 2, 0), 1.9); len(got) != 1 {
		t.Fatalf("max distance must cut the floor: %+v", got)
	}
}

func TestNewScene_Validation(t *testing.T) {
	cases := map[string][]Node{
		"missing id":     {{ID: ""}},
		"duplicate":      {{ID: "a"}, {ID: "a"}},
		"unknown parent": {{ID: "a", Parent: "ghost"}},
		"cycle":          {{ID: "a", Parent: "b"}, {ID: "b", Parent: "a"}},
		"bad radius":     {{ID: "a", Shape: &Shape{Kind: ShapeSphere}}},
		"bad kind":       {{ID: "a", Shape: &Shape{Kind: "capsule"}}},
	}
	for name, nodes := range cases {
		if _, err := NewScene(nodes, DefaultVocabulary()); !errors.Is(err, ErrInvalidScene) {
			t.Errorf("%s: expected ErrInvalidScene, got %v", name, err)
		}
	}
}

func TestLoadScene(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.json")
	doc := `{"nodes":[
		{"id":"street","tags":["road"]},
		{"id":"lane","parent":"street","shape":{"kind":"box","center":[0,-0.5,0],"halfExtents":[5,0.5,5]}},
		{"id":"bus","tags":["Vehicle"],"trigger":true,"shape":{"kind":"sphere","center":[3,0,0],"radius":1.5}}
	]}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := LoadScene(path, DefaultVocabulary())
	if err != nil {
		t.Fatalf("LoadScene: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 shapes, got %d", s.Len())
	}
	if s.ResolveGround(0) != domain.GroundRoad || s.ResolveCategory(1) != domain.CategoryVehicle {
		t.Fatalf("unexpected resolution")
	}
	if _, err := LoadScene(filepath.Join(t.TempDir(), "missing.json"), DefaultVocabulary()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
