// Package spatial answers the geometric questions the tagger asks about the
// static environment: which shapes overlap a sphere, how far a point is from a
// shape, what lies below a point, and which category or ground surface a shape
// belongs to through its ownership chain.
package spatial

import "crowdtag/pkg/domain"

// Handle identifies one collision shape inside an Index.
type Handle int

// Hit is one intersection of a downward ray.
type Hit struct {
	Handle   Handle
	Distance float64
	Point    domain.Vec3
}

// Index is the query surface used by the tagger. Implementations must be safe
// for concurrent read-only use.
type Index interface {
	// RangeQuery returns every shape, trigger or not, whose closest point is
	// within radius of center.
	RangeQuery(center domain.Vec3, radius float64) []Handle
	// ClosestPointDistance is zero when center lies inside the shape.
	ClosestPointDistance(center domain.Vec3, h Handle) float64
	// DownwardRay casts straight down from origin and returns non-trigger hits
	// ordered by ascending distance.
	DownwardRay(origin domain.Vec3, maxDistance float64) []Hit
	ResolveCategory(h Handle) domain.Category
	ResolveGround(h Handle) domain.GroundKind
	IsTrigger(h Handle) bool
}

// Vocabulary maps scene tag names onto categories and ground kinds.
type Vocabulary struct {
	Agent    string `toml:"agent"`
	Obstacle string `toml:"obstacle"`
	Building string `toml:"building"`
	Entrance string `toml:"entrance"`
	Vehicle  string `toml:"vehicle"`

	Sidewalk  string `toml:"sidewalk"`
	Crosswalk string `toml:"crosswalk"`
	Road      string `toml:"road"`
	Grass     string `toml:"grass"`
	Inside    string `toml:"inside"`
}

// DefaultVocabulary returns the tag names used by existing scenes.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Agent:     "Agent",
		Obstacle:  "Obstacle",
		Building:  "Building",
		Entrance:  "Entarance",
		Vehicle:   "Vehicle",
		Sidewalk:  "sidewalk",
		Crosswalk: "crosswalk",
		Road:      "road",
		Grass:     "grass",
		Inside:    "inside",
	}
}

// categoryPriority lists categories from strongest to weakest. When one
// ownership chain carries several tags the strongest wins.
var categoryPriority = []domain.Category{
	domain.CategoryVehicle,
	domain.CategoryEntrance,
	domain.CategoryBuilding,
	domain.CategoryObstacle,
	domain.CategoryAgent,
}

func (v Vocabulary) categoryOf(tag string) domain.Category {
	switch {
	case tag == "":
		return domain.CategoryNone
	case tag == v.Vehicle:
		return domain.CategoryVehicle
	case tag == v.Entrance:
		return domain.CategoryEntrance
	case tag == v.Building:
		return domain.CategoryBuilding
	case tag == v.Obstacle:
		return domain.CategoryObstacle
	case tag == v.Agent:
		return domain.CategoryAgent
	}
	return domain.CategoryNone
}

// groundOrder is the per-node check order for ground tags.
func (v Vocabulary) groundOrder() []struct {
	tag  string
	kind domain.GroundKind
} {
	return []struct {
		tag  string
		kind domain.GroundKind
	}{
		{v.Sidewalk, domain.GroundSidewalk},
		{v.Crosswalk, domain.GroundCrosswalk},
		{v.Road, domain.GroundRoad},
		{v.Grass, domain.GroundGrass},
		{v.Inside, domain.GroundInside},
	}
}
