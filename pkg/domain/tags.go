package domain

// AgentID is the stable integer identity of a replayed pedestrian.
type AgentID int

// NoAgent marks the absence of a nearest agent.
const NoAgent AgentID = -1

// Category is the entity kind an ownership chain resolves to.
type Category int

const (
	CategoryNone Category = iota
	CategoryAgent
	CategoryObstacle
	CategoryBuilding
	CategoryEntrance
	CategoryVehicle
	CategoryGround
)

var categoryNames = [...]string{"none", "agent", "obstacle", "building", "entrance", "vehicle", "ground"}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "none"
	}
	return categoryNames[c]
}

// EnvironmentCategories lists the categories measured through spatial range
// queries. Agents are measured separately by a linear scan.
var EnvironmentCategories = []Category{CategoryObstacle, CategoryBuilding, CategoryEntrance, CategoryVehicle}

// GroundKind names the walking surface under an agent.
type GroundKind string

const (
	GroundUnknown   GroundKind = "unknown"
	GroundSidewalk  GroundKind = "sidewalk"
	GroundCrosswalk GroundKind = "crosswalk"
	GroundRoad      GroundKind = "road"
	GroundGrass     GroundKind = "grass"
	GroundInside    GroundKind = "inside"
)

// DistanceState buckets a distance into coarse bands.
type DistanceState string

const (
	StateNone  DistanceState = "none"
	StateClose DistanceState = "close"
	StateMid   DistanceState = "mid"
	StateFar   DistanceState = "far"
)

// ClassifyDistance maps d onto close/mid/far using inclusive bounds.
// Negative distances are the "not available" sentinel.
func ClassifyDistance(d, closeDist, farDist float64) DistanceState {
	switch {
	case d < 0:
		return StateNone
	case d <= closeDist:
		return StateClose
	case d >= farDist:
		return StateFar
	default:
		return StateMid
	}
}

// GroupMember is a group mate's position relative to the tagged agent.
type GroupMember struct {
	ID       AgentID `json:"id"`
	RelWorld Vec3    `json:"relWorld"`
	Dist     float64 `json:"dist"`
}

// FrameTag is the context snapshot of one agent at one frame. Values are
// never mutated once stored.
type FrameTag struct {
	Active bool       `json:"active"`
	Ground GroundKind `json:"ground"`

	NearestAgentID   AgentID `json:"nearestAgentId"`
	NearestAgentDist float64 `json:"nearestAgentDist"`
	NearAgent        bool    `json:"near_agent"`
	HitAgent         bool    `json:"hit_agent"`

	NearestObstacleDist float64 `json:"nearestObstacleDist"`
	NearObstacle        bool    `json:"near_obstacle"`
	HitObstacle         bool    `json:"hit_obstacle"`

	NearestBuildingDist float64 `json:"nearestBuildingDist"`
	NearBuilding        bool    `json:"near_building"`
	HitBuilding         bool    `json:"hit_building"`

	// entrance keys keep the historical dataset spelling
	NearestEntranceDist float64 `json:"nearestEntaranceDist"`
	NearEntrance        bool    `json:"near_entarance"`
	HitEntrance         bool    `json:"hit_entarance"`

	NearestVehicleDist float64 `json:"nearestVehicleDist"`
	NearVehicle        bool    `json:"near_vehicle"`
	HitVehicle         bool    `json:"hit_vehicle"`

	GroupDist           float64       `json:"groupDist"`
	GroupState          DistanceState `json:"groupState"`
	GroupActiveCount    int           `json:"groupActiveCount"`
	GroupCenterWorld    Vec3          `json:"groupCenterWorld"`
	GroupCenterRelWorld Vec3          `json:"groupCenterRelWorld"`
	GroupMemberRels     []GroupMember `json:"groupMemberRels"`

	GoalDist  float64       `json:"goalDist"`
	GoalState DistanceState `json:"goalState"`

	Speed   float64 `json:"speed"`
	Accel   float64 `json:"accel"`
	TurnDeg float64 `json:"turnDeg"`
}

// InactiveTag is the sentinel stored for inactive agents and substituted
// for frames without a recorded tag.
func InactiveTag() FrameTag {
	return FrameTag{
		Active:              false,
		Ground:              GroundUnknown,
		NearestAgentID:      NoAgent,
		NearestAgentDist:    -1,
		NearestObstacleDist: -1,
		NearestBuildingDist: -1,
		NearestEntranceDist: -1,
		NearestVehicleDist:  -1,
		GroupDist:           -1,
		GroupState:          StateNone,
		GroupMemberRels:     []GroupMember{},
		GoalDist:            -1,
		GoalState:           StateNone,
	}
}

// Proximity returns the nearest distance and near/hit flags recorded for c.
func (t FrameTag) Proximity(c Category) (dist float64, near, hit bool) {
	switch c {
	case CategoryAgent:
		return t.NearestAgentDist, t.NearAgent, t.HitAgent
	case CategoryObstacle:
		return t.NearestObstacleDist, t.NearObstacle, t.HitObstacle
	case CategoryBuilding:
		return t.NearestBuildingDist, t.NearBuilding, t.HitBuilding
	case CategoryEntrance:
		return t.NearestEntranceDist, t.NearEntrance, t.HitEntrance
	case CategoryVehicle:
		return t.NearestVehicleDist, t.NearVehicle, t.HitVehicle
	default:
		return -1, false, false
	}
}

// SetProximity records the nearest distance and near/hit flags for c.
func (t *FrameTag) SetProximity(c Category, dist float64, near, hit bool) {
	switch c {
	case CategoryAgent:
		t.NearestAgentDist, t.NearAgent, t.HitAgent = dist, near, hit
	case CategoryObstacle:
		t.NearestObstacleDist, t.NearObstacle, t.HitObstacle = dist, near, hit
	case CategoryBuilding:
		t.NearestBuildingDist, t.NearBuilding, t.HitBuilding = dist, near, hit
	case CategoryEntrance:
		t.NearestEntranceDist, t.NearEntrance, t.HitEntrance = dist, near, hit
	case CategoryVehicle:
		t.NearestVehicleDist, t.NearVehicle, t.HitVehicle = dist, near, hit
	}
}

// FrameMeta is the annotation context of one agent at one frame.
type FrameMeta struct {
	GroupIDs []AgentID
	Goal     Vec3
	HasGoal  bool
}
