// Package tagger computes the per-frame context snapshot of one agent:
// ground surface, proximity to agents and tagged environment shapes, group
// cohesion, goal progress and kinematics.
package tagger

import (
	"math"
	"sort"

	"crowdtag/internal/kinematics"
	"crowdtag/internal/spatial"
	"crowdtag/pkg/domain"
)

// Options configures a Tagger.
type Options struct {
	Radii                RadiusTable
	GroupClose           float64
	GroupFar             float64
	GoalClose            float64
	GoalFar              float64
	RayStartHeight       float64
	RayLength            float64
	OnlyTriggerColliders bool
}

// DefaultOptions mirrors the thresholds existing datasets were tagged with.
func DefaultOptions() Options {
	return Options{
		Radii:                DefaultRadiusTable(),
		GroupClose:           2,
		GroupFar:             6,
		GoalClose:            2,
		GoalFar:              10,
		RayStartHeight:       2,
		RayLength:            10,
		OnlyTriggerColliders: true,
	}
}

// Member is one agent's pose within a Crowd.
type Member struct {
	ID   domain.AgentID
	Pose domain.Pose
}

// Crowd is every agent's pose at one frame, ordered by id.
type Crowd struct {
	members []Member
	byID    map[domain.AgentID]int
}

// NewCrowd indexes members. The slice is sorted by id in place.
func NewCrowd(members []Member) Crowd {
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	byID := make(map[domain.AgentID]int, len(members))
	for i, m := range members {
		byID[m.ID] = i
	}
	return Crowd{members: members, byID: byID}
}

// Lookup returns the pose of id.
func (c Crowd) Lookup(id domain.AgentID) (domain.Pose, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Pose{}, false
	}
	return c.members[i].Pose, true
}

// Members returns the agents ordered by id.
func (c Crowd) Members() []Member { return c.members }

// Tagger produces FrameTags against a static spatial index. It is stateless
// apart from its configuration; kinematic state lives in per-agent trackers.
type Tagger struct {
	index   spatial.Index
	opts    Options
	maxNear float64
	maxHit  float64
}

// New returns a Tagger. A nil index means an empty environment.
func New(index spatial.Index, opts Options) *Tagger {
	opts.Radii = opts.Radii.Clamped()
	return &Tagger{
		index:   index,
		opts:    opts,
		maxNear: opts.Radii.MaxEnvNear(),
		maxHit:  opts.Radii.MaxEnvHit(),
	}
}

// Options returns the effective configuration.
func (t *Tagger) Options() Options { return t.opts }

// Tag builds the snapshot of self at the current frame. meta is nil when the
// frame carries no annotation for self. kin is the tracker sample already
// taken for this frame.
func (t *Tagger) Tag(self domain.AgentID, pose domain.Pose, crowd Crowd, meta *domain.FrameMeta, kin kinematics.Sample) domain.FrameTag {
	if !pose.Active {
		return domain.InactiveTag()
	}
	tag := domain.InactiveTag()
	tag.Active = true
	pos := pose.Position

	tag.Ground = t.ground(pos)

	id, d := nearestAgent(self, pos, crowd)
	tag.NearestAgentID = id
	agentRadii := t.opts.Radii.Agent
	tag.SetProximity(domain.CategoryAgent, d, id != domain.NoAgent && d >= 0 && d <= agentRadii.Near, id != domain.NoAgent && d >= 0 && d <= agentRadii.Hit)

	t.environment(pos, &tag)

	if meta != nil {
		t.group(self, pos, crowd, meta.GroupIDs, &tag)
		if meta.HasGoal {
			tag.GoalDist = pos.Dist(meta.Goal)
			tag.GoalState = domain.ClassifyDistance(tag.GoalDist, t.opts.GoalClose, t.opts.GoalFar)
		}
	}

	tag.Speed = kin.Speed
	tag.Accel = kin.Accel
	tag.TurnDeg = kin.TurnDeg
	return tag
}

// ground returns the first hit below pos that resolves to a ground kind.
// Closer unresolvable hits do not block farther ones.
func (t *Tagger) ground(pos domain.Vec3) domain.GroundKind {
	if t.index == nil {
		return domain.GroundUnknown
	}
	origin := pos.Add(domain.Up.Scale(t.opts.RayStartHeight))
	for _, h := range t.index.DownwardRay(origin, t.opts.RayLength) {
		if g := t.index.ResolveGround(h.Handle); g != domain.GroundUnknown {
			return g
		}
	}
	return domain.GroundUnknown
}

func nearestAgent(self domain.AgentID, pos domain.Vec3, crowd Crowd) (domain.AgentID, float64) {
	nearestID := domain.NoAgent
	nearest := math.Inf(1)
	for _, m := range crowd.members {
		if m.ID == self || !m.Pose.Active {
			continue
		}
		if d := pos.Dist(m.Pose.Position); d < nearest {
			nearest = d
			nearestID = m.ID
		}
	}
	if nearestID == domain.NoAgent {
		return domain.NoAgent, -1
	}
	return nearestID, nearest
}

// environment runs one near and one hit range query and folds the results
// into per-category distances and flags.
func (t *Tagger) environment(pos domain.Vec3, tag *domain.FrameTag) {
	nearest := map[domain.Category]float64{}
	hit := map[domain.Category]bool{}
	if t.index != nil {
		for _, h := range t.index.RangeQuery(pos, t.maxNear) {
			c, ok := t.consider(h)
			if !ok {
				continue
			}
			d := t.index.ClosestPointDistance(pos, h)
			if cur, seen := nearest[c]; !seen || d < cur {
				nearest[c] = d
			}
		}
		for _, h := range t.index.RangeQuery(pos, t.maxHit) {
			c, ok := t.consider(h)
			if !ok || hit[c] {
				continue
			}
			if t.index.ClosestPointDistance(pos, h) <= t.opts.Radii.Of(c).Hit {
				hit[c] = true
			}
		}
	}
	for _, c := range domain.EnvironmentCategories {
		d, ok := nearest[c]
		if !ok {
			d = -1
		}
		tag.SetProximity(c, d, d >= 0 && d <= t.opts.Radii.Of(c).Near, hit[c])
	}
}

func (t *Tagger) consider(h spatial.Handle) (domain.Category, bool) {
	if t.opts.OnlyTriggerColliders && !t.index.IsTrigger(h) {
		return domain.CategoryNone, false
	}
	c := t.index.ResolveCategory(h)
	switch c {
	case domain.CategoryObstacle, domain.CategoryBuilding, domain.CategoryEntrance, domain.CategoryVehicle:
		return c, true
	}
	return domain.CategoryNone, false
}

// group fills the cohesion metrics from the active members of ids. Self and
// unknown or inactive members are skipped; with none left the sentinel
// values stay in place.
func (t *Tagger) group(self domain.AgentID, pos domain.Vec3, crowd Crowd, ids []domain.AgentID, tag *domain.FrameTag) {
	var center domain.Vec3
	rels := make([]domain.GroupMember, 0, len(ids))
	for _, id := range ids {
		if id == self {
			continue
		}
		p, ok := crowd.Lookup(id)
		if !ok || !p.Active {
			continue
		}
		rel := p.Position.Sub(pos)
		rels = append(rels, domain.GroupMember{ID: id, RelWorld: rel, Dist: rel.Len()})
		center = center.Add(p.Position)
	}
	if len(rels) == 0 {
		return
	}
	center = center.Scale(1 / float64(len(rels)))
	tag.GroupActiveCount = len(rels)
	tag.GroupCenterWorld = center
	tag.GroupCenterRelWorld = center.Sub(pos)
	tag.GroupMemberRels = rels
	tag.GroupDist = pos.Dist(center)
	tag.GroupState = domain.ClassifyDistance(tag.GroupDist, t.opts.GroupClose, t.opts.GroupFar)
}
