package domain

import (
	"encoding/json"
	"math"
	"testing"
)

func TestVec3_Geometry(t *testing.T) {
	a, b := V3(1, 0, 0), V3(0, 0, 2)
	if d := a.Dist(b); math.Abs(d-math.Sqrt(5)) > 1e-12 {
		t.Fatalf("dist %v", d)
	}
	if n := V3(0, 0, 0).Normalized(); n != (Vec3{}) {
		t.Fatalf("degenerate normalize must be zero, got %v", n)
	}
	if ang := Forward.AngleDeg(V3(1, 0, 0)); math.Abs(ang-90) > 1e-9 {
		t.Fatalf("angle %v", ang)
	}
	if ang := Forward.AngleDeg(Vec3{}); ang != 0 {
		t.Fatalf("angle against zero vector %v", ang)
	}
}

func TestVec3_JSON(t *testing.T) {
	raw, err := json.Marshal(V3(1, 2.5, -3))
	if err != nil || string(raw) != "[1,2.5,-3]" {
		t.Fatalf("marshal %s %v", raw, err)
	}
	var v Vec3
	if err := json.Unmarshal([]byte("[4,5,6]"), &v); err != nil || v != V3(4, 5, 6) {
		t.Fatalf("unmarshal %v %v", v, err)
	}
	if err := json.Unmarshal([]byte("[4,5]"), &v); err == nil {
		t.Fatalf("short arrays must fail")
	}
}

func TestClassifyDistance_InclusiveBounds(t *testing.T) {
	cases := []struct {
		d    float64
		want DistanceState
	}{
		{-1, StateNone},
		{0, StateClose},
		{2, StateClose},
		{2.01, StateMid},
		{6, StateFar},
		{9, StateFar},
	}
	for _, c := range cases {
		if got := ClassifyDistance(c.d, 2, 6); got != c.want {
			t.Errorf("ClassifyDistance(%v)=%s want %s", c.d, got, c.want)
		}
	}
}

func TestInactiveTag_Sentinels(t *testing.T) {
	tag := InactiveTag()
	if tag.Active || tag.NearestAgentID != NoAgent || tag.Ground != GroundUnknown || tag.GroupMemberRels == nil {
		t.Fatalf("sentinel %+v", tag)
	}
	for _, c := range append([]Category{CategoryAgent}, EnvironmentCategories...) {
		if d, near, hit := tag.Proximity(c); d != -1 || near || hit {
			t.Errorf("%s proximity %v %v %v", c, d, near, hit)
		}
	}
	raw, _ := json.Marshal(tag)
	if !json.Valid(raw) || !containsKey(raw, "nearestEntaranceDist") {
		t.Fatalf("entrance key spelling lost: %s", raw)
	}
}

func TestFrameTag_SetProximity(t *testing.T) {
	var tag FrameTag
	tag.SetProximity(CategoryVehicle, 1.5, true, false)
	if d, near, hit := tag.Proximity(CategoryVehicle); d != 1.5 || !near || hit {
		t.Fatalf("vehicle %v %v %v", d, near, hit)
	}
	if d, _, _ := tag.Proximity(CategoryGround); d != -1 {
		t.Fatalf("ground has no proximity")
	}
	if CategoryEntrance.String() != "entrance" || Category(99).String() != "none" {
		t.Fatalf("category names")
	}
}

func containsKey(raw []byte, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}
