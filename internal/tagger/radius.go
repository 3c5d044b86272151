package tagger

import (
	"math"

	"crowdtag/pkg/domain"
)

// minQueryRadius keeps environment range queries non-degenerate.
const minQueryRadius = 1e-4

// Radii are the proximity thresholds of one category.
type Radii struct {
	Near float64 `toml:"near"`
	Hit  float64 `toml:"hit"`
}

// RadiusTable holds per-category thresholds.
type RadiusTable struct {
	Agent    Radii `toml:"agent"`
	Obstacle Radii `toml:"obstacle"`
	Building Radii `toml:"building"`
	Entrance Radii `toml:"entrance"`
	Vehicle  Radii `toml:"vehicle"`
}

// DefaultRadiusTable uses 2.0 m near and 0.7 m hit for every category.
func DefaultRadiusTable() RadiusTable {
	r := Radii{Near: 2.0, Hit: 0.7}
	return RadiusTable{Agent: r, Obstacle: r, Building: r, Entrance: r, Vehicle: r}
}

// Of returns the radii of c. Unknown categories get zero radii.
func (t RadiusTable) Of(c domain.Category) Radii {
	switch c {
	case domain.CategoryAgent:
		return t.Agent
	case domain.CategoryObstacle:
		return t.Obstacle
	case domain.CategoryBuilding:
		return t.Building
	case domain.CategoryEntrance:
		return t.Entrance
	case domain.CategoryVehicle:
		return t.Vehicle
	}
	return Radii{}
}

// Clamped returns a copy with negative radii raised to zero.
func (t RadiusTable) Clamped() RadiusTable {
	clamp := func(r Radii) Radii { return Radii{Near: math.Max(0, r.Near), Hit: math.Max(0, r.Hit)} }
	return RadiusTable{
		Agent:    clamp(t.Agent),
		Obstacle: clamp(t.Obstacle),
		Building: clamp(t.Building),
		Entrance: clamp(t.Entrance),
		Vehicle:  clamp(t.Vehicle),
	}
}

// MaxEnvNear is the query radius covering every environment near threshold.
func (t RadiusTable) MaxEnvNear() float64 {
	m := 0.0
	for _, c := range domain.EnvironmentCategories {
		m = math.Max(m, t.Of(c).Near)
	}
	return math.Max(minQueryRadius, m)
}

// MaxEnvHit is the query radius covering every environment hit threshold.
func (t RadiusTable) MaxEnvHit() float64 {
	m := 0.0
	for _, c := range domain.EnvironmentCategories {
		m = math.Max(m, t.Of(c).Hit)
	}
	return math.Max(minQueryRadius, m)
}
