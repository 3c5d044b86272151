package anchors

import "crowdtag/pkg/domain"

// SideState is the persisted form of a Side.
type SideState struct {
	Captured bool   `json:"captured"`
	Image    string `json:"image,omitempty"`
}

// AgentProgress is the mutable state of one agent.
type AgentProgress struct {
	AgentID     domain.AgentID `json:"agent_id"`
	AnchorCount int            `json:"anchor_count"`
	NextToWrite int            `json:"next_to_write"`
	Start       []SideState    `json:"start"`
	End         []SideState    `json:"end"`
}

// Progress is the mutable state of a whole registry.
type Progress struct {
	Agents []AgentProgress `json:"agents"`
}

// Progress exports capture sides and write cursors.
func (r *Registry) Progress() Progress {
	p := Progress{Agents: make([]AgentProgress, 0, len(r.agents))}
	for _, am := range r.agents {
		ap := AgentProgress{
			AgentID:     am.ID,
			AnchorCount: len(am.Anchors),
			NextToWrite: am.NextToWrite,
			Start:       make([]SideState, len(am.Anchors)),
			End:         make([]SideState, len(am.Anchors)),
		}
		for i, iv := range am.Anchors {
			ap.Start[i] = SideState{Captured: iv.StartSide.Captured, Image: iv.StartSide.Image}
			ap.End[i] = SideState{Captured: iv.EndSide.Captured, Image: iv.EndSide.Image}
		}
		p.Agents = append(p.Agents, ap)
	}
	return p
}

// Restore applies a previously exported Progress. Agents whose anchor count
// changed since the export are left untouched. Sides only move to captured
// and cursors only move forward. It returns the number of agents restored.
func (r *Registry) Restore(p Progress) int {
	restored := 0
	for _, ap := range p.Agents {
		am, ok := r.byID[ap.AgentID]
		if !ok || ap.AnchorCount != len(am.Anchors) || len(ap.Start) != len(am.Anchors) || len(ap.End) != len(am.Anchors) {
			continue
		}
		for i, iv := range am.Anchors {
			if ap.Start[i].Captured {
				iv.StartSide.Mark(ap.Start[i].Image)
			}
			if ap.End[i].Captured {
				iv.EndSide.Mark(ap.End[i].Image)
			}
		}
		if ap.NextToWrite > 0 {
			am.Advance(min(ap.NextToWrite, len(am.Anchors)) - 1)
		}
		restored++
	}
	return restored
}
