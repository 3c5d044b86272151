package engine

import (
	"math"

	"github.com/mudler/xlog"

	"crowdtag/internal/anchors"
	"crowdtag/pkg/domain"
)

// AgentProgress summarises one annotated agent.
type AgentProgress struct {
	ID      domain.AgentID `json:"id"`
	Written int            `json:"written"`
	Total   int            `json:"total"`
	// NextStart and NextEnd bound the next anchor to write when HasNext.
	NextStart int  `json:"next_start,omitempty"`
	NextEnd   int  `json:"next_end,omitempty"`
	HasNext   bool `json:"has_next"`
	// RemainingTrajSec is the time left until the agent's last annotated
	// frame, measured from the last processed frame; -1 when unknown.
	RemainingTrajSec float64 `json:"remaining_traj_sec"`
}

// Progress reports every annotated agent in id order.
func (e *Engine) Progress() []AgentProgress {
	return Summarize(e.reg, e.lastFrame, e.hasLast, e.opts.TimePerFrame)
}

// Summarize builds progress rows from a registry alone. frame is the last
// processed frame when hasFrame.
func Summarize(reg *anchors.Registry, frame int, hasFrame bool, timePerFrame float64) []AgentProgress {
	out := make([]AgentProgress, 0, len(reg.Agents()))
	for _, am := range reg.Agents() {
		p := AgentProgress{ID: am.ID, Written: am.NextToWrite, Total: len(am.Anchors), RemainingTrajSec: -1}
		if !am.Done() {
			iv := am.Anchors[am.NextToWrite]
			p.HasNext = true
			p.NextStart, p.NextEnd = iv.Start, iv.End
		}
		if am.HasTrajEnd && hasFrame {
			p.RemainingTrajSec = math.Max(0, float64(am.TrajEnd-frame)*timePerFrame)
		}
		out = append(out, p)
	}
	return out
}

func (e *Engine) logProgress(frame int) {
	written, total := 0, 0
	for _, p := range e.Progress() {
		written += p.Written
		total += p.Total
		if p.HasNext {
			xlog.Debug("Anchor progress", "frame", frame, "agent", p.ID, "written", p.Written, "total", p.Total,
				"next_start", p.NextStart, "next_end", p.NextEnd, "remaining_traj_sec", p.RemainingTrajSec)
		}
	}
	retained := 0
	for i := range e.runtimes {
		retained += e.runtimes[i].tags.len()
	}
	xlog.Debug("Run progress", "frame", frame, "written", written, "total", total, "tags_retained", retained)
}
