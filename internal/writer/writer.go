// Package writer emits one enriched line per anchor, in load order, once the
// replay has reached the anchor's end frame.
package writer

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mudler/xlog"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"crowdtag/internal/anchors"
	"crowdtag/pkg/domain"
)

// Policy decides what happens to the cursor when a record cannot be written.
type Policy string

const (
	// PolicyAdvance drops the record and moves on.
	PolicyAdvance Policy = "advance"
	// PolicyRetry keeps the cursor so the next distinct frame tries again.
	PolicyRetry Policy = "retry"
)

// TagSource looks up the tag recorded for an agent at a frame.
type TagSource interface {
	Tag(id domain.AgentID, frame int) (domain.FrameTag, bool)
}

// Sink persists finished lines. line carries no trailing newline.
type Sink interface {
	Append(am *anchors.AgentMeta, line []byte) error
}

// Options configures a Writer.
type Options struct {
	TimePerFrame float64
	Policy       Policy
}

// DefaultOptions uses 0.05 s per frame and the advance policy.
func DefaultOptions() Options {
	return Options{TimePerFrame: 0.05, Policy: PolicyAdvance}
}

// Stats summarises one FlushUpTo call.
type Stats struct {
	Written      int
	Placeholders int
	Failed       int
}

// Writer drains anchors into a Sink.
type Writer struct {
	sink Sink
	opts Options
}

// New returns a Writer. An unknown policy behaves as PolicyAdvance.
func New(sink Sink, opts Options) *Writer {
	if opts.Policy != PolicyRetry {
		opts.Policy = PolicyAdvance
	}
	return &Writer{sink: sink, opts: opts}
}

// FlushUpTo writes, for every agent, the anchors from its cursor onwards
// until the first valid anchor whose end frame lies beyond frame.
func (w *Writer) FlushUpTo(frame int, reg *anchors.Registry, tags TagSource) Stats {
	var st Stats
	for _, am := range reg.Agents() {
		w.flushAgent(frame, am, tags, &st)
	}
	return st
}

func (w *Writer) flushAgent(frame int, am *anchors.AgentMeta, tags TagSource, st *Stats) {
	for !am.Done() {
		iv := am.Anchors[am.NextToWrite]
		if !iv.Placeholder && frame < iv.End {
			return
		}
		line, err := w.Record(am, iv, tags)
		if err == nil {
			err = w.sink.Append(am, line)
		}
		if err != nil {
			st.Failed++
			xlog.Error("Failed writing anchor line", "agent", am.ID, "anchor", iv.Index, "policy", string(w.opts.Policy), "error", err)
			if w.opts.Policy == PolicyRetry {
				return
			}
			am.Advance(iv.Index)
			continue
		}
		if iv.Placeholder {
			st.Placeholders++
		} else {
			st.Written++
		}
		am.Advance(iv.Index)
	}
}

// Record renders the output line of one anchor. Placeholders come back
// byte for byte as loaded.
func (w *Writer) Record(am *anchors.AgentMeta, iv *anchors.Interval, tags TagSource) ([]byte, error) {
	if iv.Placeholder {
		return iv.Raw, nil
	}
	startTag, err := w.tagObject(am, tags, iv.Start, iv.StartSide)
	if err != nil {
		return nil, err
	}
	endTag, err := w.tagObject(am, tags, iv.End, iv.EndSide)
	if err != nil {
		return nil, err
	}
	// drop insignificant whitespace so records are compact
	out := pretty.Ugly(iv.Raw)
	if out, err = sjson.SetRawBytes(out, "startFrameTag", startTag); err != nil {
		return nil, fmt.Errorf("set startFrameTag: %w", err)
	}
	if out, err = sjson.SetRawBytes(out, "endFrameTag", endTag); err != nil {
		return nil, fmt.Errorf("set endFrameTag: %w", err)
	}
	if out, err = sjson.DeleteBytes(out, "frameTags"); err != nil {
		return nil, fmt.Errorf("delete frameTags: %w", err)
	}
	return out, nil
}

func (w *Writer) tagObject(am *anchors.AgentMeta, tags TagSource, frame int, side anchors.Side) ([]byte, error) {
	tag, ok := domain.FrameTag{}, false
	if tags != nil {
		tag, ok = tags.Tag(am.ID, frame)
	}
	if !ok {
		tag = domain.InactiveTag()
	}
	obj, err := json.Marshal(tag)
	if err != nil {
		return nil, fmt.Errorf("encode tag at frame %d: %w", frame, err)
	}
	if side.Image != "" {
		if obj, err = sjson.SetBytes(obj, "imagePath", side.Image); err != nil {
			return nil, err
		}
		if obj, err = sjson.SetBytes(obj, "imageGf", frame); err != nil {
			return nil, err
		}
	}
	if am.HasTrajEnd {
		if obj, err = sjson.SetBytes(obj, "trajEndGf", am.TrajEnd); err != nil {
			return nil, err
		}
		remaining := math.Max(0, float64(am.TrajEnd-frame)*w.opts.TimePerFrame)
		if obj, err = sjson.SetBytes(obj, "remainingTrajSec", remaining); err != nil {
			return nil, err
		}
	}
	return obj, nil
}
