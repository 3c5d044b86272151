package writer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"crowdtag/internal/anchors"
	"crowdtag/pkg/domain"
)

type tagMap map[domain.AgentID]map[int]domain.FrameTag

func (m tagMap) Tag(id domain.AgentID, frame int) (domain.FrameTag, bool) {
	t, ok := m[id][frame]
	return t, ok
}

type memorySink struct {
	lines map[domain.AgentID][]string
}

func (s *memorySink) Append(am *anchors.AgentMeta, line []byte) error {
	if s.lines == nil {
		s.lines = map[domain.AgentID][]string{}
	}
	s.lines[am.ID] = append(s.lines[am.ID], string(line))
	return nil
}

type failingSink struct {
	failures int
	inner    memorySink
}

func (s *failingSink) Append(am *anchors.AgentMeta, line []byte) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}
	return s.inner.Append(am, line)
}

func loadRegistry(t *testing.T, lines ...string) *anchors.Registry {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "agent_1.jsonl"), []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg, err := anchors.Load(dir, anchors.DefaultOptions())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return reg
}

func activeTag(speed float64) domain.FrameTag {
	tag := domain.InactiveTag()
	tag.Active = true
	tag.Ground = domain.GroundSidewalk
	tag.Speed = speed
	return tag
}

func TestFlushUpTo_WritesOnlyAtEndFrameAndOnce(t *testing.T) {
	reg := loadRegistry(t,
		`{"label":"walk","globalFrames":[100,110],"frameTags":{"x":1}}`,
		`{"label":"turn","globalFrames":[105,120]}`,
	)
	tags := tagMap{1: {100: activeTag(1), 110: activeTag(2)}}
	sink := &memorySink{}
	w := New(sink, DefaultOptions())

	if st := w.FlushUpTo(109, reg, tags); st.Written != 0 {
		t.Fatalf("nothing may be written before the end frame: %+v", st)
	}
	if st := w.FlushUpTo(110, reg, tags); st.Written != 1 {
		t.Fatalf("expected first anchor, got %+v", st)
	}
	w.FlushUpTo(110, reg, tags)
	w.FlushUpTo(115, reg, tags)
	lines := sink.lines[1]
	if len(lines) != 1 {
		t.Fatalf("anchor must be written exactly once: %v", lines)
	}
	out := gjson.Parse(lines[0])
	if out.Get("label").String() != "walk" || out.Get("frameTags").Exists() {
		t.Fatalf("payload not preserved or frameTags kept: %s", lines[0])
	}
	if out.Get("startFrameTag.speed").Float() != 1 || out.Get("endFrameTag.speed").Float() != 2 {
		t.Fatalf("tags not attached: %s", lines[0])
	}
	if out.Get("startFrameTag.trajEndGf").Int() != 120 || out.Get("startFrameTag.remainingTrajSec").Float() != 1.0 {
		t.Fatalf("trajectory fields: %s", lines[0])
	}
	if out.Get("endFrameTag.remainingTrajSec").Float() != 0.5 {
		t.Fatalf("remaining seconds at end frame: %s", lines[0])
	}

	w.FlushUpTo(120, reg, tags)
	am, _ := reg.Agent(1)
	if !am.Done() || len(sink.lines[1]) != 2 {
		t.Fatalf("second anchor expected after frame 120")
	}
	second := gjson.Parse(sink.lines[1][1])
	if second.Get("startFrameTag.active").Bool() || second.Get("startFrameTag.nearestAgentId").Int() != -1 {
		t.Fatalf("missing tags must fall back to the inactive sentinel: %s", sink.lines[1][1])
	}
	if second.Get("endFrameTag.remainingTrajSec").Float() != 0 {
		t.Fatalf("remaining seconds never go negative: %s", sink.lines[1][1])
	}
}

func TestFlushUpTo_PlaceholdersVerbatimAndOrdered(t *testing.T) {
	bad := `{"globalFrames": [1, ` + "\t" + `broken`
	reg := loadRegistry(t, `{"globalFrames":[5,6]}`, bad, `{"globalFrames":[1,2]}`)
	sink := &memorySink{}
	w := New(sink, DefaultOptions())

	// the placeholder sits behind an unfinished anchor and must wait for it
	w.FlushUpTo(3, reg, nil)
	if len(sink.lines[1]) != 0 {
		t.Fatalf("anchors must flush in load order: %v", sink.lines[1])
	}
	st := w.FlushUpTo(6, reg, nil)
	if st.Written != 2 || st.Placeholders != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if sink.lines[1][1] != bad {
		t.Fatalf("placeholder must be written verbatim, got %q", sink.lines[1][1])
	}
}

func TestRecord_ImageFieldsAndCompaction(t *testing.T) {
	reg := loadRegistry(t, `{ "globalFrames" : [ 3 , 7 ] ,  "note" : "a  b" }`)
	am, _ := reg.Agent(1)
	iv := am.Anchors[0]
	iv.StartSide.Mark("images/agent_1/anchor_000000_start_gf_000003.jpg")
	iv.EndSide.Mark("")

	line, err := New(&memorySink{}, DefaultOptions()).Record(am, iv, nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	out := gjson.ParseBytes(line)
	if out.Get("startFrameTag.imagePath").String() != "images/agent_1/anchor_000000_start_gf_000003.jpg" || out.Get("startFrameTag.imageGf").Int() != 3 {
		t.Fatalf("start image fields: %s", line)
	}
	if out.Get("endFrameTag.imagePath").Exists() || out.Get("endFrameTag.imageGf").Exists() {
		t.Fatalf("empty image must not be attached: %s", line)
	}
	if out.Get("note").String() != "a  b" || strings.Contains(string(line), " : ") {
		t.Fatalf("payload must be compacted without touching string values: %s", line)
	}
}

func TestFlushUpTo_FailurePolicies(t *testing.T) {
	t.Run("advance", func(t *testing.T) {
		reg := loadRegistry(t, `{"globalFrames":[1]}`, `{"globalFrames":[2]}`)
		sink := &failingSink{failures: 1}
		st := New(sink, DefaultOptions()).FlushUpTo(2, reg, nil)
		am, _ := reg.Agent(1)
		if st.Failed != 1 || st.Written != 1 || !am.Done() {
			t.Fatalf("advance must drop the failed record: %+v next=%d", st, am.NextToWrite)
		}
	})
	t.Run("retry", func(t *testing.T) {
		reg := loadRegistry(t, `{"globalFrames":[1]}`, `{"globalFrames":[2]}`)
		sink := &failingSink{failures: 1}
		w := New(sink, Options{TimePerFrame: 0.05, Policy: PolicyRetry})
		st := w.FlushUpTo(2, reg, nil)
		am, _ := reg.Agent(1)
		if st.Failed != 1 || st.Written != 0 || am.NextToWrite != 0 {
			t.Fatalf("retry must keep the cursor and stop: %+v next=%d", st, am.NextToWrite)
		}
		if st := w.FlushUpTo(3, reg, nil); st.Written != 2 || !am.Done() {
			t.Fatalf("next frame must retry: %+v", st)
		}
	})
}

func TestFileSink_AppendAndReset(t *testing.T) {
	reg := loadRegistry(t, `{"globalFrames":[1]}`)
	am, _ := reg.Agent(1)
	dir := t.TempDir()
	sink := NewFileSink(dir, "_tagged")
	if got := sink.Path(am); got != filepath.Join(dir, "agent_1_tagged.jsonl") {
		t.Fatalf("unexpected path %s", got)
	}
	for _, l := range []string{`{"a":1}`, `{"a":2}`} {
		if err := sink.Append(am, []byte(l)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	data, err := os.ReadFile(sink.Path(am))
	if err != nil || string(data) != "{\"a\":1}\n{\"a\":2}\n" {
		t.Fatalf("file content %q %v", data, err)
	}
	if err := sink.Reset(reg); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := os.Stat(sink.Path(am)); !os.IsNotExist(err) {
		t.Fatalf("reset must delete outputs: %v", err)
	}
	if err := sink.Reset(reg); err != nil {
		t.Fatalf("reset of missing files must succeed: %v", err)
	}
}
