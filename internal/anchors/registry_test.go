package anchors

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crowdtag/pkg/domain"
)

func writeFile(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func mustLoad(t *testing.T, dir string) *Registry {
	t.Helper()
	r, err := Load(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

func TestLoad_ParsesAnchorsAndMeta(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scene_agent_7_walk.jsonl",
		`{"globalFrames":[105,100,110],"groups":[2,3],"goalWorldPosition":[5,0,5],"label":"a"}`,
		``,
		`{"globalFrames":[110,120]}`,
	)
	r := mustLoad(t, dir)
	am, ok := r.Agent(7)
	if !ok {
		t.Fatalf("agent 7 not loaded: %+v", r.Agents())
	}
	if am.BaseName != "scene_agent_7_walk" || len(am.Anchors) != 2 {
		t.Fatalf("unexpected agent %+v", am)
	}
	a0 := am.Anchors[0]
	if a0.Start != 100 || a0.End != 110 || a0.Placeholder || a0.StartSide.Captured {
		t.Fatalf("unexpected anchor %+v", a0)
	}
	if !am.HasTrajEnd || am.TrajEnd != 120 {
		t.Fatalf("trajectory end: %v %v", am.TrajEnd, am.HasTrajEnd)
	}
	if got := am.StartsAt[100]; len(got) != 1 || got[0] != 0 {
		t.Fatalf("starts index: %v", am.StartsAt)
	}
	if got := am.EndsAt[120]; len(got) != 1 || got[0] != 1 {
		t.Fatalf("ends index: %v", am.EndsAt)
	}
	m, ok := am.Meta(105)
	if !ok || len(m.GroupIDs) != 2 || !m.HasGoal || m.Goal != domain.V3(5, 0, 5) {
		t.Fatalf("frame meta: %+v", m)
	}
	// the later record overwrites frame 110 and has no group or goal
	if m, _ := am.Meta(110); len(m.GroupIDs) != 0 || m.HasGoal {
		t.Fatalf("frame 110 should carry the later record's meta: %+v", m)
	}
	if lo, hi, ok := r.FrameRange(); !ok || lo != 100 || hi != 120 {
		t.Fatalf("frame range: %d %d %v", lo, hi, ok)
	}
}

func TestLoad_MalformedRecordsBecomePlaceholders(t *testing.T) {
	dir := t.TempDir()
	bad := `{"globalFrames": [1, 2` // truncated
	writeFile(t, dir, "agent_1.jsonl",
		bad,
		`[1,2,3]`,
		`{"globalFrames":[]}`,
		`{"note":"no frames"}`,
		`{"globalFrames":["x"]}`,
		`{"globalFrames":[4]}`,
	)
	am, _ := mustLoad(t, dir).Agent(1)
	if len(am.Anchors) != 6 {
		t.Fatalf("expected 6 anchors, got %d", len(am.Anchors))
	}
	for i := 0; i < 5; i++ {
		a := am.Anchors[i]
		if !a.Placeholder || !a.StartSide.Captured || !a.EndSide.Captured || a.Index != i {
			t.Fatalf("anchor %d should be a pre-captured placeholder: %+v", i, a)
		}
	}
	if string(am.Anchors[0].Raw) != bad {
		t.Fatalf("raw line must be preserved byte for byte: %q", am.Anchors[0].Raw)
	}
	if am.Anchors[5].Placeholder || am.TrajEnd != 4 {
		t.Fatalf("valid trailing anchor expected: %+v", am.Anchors[5])
	}
}

func TestLoad_StripsByteOrderMark(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agent_1.jsonl",
		"\xEF\xBB\xBF"+`{"globalFrames":[100,101,102],"groups":[2]}`,
		`{"globalFrames":[103,104]}`,
	)
	am, ok := mustLoad(t, dir).Agent(1)
	if !ok || len(am.Anchors) != 2 {
		t.Fatalf("unexpected agent %+v", am)
	}
	a0 := am.Anchors[0]
	if a0.Placeholder || a0.Start != 100 || a0.End != 102 {
		t.Fatalf("first anchor must parse despite the BOM: %+v", a0)
	}
	if strings.HasPrefix(string(a0.Raw), "\xEF\xBB\xBF") {
		t.Fatalf("BOM kept in raw payload")
	}
	if m, ok := am.Meta(100); !ok || len(m.GroupIDs) != 1 {
		t.Fatalf("frame meta: %+v %v", m, ok)
	}
	if am.TrajEnd != 104 {
		t.Fatalf("trajectory end %d", am.TrajEnd)
	}
}

func TestEachLine_OnlyLeadingBOMDropped(t *testing.T) {
	var got []string
	err := EachLine(strings.NewReader("\xEF\xBB\xBFa\n\xEF\xBB\xBFb"), func(line []byte) {
		got = append(got, string(line))
	})
	if err != nil {
		t.Fatalf("EachLine: %v", err)
	}
	if len(got) != 2 || got[0] != "a\n" || got[1] != "\xEF\xBB\xBFb" {
		t.Fatalf("lines %q", got)
	}
}

func TestLoad_FileSelection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agent_2.jsonl", `{"globalFrames":[1]}`)
	writeFile(t, dir, "agent_2_TAGGED.jsonl", `{"globalFrames":[99]}`)
	writeFile(t, dir, "pedestrian.jsonl", `{"globalFrames":[5]}`)
	writeFile(t, dir, "agent_3.txt", `{"globalFrames":[5]}`)
	r := mustLoad(t, dir)
	if len(r.Agents()) != 1 || r.Agents()[0].ID != 2 {
		t.Fatalf("expected only agent 2, got %+v", r.Agents())
	}
	if _, hi, _ := r.FrameRange(); hi != 1 {
		t.Fatalf("output files must be skipped, hi=%d", hi)
	}
}

func TestLoad_StartupErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing"), DefaultOptions()); err == nil {
		t.Fatalf("missing folder must fail")
	}
	dir := t.TempDir()
	writeFile(t, dir, "agent_1_tagged.jsonl", `{"globalFrames":[1]}`)
	if _, err := Load(dir, DefaultOptions()); !errors.Is(err, ErrNoAnnotations) {
		t.Fatalf("expected ErrNoAnnotations, got %v", err)
	}
}

func TestParseAgentID(t *testing.T) {
	cases := []struct {
		name string
		want domain.AgentID
		ok   bool
	}{
		{"agent_12", 12, true},
		{"run3_agent_0045_x", 45, true},
		{"agent_", 0, false},
		{"agent_x1", 0, false},
		{"walker_3", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseAgentID(c.name, "agent_")
		if got != c.want || ok != c.ok {
			t.Errorf("ParseAgentID(%q) = %d,%v want %d,%v", c.name, got, ok, c.want, c.ok)
		}
	}
}

func TestSideMarkIsOneShot(t *testing.T) {
	var s Side
	if !s.Mark("a.jpg") {
		t.Fatalf("first mark must succeed")
	}
	if s.Mark("b.jpg") || s.Image != "a.jpg" {
		t.Fatalf("second mark must be ignored: %+v", s)
	}
}

func TestProgressRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agent_1.jsonl", `{"globalFrames":[1,2]}`, `{"globalFrames":[3]}`)
	writeFile(t, dir, "agent_2.jsonl", `{"globalFrames":[1]}`)
	r := mustLoad(t, dir)
	a1, _ := r.Agent(1)
	a1.Anchors[0].StartSide.Mark("images/agent_1/x.jpg")
	a1.Anchors[0].EndSide.Mark("")
	a1.Advance(0)
	p := r.Progress()

	// agent 2 gained an anchor since the export and must not be restored
	writeFile(t, dir, "agent_2.jsonl", `{"globalFrames":[1]}`, `{"globalFrames":[2]}`)
	fresh := mustLoad(t, dir)
	if n := fresh.Restore(p); n != 1 {
		t.Fatalf("expected 1 restored agent, got %d", n)
	}
	f1, _ := fresh.Agent(1)
	if f1.NextToWrite != 1 || !f1.Anchors[0].StartSide.Captured || f1.Anchors[0].StartSide.Image != "images/agent_1/x.jpg" {
		t.Fatalf("agent 1 not restored: %+v", f1.Anchors[0])
	}
	if f1.Anchors[1].StartSide.Captured {
		t.Fatalf("uncaptured side must stay open")
	}
}
