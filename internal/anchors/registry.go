// Package anchors loads externally authored anchor annotations and tracks,
// per agent, which anchor sides have been captured and which anchors have
// been written.
package anchors

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mudler/xlog"
	"github.com/tidwall/gjson"

	"crowdtag/pkg/domain"
)

// ErrNoAnnotations is returned when the input folder holds no annotation files.
var ErrNoAnnotations = errors.New("no annotation files")

// Options controls file discovery.
type Options struct {
	// AgentPrefix precedes the numeric agent id in file base names.
	AgentPrefix string
	// OutputSuffix marks files produced by a previous run; they are skipped.
	OutputSuffix string
}

// DefaultOptions matches the naming of existing datasets.
func DefaultOptions() Options {
	return Options{AgentPrefix: "agent_", OutputSuffix: "_tagged"}
}

// Side is the one-shot capture record of an anchor's start or end frame.
type Side struct {
	Captured bool
	// Image is the stored image key, empty when nothing was captured.
	Image string
}

// Mark captures the side once. It reports false when the side was already
// captured, leaving it unchanged.
func (s *Side) Mark(image string) bool {
	if s.Captured {
		return false
	}
	s.Captured = true
	s.Image = image
	return true
}

// Interval is one anchor record. Only the capture sides mutate after load.
type Interval struct {
	Index       int
	Raw         []byte
	Frames      []int
	Start       int
	End         int
	Placeholder bool
	StartSide   Side
	EndSide     Side
}

// AgentMeta is everything loaded for one agent file.
type AgentMeta struct {
	ID         domain.AgentID
	BaseName   string
	SourcePath string
	Anchors    []*Interval
	FrameMeta  map[int]domain.FrameMeta
	TrajEnd    int
	HasTrajEnd bool
	StartsAt   map[int][]int
	EndsAt     map[int][]int
	// NextToWrite is the index of the first anchor not yet written. It only
	// moves forward.
	NextToWrite int
}

// Meta returns the annotation context of frame.
func (a *AgentMeta) Meta(frame int) (domain.FrameMeta, bool) {
	m, ok := a.FrameMeta[frame]
	return m, ok
}

// Advance moves the write cursor past the anchor at index i.
func (a *AgentMeta) Advance(i int) {
	if i+1 > a.NextToWrite {
		a.NextToWrite = i + 1
	}
}

// Done reports whether every anchor has been written.
func (a *AgentMeta) Done() bool { return a.NextToWrite >= len(a.Anchors) }

// Registry owns the AgentMeta of every loaded agent.
type Registry struct {
	agents    []*AgentMeta
	byID      map[domain.AgentID]*AgentMeta
	minFrame  int
	maxFrame  int
	hasFrames bool
}

// Agents returns the agents ordered by id.
func (r *Registry) Agents() []*AgentMeta { return r.agents }

// Agent returns the metadata of id.
func (r *Registry) Agent(id domain.AgentID) (*AgentMeta, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// FrameRange returns the smallest and largest annotated global frame.
func (r *Registry) FrameRange() (lo, hi int, ok bool) {
	return r.minFrame, r.maxFrame, r.hasFrames
}

// Files lists the annotation files of dir in lexical order. Outputs of a
// previous run are excluded.
func Files(dir string, opts Options) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read annotation folder: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".jsonl") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if opts.OutputSuffix != "" && strings.HasSuffix(strings.ToLower(base), strings.ToLower(opts.OutputSuffix)) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoAnnotations, dir)
	}
	sort.Strings(files)
	return files, nil
}

// BaseName strips the directory and extension of an annotation file path.
func BaseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Load reads every annotation file of dir. Files are read in lexical order;
// when two files map to the same agent id the later one wins.
func Load(dir string, opts Options) (*Registry, error) {
	files, err := Files(dir, opts)
	if err != nil {
		return nil, err
	}
	r := &Registry{byID: make(map[domain.AgentID]*AgentMeta)}
	for _, path := range files {
		base := BaseName(path)
		id, ok := ParseAgentID(base, opts.AgentPrefix)
		if !ok {
			xlog.Warn("Cannot parse agent id from file name", "file", filepath.Base(path), "prefix", opts.AgentPrefix)
			continue
		}
		am, err := loadAgent(path, base, id)
		if err != nil {
			return nil, err
		}
		if _, dup := r.byID[id]; dup {
			xlog.Warn("Duplicate agent id, later file wins", "agent", id, "file", filepath.Base(path))
		}
		r.byID[id] = am
	}
	for _, am := range r.byID {
		r.agents = append(r.agents, am)
		for f := range am.FrameMeta {
			r.observeFrame(f)
		}
	}
	sort.Slice(r.agents, func(i, j int) bool { return r.agents[i].ID < r.agents[j].ID })
	return r, nil
}

func (r *Registry) observeFrame(f int) {
	if !r.hasFrames {
		r.minFrame, r.maxFrame, r.hasFrames = f, f, true
		return
	}
	r.minFrame = min(r.minFrame, f)
	r.maxFrame = max(r.maxFrame, f)
}

// ParseAgentID extracts the digits following prefix in name.
func ParseAgentID(name, prefix string) (domain.AgentID, bool) {
	idx := strings.Index(name, prefix)
	if idx < 0 {
		return 0, false
	}
	rest := name[idx+len(prefix):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return domain.AgentID(n), true
}

func loadAgent(path, base string, id domain.AgentID) (*AgentMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open annotations %s: %w", path, err)
	}
	defer f.Close()

	am := &AgentMeta{
		ID:         id,
		BaseName:   base,
		SourcePath: path,
		FrameMeta:  make(map[int]domain.FrameMeta),
		StartsAt:   make(map[int][]int),
		EndsAt:     make(map[int][]int),
	}
	if err := EachLine(f, am.addLine); err != nil {
		return nil, fmt.Errorf("read annotations %s: %w", path, err)
	}
	return am, nil
}

func (am *AgentMeta) addLine(line []byte) {
	line = bytes.TrimRight(line, "\r\n")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	raw := bytes.Clone(line)
	idx := len(am.Anchors)
	frames, ok := parseFrames(raw)
	if !ok {
		am.Anchors = append(am.Anchors, &Interval{
			Index:       idx,
			Raw:         raw,
			Placeholder: true,
			StartSide:   Side{Captured: true},
			EndSide:     Side{Captured: true},
		})
		return
	}
	iv := &Interval{Index: idx, Raw: raw, Frames: frames, Start: frames[0], End: frames[0]}
	for _, fr := range frames {
		iv.Start = min(iv.Start, fr)
		iv.End = max(iv.End, fr)
	}
	am.Anchors = append(am.Anchors, iv)
	am.StartsAt[iv.Start] = append(am.StartsAt[iv.Start], idx)
	am.EndsAt[iv.End] = append(am.EndsAt[iv.End], idx)
	if !am.HasTrajEnd || iv.End > am.TrajEnd {
		am.TrajEnd, am.HasTrajEnd = iv.End, true
	}

	meta := parseMeta(raw)
	for _, fr := range frames {
		am.FrameMeta[fr] = meta
	}
}

// parseFrames accepts a JSON object with a non-empty integer globalFrames array.
func parseFrames(raw []byte) ([]int, bool) {
	if !gjson.ValidBytes(raw) {
		return nil, false
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, false
	}
	gfs := doc.Get("globalFrames")
	if !gfs.IsArray() {
		return nil, false
	}
	var frames []int
	ok := true
	gfs.ForEach(func(_, v gjson.Result) bool {
		if v.Type != gjson.Number {
			ok = false
			return false
		}
		frames = append(frames, int(v.Int()))
		return true
	})
	if !ok || len(frames) == 0 {
		return nil, false
	}
	return frames, true
}

func parseMeta(raw []byte) domain.FrameMeta {
	doc := gjson.ParseBytes(raw)
	var meta domain.FrameMeta
	if groups := doc.Get("groups"); groups.IsArray() {
		for _, g := range groups.Array() {
			if g.Type == gjson.Number {
				meta.GroupIDs = append(meta.GroupIDs, domain.AgentID(g.Int()))
			}
		}
	}
	goalRes := doc.Get("goalWorldPosition")
	if !goalRes.IsArray() {
		return meta
	}
	goal := goalRes.Array()
	if len(goal) >= 3 && goal[0].Type == gjson.Number && goal[1].Type == gjson.Number && goal[2].Type == gjson.Number {
		meta.Goal = domain.V3(goal[0].Float(), goal[1].Float(), goal[2].Float())
		meta.HasGoal = true
	}
	return meta
}
