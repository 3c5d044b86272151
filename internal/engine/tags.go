package engine

import (
	"sort"

	"crowdtag/internal/anchors"
	"crowdtag/pkg/domain"
)

// tagStore holds one agent's tags by frame. Frames arrive in increasing
// order, so eviction walks a sorted frame list from the front.
type tagStore struct {
	tags   map[int]domain.FrameTag
	frames []int
}

func newTagStore() tagStore {
	return tagStore{tags: make(map[int]domain.FrameTag)}
}

func (s *tagStore) put(frame int, tag domain.FrameTag) {
	if _, ok := s.tags[frame]; !ok {
		i := sort.SearchInts(s.frames, frame)
		s.frames = append(s.frames, 0)
		copy(s.frames[i+1:], s.frames[i:])
		s.frames[i] = frame
	}
	s.tags[frame] = tag
}

func (s *tagStore) get(frame int) (domain.FrameTag, bool) {
	t, ok := s.tags[frame]
	return t, ok
}

func (s *tagStore) len() int { return len(s.frames) }

// evict drops tags older than before unless they are the start or end frame
// of an anchor still waiting to be written.
func (s *tagStore) evict(before int, am *anchors.AgentMeta) int {
	if len(s.frames) == 0 || s.frames[0] >= before {
		return 0
	}
	pinned := map[int]struct{}{}
	if am != nil {
		for _, iv := range am.Anchors[am.NextToWrite:] {
			if !iv.Placeholder {
				pinned[iv.Start] = struct{}{}
				pinned[iv.End] = struct{}{}
			}
		}
	}
	kept := s.frames[:0]
	dropped := 0
	for _, f := range s.frames {
		if _, pin := pinned[f]; f < before && !pin {
			delete(s.tags, f)
			dropped++
			continue
		}
		kept = append(kept, f)
	}
	s.frames = kept
	return dropped
}
