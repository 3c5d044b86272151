package engine

import (
	"testing"

	"crowdtag/internal/anchors"
	"crowdtag/pkg/domain"
)

func TestTagStore_EvictKeepsPinnedAnchorFrames(t *testing.T) {
	s := newTagStore()
	for _, f := range []int{5, 1, 3, 2, 4} {
		s.put(f, domain.FrameTag{Speed: float64(f)})
	}
	if s.frames[0] != 1 || s.frames[4] != 5 {
		t.Fatalf("frames must stay sorted: %v", s.frames)
	}
	am := &anchors.AgentMeta{
		Anchors: []*anchors.Interval{
			{Index: 0, Start: 1, End: 2},
			{Index: 1, Start: 2, End: 5},
			{Index: 2, Placeholder: true, Start: 3, End: 3},
		},
		NextToWrite: 1,
	}
	// anchor 0 is written and the placeholder pins nothing, so only frame 2 survives below 5
	if n := s.evict(5, am); n != 3 {
		t.Fatalf("evicted %d", n)
	}
	if _, ok := s.get(2); !ok {
		t.Fatalf("start frame of an unwritten anchor must be pinned")
	}
	for _, f := range []int{1, 3, 4} {
		if _, ok := s.get(f); ok {
			t.Fatalf("frame %d should be gone", f)
		}
	}
	if s.len() != 2 {
		t.Fatalf("len %d", s.len())
	}
	if n := s.evict(5, nil); n != 1 || s.len() != 1 {
		t.Fatalf("without anchors everything old goes: %d", n)
	}
}

func TestTagStore_PutOverwrites(t *testing.T) {
	s := newTagStore()
	s.put(7, domain.FrameTag{Speed: 1})
	s.put(7, domain.FrameTag{Speed: 2})
	if tag, _ := s.get(7); tag.Speed != 2 || s.len() != 1 {
		t.Fatalf("overwrite failed: %+v len=%d", tag, s.len())
	}
	if n := s.evict(0, nil); n != 0 {
		t.Fatalf("nothing is older than 0")
	}
}
