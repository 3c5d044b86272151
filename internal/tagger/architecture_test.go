package tagger

import (
	"testing"

	"crowdtag/testutil"
)

func TestTaggerStaysFreeOfPipelineStages(t *testing.T) {
	forbidden := testutil.PrefixForbidden(
		"crowdtag/internal/capture",
		"crowdtag/internal/writer",
		"crowdtag/internal/engine",
		"crowdtag/internal/blob",
		"crowdtag/internal/checkpoint",
	)
	testutil.AssertNoDirectImports(t, ".", forbidden, "tagging is a pure function of poses, scene and annotations")
}
