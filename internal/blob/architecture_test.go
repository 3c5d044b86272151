package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestOnlyFacadesImportInfra keeps backends behind their facade packages:
// blob backends are reached through internal/blob and checkpoint backends
// through internal/checkpoint.
func TestOnlyFacadesImportInfra(t *testing.T) {
	rules := []struct{ infra, facade string }{
		{"crowdtag/internal/infra/blob", "crowdtag/internal/blob"},
		{"crowdtag/internal/infra/persistence", "crowdtag/internal/checkpoint"},
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "crowdtag/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		for _, r := range rules {
			if hasPrefixPath(pkg.PkgPath, r.facade) || hasPrefixPath(pkg.PkgPath, r.infra) {
				continue
			}
			for importPath := range pkg.Imports {
				if hasPrefixPath(importPath, r.infra) {
					seen[pkg.PkgPath+": "+importPath] = struct{}{}
				}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden infra import: %s", v)
		}
	}
}

func hasPrefixPath(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
