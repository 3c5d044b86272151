package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

type recordingT struct {
	testing.TB
	failed string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Fatalf(format string, _ ...any) { r.failed = format }

func writeSource(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestInternalImportForbidden(t *testing.T) {
	if !InternalImportForbidden("crowdtag/internal/engine") || InternalImportForbidden("crowdtag/pkg/domain") {
		t.Fatalf("internal predicate")
	}
}

func TestPrefixForbidden(t *testing.T) {
	pred := PrefixForbidden("crowdtag/internal/writer", "crowdtag/internal/engine")
	cases := map[string]bool{
		"crowdtag/internal/writer":   true,
		"crowdtag/internal/engine/x": true,
		"crowdtag/internal/writerx":  false,
		"crowdtag/internal/capture":  false,
	}
	for in, want := range cases {
		if got := pred(in); got != want {
			t.Errorf("PrefixForbidden(%q)=%v want %v", in, got, want)
		}
	}
}

func TestAssertNoDirectImports_IgnoresTestFilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "x.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }\n")
	writeSource(t, dir, "x_test.go", "package tmp\nimport _ \"crowdtag/internal/engine\"\n")
	writeSource(t, dir, "notes.txt", "import \"crowdtag/internal/engine\"")
	if err := os.Mkdir(filepath.Join(dir, "sub.go"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	AssertNoDirectImports(t, dir, InternalImportForbidden, "none expected")
}

func TestAssertNoDirectImports_ReportsViolation(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "x.go", "package tmp\nimport (\n\t\"fmt\"\n\t_ \"crowdtag/internal/engine\"\n)\nvar _ = fmt.Sprint\n")
	rec := &recordingT{TB: t}
	AssertNoDirectImports(rec, dir, InternalImportForbidden, "domain stays pure")
	if rec.failed == "" {
		t.Fatalf("violation not reported")
	}

	rec = &recordingT{TB: t}
	AssertNoDirectImports(rec, filepath.Join(dir, "missing"), InternalImportForbidden, "x")
	if rec.failed == "" {
		t.Fatalf("missing dir must fail")
	}
}
