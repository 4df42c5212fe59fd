package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInternalImportForbidden(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"packcore/internal/core", false},
		{"packcore/internal/core/x", true},
		{"packcore/pkg/domain", false},
		{"internal", false},
		{"some/internal/path", true},
		{"notinternal/pkg", false},
		{"", false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.want {
			t.Errorf("InternalImportForbidden(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestCoreImportForbidden(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"packcore/internal/core", true},
		{"packcore/internal/core/sub", true},
		{"packcore/internal/corelike", false},
		{"packcore/internal/blob", false},
		{"", false},
	}
	for _, c := range cases {
		if got := CoreImportForbidden(c.in); got != c.want {
			t.Errorf("CoreImportForbidden(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestAdaptersImportForbidden(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"packcore/internal/adapters/httpapi", true},
		{"packcore/internal/adapters/metadata", true},
		{"packcore/internal/adapters", false},
		{"packcore/internal/oracle", false},
	}
	for _, c := range cases {
		if got := AdaptersImportForbidden(c.in); got != c.want {
			t.Errorf("AdaptersImportForbidden(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestAssertNoDirectImportsSkipsTestsAndSubdirs(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("clean.go", "package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}\n")
	write("clean_test.go", "package tmp\nimport \"forbidden/pkg\"\nvar _ = 0\n")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "dirty.go"), []byte("package sub\nimport \"forbidden/pkg\"\nvar _ = 0\n"), 0o600); err != nil {
		t.Fatalf("write subdir file: %v", err)
	}

	AssertNoDirectImports(t, dir, func(ip string) bool { return ip == "forbidden/pkg" },
		"test files and subdirectories are out of scope")
}

func TestAssertNoDirectImportsDetectsViolation(t *testing.T) {
	dir := t.TempDir()
	src := "package tmp\nimport (\n\t\"fmt\"\n\t\"forbidden/pkg\"\n)\nfunc X(){fmt.Println(1)}\n"
	if err := os.WriteFile(filepath.Join(dir, "dirty.go"), []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	probe := &probeT{TB: t}
	AssertNoDirectImports(probe, dir, func(ip string) bool { return ip == "forbidden/pkg" }, "probe")
	if !probe.failed {
		t.Fatal("expected violation to fail the test")
	}
}

func TestAssertNoTransitiveDependencyParsesListOutput(t *testing.T) {
	restore := goListDeps
	goListDeps = func(pattern string) ([]byte, error) {
		return []byte("fmt\npackcore/internal/core\npackcore/pkg/domain\n"), nil
	}
	defer func() { goListDeps = restore }()

	AssertNoTransitiveDependency(t, "./...", func(path string) bool {
		return path == "something/else"
	}, "clean output passes")

	probe := &probeT{TB: t}
	AssertNoTransitiveDependency(probe, "./...", CoreImportForbidden, "probe")
	if !probe.failed {
		t.Fatal("expected core dependency to fail the test")
	}
}

// probeT records Fatalf calls instead of aborting, so failure paths can be
// asserted without killing the real test.
type probeT struct {
	testing.TB
	failed bool
}

func (p *probeT) Helper() {}

func (p *probeT) Fatalf(format string, args ...any) {
	p.failed = true
}
