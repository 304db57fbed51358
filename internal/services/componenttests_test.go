package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestComponentPackages(t *testing.T) {
	cases := map[string][]string{
		"web":      {"./internal/handlers/...", "./internal/server/...", "./internal/realtime/..."},
		"frontend": {"./internal/handlers/...", "./internal/server/...", "./internal/realtime/..."},
		"tg":       {"./internal/services/...", "./internal/jobs/...", "./internal/repos/..."},
		"all":      {"./..."},
		"garbage":  {"./..."},
	}
	for in, want := range cases {
		got := componentPackages(in)
		if len(got) != len(want) {
			t.Fatalf("packages(%q): want=%v got=%v", in, want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("packages(%q)[%d]: want=%q got=%q", in, i, want[i], got[i])
			}
		}
	}
}

func TestTestCaseID(t *testing.T) {
	if got := testCaseID("example.com/mod/pkg", "TestFoo"); got != "example.com/mod/pkg/TestFoo" {
		t.Fatalf("case id: got=%q", got)
	}
	if got := testCaseID("", "TestFoo"); got != "TestFoo" {
		t.Fatalf("case id without package: got=%q", got)
	}
}

// fakeGoBin writes a shell script that prints canned `go test -list` output.
func fakeGoBin(t *testing.T, output string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-go")
	script := "#!/bin/sh\ncat <<'EOF'\n" + output + "EOF\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake go bin: %v", err)
	}
	return path
}

func TestDiscoverTestIDsParsesListOutput(t *testing.T) {
	out := "TestAlpha\n" +
		"TestBeta\n" +
		"ok  	example.com/mod/a	0.002s\n" +
		"FuzzGamma\n" +
		"ok  	example.com/mod/b	0.001s\n" +
		"?   	example.com/mod/empty	[no test files]\n"
	s := &componentTestService{goBin: fakeGoBin(t, out), workDir: "."}

	ids, err := s.discoverTestIDs(context.Background(), []string{"./..."})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	want := []string{
		"example.com/mod/a/TestAlpha",
		"example.com/mod/a/TestBeta",
		"example.com/mod/b/FuzzGamma",
	}
	if len(ids) != len(want) {
		t.Fatalf("ids: want=%v got=%v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids[%d]: want=%q got=%q", i, want[i], ids[i])
		}
	}
}

func TestDiscoverTestIDsKeepsTrailingNames(t *testing.T) {
	s := &componentTestService{goBin: fakeGoBin(t, "TestOrphan\n"), workDir: "."}
	ids, err := s.discoverTestIDs(context.Background(), []string{"./..."})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(ids) != 1 || ids[0] != "TestOrphan" {
		t.Fatalf("trailing names: got=%v", ids)
	}
}
