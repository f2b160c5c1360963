package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatcherSkipsBuildArtifacts(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !m.Match("build", true) {
		t.Fatalf("expected build/ to be skipped by default")
	}
	if m.Match("src", true) {
		t.Fatalf("did not expect src/ to be skipped by default")
	}
}

func TestGitignoreRules(t *testing.T) {
	dir := t.TempDir()
	content := "*.o\n/out/\n!/out/keep.txt\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !m.Match("main.o", false) {
		t.Fatalf("expected main.o to match *.o")
	}
	if !m.Match("out", true) {
		t.Fatalf("expected out/ to be ignored")
	}
	if m.Match("src/main.c", false) {
		t.Fatalf("did not expect src/main.c to be ignored")
	}
}
