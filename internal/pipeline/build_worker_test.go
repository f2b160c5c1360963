package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/panjd123/parabuild/internal/cliopts"
	"github.com/panjd123/parabuild/internal/record"
	"github.com/panjd123/parabuild/internal/workspace"
	"github.com/stretchr/testify/require"
)

func writeTemplate(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunOneBuildSuccessInvokesOnSuccess(t *testing.T) {
	dir := t.TempDir()
	tpl := writeTemplate(t, dir, "main.cpp.tpl", "int N = {{N}};")

	cfg := &cliopts.Config{ProjectPath: dir, TemplateFile: tpl, CompileScript: "exit 0"}
	o := New(cfg, nil)
	slot := workspace.NewSlot(0, dir, "")
	job := record.BuildJob{Data: record.DataRecord{"N": 5}, SourceIndex: 0}
	agg := newAggregator()
	pend := newPending([]record.BuildJob{job})

	var called bool
	onSuccess := func(j record.BuildJob, s *workspace.Slot) error {
		called = true
		return nil
	}
	o.runOneBuild(cfg, slot, job, agg, pend, onSuccess)

	require.True(t, called)
	part := agg.partition(pend)
	require.Empty(t, part.CompileErrors)

	rendered, err := os.ReadFile(filepath.Join(dir, "main.cpp"))
	require.NoError(t, err)
	require.Equal(t, "int N = 5;", string(rendered))
}

func TestRunOneBuildNonZeroExitRecordsCompileError(t *testing.T) {
	dir := t.TempDir()
	tpl := writeTemplate(t, dir, "main.cpp.tpl", "int N = {{N}};")

	cfg := &cliopts.Config{ProjectPath: dir, TemplateFile: tpl, CompileScript: "echo boom >&2; exit 3"}
	o := New(cfg, nil)
	slot := workspace.NewSlot(0, dir, "")
	job := record.BuildJob{Data: record.DataRecord{"N": 5}, SourceIndex: 0}
	agg := newAggregator()
	pend := newPending([]record.BuildJob{job})

	called := false
	onSuccess := func(j record.BuildJob, s *workspace.Slot) error {
		called = true
		return nil
	}
	o.runOneBuild(cfg, slot, job, agg, pend, onSuccess)

	require.False(t, called)
	part := agg.partition(pend)
	require.Len(t, part.CompileErrors, 1)
	require.Equal(t, 3, part.CompileErrors[0].Status)
	require.Contains(t, part.CompileErrors[0].Stderr, "boom")
	require.Empty(t, part.Unprocessed)
}

func TestRunOneBuildMissingTemplateVariableIsCompileError(t *testing.T) {
	dir := t.TempDir()
	tpl := writeTemplate(t, dir, "main.cpp.tpl", "int N = {{N}};")

	cfg := &cliopts.Config{ProjectPath: dir, TemplateFile: tpl, CompileScript: "exit 0"}
	o := New(cfg, nil)
	slot := workspace.NewSlot(0, dir, "")
	job := record.BuildJob{Data: record.DataRecord{}, SourceIndex: 0}
	agg := newAggregator()
	pend := newPending([]record.BuildJob{job})

	o.runOneBuild(cfg, slot, job, agg, pend, func(record.BuildJob, *workspace.Slot) error { return nil })

	part := agg.partition(pend)
	require.Len(t, part.CompileErrors, 1)
}

func TestRunOneBuildOnSuccessErrorBecomesCompileError(t *testing.T) {
	dir := t.TempDir()
	tpl := writeTemplate(t, dir, "main.cpp.tpl", "int N = {{N}};")

	cfg := &cliopts.Config{ProjectPath: dir, TemplateFile: tpl, CompileScript: "exit 0"}
	o := New(cfg, nil)
	slot := workspace.NewSlot(0, dir, "")
	job := record.BuildJob{Data: record.DataRecord{"N": 1}, SourceIndex: 0}
	agg := newAggregator()
	pend := newPending([]record.BuildJob{job})

	o.runOneBuild(cfg, slot, job, agg, pend, func(record.BuildJob, *workspace.Slot) error {
		return require.AnError
	})

	part := agg.partition(pend)
	require.Len(t, part.CompileErrors, 1)
	require.Empty(t, part.Unprocessed)
}

func TestStageArtifactsMovesOutOfBuildSlot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.out"), []byte("binary"), 0o755))

	cfg := &cliopts.Config{TargetFiles: []string{"a.out"}, WorkspacesPath: t.TempDir()}
	o := New(cfg, nil)
	slot := workspace.NewSlot(0, dir, "")
	job := record.BuildJob{Data: record.DataRecord{"n": 1}, SourceIndex: 4}

	require.NoError(t, o.stageArtifacts(cfg, slot, job))

	_, err := os.Stat(filepath.Join(dir, "a.out"))
	require.True(t, os.IsNotExist(err), "artifact must leave the build slot so it can be reused immediately")
	_, err = os.Stat(filepath.Join(stagingDir(cfg, 4), "a.out"))
	require.NoError(t, err)
}

func TestStageArtifactsMissingTargetIsError(t *testing.T) {
	dir := t.TempDir()
	cfg := &cliopts.Config{TargetFiles: []string{"missing.out"}, WorkspacesPath: t.TempDir()}
	o := New(cfg, nil)
	slot := workspace.NewSlot(0, dir, "")
	job := record.BuildJob{SourceIndex: 0}

	require.Error(t, o.stageArtifacts(cfg, slot, job))
}

func TestOutputPathForStripsKnownTemplateSuffixes(t *testing.T) {
	require.Equal(t, "src/main.cpp", outputPathFor("src/main.cpp.tpl"))
	require.Equal(t, "src/main.cpp", outputPathFor("src/main.cpp.tmpl"))
	require.Equal(t, "src/main.cpp.generated", outputPathFor("src/main.cpp"))
}

func TestRelTemplatePathFallsBackOutsideProjectRoot(t *testing.T) {
	cfg := &cliopts.Config{ProjectPath: "/proj", TemplateFile: "/elsewhere/main.cpp.tpl"}
	require.Equal(t, "main.cpp.tpl", relTemplatePath(cfg))

	cfg2 := &cliopts.Config{ProjectPath: "/proj", TemplateFile: "/proj/src/main.cpp.tpl"}
	require.Equal(t, filepath.FromSlash("src/main.cpp.tpl"), relTemplatePath(cfg2))
}

func TestCppFlagsIsSortedAndUppercased(t *testing.T) {
	data := record.DataRecord{"n": 2, "alpha": "x"}
	require.Equal(t, "-DALPHA=x -DN=2", cppFlags(data))
}
