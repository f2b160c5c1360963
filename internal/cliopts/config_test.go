package cliopts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	tpl := writeTempFile(t, dir, "main.cpp.tpl", "int N = {{N}};")

	cfg, err := Build(Flags{
		ProjectPath:  dir,
		TemplateFile: tpl,
		Data:         `[{"N": 1}, {"N": 2}]`,
		BuildWorkers: 4,
	})
	require.NoError(t, err)
	require.Equal(t, defaultWorkspacesPath, cfg.WorkspacesPath)
	require.Equal(t, defaultAutosaveDir, cfg.AutosaveDir)
	require.Equal(t, 30*time.Minute, cfg.AutosaveEvery)
	require.Equal(t, defaultInitScript, cfg.InitScript)
	require.Equal(t, defaultCompileScript, cfg.CompileScript)
	require.True(t, cfg.InPlace)
	require.Len(t, cfg.Data, 2)
}

func TestBuildRejectsMissingTemplateFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Build(Flags{
		ProjectPath:  dir,
		TemplateFile: filepath.Join(dir, "missing.tpl"),
		Data:         `[{}]`,
		BuildWorkers: 2,
	})
	require.Error(t, err)
	require.IsType(t, &ConfigError{}, err)
}

func TestBuildRejectsMalformedData(t *testing.T) {
	dir := t.TempDir()
	tpl := writeTempFile(t, dir, "main.cpp.tpl", "int N = {{N}};")
	_, err := Build(Flags{
		ProjectPath:  dir,
		TemplateFile: tpl,
		Data:         `not json`,
		BuildWorkers: 2,
	})
	require.Error(t, err)
	require.IsType(t, &ConfigError{}, err)
}

func TestBuildRejectsNonPositiveBuildWorkers(t *testing.T) {
	dir := t.TempDir()
	tpl := writeTempFile(t, dir, "main.cpp.tpl", "int N = {{N}};")
	_, err := Build(Flags{
		ProjectPath:  dir,
		TemplateFile: tpl,
		Data:         `[{}]`,
		BuildWorkers: 0,
	})
	require.Error(t, err)
}

func TestBuildDataFileFallsBackWhenInlineDataEmpty(t *testing.T) {
	dir := t.TempDir()
	tpl := writeTempFile(t, dir, "main.cpp.tpl", "int N = {{N}};")
	dataFile := writeTempFile(t, dir, "data.json", `[{"N": 7}]`)

	cfg, err := Build(Flags{
		ProjectPath:  dir,
		TemplateFile: tpl,
		DataFile:     dataFile,
		BuildWorkers: 1,
	})
	require.NoError(t, err)
	require.Len(t, cfg.Data, 1)
}

func TestBuildRejectsAliasedTargetFilesInPlace(t *testing.T) {
	dir := t.TempDir()
	tpl := writeTempFile(t, dir, "main.cpp.tpl", "int N = {{N}};")

	_, err := Build(Flags{
		ProjectPath:  dir,
		TemplateFile: tpl,
		Data:         `[{}]`,
		BuildWorkers: 1,
		RunInPlace:   true,
		TargetFiles:  []string{"out/a.bin", "out/../out/a.bin"},
	})
	require.Error(t, err)
	require.IsType(t, &ConfigError{}, err)
}

func TestBuildIgnoresTargetFileOverlapWhenNotInPlace(t *testing.T) {
	dir := t.TempDir()
	tpl := writeTempFile(t, dir, "main.cpp.tpl", "int N = {{N}};")

	_, err := Build(Flags{
		ProjectPath:  dir,
		TemplateFile: tpl,
		Data:         `[{}]`,
		BuildWorkers: 1,
		TargetFiles:  []string{"out/a.bin", "out/../out/a.bin"},
	})
	require.NoError(t, err)
}

func TestBuildAppendsInitCMakeArgsToDefaultInitScript(t *testing.T) {
	dir := t.TempDir()
	tpl := writeTempFile(t, dir, "main.cpp.tpl", "int N = {{N}};")

	cfg, err := Build(Flags{
		ProjectPath:   dir,
		TemplateFile:  tpl,
		Data:          `[{}]`,
		BuildWorkers:  1,
		InitCMakeArgs: "-DFOO=1",
	})
	require.NoError(t, err)
	require.Equal(t, defaultInitScript+" -DFOO=1", cfg.InitScript)
}

func TestBuildUsesMakeTargetInDefaultCompileScript(t *testing.T) {
	dir := t.TempDir()
	tpl := writeTempFile(t, dir, "main.cpp.tpl", "int N = {{N}};")

	cfg, err := Build(Flags{
		ProjectPath:  dir,
		TemplateFile: tpl,
		Data:         `[{}]`,
		BuildWorkers: 1,
		MakeTarget:   "sweep",
	})
	require.NoError(t, err)
	require.Equal(t, "cmake --build build --target sweep -- -B", cfg.CompileScript)
}

func TestParseDurationSupportsDaySuffix(t *testing.T) {
	d, err := ParseDuration("2d12h")
	require.NoError(t, err)
	require.Equal(t, 60*time.Hour, d)
}

func TestParseDurationDelegatesToStdlib(t *testing.T) {
	d, err := ParseDuration("1h30m")
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, d)
}

func TestScriptSourcePrefersInline(t *testing.T) {
	dir := t.TempDir()
	file := writeTempFile(t, dir, "script.sh", "echo file")

	body, ok, err := ScriptSource{Inline: "echo inline", File: file}.Resolve()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "echo inline", body)
}

func TestScriptSourceFallsBackToFile(t *testing.T) {
	dir := t.TempDir()
	file := writeTempFile(t, dir, "script.sh", "echo file")

	body, ok, err := ScriptSource{File: file}.Resolve()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "echo file", body)
}

func TestScriptSourceUnresolvedWhenBothEmpty(t *testing.T) {
	_, ok, err := ScriptSource{}.Resolve()
	require.NoError(t, err)
	require.False(t, ok)
}
