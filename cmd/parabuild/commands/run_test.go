package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/panjd123/parabuild/internal/cliopts"
	"github.com/panjd123/parabuild/internal/record"
)

func captureStdout(t *testing.T, f func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	return buf.String()
}

func TestWriteOutputDefaultPathWritesCompileErrorsAlongsideStdout(t *testing.T) {
	cfg := &cliopts.Config{WorkspacesPath: t.TempDir()}
	part := &record.Partition{
		Results:       []record.ResultRecord{{SourceIndex: 0, Status: 0}},
		CompileErrors: []record.CompileErrorRecord{{SourceIndex: 1, Status: 1, Stderr: "boom"}},
	}

	var stdout string
	require.NoError(t, func() error {
		var err error
		stdout = captureStdout(t, func() {
			err = writeOutput(cfg, part)
		})
		return err
	}())

	var decoded record.Partition
	require.NoError(t, json.Unmarshal([]byte(stdout), &decoded))
	require.Len(t, decoded.Results, 1)

	errPath := filepath.Join(cfg.WorkspacesPath, "compile_error_datas.json")
	raw, err := os.ReadFile(errPath)
	require.NoError(t, err, "compile_error_datas.json must exist on the default stdout path too")

	var errs []record.CompileErrorRecord
	require.NoError(t, json.Unmarshal(raw, &errs))
	require.Len(t, errs, 1)
	require.Equal(t, "boom", errs[0].Stderr)
}

func TestWriteOutputFileWritesCompileErrorsAlongsideIt(t *testing.T) {
	dir := t.TempDir()
	cfg := &cliopts.Config{WorkspacesPath: t.TempDir(), OutputFile: filepath.Join(dir, "out.json")}
	part := &record.Partition{
		CompileErrors: []record.CompileErrorRecord{{SourceIndex: 2, Status: 1}},
	}

	require.NoError(t, writeOutput(cfg, part))

	_, err := os.Stat(cfg.OutputFile)
	require.NoError(t, err)

	errPath := filepath.Join(dir, "compile_error_datas.json")
	raw, err := os.ReadFile(errPath)
	require.NoError(t, err)

	var errs []record.CompileErrorRecord
	require.NoError(t, json.Unmarshal(raw, &errs))
	require.Len(t, errs, 1)
}

func TestWriteOutputCreatesEmptyCompileErrorsFileWhenNoneOccurred(t *testing.T) {
	cfg := &cliopts.Config{WorkspacesPath: t.TempDir()}
	part := &record.Partition{Results: []record.ResultRecord{{SourceIndex: 0}}}

	captureStdout(t, func() {
		require.NoError(t, writeOutput(cfg, part))
	})

	raw, err := os.ReadFile(filepath.Join(cfg.WorkspacesPath, "compile_error_datas.json"))
	require.NoError(t, err)
	require.Equal(t, "[]", string(bytes.TrimSpace(raw)))
}
