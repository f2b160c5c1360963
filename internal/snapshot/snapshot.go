// Package snapshot persists and restores parabuild's in-progress state,
// implementing the autosave/resume contract of spec §4.8/§6. Writes are
// atomic (temp directory then rename), grounded on the same idiom the pack's
// axe-cli config store uses for its config.json.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/panjd123/parabuild/internal/record"
	"gopkg.in/yaml.v3"
)

const timeLayout = "2006-01-02_15-04-05"

// Meta is an optional sidecar describing the run that produced a snapshot,
// written alongside the three authoritative JSON arrays.
type Meta struct {
	CreatedAt   time.Time `yaml:"created_at"`
	TotalInputs int       `yaml:"total_inputs"`
	Mode        string    `yaml:"mode"`
}

// DirName returns the autosave subdirectory name for a snapshot taken at t,
// per spec §4.8: "<autosave_dir>/<YYYY-MM-DD_HH-MM-SS>/".
func DirName(t time.Time) string {
	return t.Format(timeLayout)
}

// Write atomically serialises a Snapshot into dir/<DirName(timestamp)>/,
// writing output.json, compile_error_datas.json, unprocessed_data.json and
// an optional meta.yaml sidecar.
func Write(autosaveDir string, snap record.Snapshot, meta *Meta) (string, error) {
	target := filepath.Join(autosaveDir, DirName(snap.Timestamp))
	tmp := target + ".tmp"

	if err := os.RemoveAll(tmp); err != nil {
		return "", fmt.Errorf("clear stale temp snapshot dir: %w", err)
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return "", fmt.Errorf("create temp snapshot dir: %w", err)
	}

	if err := writeJSON(filepath.Join(tmp, "output.json"), snap.CompletedResults); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(tmp, "compile_error_datas.json"), snap.CompileErrors); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(tmp, "unprocessed_data.json"), snap.UnprocessedData); err != nil {
		return "", err
	}
	if meta != nil {
		data, err := yaml.Marshal(meta)
		if err != nil {
			return "", fmt.Errorf("marshal meta.yaml: %w", err)
		}
		if err := os.WriteFile(filepath.Join(tmp, "meta.yaml"), data, 0o644); err != nil {
			return "", fmt.Errorf("write meta.yaml: %w", err)
		}
	}

	if err := os.RemoveAll(target); err != nil {
		return "", fmt.Errorf("clear previous snapshot dir: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", fmt.Errorf("rename snapshot dir into place: %w", err)
	}
	return target, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Load reads the three required JSON arrays (and meta.yaml, if present)
// back out of a snapshot directory.
func Load(dir string) (record.Snapshot, *Meta, error) {
	var snap record.Snapshot

	if err := readJSON(filepath.Join(dir, "output.json"), &snap.CompletedResults); err != nil {
		return snap, nil, err
	}
	if err := readJSON(filepath.Join(dir, "compile_error_datas.json"), &snap.CompileErrors); err != nil {
		return snap, nil, err
	}
	if err := readJSON(filepath.Join(dir, "unprocessed_data.json"), &snap.UnprocessedData); err != nil {
		return snap, nil, err
	}

	var meta *Meta
	if data, err := os.ReadFile(filepath.Join(dir, "meta.yaml")); err == nil {
		meta = &Meta{}
		if err := yaml.Unmarshal(data, meta); err != nil {
			return snap, nil, fmt.Errorf("parse meta.yaml: %w", err)
		}
	}

	return snap, meta, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ResolveLatest finds the most recently named snapshot directory under
// autosaveDir, for `--continue` with no explicit snapshot name.
func ResolveLatest(autosaveDir string) (string, error) {
	entries, err := os.ReadDir(autosaveDir)
	if err != nil {
		return "", fmt.Errorf("read autosave dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no snapshots found under %s", autosaveDir)
	}
	sort.Strings(names)
	return filepath.Join(autosaveDir, names[len(names)-1]), nil
}

// Resolve returns the snapshot directory for --continue: an explicit name,
// or the latest snapshot when name is empty or "latest".
func Resolve(autosaveDir, name string) (string, error) {
	if name == "" || name == "latest" {
		return ResolveLatest(autosaveDir)
	}
	return filepath.Join(autosaveDir, name), nil
}
