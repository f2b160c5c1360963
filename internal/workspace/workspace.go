// Package workspace provisions the isolated build/run directories a
// parabuild run operates across, adapted from the teacher's
// workspace.copyRecursive mirroring and worktree.repoLock exclusivity idiom
// (spec §4.1).
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/panjd123/parabuild/internal/ignore"
)

// Slot is one provisioned workspace directory, indexed 0..N-1 and exposed
// to user scripts as PARABUILD_ID (spec §3 WorkspaceSlot/RunSlot).
type Slot struct {
	Index              int
	Path               string
	CudaVisibleDevices string

	lock chan struct{}
}

// NewSlot builds a Slot directly, for callers (the pipeline's unit tests)
// that need one without going through Provision.
func NewSlot(index int, path, cudaVisibleDevices string) *Slot {
	return &Slot{Index: index, Path: path, CudaVisibleDevices: cudaVisibleDevices, lock: make(chan struct{}, 1)}
}

// Lock acquires exclusive use of the slot or returns an error if ctx is
// cancelled first, mirroring the teacher's repoLock semaphore pattern.
func (s *Slot) Lock(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("slot %d acquisition cancelled: %w", s.Index, ctx.Err())
	}
}

// Unlock releases the slot. Must be called exactly once per successful Lock.
func (s *Slot) Unlock() {
	<-s.lock
}

// Config drives provisioning of build (and, in pipelined and sequential
// modes, run) slots.
type Config struct {
	ProjectPath   string
	WorkspacesDir string
	BuildSlots    int
	RunSlots      int // 0 when the mode doesn't need separate run workspaces
	ClearCache    bool
	WithoutRsync  bool
}

// Provision creates BuildSlots "workspace_<i>" directories (and, if
// RunSlots > 0, "run_<i>" directories) under cfg.WorkspacesDir. Only
// workspace_0 — the reference slot the caller runs its init script in — is
// actually cloned from cfg.ProjectPath here; every other slot gets an empty
// directory, left for Mirror to populate from the initialised reference so
// the project tree is read once per slot rather than twice.
func Provision(cfg Config) ([]*Slot, []*Slot, error) {
	if cfg.ClearCache {
		if err := os.RemoveAll(cfg.WorkspacesDir); err != nil {
			return nil, nil, fmt.Errorf("clear workspaces root: %w", err)
		}
	}
	if err := os.MkdirAll(cfg.WorkspacesDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create workspaces root: %w", err)
	}

	matcher, err := ignore.Load(cfg.ProjectPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load ignore rules: %w", err)
	}

	migPartitions := enumerateMIGPartitions()

	buildSlots := make([]*Slot, cfg.BuildSlots)
	for i := 0; i < cfg.BuildSlots; i++ {
		path := filepath.Join(cfg.WorkspacesDir, fmt.Sprintf("workspace_%d", i))
		if i == 0 {
			if err := cloneInto(cfg.ProjectPath, path, matcher, cfg.WithoutRsync); err != nil {
				return nil, nil, fmt.Errorf("provision workspace_%d: %w", i, err)
			}
		} else if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, nil, fmt.Errorf("provision workspace_%d: %w", i, err)
		}
		buildSlots[i] = &Slot{
			Index:              i,
			Path:               path,
			CudaVisibleDevices: assignMIG(migPartitions, i),
			lock:               make(chan struct{}, 1),
		}
	}

	var runSlots []*Slot
	if cfg.RunSlots > 0 {
		runSlots = make([]*Slot, cfg.RunSlots)
		for i := 0; i < cfg.RunSlots; i++ {
			path := filepath.Join(cfg.WorkspacesDir, fmt.Sprintf("run_%d", i))
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, nil, fmt.Errorf("provision run_%d: %w", i, err)
			}
			runSlots[i] = &Slot{
				Index:              i,
				Path:               path,
				CudaVisibleDevices: assignMIG(migPartitions, i),
				lock:               make(chan struct{}, 1),
			}
		}
	}

	return buildSlots, runSlots, nil
}

// Mirror replicates the reference workspace (workspace_0 — optionally
// initialised by the caller's init script first, spec §4.1 step 3) into the
// remaining slots. This is the only clone those slots ever receive: Provision
// leaves them empty precisely so the project tree is read from disk once per
// slot, not once during provisioning and again here.
func Mirror(referencePath string, slots []*Slot, withoutRsync bool) error {
	matcher, err := ignore.Load(referencePath)
	if err != nil {
		return fmt.Errorf("load ignore rules: %w", err)
	}
	for _, slot := range slots {
		if slot.Path == referencePath {
			continue
		}
		if err := cloneInto(referencePath, slot.Path, matcher, withoutRsync); err != nil {
			return fmt.Errorf("mirror reference into %s: %w", slot.Path, err)
		}
	}
	return nil
}

// cloneInto mirrors src into dst, preferring rsync's incremental
// timestamp+size mirroring when available and not disabled, falling back to
// a plain recursive copy (spec §4.1 step 3's "preferred/fallback" choice).
func cloneInto(src, dst string, matcher *ignore.Matcher, withoutRsync bool) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	if !withoutRsync {
		if path, err := exec.LookPath("rsync"); err == nil {
			return rsyncMirror(path, src, dst, matcher)
		}
	}
	return copyRecursive(src, dst, matcher)
}

func rsyncMirror(rsyncPath, src, dst string, matcher *ignore.Matcher) error {
	args := []string{"-a", "--delete"}
	for _, pattern := range matcher.ExcludePatterns() {
		args = append(args, "--exclude", pattern)
	}
	args = append(args, strings.TrimRight(src, "/")+"/", dst+"/")
	cmd := exec.Command(rsyncPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("rsync %s -> %s: %w: %s", src, dst, err, out)
	}
	return nil
}

func copyRecursive(src, dst string, matcher *ignore.Matcher) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if matcher.Match(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	return out.Sync()
}

// enumerateMIGPartitions returns MIG device UUIDs visible to nvidia-smi, or
// nil when no MIG-capable GPU is present (spec §4.1 edge case).
func enumerateMIGPartitions() []string {
	out, err := exec.Command("nvidia-smi", "-L").Output()
	if err != nil {
		return nil
	}
	var partitions []string
	for _, line := range strings.Split(string(out), "\n") {
		if idx := strings.Index(line, "MIG "); idx != -1 {
			if uuidIdx := strings.Index(line, "UUID: "); uuidIdx != -1 {
				uuid := line[uuidIdx+len("UUID: "):]
				uuid = strings.TrimSuffix(strings.TrimSpace(uuid), ")")
				partitions = append(partitions, uuid)
			}
		}
	}
	return partitions
}

// assignMIG binds slot i to a MIG partition by modulo assignment, per
// spec §4.1.
func assignMIG(partitions []string, i int) string {
	if len(partitions) == 0 {
		return ""
	}
	return partitions[i%len(partitions)]
}

// WorkspaceInfo summarizes a provisioned directory for cleanup listing,
// adapted from the teacher's ListWorkspacesSortedByTime.
type WorkspaceInfo struct {
	Name    string
	Path    string
	ModTime int64
}

// ListSortedByTime returns workspace directories directly under root,
// oldest first, for use by a `clean` command that prunes stale workspaces.
func ListSortedByTime(root string) ([]WorkspaceInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var workspaces []WorkspaceInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		workspaces = append(workspaces, WorkspaceInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(root, entry.Name()),
			ModTime: info.ModTime().UnixNano(),
		})
	}
	sortByTime(workspaces)
	return workspaces, nil
}

func sortByTime(workspaces []WorkspaceInfo) {
	for i := 0; i < len(workspaces)-1; i++ {
		for j := i + 1; j < len(workspaces); j++ {
			if workspaces[i].ModTime > workspaces[j].ModTime {
				workspaces[i], workspaces[j] = workspaces[j], workspaces[i]
			}
		}
	}
}

// SlotEnvVar returns the PARABUILD_ID environment assignment for a slot.
func SlotEnvVar(index int) string {
	return "PARABUILD_ID=" + strconv.Itoa(index)
}
