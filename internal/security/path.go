// Package security provides checks on user-supplied relative paths: a
// traversal-rejecting join against a workspace root (ResolveRelative) and
// target-file alias detection (DistinctTargets), adapted from the teacher's
// PathValidator.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is wrapped into the returned error when a relative path
// would escape its base directory.
type ErrPathTraversal struct {
	Path string
	Base string
}

func (e *ErrPathTraversal) Error() string {
	return fmt.Sprintf("path %q escapes base directory %q", e.Path, e.Base)
}

// ResolveRelative joins base and rel, rejecting any rel that (after
// cleaning) would resolve outside of base via ".." segments or an absolute
// path. The pipeline joins target-file and template paths with filepath.Join
// and does not call this function.
func ResolveRelative(base, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", &ErrPathTraversal{Path: rel, Base: base}
	}
	cleaned := filepath.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", &ErrPathTraversal{Path: rel, Base: base}
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolve base %s: %w", base, err)
	}
	full := filepath.Join(absBase, cleaned)
	rel2, err := filepath.Rel(absBase, full)
	if err != nil || rel2 == ".." || strings.HasPrefix(rel2, ".."+string(filepath.Separator)) {
		return "", &ErrPathTraversal{Path: rel, Base: base}
	}
	return full, nil
}

// DistinctTargets reports a configuration error (per spec §9 Open Question
// b) when two different logical target files would alias the same
// workspace-relative path after cleaning — ambiguous in --run-in-place mode
// where build and run share one workspace.
func DistinctTargets(targets []string) error {
	seen := make(map[string]string, len(targets))
	for _, t := range targets {
		clean := filepath.Clean(t)
		if other, ok := seen[clean]; ok && other != t {
			return fmt.Errorf("target files %q and %q both resolve to %q: ambiguous in-place target paths", other, t, clean)
		}
		seen[clean] = t
	}
	return nil
}
