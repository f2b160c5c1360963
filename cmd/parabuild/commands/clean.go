package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/panjd123/parabuild/internal/cliopts"
	"github.com/panjd123/parabuild/internal/workspace"
)

// CleanOptions mirrors the teacher's CleanOptions, trimmed to the
// retention knobs parabuild's workspace/autosave directories need.
type CleanOptions struct {
	WorkspacesPath string
	AutosaveDir    string
	Keep           int
	OlderThan      string
	DryRun         bool
	Force          bool
	Quiet          bool
}

// NewCleanCmd prunes stale workspace and autosave directories, adapted from
// the teacher's cmd/wave/commands.NewCleanCmd (keep-last/older-than
// retention over workspace.ListSortedByTime), with the confirmation prompt
// upgraded to a huh.Confirm form for a TTY instead of a bare fmt.Scanln.
func NewCleanCmd() *cobra.Command {
	var opts CleanOptions

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Prune old workspace and autosave directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.WorkspacesPath == "" {
				opts.WorkspacesPath = ".parabuild/workspaces"
			}
			if opts.AutosaveDir == "" {
				opts.AutosaveDir = ".parabuild/autosave"
			}
			return runClean(opts)
		},
	}

	cmd.Flags().StringVar(&opts.WorkspacesPath, "workspaces-path", "", "Workspace pool root (default .parabuild/workspaces)")
	cmd.Flags().StringVar(&opts.AutosaveDir, "autosave-dir", "", "Autosave directory (default .parabuild/autosave)")
	cmd.Flags().IntVar(&opts.Keep, "keep", -1, "Keep the N most recently modified directories")
	cmd.Flags().StringVar(&opts.OlderThan, "older-than", "", "Remove directories older than a duration, e.g. 7d, 24h, 1h30m")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Show what would be removed without removing anything")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&opts.Quiet, "quiet", false, "Suppress output")

	return cmd
}

func runClean(opts CleanOptions) error {
	var olderThan time.Duration
	if opts.OlderThan != "" {
		d, err := cliopts.ParseDuration(opts.OlderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than duration: %w", err)
		}
		olderThan = d
	}

	var candidates []workspace.WorkspaceInfo
	for _, root := range []string{opts.WorkspacesPath, opts.AutosaveDir} {
		c, err := collectCandidates(root, opts.Keep, olderThan)
		if err != nil {
			return err
		}
		candidates = append(candidates, c...)
	}

	if len(candidates) == 0 {
		if !opts.Quiet {
			fmt.Println("nothing to clean")
		}
		return nil
	}

	if opts.DryRun {
		for _, c := range candidates {
			fmt.Printf("(dry-run) would remove %s\n", c.Path)
		}
		return nil
	}

	if !opts.Force {
		ok, err := confirmRemoval(candidates)
		if err != nil {
			return err
		}
		if !ok {
			if !opts.Quiet {
				fmt.Println("aborted")
			}
			return nil
		}
	}

	removed := 0
	for _, c := range candidates {
		if err := os.RemoveAll(c.Path); err != nil {
			if !opts.Quiet {
				fmt.Printf("failed to remove %s: %v\n", c.Path, err)
			}
			continue
		}
		if !opts.Quiet {
			fmt.Printf("removed %s\n", c.Path)
		}
		removed++
	}
	if !opts.Quiet {
		fmt.Printf("removed %d director(y/ies)\n", removed)
	}
	return nil
}

// confirmRemoval shows an interactive confirm form when stdin is a TTY;
// otherwise it refuses, mirroring the teacher's non-interactive fallback
// that requires --force rather than guessing at intent.
func confirmRemoval(candidates []workspace.WorkspaceInfo) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Println("stdin is not a TTY; pass --force to proceed without confirmation")
		return false, nil
	}

	var confirmed bool
	confirm := huh.NewConfirm().
		Title(fmt.Sprintf("Remove %d director(y/ies)?", len(candidates))).
		Affirmative("Remove").
		Negative("Cancel").
		Value(&confirmed)

	if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
		return false, fmt.Errorf("confirmation form: %w", err)
	}
	return confirmed, nil
}

// collectCandidates lists the directories under root that the retention
// policy would remove, oldest first, without touching the filesystem.
func collectCandidates(root string, keep int, olderThan time.Duration) ([]workspace.WorkspaceInfo, error) {
	entries, err := workspace.ListSortedByTime(root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	keepSet := make(map[string]bool)
	if keep >= 0 {
		start := len(entries) - keep
		if start < 0 {
			start = 0
		}
		for i := start; i < len(entries); i++ {
			keepSet[entries[i].Name] = true
		}
	}

	cutoff := time.Now().Add(-olderThan)
	var candidates []workspace.WorkspaceInfo
	for _, e := range entries {
		if keepSet[e.Name] {
			continue
		}
		if olderThan > 0 && time.Unix(0, e.ModTime).After(cutoff) {
			continue
		}
		candidates = append(candidates, e)
	}
	return candidates, nil
}
