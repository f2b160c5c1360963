package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/panjd123/parabuild/internal/snapshot"
)

// SnapshotInfo is the listing row for one autosave directory.
type SnapshotInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	TotalInputs int    `json:"total_inputs,omitempty"`
	Mode        string `json:"mode,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// NewListSnapshotsCmd lists autosave snapshot directories available to
// --continue, adapted from the teacher's cmd/wave/commands.NewListCmd.
func NewListSnapshotsCmd() *cobra.Command {
	var autosaveDir string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list-snapshots",
		Short: "List autosave snapshots available to --continue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if autosaveDir == "" {
				autosaveDir = defaultAutosaveDirForListing
			}
			return runListSnapshots(autosaveDir, asJSON)
		},
	}

	cmd.Flags().StringVar(&autosaveDir, "autosave-dir", "", "Autosave directory (default .parabuild/autosave)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print machine-readable JSON instead of a table")

	return cmd
}

const defaultAutosaveDirForListing = ".parabuild/autosave"

func runListSnapshots(autosaveDir string, asJSON bool) error {
	entries, err := os.ReadDir(autosaveDir)
	if os.IsNotExist(err) {
		entries = nil
	} else if err != nil {
		return fmt.Errorf("read autosave dir %s: %w", autosaveDir, err)
	}

	var infos []SnapshotInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info := SnapshotInfo{Name: e.Name(), Path: autosaveDir + "/" + e.Name()}
		if _, meta, err := snapshot.Load(info.Path); err == nil && meta != nil {
			info.TotalInputs = meta.TotalInputs
			info.Mode = meta.Mode
			info.CreatedAt = meta.CreatedAt.Format("2006-01-02 15:04:05")
		}
		infos = append(infos, info)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	if len(infos) == 0 {
		fmt.Println("no snapshots found")
		return nil
	}
	for _, i := range infos {
		fmt.Printf("%-20s  %-12s  %6d inputs  %s\n", i.Name, i.Mode, i.TotalInputs, i.CreatedAt)
	}
	return nil
}
