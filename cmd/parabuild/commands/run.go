// Package commands implements the parabuild CLI surface: the default run
// action (the bulk of spec §6's flag table, invoked with no subcommand) plus
// the list-snapshots/clean maintenance subcommands, adapted from the
// teacher's cmd/wave/commands.NewRunCmd/NewCleanCmd shape.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/panjd123/parabuild/internal/cliopts"
	"github.com/panjd123/parabuild/internal/event"
	"github.com/panjd123/parabuild/internal/history"
	"github.com/panjd123/parabuild/internal/mode"
	"github.com/panjd123/parabuild/internal/pipeline"
	"github.com/panjd123/parabuild/internal/record"
	"github.com/panjd123/parabuild/internal/tui"
)

// NewRunCmd builds the root run action: parabuild is invoked directly with
// project_path and flags, with no "run" subcommand name (spec §6).
func NewRunCmd() *cobra.Command {
	var f cliopts.Flags

	cmd := &cobra.Command{
		Use:   "parabuild PROJECT_PATH [TARGET_FILES...]",
		Short: "Sweep a template-rendered build across a data grid",
		Args:  cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				f.ProjectPath = args[0]
			}
			if len(args) > 1 {
				f.TargetFiles = args[1:]
			}
			return runParabuild(cmd, f)
		},
	}

	bindFlags(cmd, &f)
	return cmd
}

func bindFlags(cmd *cobra.Command, f *cliopts.Flags) {
	flags := cmd.Flags()

	flags.StringVar(&f.TemplateFile, "template-file", "", "Template file to render per data point")
	flags.BoolVar(&f.SeparatedTemplate, "seperate-template", false, "Write rendered output alongside the template instead of in place")

	flags.StringVar(&f.Data, "data", "", "Inline JSON array of data points")
	flags.StringVar(&f.DataFile, "data-file", "", "Path to a JSON file containing the data array")
	flags.StringVar(&f.DataSchema, "data-schema", "", "Optional JSON Schema to validate each data point against")

	flags.StringVar(&f.OutputFile, "output-file", "", "Write the result partition here instead of stdout")
	flags.BoolVar(&f.FormatOutput, "format-output", false, "Pretty-print output written to stdout")
	flags.BoolVar(&f.SortOutput, "sort-output", false, "Sort results/compile errors by source index instead of completion order")

	flags.StringVar(&f.WorkspacesPath, "workspaces-path", "", "Workspace pool root (default .parabuild/workspaces)")
	flags.BoolVar(&f.NoCache, "no-cache", false, "Keep previously-provisioned workspaces instead of clearing them")
	flags.BoolVar(&f.WithoutRsync, "without-rsync", false, "Use a plain recursive copy instead of rsync to provision workspaces")

	flags.StringVar(&f.InitScript, "init-bash-script", "", "Inline init script")
	flags.StringVar(&f.InitScriptFile, "init-bash-script-file", "", "Init script file")
	flags.StringVar(&f.CompileScript, "compile-bash-script", "", "Inline compile script")
	flags.StringVar(&f.CompileScriptFile, "compile-bash-script-file", "", "Compile script file")
	flags.StringVar(&f.RunScript, "run-bash-script", "", "Inline run script")
	flags.StringVar(&f.RunScriptFile, "run-bash-script-file", "", "Run script file")

	flags.StringVar(&f.InitCMakeArgs, "init-cmake-args", "", "Extra arguments appended to the default cmake init script")
	flags.StringVar(&f.MakeTarget, "make-target", "", "Target name for the default cmake compile script (default all)")
	flags.BoolVar(&f.Makefile, "makefile", false, "Expose data fields as CPPFLAGS for a Makefile-based compile script")
	flags.BoolVar(&f.NoInit, "no-init", false, "Skip the init script entirely")

	flags.IntVarP(&f.BuildWorkers, "build-workers", "j", 1, "Number of parallel build workers")
	flags.IntVarP(&f.RunWorkers, "run-workers", "J", 0, "Run workers: positive=pipelined, negative=sequential, zero=compile-only")
	flags.BoolVar(&f.RunInPlace, "run-in-place", false, "Run each binary in its own build workspace, skipping the artifact move")

	flags.BoolVar(&f.PanicOnCompileError, "panic-on-compile-error", false, "Exit non-zero if any data point fails to compile")
	flags.BoolVar(&f.Silent, "silent", false, "Suppress NDJSON progress events on stderr")

	flags.StringVar(&f.Continue, "continue", "", "Resume from a named autosave snapshot (or \"latest\")")
	flags.Lookup("continue").NoOptDefVal = "latest"
	flags.StringVar(&f.AutosaveDir, "autosave-dir", "", "Autosave directory (default .parabuild/autosave)")
	flags.StringVar(&f.Autosave, "autosave", "", "Autosave interval, e.g. 30m, 2h, 1d (default 30m)")
}

func runParabuild(cmd *cobra.Command, f cliopts.Flags) error {
	f.HasContinue = cmd.Flags().Changed("continue")

	cfg, err := cliopts.Build(f)
	if err != nil {
		return err
	}

	var progress *tui.Display
	var emitter event.Emitter
	if cfg.Silent {
		emitter = event.NewSilentEmitter(nil)
	} else {
		progress = tui.New(len(cfg.Data))
		ndjson := event.NewNDJSONEmitter()
		ndjson.SetProgressEmitter(progress)
		emitter = ndjson
	}

	hist, histErr := history.Open(filepath.Join(cfg.AutosaveDir, "..", "history.db"))
	var runID int64
	if histErr == nil {
		defer hist.Close()
		runID, _ = hist.StartRun(cfg.ProjectPath, mode.Select(cfg.RunWorkers, cfg.RunInPlace).String(), len(cfg.Data))
	}

	ctx := context.Background()
	orch := pipeline.New(cfg, emitter)
	part, runErr := orch.Run(ctx)

	if progress != nil {
		progress.Finish()
	}

	if runErr != nil {
		return runErr
	}

	if cfg.SortOutput {
		part.SortBySourceIndex()
	}

	if hist != nil && runID != 0 {
		status := "completed"
		if len(part.Unprocessed) > 0 {
			status = "cancelled"
		}
		_ = hist.FinishRun(runID, len(part.Results), len(part.CompileErrors), len(part.Unprocessed), "", status)
	}

	if err := writeOutput(cfg, part); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "%d completed, %d compile errors, %d unprocessed\n",
		len(part.Results), len(part.CompileErrors), len(part.Unprocessed))

	if cfg.PanicOnCompileError && len(part.CompileErrors) > 0 {
		return fmt.Errorf("%d data point(s) failed to compile", len(part.CompileErrors))
	}
	return nil
}

// writeOutput serialises the result partition to cfg.OutputFile (or stdout),
// and always writes a sibling compile_error_datas.json next to it (spec §6)
// — the sibling is written unconditionally, before either branch below,
// since it must exist on the default (stdout) path just as much as when
// --output-file is given.
func writeOutput(cfg *cliopts.Config, part *record.Partition) error {
	errDir := cfg.WorkspacesPath
	if cfg.OutputFile != "" {
		errDir = filepath.Dir(cfg.OutputFile)
	}
	if err := writeCompileErrors(errDir, part.CompileErrors); err != nil {
		return err
	}

	if cfg.OutputFile == "" {
		return encodeTo(os.Stdout, part, cfg.FormatOutput)
	}

	f, err := os.Create(cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("create output file %s: %w", cfg.OutputFile, err)
	}
	defer f.Close()
	return encodeTo(f, part, true)
}

func writeCompileErrors(dir string, errs []record.CompileErrorRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, "compile_error_datas.json")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return encodeTo(f, errs, true)
}

func encodeTo(w *os.File, v interface{}, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

