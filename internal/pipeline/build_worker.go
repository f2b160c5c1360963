package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/panjd123/parabuild/internal/cliopts"
	"github.com/panjd123/parabuild/internal/event"
	"github.com/panjd123/parabuild/internal/mover"
	"github.com/panjd123/parabuild/internal/record"
	"github.com/panjd123/parabuild/internal/render"
	"github.com/panjd123/parabuild/internal/script"
	"github.com/panjd123/parabuild/internal/workspace"
)

// compiledHandler is invoked after a BuildJob compiles successfully; it
// decides what happens next per the execution mode (enqueue a RunJob, run
// in place, or collect a target). A non-nil error is reported as a compile
// error, per §7's "target-file-busy ... treated as a compile failure".
type compiledHandler func(job record.BuildJob, slot *workspace.Slot) error

// buildLoop is one build worker pinned to slot, consuming BuildJobs until
// the queue closes (spec §4.6).
func (o *Orchestrator) buildLoop(ctx context.Context, cfg *cliopts.Config, slot *workspace.Slot, buildQueue <-chan record.BuildJob, cancel *cancelState, agg *aggregator, pend *pending, onSuccess compiledHandler) error {
	for job := range buildQueue {
		if cancel.get() >= 1 {
			continue
		}
		if err := slot.Lock(ctx); err != nil {
			continue
		}
		o.runOneBuild(cfg, slot, job, agg, pend, onSuccess)
		slot.Unlock()
	}
	return nil
}

func (o *Orchestrator) runOneBuild(cfg *cliopts.Config, slot *workspace.Slot, job record.BuildJob, agg *aggregator, pend *pending, onSuccess compiledHandler) {
	start := time.Now()
	o.emit(event.Event{Timestamp: start, SourceIndex: job.SourceIndex, Stage: "build", Workspace: slot.Index, State: event.StateStarted})

	if cfg.DataSchema != nil {
		if err := cfg.DataSchema.Validate(job.Data); err != nil {
			o.fail(agg, pend, job.Data, job.SourceIndex, -1, "", err.Error())
			return
		}
	}

	rel := relTemplatePath(cfg)
	templatePath := filepath.Join(slot.Path, rel)
	outputPath := templatePath
	renderMode := render.InPlace
	if !cfg.InPlace {
		outputPath = filepath.Join(slot.Path, outputPathFor(rel))
		renderMode = render.Separated
	}

	r := &render.Renderer{TemplatePath: templatePath, OutputPath: outputPath, Mode: renderMode}
	if err := r.Render(job.Data); err != nil {
		o.fail(agg, pend, job.Data, job.SourceIndex, -1, "", err.Error())
		return
	}

	env := script.Env{ParabuildID: slot.Index, CudaVisibleDevices: slot.CudaVisibleDevices}
	if cfg.Makefile {
		env.CPPFlags = cppFlags(job.Data)
	}

	res, err := script.Run(context.Background(), cfg.CompileScript, slot.Path, env, job.Data, 0)
	if err != nil || res.ExitCode != 0 {
		o.emit(event.Event{Timestamp: time.Now(), SourceIndex: job.SourceIndex, Stage: "build", Workspace: slot.Index, State: event.StateFailed, DurationMs: time.Since(start).Milliseconds()})
		o.fail(agg, pend, job.Data, job.SourceIndex, exitOf(res), stdoutOf(res), stderrOf(res, err))
		return
	}

	o.emit(event.Event{Timestamp: time.Now(), SourceIndex: job.SourceIndex, Stage: "build", Workspace: slot.Index, State: event.StateCompleted, DurationMs: time.Since(start).Milliseconds()})

	if err := onSuccess(job, slot); err != nil {
		o.fail(agg, pend, job.Data, job.SourceIndex, -1, "", err.Error())
	}
}

// stagingDir is the per-job holding area a build worker moves target files
// into immediately after a successful compile, keyed by source index so
// concurrent jobs never collide there.
func stagingDir(cfg *cliopts.Config, sourceIndex int) string {
	return filepath.Join(cfg.WorkspacesPath, "staging", strconv.Itoa(sourceIndex))
}

// stageArtifacts relocates job's target files out of slot into its staging
// directory. Pipelined and Sequential onSuccess handlers call this
// synchronously, before buildLoop unlocks slot, so the next BuildJob queued
// for this slot never races a run worker that is still reading the previous
// job's artifact out of it (Invariant 3, spec §4.6 step 5).
func (o *Orchestrator) stageArtifacts(cfg *cliopts.Config, slot *workspace.Slot, job record.BuildJob) error {
	dir := stagingDir(cfg, job.SourceIndex)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	for _, t := range cfg.TargetFiles {
		src := filepath.Join(slot.Path, t)
		dest := filepath.Join(dir, t)
		if err := mover.CheckExists(src); err != nil {
			return fmt.Errorf("target file %s: %w", t, err)
		}
		if err := mover.Move(context.Background(), src, dest, mover.DefaultRetryConfig()); err != nil {
			return fmt.Errorf("stage artifact %s: %w", t, err)
		}
	}
	return nil
}

// fail records a CompileErrorRecord and resolves the source index out of
// the pending set.
func (o *Orchestrator) fail(agg *aggregator, pend *pending, data record.DataRecord, sourceIndex, status int, stdout, stderr string) {
	agg.addCompileError(record.CompileErrorRecord{Data: data, SourceIndex: sourceIndex, Status: status, Stdout: stdout, Stderr: stderr})
	pend.resolve(sourceIndex)
}

// relTemplatePath returns the template file's path relative to the project
// root, so it can be located inside a cloned workspace.
func relTemplatePath(cfg *cliopts.Config) string {
	rel, err := filepath.Rel(cfg.ProjectPath, cfg.TemplateFile)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(cfg.TemplateFile)
	}
	return rel
}

// outputPathFor picks a sibling filename for separated-template mode; the
// spec leaves the exact naming unspecified beyond "written alongside" the
// template (§4.2), so a ".tpl"/".tmpl" suffix is stripped when present and
// ".generated" appended otherwise.
func outputPathFor(templateRelPath string) string {
	if ext := filepath.Ext(templateRelPath); ext == ".tpl" || ext == ".tmpl" {
		return strings.TrimSuffix(templateRelPath, ext)
	}
	return templateRelPath + ".generated"
}

// cppFlags builds the space-joined -DKEY=VALUE string exposed as CPPFLAGS
// in Makefile mode (spec §4.3). Keys are sorted for a deterministic
// environment across otherwise-identical runs.
func cppFlags(data record.DataRecord) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("-D%s=%s", strings.ToUpper(k), record.String(data[k])))
	}
	return strings.Join(parts, " ")
}

func exitOf(res *script.Result) int {
	if res == nil {
		return -1
	}
	return res.ExitCode
}

func stdoutOf(res *script.Result) string {
	if res == nil {
		return ""
	}
	return res.Stdout
}

func stderrOf(res *script.Result, err error) string {
	if res != nil {
		if res.Stderr != "" {
			return res.Stderr
		}
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
