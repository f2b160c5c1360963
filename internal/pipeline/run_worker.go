package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/panjd123/parabuild/internal/cliopts"
	"github.com/panjd123/parabuild/internal/event"
	"github.com/panjd123/parabuild/internal/mover"
	"github.com/panjd123/parabuild/internal/record"
	"github.com/panjd123/parabuild/internal/script"
	"github.com/panjd123/parabuild/internal/workspace"
)

// runLoop is one run worker pinned to slot, consuming RunJobs from a shared
// queue fed by the build pool (spec §4.7, pipelined/sequential modes). By the
// time a RunJob reaches here its target files already sit in that job's
// staging directory (internal/pipeline/build_worker.go's stageArtifacts), not
// in the build slot that produced them, so this loop never touches a build
// slot's lock.
func (o *Orchestrator) runLoop(ctx context.Context, cfg *cliopts.Config, slot *workspace.Slot, runQueue <-chan record.RunJob, cancel *cancelState, agg *aggregator, pend *pending) error {
	for job := range runQueue {
		if cancel.get() >= 1 {
			continue
		}
		if err := slot.Lock(ctx); err != nil {
			continue
		}
		o.moveAndRun(ctx, cfg, slot, job, agg, pend)
		slot.Unlock()
	}
	return nil
}

// moveAndRun relocates job's staged target files into runSlot, then executes
// the run script there (spec §4.4, §4.7).
func (o *Orchestrator) moveAndRun(ctx context.Context, cfg *cliopts.Config, runSlot *workspace.Slot, job record.RunJob, agg *aggregator, pend *pending) {
	dir := stagingDir(cfg, job.SourceIndex)
	for _, t := range cfg.TargetFiles {
		src := filepath.Join(dir, t)
		dest := filepath.Join(runSlot.Path, t)
		if err := mover.CheckExists(src); err != nil {
			o.fail(agg, pend, job.Data, job.SourceIndex, -1, "", fmt.Sprintf("target file %s: %v", t, err))
			return
		}
		if err := mover.Move(ctx, src, dest, mover.DefaultRetryConfig()); err != nil {
			o.fail(agg, pend, job.Data, job.SourceIndex, -1, "", fmt.Sprintf("artifact move of %s failed: %v", t, err))
			return
		}
	}
	os.RemoveAll(dir)

	if err := o.executeRun(cfg, runSlot.Index, runSlot.CudaVisibleDevices, runSlot.Path, job.Data, job.SourceIndex, agg, pend); err != nil {
		o.fail(agg, pend, job.Data, job.SourceIndex, -1, "", err.Error())
	}
}

// executeRun runs the configured run script (or, absent one, the first
// target file directly) inside workDir and always records a ResultRecord —
// a non-zero exit is the script's own outcome, not an error class (§7).
func (o *Orchestrator) executeRun(cfg *cliopts.Config, slotIndex int, cudaDevices, workDir string, data record.DataRecord, sourceIndex int, agg *aggregator, pend *pending) error {
	start := time.Now()
	o.emit(event.Event{Timestamp: start, SourceIndex: sourceIndex, Stage: "run", Workspace: slotIndex, State: event.StateStarted})

	body := cfg.RunScript
	if !cfg.HasRunScript {
		body = "./" + cfg.TargetFiles[0]
	}

	env := script.Env{ParabuildID: slotIndex, CudaVisibleDevices: cudaDevices}
	res, err := script.Run(context.Background(), body, workDir, env, data, 0)
	if err != nil && res == nil {
		return fmt.Errorf("run script infrastructure failure: %w", err)
	}

	o.emit(event.Event{Timestamp: time.Now(), SourceIndex: sourceIndex, Stage: "run", Workspace: slotIndex, State: event.StateCompleted, DurationMs: time.Since(start).Milliseconds()})
	agg.addResult(record.ResultRecord{Data: data, SourceIndex: sourceIndex, Status: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr})
	pend.resolve(sourceIndex)
	return nil
}
