// Package pipeline wires the workspace pool, the build/run worker pools,
// and the cooperative cancellation/autosave machinery into one parabuild
// run (spec §4.6–§4.8), adapted from the teacher's pipeline.Executor
// goroutine fan-out (internal/pipeline/executor.go) generalized from a
// single errgroup-bounded step runner into a two-stage producer/consumer
// pipeline with its own slot pool.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/panjd123/parabuild/internal/cliopts"
	"github.com/panjd123/parabuild/internal/event"
	"github.com/panjd123/parabuild/internal/mode"
	"github.com/panjd123/parabuild/internal/record"
	"github.com/panjd123/parabuild/internal/script"
	"github.com/panjd123/parabuild/internal/snapshot"
	"github.com/panjd123/parabuild/internal/workspace"
	"golang.org/x/sync/errgroup"
)

// Orchestrator runs one parabuild invocation to completion or cancellation.
type Orchestrator struct {
	cfg     *cliopts.Config
	emitter event.Emitter
}

// New builds an Orchestrator for cfg, reporting progress through emitter
// (pass a no-op emitter for silent operation).
func New(cfg *cliopts.Config, emitter event.Emitter) *Orchestrator {
	return &Orchestrator{cfg: cfg, emitter: emitter}
}

// cancelState is the shared, process-wide cancellation flag spec §5/§9
// calls for: level 0 = running, 1 = graceful drain (first interrupt),
// 2 = best-effort abort (second interrupt). Modeled as an atomic counter,
// not a singleton object, so every worker can poll it independently.
type cancelState struct {
	level int32
}

func (c *cancelState) raise() int32 { return atomic.AddInt32(&c.level, 1) }
func (c *cancelState) get() int32   { return atomic.LoadInt32(&c.level) }

// Run provisions workspaces, drives the build/run pools for the selected
// execution mode, and returns the final result partition. The caller
// (cmd/parabuild) serialises it to the configured output file/stdout.
func (o *Orchestrator) Run(ctx context.Context) (*record.Partition, error) {
	cfg := o.cfg
	m := mode.Select(cfg.RunWorkers, cfg.RunInPlace)
	runWorkerCount := mode.RunWorkerCount(m, cfg.RunWorkers)

	if m != mode.CompileOnly && !cfg.HasRunScript && len(cfg.TargetFiles) == 0 {
		return nil, fmt.Errorf("no run script configured and no target files to execute directly")
	}

	jobs, resumed, err := o.seedJobs()
	if err != nil {
		return nil, err
	}

	agg := newAggregator()
	if resumed != nil {
		for _, r := range resumed.Results {
			agg.addResult(r)
		}
		for _, c := range resumed.CompileErrors {
			agg.addCompileError(c)
		}
	}
	pend := newPending(jobs)

	runSlotsWanted := 0
	if m == mode.Pipelined || m == mode.Sequential {
		runSlotsWanted = runWorkerCount
	}

	buildSlots, runSlots, err := workspace.Provision(workspace.Config{
		ProjectPath:   cfg.ProjectPath,
		WorkspacesDir: cfg.WorkspacesPath,
		BuildSlots:    cfg.BuildWorkers,
		RunSlots:      runSlotsWanted,
		ClearCache:    cfg.ClearCache,
		WithoutRsync:  cfg.WithoutRsync,
	})
	if err != nil {
		return nil, fmt.Errorf("provision workspaces: %w", err)
	}

	if !cfg.NoInit {
		if err := o.runInit(buildSlots[0]); err != nil {
			return nil, err
		}
	}

	// Every slot but the reference (workspace_0) came back from Provision
	// empty; this is the one and only clone they receive, whether or not an
	// init script ran (spec §4.1 step 3).
	rest := make([]*workspace.Slot, 0, len(buildSlots)-1+len(runSlots))
	rest = append(rest, buildSlots[1:]...)
	rest = append(rest, runSlots...)
	if err := workspace.Mirror(buildSlots[0].Path, rest, cfg.WithoutRsync); err != nil {
		return nil, fmt.Errorf("replicate reference workspace: %w", err)
	}

	cancel := &cancelState{}
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	forceQuit := make(chan struct{})
	stopSignals := o.watchSignals(cancel, runCancel, forceQuit, agg, pend)
	defer stopSignals()

	stopAutosave := o.startAutosave(cancel, agg, pend)
	defer stopAutosave()

	queueCap := cfg.BuildWorkers + runWorkerCount
	if queueCap < 1 {
		queueCap = 1
	}

	g, _ := errgroup.WithContext(ctx)
	switch m {
	case mode.Pipelined:
		o.runPipelined(g, cfg, buildSlots, runSlots, jobs, queueCap, cancel, runCtx, agg, pend)
	case mode.Sequential:
		o.runSequential(g, cfg, buildSlots, runSlots, jobs, queueCap, cancel, runCtx, agg, pend)
	case mode.InPlace:
		o.runInPlace(g, cfg, buildSlots, jobs, queueCap, cancel, runCtx, agg, pend)
	case mode.CompileOnly:
		o.runCompileOnly(g, cfg, buildSlots, jobs, queueCap, cancel, runCtx, agg, pend)
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
	case <-forceQuit:
		o.emit(event.Event{Timestamp: time.Now(), State: event.StateCancelled, Message: "exiting without waiting for remaining in-flight workers"})
	}

	o.autosaveNow(agg, pend)

	part := agg.partition(pend)
	if cfg.SortOutput {
		part.SortBySourceIndex()
	}
	o.emit(event.Event{Timestamp: time.Now(), State: event.StateCompleted, Total: part.Total(), Completed: len(part.Results)})
	return &part, nil
}

// seedJobs builds the input queue either from cfg.Data (fresh run) or from
// a resumed snapshot's unprocessed_data (spec §4.8 Resume). Resumed jobs
// are renumbered 0..N-1 for this continuation: UnprocessedRecord carries no
// index of its own (it is the bare DataRecord, spec §3), so the original
// source_index cannot be recovered past a snapshot boundary.
func (o *Orchestrator) seedJobs() ([]record.BuildJob, *record.Partition, error) {
	cfg := o.cfg
	if !cfg.Resume {
		jobs := make([]record.BuildJob, len(cfg.Data))
		for i, d := range cfg.Data {
			jobs[i] = record.BuildJob{Data: d, SourceIndex: i}
		}
		return jobs, nil, nil
	}

	dir, err := snapshot.Resolve(cfg.AutosaveDir, cfg.ContinueFrom)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve snapshot %q: %w", cfg.ContinueFrom, err)
	}
	snap, _, err := snapshot.Load(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshot %s: %w", dir, err)
	}

	jobs := make([]record.BuildJob, len(snap.UnprocessedData))
	for i, d := range snap.UnprocessedData {
		jobs[i] = record.BuildJob{Data: record.DataRecord(d), SourceIndex: i}
	}
	part := &record.Partition{Results: snap.CompletedResults, CompileErrors: snap.CompileErrors}
	return jobs, part, nil
}

// runInit executes the init script once in the reference workspace
// (buildSlots[0]); a non-zero exit aborts the whole run (spec §4.1 step 3,
// §7 Init failure).
func (o *Orchestrator) runInit(slot *workspace.Slot) error {
	o.emit(event.Event{Timestamp: time.Now(), Stage: "init", Workspace: slot.Index, State: event.StateStarted})

	res, err := script.Run(context.Background(), o.cfg.InitScript, slot.Path, script.Env{ParabuildID: slot.Index}, record.DataRecord{}, 0)
	if err != nil && res == nil {
		return fmt.Errorf("init script failed to start: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("init script exited %d: %s", res.ExitCode, res.Stderr)
	}

	o.emit(event.Event{Timestamp: time.Now(), Stage: "init", Workspace: slot.Index, State: event.StateCompleted})
	return nil
}

// watchSignals installs the interrupt handler: the first interrupt raises
// the cancellation flag and cancels runCtx (waking queue-receive and
// artifact-move suspension points per §5); the second closes forceQuit,
// the orchestrator's best-effort-abort signal to stop waiting on workers.
func (o *Orchestrator) watchSignals(cancel *cancelState, runCancel context.CancelFunc, forceQuit chan struct{}, agg *aggregator, pend *pending) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)

	go func() {
		for range sigCh {
			level := cancel.raise()
			switch level {
			case 1:
				o.emit(event.Event{Timestamp: time.Now(), State: event.StateCancelled, Message: "interrupt received, draining in-flight work"})
				runCancel()
				go o.autosaveNow(agg, pend)
			default:
				o.emit(event.Event{Timestamp: time.Now(), State: event.StateCancelled, Message: "second interrupt, aborting wait for in-flight work"})
				select {
				case <-forceQuit:
				default:
					close(forceQuit)
				}
				return
			}
		}
	}()

	return func() { signal.Stop(sigCh); close(sigCh) }
}

func (o *Orchestrator) emit(ev event.Event) {
	if o.emitter != nil {
		o.emitter.Emit(ev)
	}
}

// startAutosave ticks every cfg.AutosaveEvery, serialising a Snapshot each
// time (spec §4.8). Returns a stop function.
func (o *Orchestrator) startAutosave(cancel *cancelState, agg *aggregator, pend *pending) func() {
	if o.cfg.AutosaveEvery <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(o.cfg.AutosaveEvery)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				o.autosaveNow(agg, pend)
			case <-stop:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(stop) }
}

func (o *Orchestrator) autosaveNow(agg *aggregator, pend *pending) {
	part := agg.partition(pend)
	snap := record.Snapshot{
		Timestamp:        time.Now(),
		CompletedResults: part.Results,
		CompileErrors:    part.CompileErrors,
		UnprocessedData:  part.Unprocessed,
	}
	meta := &snapshot.Meta{
		CreatedAt:   snap.Timestamp,
		TotalInputs: part.Total(),
		Mode:        mode.Select(o.cfg.RunWorkers, o.cfg.RunInPlace).String(),
	}

	dir, err := snapshot.Write(o.cfg.AutosaveDir, snap, meta)
	if err != nil {
		o.emit(event.Event{Timestamp: time.Now(), State: event.StateFailed, Message: fmt.Sprintf("autosave failed: %v", err)})
		return
	}
	o.emit(event.Event{Timestamp: time.Now(), State: event.StateAutosaved, Message: dir})
}
