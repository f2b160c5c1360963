package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/panjd123/parabuild/internal/cliopts"
	"github.com/panjd123/parabuild/internal/mover"
	"github.com/panjd123/parabuild/internal/record"
	"github.com/panjd123/parabuild/internal/workspace"
	"golang.org/x/sync/errgroup"
)

// feed pushes jobs into buildQueue in source-index order, stopping early
// (without closing the gap) once the cancellation flag is raised — any job
// never sent stays in pend's set and is reported as unprocessed.
func feed(ctx context.Context, buildQueue chan<- record.BuildJob, jobs []record.BuildJob, cancel *cancelState) {
	defer close(buildQueue)
	for _, j := range jobs {
		if cancel.get() >= 1 {
			return
		}
		select {
		case buildQueue <- j:
		case <-ctx.Done():
			return
		}
	}
}

// runPipelined wires the build and run pools to drain concurrently. A
// successful build stages its target files (out of the build slot, so the
// slot is free to reuse) before handing the job to the run pool, which later
// moves them again out of staging and into a run slot (spec §4.5 Pipelined,
// §4.6 step 5).
func (o *Orchestrator) runPipelined(g *errgroup.Group, cfg *cliopts.Config, buildSlots, runSlots []*workspace.Slot, jobs []record.BuildJob, queueCap int, cancel *cancelState, ctx context.Context, agg *aggregator, pend *pending) {
	buildQueue := make(chan record.BuildJob, queueCap)
	runQueue := make(chan record.RunJob, queueCap)

	g.Go(func() error {
		feed(ctx, buildQueue, jobs, cancel)
		return nil
	})

	var buildWg sync.WaitGroup
	onSuccess := func(job record.BuildJob, slot *workspace.Slot) error {
		if err := o.stageArtifacts(cfg, slot, job); err != nil {
			return err
		}
		runQueue <- record.RunJob{Data: job.Data, SourceIndex: job.SourceIndex}
		return nil
	}
	for _, slot := range buildSlots {
		slot := slot
		buildWg.Add(1)
		g.Go(func() error {
			defer buildWg.Done()
			return o.buildLoop(ctx, cfg, slot, buildQueue, cancel, agg, pend, onSuccess)
		})
	}
	g.Go(func() error {
		buildWg.Wait()
		close(runQueue)
		return nil
	})

	for _, slot := range runSlots {
		slot := slot
		g.Go(func() error {
			return o.runLoop(ctx, cfg, slot, runQueue, cancel, agg, pend)
		})
	}
}

// runSequential lets every build finish before any run starts (spec §4.5
// Sequential): RunJobs produced by the build pool are collected, not
// streamed, and the run pool only starts once the build pool's WaitGroup
// has returned.
func (o *Orchestrator) runSequential(g *errgroup.Group, cfg *cliopts.Config, buildSlots, runSlots []*workspace.Slot, jobs []record.BuildJob, queueCap int, cancel *cancelState, ctx context.Context, agg *aggregator, pend *pending) {
	buildQueue := make(chan record.BuildJob, queueCap)

	g.Go(func() error {
		feed(ctx, buildQueue, jobs, cancel)
		return nil
	})

	var mu sync.Mutex
	var collected []record.RunJob
	onSuccess := func(job record.BuildJob, slot *workspace.Slot) error {
		if err := o.stageArtifacts(cfg, slot, job); err != nil {
			return err
		}
		mu.Lock()
		collected = append(collected, record.RunJob{Data: job.Data, SourceIndex: job.SourceIndex})
		mu.Unlock()
		return nil
	}

	var buildWg sync.WaitGroup
	for _, slot := range buildSlots {
		slot := slot
		buildWg.Add(1)
		g.Go(func() error {
			defer buildWg.Done()
			return o.buildLoop(ctx, cfg, slot, buildQueue, cancel, agg, pend, onSuccess)
		})
	}

	g.Go(func() error {
		buildWg.Wait()

		runQueue := make(chan record.RunJob, len(collected))
		mu.Lock()
		for _, rj := range collected {
			runQueue <- rj
		}
		mu.Unlock()
		close(runQueue)

		var runWg sync.WaitGroup
		for _, slot := range runSlots {
			slot := slot
			runWg.Add(1)
			go func() {
				defer runWg.Done()
				o.runLoop(ctx, cfg, slot, runQueue, cancel, agg, pend)
			}()
		}
		runWg.Wait()
		return nil
	})
}

// runInPlace has each build worker run the binary in its own workspace
// immediately after a successful compile; no artifact move, no separate
// run pool (spec §4.5 In-place).
func (o *Orchestrator) runInPlace(g *errgroup.Group, cfg *cliopts.Config, buildSlots []*workspace.Slot, jobs []record.BuildJob, queueCap int, cancel *cancelState, ctx context.Context, agg *aggregator, pend *pending) {
	buildQueue := make(chan record.BuildJob, queueCap)

	g.Go(func() error {
		feed(ctx, buildQueue, jobs, cancel)
		return nil
	})

	onSuccess := func(job record.BuildJob, slot *workspace.Slot) error {
		return o.executeRun(cfg, slot.Index, slot.CudaVisibleDevices, slot.Path, job.Data, job.SourceIndex, agg, pend)
	}
	for _, slot := range buildSlots {
		slot := slot
		g.Go(func() error {
			return o.buildLoop(ctx, cfg, slot, buildQueue, cancel, agg, pend, onSuccess)
		})
	}
}

// runCompileOnly collects every successfully built target into a flat
// targets/ directory, keyed by source index; no runs are performed (spec
// §4.5 Compile-only).
func (o *Orchestrator) runCompileOnly(g *errgroup.Group, cfg *cliopts.Config, buildSlots []*workspace.Slot, jobs []record.BuildJob, queueCap int, cancel *cancelState, ctx context.Context, agg *aggregator, pend *pending) {
	buildQueue := make(chan record.BuildJob, queueCap)

	g.Go(func() error {
		feed(ctx, buildQueue, jobs, cancel)
		return nil
	})

	targetsDir := filepath.Join(cfg.WorkspacesPath, "targets")
	onSuccess := func(job record.BuildJob, slot *workspace.Slot) error {
		if err := os.MkdirAll(targetsDir, 0o755); err != nil {
			return fmt.Errorf("create targets directory: %w", err)
		}
		for _, t := range cfg.TargetFiles {
			src := filepath.Join(slot.Path, t)
			dest := filepath.Join(targetsDir, fmt.Sprintf("%s_%d", filepath.Base(t), job.SourceIndex))
			if err := mover.Move(context.Background(), src, dest, mover.DefaultRetryConfig()); err != nil {
				return fmt.Errorf("collect target %s: %w", t, err)
			}
		}
		pend.resolve(job.SourceIndex)
		return nil
	}
	for _, slot := range buildSlots {
		slot := slot
		g.Go(func() error {
			return o.buildLoop(ctx, cfg, slot, buildQueue, cancel, agg, pend, onSuccess)
		})
	}
}
