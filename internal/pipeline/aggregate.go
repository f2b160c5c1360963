package pipeline

import (
	"sync"

	"github.com/panjd123/parabuild/internal/record"
)

// aggregator collects results and compile errors across every build/run
// worker goroutine, mirroring the teacher's mutex-guarded append-only
// result lists (spec §5's "Shared resources" list).
type aggregator struct {
	mu            sync.Mutex
	results       []record.ResultRecord
	compileErrors []record.CompileErrorRecord
}

func newAggregator() *aggregator {
	return &aggregator{}
}

func (a *aggregator) addResult(r record.ResultRecord) {
	a.mu.Lock()
	a.results = append(a.results, r)
	a.mu.Unlock()
}

func (a *aggregator) addCompileError(r record.CompileErrorRecord) {
	a.mu.Lock()
	a.compileErrors = append(a.compileErrors, r)
	a.mu.Unlock()
}

// partition assembles the current Partition invariant view: every input
// DataRecord is in exactly one of results, compileErrors, or pend's
// remaining (unprocessed/in-flight) set (spec §3 Invariant 1).
func (a *aggregator) partition(pend *pending) record.Partition {
	a.mu.Lock()
	defer a.mu.Unlock()
	return record.Partition{
		Results:       append([]record.ResultRecord{}, a.results...),
		CompileErrors: append([]record.CompileErrorRecord{}, a.compileErrors...),
		Unprocessed:   pend.remaining(),
	}
}

// pending tracks every DataRecord not yet in a terminal state (result or
// compile error), keyed by source_index. It is seeded with the full job
// list up front so a record dropped by cancellation before ever being
// dequeued still surfaces as unprocessed.
type pending struct {
	mu    sync.Mutex
	items map[int]record.DataRecord
}

func newPending(jobs []record.BuildJob) *pending {
	items := make(map[int]record.DataRecord, len(jobs))
	for _, j := range jobs {
		items[j.SourceIndex] = j.Data
	}
	return &pending{items: items}
}

// resolve marks a source index as having reached a terminal state. Safe to
// call more than once for the same index.
func (p *pending) resolve(sourceIndex int) {
	p.mu.Lock()
	delete(p.items, sourceIndex)
	p.mu.Unlock()
}

func (p *pending) remaining() []record.UnprocessedRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]record.UnprocessedRecord, 0, len(p.items))
	for _, d := range p.items {
		out = append(out, record.UnprocessedRecord(d))
	}
	return out
}
