package record

import "time"

// Snapshot is the unit of autosave/resume persistence: enough to reconstruct
// the partition invariant (every input DataRecord is in exactly one of
// completed results, compile errors, or unprocessed) after a crash or
// cancellation.
type Snapshot struct {
	Timestamp         time.Time             `json:"timestamp"`
	CompletedResults  []ResultRecord        `json:"completed_results"`
	CompileErrors     []CompileErrorRecord  `json:"compile_errors"`
	UnprocessedData   []UnprocessedRecord   `json:"unprocessed_data"`
}

// Partition holds the three terminal buckets a DataRecord can land in. It is
// the in-memory counterpart of a Snapshot, assembled by the orchestrator
// from the mutex-guarded result/error lists its workers append to.
type Partition struct {
	Results       []ResultRecord       `json:"results"`
	CompileErrors []CompileErrorRecord `json:"compile_errors"`
	Unprocessed   []UnprocessedRecord  `json:"unprocessed"`
}

// Total reports the number of data points accounted for across all three
// buckets. Callers compare this against len(input) to check the partition
// invariant (spec Invariant 1 / Testable property 1).
func (p *Partition) Total() int {
	return len(p.Results) + len(p.CompileErrors) + len(p.Unprocessed)
}

// SortBySourceIndex orders results and compile errors by SourceIndex,
// resolving the "ordering of the emitted result list" open question when
// the caller opts into deterministic, input-order output instead of the
// default completion-order output.
func (p *Partition) SortBySourceIndex() {
	sortResults(p.Results)
	sortErrors(p.CompileErrors)
}

func sortResults(r []ResultRecord) {
	for i := 1; i < len(r); i++ {
		for j := i; j > 0 && r[j].SourceIndex < r[j-1].SourceIndex; j-- {
			r[j], r[j-1] = r[j-1], r[j]
		}
	}
}

func sortErrors(r []CompileErrorRecord) {
	for i := 1; i < len(r); i++ {
		for j := i; j > 0 && r[j].SourceIndex < r[j-1].SourceIndex; j-- {
			r[j], r[j-1] = r[j-1], r[j]
		}
	}
}
