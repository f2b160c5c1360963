package pipeline

import (
	"sync"
	"testing"

	"github.com/panjd123/parabuild/internal/record"
	"github.com/stretchr/testify/require"
)

func TestNewPendingSeedsEveryJob(t *testing.T) {
	jobs := []record.BuildJob{
		{Data: record.DataRecord{"n": 1}, SourceIndex: 0},
		{Data: record.DataRecord{"n": 2}, SourceIndex: 1},
		{Data: record.DataRecord{"n": 3}, SourceIndex: 2},
	}
	pend := newPending(jobs)

	remaining := pend.remaining()
	require.Len(t, remaining, 3)
}

func TestPendingResolveRemovesEntry(t *testing.T) {
	jobs := []record.BuildJob{
		{Data: record.DataRecord{"n": 1}, SourceIndex: 0},
		{Data: record.DataRecord{"n": 2}, SourceIndex: 1},
	}
	pend := newPending(jobs)

	pend.resolve(0)
	remaining := pend.remaining()
	require.Len(t, remaining, 1)
	require.Equal(t, record.UnprocessedRecord{"n": 2}, remaining[0])
}

func TestPendingResolveIsIdempotent(t *testing.T) {
	jobs := []record.BuildJob{{Data: record.DataRecord{"n": 1}, SourceIndex: 0}}
	pend := newPending(jobs)

	pend.resolve(0)
	pend.resolve(0)
	require.Empty(t, pend.remaining())
}

func TestAggregatorPartitionReflectsAllThreeBuckets(t *testing.T) {
	jobs := []record.BuildJob{
		{Data: record.DataRecord{"n": 1}, SourceIndex: 0},
		{Data: record.DataRecord{"n": 2}, SourceIndex: 1},
		{Data: record.DataRecord{"n": 3}, SourceIndex: 2},
	}
	pend := newPending(jobs)
	agg := newAggregator()

	agg.addResult(record.ResultRecord{Data: jobs[0].Data, SourceIndex: 0, Status: 0})
	pend.resolve(0)

	agg.addCompileError(record.CompileErrorRecord{Data: jobs[1].Data, SourceIndex: 1, Status: 1})
	pend.resolve(1)

	part := agg.partition(pend)
	require.Len(t, part.Results, 1)
	require.Len(t, part.CompileErrors, 1)
	require.Len(t, part.Unprocessed, 1)
	require.Equal(t, 3, part.Total())
}

func TestAggregatorIsSafeForConcurrentUse(t *testing.T) {
	agg := newAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.addResult(record.ResultRecord{SourceIndex: i})
		}()
	}
	wg.Wait()

	pend := newPending(nil)
	part := agg.partition(pend)
	require.Len(t, part.Results, 50)
}
