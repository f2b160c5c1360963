package pipeline

import (
	"context"
	"testing"

	"github.com/panjd123/parabuild/internal/record"
	"github.com/stretchr/testify/require"
)

func TestFeedSendsEveryJobWhenNotCancelled(t *testing.T) {
	jobs := []record.BuildJob{
		{SourceIndex: 0}, {SourceIndex: 1}, {SourceIndex: 2},
	}
	queue := make(chan record.BuildJob, len(jobs))
	cancel := &cancelState{}

	feed(context.Background(), queue, jobs, cancel)

	var received []record.BuildJob
	for j := range queue {
		received = append(received, j)
	}
	require.Len(t, received, 3)
}

func TestFeedStopsEarlyOnceCancelled(t *testing.T) {
	jobs := []record.BuildJob{
		{SourceIndex: 0}, {SourceIndex: 1}, {SourceIndex: 2},
	}
	// Unbuffered so the first send blocks; cancel before feed can send
	// anything, proving it never pushes a job once the flag is raised.
	queue := make(chan record.BuildJob)
	cancel := &cancelState{}
	cancel.raise()

	done := make(chan struct{})
	go func() {
		feed(context.Background(), queue, jobs, cancel)
		close(done)
	}()

	<-done
	select {
	case _, ok := <-queue:
		require.False(t, ok, "channel should be closed with nothing sent")
	default:
		t.Fatal("expected queue to be closed")
	}
}
