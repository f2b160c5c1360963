package tui

import (
	"testing"

	"github.com/panjd123/parabuild/internal/event"
	"github.com/stretchr/testify/require"
)

func TestModelCountsCompletedAndFailedRuns(t *testing.T) {
	m := newModel(3)

	next, _ := m.Update(eventMsg(event.Event{Stage: "run", State: event.StateCompleted, SourceIndex: 0}))
	m = next.(*model)
	next, _ = m.Update(eventMsg(event.Event{Stage: "build", State: event.StateFailed, SourceIndex: 1}))
	m = next.(*model)

	require.Equal(t, 1, m.completed)
	require.Equal(t, 1, m.failed)
	require.Len(t, m.recent, 2)
}

func TestModelIgnoresNonEventMessages(t *testing.T) {
	m := newModel(1)
	next, cmd := m.Update("not an event")
	require.Same(t, m, next)
	require.Nil(t, cmd)
}

func TestModelTrimsRecentEventsToMax(t *testing.T) {
	m := newModel(100)
	for i := 0; i < maxRecentEvents+5; i++ {
		next, _ := m.Update(eventMsg(event.Event{Stage: "build", State: event.StateStarted, SourceIndex: i}))
		m = next.(*model)
	}
	require.Len(t, m.recent, maxRecentEvents)
}

func TestRenderBarClampsAtTotal(t *testing.T) {
	require.Contains(t, renderBar(5, 5, 10), "##########")
	require.Contains(t, renderBar(0, 5, 10), "----------")
}
