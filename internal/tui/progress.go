// Package tui renders a live build/run progress bar over bubbletea, wired in
// as an event.ProgressEmitter alongside the plain NDJSON stream (spec §6
// "auto" output mode), adapted from the teacher's
// display.BubbleTeaProgressDisplay/ProgressModel pair collapsed down to the
// single progress bar + recent-events feed parabuild needs.
package tui

import (
	"fmt"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/panjd123/parabuild/internal/event"
)

// maxRecentEvents bounds the scrolling feed shown under the progress bar.
const maxRecentEvents = 8

// Display implements event.ProgressEmitter over a bubbletea program. When
// stdout isn't a terminal it is a no-op, so callers can wire it
// unconditionally and let it degrade gracefully when stdout is redirected
// to a file or a pipe.
type Display struct {
	mu      sync.Mutex
	enabled bool
	program *tea.Program
}

// New starts the progress program if stdout is a TTY; otherwise it returns a
// disabled Display whose EmitProgress calls are free no-ops.
func New(total int) *Display {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return &Display{enabled: false}
	}

	m := newModel(total)
	// The run's own interrupt handling lives in the orchestrator
	// (pipeline.watchSignals); bubbletea must not install a competing one.
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithoutSignalHandler())
	d := &Display{enabled: true, program: p}

	go func() { _, _ = p.Run() }()
	return d
}

// EmitProgress implements event.ProgressEmitter.
func (d *Display) EmitProgress(ev event.Event) error {
	if !d.enabled {
		return nil
	}
	d.program.Send(eventMsg(ev))
	return nil
}

// Finish stops the program, leaving its final frame on screen.
func (d *Display) Finish() {
	if !d.enabled {
		return
	}
	d.program.Quit()
	d.program.Wait()
}

type eventMsg event.Event

type model struct {
	total     int
	completed int
	failed    int
	recent    []string
}

func newModel(total int) *model {
	return &model{total: total}
}

func (m *model) Init() tea.Cmd { return nil }

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	ev, ok := msg.(eventMsg)
	if !ok {
		return m, nil
	}

	switch ev.State {
	case event.StateCompleted:
		if ev.Stage == "run" || ev.Stage == "" {
			m.completed++
		}
	case event.StateFailed:
		m.failed++
	}

	if ev.Stage != "" {
		line := fmt.Sprintf("[%s] %-9s #%d", ev.Stage, ev.State, ev.SourceIndex)
		if ev.Message != "" {
			line += " " + ev.Message
		}
		m.recent = append(m.recent, line)
		if len(m.recent) > maxRecentEvents {
			m.recent = m.recent[len(m.recent)-maxRecentEvents:]
		}
	}

	return m, nil
}

var (
	barStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

func (m *model) View() string {
	bar := renderBar(m.completed+m.failed, m.total, 30)
	header := fmt.Sprintf("%s  %d/%d completed", bar, m.completed, m.total)
	if m.failed > 0 {
		header += failStyle.Render(fmt.Sprintf("  %d failed", m.failed))
	}

	feed := dimStyle.Render(joinLines(m.recent))
	return header + "\n" + feed + "\n"
}

func renderBar(done, total, width int) string {
	if total <= 0 {
		total = 1
	}
	filled := width * done / total
	if filled > width {
		filled = width
	}
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "#"
		} else {
			bar += "-"
		}
	}
	return barStyle.Render("[" + bar + "]")
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

