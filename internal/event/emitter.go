// Package event reports build/run progress as structured events, adapted
// from the teacher's NDJSON event emitter (spec §6/§7).
package event

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event describes one observable occurrence in a parabuild run: a job
// starting, completing, or failing at a particular stage, or an overall
// progress tick.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	SourceIndex int       `json:"source_index,omitempty"`
	Stage       string    `json:"stage,omitempty"` // "build" or "run"
	Workspace   int       `json:"workspace,omitempty"`
	State       string    `json:"state"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	Message     string    `json:"message,omitempty"`

	Total     int `json:"total,omitempty"`
	Completed int `json:"completed,omitempty"`
	Progress  int `json:"progress,omitempty"` // 0-100
}

// Event state constants for the job lifecycle.
const (
	StateStarted   = "started"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateSkipped   = "skipped"
	StateRetrying  = "retrying"
	StateCancelled = "cancelled"
	StateAutosaved = "autosaved"
)

// Emitter reports events as they happen. Implementations must be safe for
// concurrent use by the build and run worker pools.
type Emitter interface {
	Emit(ev Event)
}

// ProgressEmitter is an optional interface for enhanced progress
// visualization (e.g. the bubbletea TUI). If set on an NDJSONEmitter, it
// receives every event forwarded directly, in addition to the plain stream.
type ProgressEmitter interface {
	EmitProgress(ev Event) error
}

// NDJSONEmitter writes one JSON object per line to stderr, or a
// human-readable ANSI-colored line when configured for interactive use.
// Stdout is reserved for the final result partition (spec §6), so progress
// events never touch it.
type NDJSONEmitter struct {
	encoder         *json.Encoder
	humanReadable   bool
	suppressJSON    bool
	mu              sync.Mutex
	progressEmitter ProgressEmitter
}

func NewNDJSONEmitter() *NDJSONEmitter {
	return &NDJSONEmitter{encoder: json.NewEncoder(os.Stderr)}
}

func NewHumanEmitter() *NDJSONEmitter {
	return &NDJSONEmitter{encoder: json.NewEncoder(os.Stderr), humanReadable: true}
}

// NewProgressEmitter wires an enhanced progress display (e.g. the TUI) that
// receives every event alongside the plain NDJSON stream.
func NewProgressEmitter(p ProgressEmitter) *NDJSONEmitter {
	return &NDJSONEmitter{encoder: json.NewEncoder(os.Stderr), progressEmitter: p}
}

// NewSilentEmitter suppresses the NDJSON stream entirely, forwarding only to
// the progress emitter (if any) — used for --silent, where cmd/parabuild
// passes nil so nothing is shown.
func NewSilentEmitter(p ProgressEmitter) *NDJSONEmitter {
	return &NDJSONEmitter{encoder: json.NewEncoder(os.Stderr), suppressJSON: true, progressEmitter: p}
}

// SetProgressEmitter sets or updates the progress emitter for enhanced
// visualization after construction.
func (e *NDJSONEmitter) SetProgressEmitter(p ProgressEmitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progressEmitter = p
}

func (e *NDJSONEmitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.progressEmitter != nil {
		if err := e.progressEmitter.EmitProgress(ev); err != nil {
			fmt.Fprintf(os.Stderr, "warning: progress emitter error: %v\n", err)
		}
	}

	if e.suppressJSON {
		return
	}

	if e.humanReadable {
		e.writeHuman(ev)
		return
	}
	e.encoder.Encode(ev)
}

func (e *NDJSONEmitter) writeHuman(ev Event) {
	if ev.State == StateRunning && ev.Message == "" {
		return
	}

	dim := "\033[90m"
	reset := "\033[0m"
	stateColors := map[string]string{
		StateStarted:   "\033[36m",
		StateRunning:   "\033[33m",
		StateCompleted: "\033[32m",
		StateFailed:    "\033[31m",
		StateSkipped:   "\033[90m",
		StateRetrying:  "\033[33m",
		StateCancelled: "\033[31m",
		StateAutosaved: "\033[36m",
	}
	color := stateColors[ev.State]
	if color == "" {
		color = reset
	}

	ts := ev.Timestamp.Format("15:04:05")
	fmt.Fprintf(os.Stderr, "%s[%s]%s %s%-10s%s", dim, ts, reset, color, ev.State, reset)
	if ev.Stage != "" {
		fmt.Fprintf(os.Stderr, " %-6s", ev.Stage)
	}
	if ev.SourceIndex != 0 || ev.Stage != "" {
		fmt.Fprintf(os.Stderr, " #%d", ev.SourceIndex)
	}
	if ev.Workspace != 0 {
		fmt.Fprintf(os.Stderr, " ws=%d", ev.Workspace)
	}
	if ev.DurationMs > 0 {
		fmt.Fprintf(os.Stderr, " %5.1fs", float64(ev.DurationMs)/1000.0)
	}
	if ev.Total > 0 {
		fmt.Fprintf(os.Stderr, " [%d/%d]", ev.Completed, ev.Total)
	}
	if ev.Message != "" {
		fmt.Fprintf(os.Stderr, " %s", ev.Message)
	}
	fmt.Fprintln(os.Stderr)
}
