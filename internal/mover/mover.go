// Package mover relocates a compiled artifact from its build workspace into
// a run workspace (or final output location), guarding against the classic
// "text file busy" race when a just-linked executable is still held open by
// the compiler's own process group (spec §4.6).
package mover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// RetryConfig controls the exponential backoff applied while waiting for an
// artifact to become free of open file handles, adapted from the teacher's
// adapter.RetryConfig shape.
type RetryConfig struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig mirrors the teacher's DefaultRetryConfig scale, tuned
// for a filesystem wait rather than an LLM call.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Move waits for path to have no open file handles, then renames it to dest
// (falling back to copy+remove across filesystem boundaries).
func Move(ctx context.Context, path, dest string, cfg RetryConfig) error {
	if err := waitUntilFree(ctx, path, cfg); err != nil {
		return fmt.Errorf("artifact %s still busy: %w", path, err)
	}

	if err := os.Rename(path, dest); err == nil {
		return nil
	}

	return copyThenRemove(path, dest)
}

// waitUntilFree polls the system's open-file table for path, backing off
// exponentially, until no process holds it open or attempts are exhausted.
func waitUntilFree(ctx context.Context, path string, cfg RetryConfig) error {
	delay := cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		busy, err := isOpen(path)
		if err != nil {
			// Probing failure isn't fatal; proceed optimistically.
			return nil
		}
		if !busy {
			return nil
		}
		lastErr = fmt.Errorf("attempt %d/%d: %s still has open handles", attempt, cfg.MaxAttempts, path)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}

// isOpen reports whether any running process currently holds path open.
// Prefers the lsof binary when present, falling back to gopsutil's portable
// process/open-files enumeration (the dependency a sibling example repo in
// the pack already wires in for the same purpose) when lsof is unavailable.
func isOpen(path string) (bool, error) {
	if lsofPath, err := exec.LookPath("lsof"); err == nil {
		return isOpenViaLsof(lsofPath, path)
	}
	return isOpenViaGopsutil(path)
}

func isOpenViaLsof(lsofPath, path string) (bool, error) {
	cmd := exec.Command(lsofPath, path)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		// lsof exits 1 when no process holds the file open.
		if exitErr.ExitCode() == 1 {
			return false, nil
		}
	}
	return false, err
}

func isOpenViaGopsutil(path string) (bool, error) {
	pids, err := process.Pids()
	if err != nil {
		return false, err
	}
	for _, pid := range pids {
		proc, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		files, err := proc.OpenFiles()
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.Path == path {
				return true, nil
			}
		}
	}
	return false, nil
}

func copyThenRemove(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source %s: %w", src, err)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return fmt.Errorf("create destination %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dest, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination %s: %w", dest, err)
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source %s: %w", src, err)
	}
	return nil
}

// ErrNotFound is returned by callers that need to distinguish a missing
// artifact (compile silently produced no binary) from other move failures.
var ErrNotFound = errors.New("artifact not found")

// CheckExists confirms the artifact was actually produced before a move is
// attempted, surfacing ErrNotFound for the caller to report as a compile
// error rather than an infrastructure failure.
func CheckExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}
