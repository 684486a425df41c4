// Package testutil provides common test utilities for the go-wabridge packages.
package testutil

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"
)

// Logger returns a debug-level text logger writing to stderr.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// WaitFor is a generic utility to wait for a condition to be true.
// It returns nil if the condition becomes true within the timeout.
// It returns an error if the condition does not become true within the timeout.
func WaitFor(t *testing.T, description string, timeout time.Duration, condition func() bool) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("condition '%s' not met within %v", description, timeout)
}

// WaitClosed waits for ch to be closed.
func WaitClosed[T any](t *testing.T, description string, timeout time.Duration, ch <-chan T) error {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case _, open := <-ch:
			if !open {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("%s: channel not closed within %v", description, timeout)
		}
	}
}

// Receive returns the next value from ch or fails the test after timeout.
func Receive[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting for a value")
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("no value within %v", timeout)
	}
	var zero T
	return zero
}
