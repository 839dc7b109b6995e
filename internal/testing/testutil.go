// Package testing provides goroutine-safe test helpers for perfkit.
//
// t.Fatal and t.FailNow must only be called from the test goroutine; they
// call runtime.Goexit, which ends the calling goroutine and not the test.
// Workers started through GoroutineTest return errors instead, and Wait
// reports them from the test goroutine.
package testing

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Goroutine Test
// =============================================================================

// GoroutineTest collects errors from worker goroutines.
//
// Example usage:
//
//	gt := testutil.NewGoroutineTest(t)
//	for w := 0; w < 8; w++ {
//	    gt.Go(func() error {
//	        return reg.Increment(h)
//	    })
//	}
//	gt.Wait()
type GoroutineTest struct {
	t      *testing.T
	wg     sync.WaitGroup
	mu     sync.Mutex
	errs   []error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a new GoroutineTest helper.
func NewGoroutineTest(t *testing.T) *GoroutineTest {
	ctx, cancel := context.WithCancel(context.Background())
	return &GoroutineTest{t: t, ctx: ctx, cancel: cancel}
}

// NewGoroutineTestWithTimeout creates a GoroutineTest whose context expires
// after timeout.
func NewGoroutineTestWithTimeout(t *testing.T, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{t: t, ctx: ctx, cancel: cancel}
}

// Go runs fn in a goroutine and records its error.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		gt.record(fn())
	}()
}

// GoWithContext runs fn with the test context in a goroutine.
func (gt *GoroutineTest) GoWithContext(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		gt.record(fn(gt.ctx))
	}()
}

func (gt *GoroutineTest) record(err error) {
	if err == nil {
		return
	}
	gt.mu.Lock()
	gt.errs = append(gt.errs, err)
	gt.mu.Unlock()
}

// Wait waits for all goroutines and fails the test if any returned an error.
// It must be called from the test goroutine.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()
	gt.wg.Wait()
	gt.cancel()

	gt.mu.Lock()
	errs := gt.errs
	gt.mu.Unlock()

	if len(errs) > 0 {
		gt.t.Errorf("goroutine test failed with %d error(s):", len(errs))
		for i, err := range errs {
			gt.t.Errorf("  [%d] %v", i+1, err)
		}
		gt.t.FailNow()
	}
}

// Context returns the context for this test.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}

// Cancel cancels the context, signaling goroutines to stop.
func (gt *GoroutineTest) Cancel() {
	gt.cancel()
}

// RunConcurrently runs fn on workers goroutines at once and fails the test if
// any of them returns an error. All workers start together.
func RunConcurrently(t *testing.T, workers int, fn func(worker int) error) {
	t.Helper()
	gt := NewGoroutineTest(t)
	start := make(chan struct{})
	for w := 0; w < workers; w++ {
		w := w
		gt.Go(func() error {
			<-start
			return fn(w)
		})
	}
	close(start)
	gt.Wait()
}

// =============================================================================
// Log Capture
// =============================================================================

// LogBuffer is a goroutine-safe sink for slog records.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogger returns a text logger writing to b at the given minimum level.
func (b *LogBuffer) NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(b, &slog.HandlerOptions{Level: level}))
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything logged so far.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Count returns how many logged lines contain substr.
func (b *LogBuffer) Count(substr string) int {
	n := 0
	for _, line := range strings.Split(b.String(), "\n") {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

// =============================================================================
// Waiting
// =============================================================================

// WithTimeout runs fn and returns its error, or a timeout error if it does
// not finish in time.
func WithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}

// Eventually polls condition until it returns true or timeout expires.
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("condition not met within %v", timeout)
}

// =============================================================================
// Assertion Helpers
// =============================================================================

// AssertEqual returns an error if got != want.
func AssertEqual[T comparable](got, want T, msg string) error {
	if got != want {
		return fmt.Errorf("%s: got %v, want %v", msg, got, want)
	}
	return nil
}

// AssertNoError returns an error if err is not nil.
func AssertNoError(err error, msg string) error {
	if err != nil {
		return fmt.Errorf("%s: unexpected error: %w", msg, err)
	}
	return nil
}
