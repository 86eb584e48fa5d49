// Package testutil holds helpers shared by package tests.
package testutil

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// CheckGoroutineCleanup verifies no goroutines outlive the test body.
// Usage: defer CheckGoroutineCleanup(t)() before starting background work.
func CheckGoroutineCleanup(t *testing.T) func() {
	t.Helper()
	before := runtime.NumGoroutine()

	return func() {
		t.Helper()
		ok := assert.Eventually(t, func() bool {
			return runtime.NumGoroutine() <= before
		}, 5*time.Second, 50*time.Millisecond, "goroutines still running after test")
		if !ok {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			t.Logf("before=%d after=%d\n%s", before, runtime.NumGoroutine(), buf[:n])
		}
	}
}

// WaitForGoroutines waits for wg, failing after timeout instead of hanging.
func WaitForGoroutines(wg *sync.WaitGroup, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("goroutines did not exit within timeout")
	}
}
