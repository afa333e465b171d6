// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds waits on asynchronous work in tests.
const DefaultTimeout = 5 * time.Second

// Receive returns the next value from ch or fails the test after timeout.
func Receive[T any](t *testing.T, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.FailNow(t, msg)
	}
	var zero T
	return zero
}

// WaitClosed fails the test unless done is closed within timeout.
func WaitClosed(t *testing.T, done <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	Receive(t, done, timeout, msg)
}
