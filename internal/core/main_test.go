package core_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain runs every test in this package and checks for goroutine leaks
// once they all complete. Heartbeat, grace timers, and the queue sweeper
// all spawn goroutines, so every test that starts one must stop it before
// returning.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
