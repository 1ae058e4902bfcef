package multichan_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no goroutine started by this package's tests (the
// poll loop spawned via multichan.Run, tcpconn's per-connection readLoop)
// survives past test completion, following _examples/chaitanyaphalak-go-mcast's
// use of goleak for concurrent-system tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
