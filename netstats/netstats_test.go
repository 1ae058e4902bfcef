package netstats_test

import (
	"testing"
	"time"

	"github.com/grinuri/ib-benchmark/netstats"
)

func TestZeroItersNoDivisionByZero(t *testing.T) {
	n := netstats.New()
	n.Finish()
	if bw := n.UpstreamBandwidth(); bw < 0 {
		t.Fatalf("expected non-negative bandwidth, got %f", bw)
	}
	if n.BytesSent() != 0 {
		t.Fatalf("expected zero bytes sent, got %d", n.BytesSent())
	}
}

func TestUpdateSentAccumulates(t *testing.T) {
	n := netstats.New()
	n.UpdateSent(640)
	n.UpdateSent(64)
	time.Sleep(time.Millisecond)
	n.Finish()
	if n.BytesSent() != 704 {
		t.Fatalf("expected 704 bytes, got %d", n.BytesSent())
	}
	if n.UpstreamBandwidth() <= 0 {
		t.Fatal("expected positive bandwidth once bytes were sent and time elapsed")
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	n := netstats.New()
	n.UpdateSent(10)
	n.Finish()
	first := n.SecondsPassed()
	time.Sleep(time.Millisecond)
	n.Finish()
	second := n.SecondsPassed()
	if first != second {
		t.Fatalf("Finish should freeze elapsed time: %f != %f", first, second)
	}
}
