package gap1side_test

import (
	"sync"
	"testing"

	"github.com/grinuri/ib-benchmark/gap1side"
	"github.com/grinuri/ib-benchmark/netstats"
	"github.com/grinuri/ib-benchmark/router"
	"github.com/grinuri/ib-benchmark/transport/oob"
	"github.com/grinuri/ib-benchmark/transport/rdmasim"
)

func dialPair(t *testing.T) []*rdmasim.Backend {
	t.Helper()
	addrs := []string{"127.0.0.1:28931", "127.0.0.1:28932"}
	backends := make([]*rdmasim.Backend, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i := range addrs {
		i := i
		go func() {
			defer wg.Done()
			peers := &oob.Peers{Rank: i, Size: 2, Addrs: addrs}
			backends[i], errs[i] = rdmasim.Dial(peers, addrs[i], 1<<16)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	return backends
}

func TestOneSidedEngineReachesTarget(t *testing.T) {
	const iters, gap = 20, 4
	backends := dialPair(t)
	defer func() {
		for _, b := range backends {
			b.Close()
		}
	}()

	engines := make([]*gap1side.Engine, 2)
	for r := 0; r < 2; r++ {
		rt := router.New(2, uint64(r), nil, router.ToAll)
		eng, err := gap1side.New(gap1side.Config{
			Iterations: iters,
			MaxGap:     gap,
			PacketSize: 32,
			WorldSize:  2,
			Rank:       r,
			Route:      rt.Route(),
		}, backends[r])
		if err != nil {
			t.Fatal(err)
		}
		engines[r] = eng
	}

	var wg sync.WaitGroup
	setupErrs := make([]error, 2)
	wg.Add(2)
	for r := 0; r < 2; r++ {
		r := r
		go func() { defer wg.Done(); setupErrs[r] = engines[r].Setup() }()
	}
	wg.Wait()
	for r, err := range setupErrs {
		if err != nil {
			t.Fatalf("rank %d setup: %v", r, err)
		}
	}

	runErrs := make([]error, 2)
	results := make([]*netstats.NetStats, 2)
	wg.Add(2)
	for r := 0; r < 2; r++ {
		r := r
		go func() { defer wg.Done(); results[r], runErrs[r] = engines[r].Run() }()
	}
	wg.Wait()
	for r, err := range runErrs {
		if err != nil {
			t.Fatalf("rank %d run: %v", r, err)
		}
	}

	const wantBytes = iters * 32
	for r := 0; r < 2; r++ {
		other := 1 - r
		if got := engines[r].AtomicValue(other); got != iters {
			t.Fatalf("rank %d: atomics[%d] = %d, want %d", r, other, got, iters)
		}
		if got := results[r].BytesSent(); got != wantBytes {
			t.Fatalf("rank %d: bytes_sent = %d, want %d", r, got, wantBytes)
		}
		if got := results[r].BytesReceived(); got != wantBytes {
			t.Fatalf("rank %d: bytes_received = %d, want %d", r, got, wantBytes)
		}
	}
}

func TestMisalignedPacketSizeRejected(t *testing.T) {
	_, err := gap1side.New(gap1side.Config{
		Iterations: 1,
		MaxGap:     0,
		PacketSize: 13,
		WorldSize:  2,
		Rank:       0,
	}, nil)
	if err == nil {
		t.Fatal("expected ConfigError for misaligned packet size")
	}
}
