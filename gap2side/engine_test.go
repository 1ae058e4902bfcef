package gap2side_test

import (
	"sync"
	"testing"

	"github.com/grinuri/ib-benchmark/gap2side"
	"github.com/grinuri/ib-benchmark/router"
	"github.com/grinuri/ib-benchmark/transport/oob"
	"github.com/grinuri/ib-benchmark/transport/tcpconn"
)

func dialTrio(t *testing.T) []*tcpconn.Backend {
	t.Helper()
	addrs := []string{"127.0.0.1:28921", "127.0.0.1:28922", "127.0.0.1:28923"}
	backends := make([]*tcpconn.Backend, len(addrs))
	var wg sync.WaitGroup
	errs := make([]error, len(addrs))
	wg.Add(len(addrs))
	for i := range addrs {
		i := i
		go func() {
			defer wg.Done()
			peers := &oob.Peers{Rank: i, Size: len(addrs), Addrs: addrs}
			backends[i], errs[i] = tcpconn.Dial(peers, addrs[i], 1<<16)
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

func TestTwoSidedEngineReachesFullCompletion(t *testing.T) {
	const n, iters, gap = 3, 10, 1
	backends := dialTrio(t)
	defer func() {
		for _, b := range backends {
			b.Close()
		}
	}()

	var wg sync.WaitGroup
	results := make([]int32, n)
	received := make([]uint64, n)
	errs := make([]error, n)
	wg.Add(n)
	for r := 0; r < n; r++ {
		r := r
		go func() {
			defer wg.Done()
			rt := router.New(uint64(n), uint64(r), nil, router.ToAll)
			eng, err := gap2side.New(gap2side.Config{
				Iterations: iters,
				MaxGap:     gap,
				PacketSize: 12 + 4*4,
				WorldSize:  n,
				Rank:       r,
				Route:      rt.Route(),
			}, backends[r])
			if err != nil {
				errs[r] = err
				return
			}
			stats, err := eng.Run()
			if err != nil {
				errs[r] = err
				return
			}
			results[r] = eng.LatestComplete()
			received[r] = stats.BytesReceived()
		}()
	}
	wg.Wait()
	const packetSize = 12 + 4*4
	wantReceived := uint64(iters) * uint64(n-1) * packetSize
	for r := 0; r < n; r++ {
		if errs[r] != nil {
			t.Fatalf("rank %d: %v", r, errs[r])
		}
		if results[r] != iters {
			t.Fatalf("rank %d: expected latest_complete=%d, got %d", r, iters, results[r])
		}
		if received[r] != wantReceived {
			t.Fatalf("rank %d: expected bytes_received=%d, got %d", r, wantReceived, received[r])
		}
	}
}

func TestZeroIterationsTerminatesImmediately(t *testing.T) {
	addrs := []string{"127.0.0.1:28924", "127.0.0.1:28925"}
	var wg sync.WaitGroup
	backends := make([]*tcpconn.Backend, 2)
	wg.Add(2)
	for i := range addrs {
		i := i
		go func() {
			defer wg.Done()
			peers := &oob.Peers{Rank: i, Size: 2, Addrs: addrs}
			backends[i], _ = tcpconn.Dial(peers, addrs[i], 1<<16)
		}()
	}
	wg.Wait()
	defer backends[0].Close()
	defer backends[1].Close()

	rt := router.New(2, 0, nil, router.ToAll)
	eng, err := gap2side.New(gap2side.Config{
		Iterations: 0,
		MaxGap:     1,
		PacketSize: 12,
		WorldSize:  2,
		Rank:       0,
		Route:      rt.Route(),
	}, backends[0])
	if err != nil {
		t.Fatal(err)
	}
	stats, err := eng.Run()
	if err != nil {
		t.Fatal(err)
	}
	if stats.BytesSent() != 0 {
		t.Fatalf("expected zero bytes sent, got %d", stats.BytesSent())
	}
}

func TestMisalignedPacketSizeRejected(t *testing.T) {
	_, err := gap2side.New(gap2side.Config{
		Iterations: 1,
		MaxGap:     0,
		PacketSize: 15,
		WorldSize:  2,
		Rank:       0,
	}, nil)
	if err == nil {
		t.Fatal("expected ConfigError for misaligned packet size")
	}
}
