package gap1side_test

import (
	"sync"
	"testing"

	"github.com/grinuri/ib-benchmark/gap1side"
	"github.com/grinuri/ib-benchmark/router"
	"github.com/grinuri/ib-benchmark/transport/oob"
	"github.com/grinuri/ib-benchmark/transport/rdmasim"
)

func dialRing(t *testing.T, n int, base int) []*rdmasim.Backend {
	t.Helper()
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = "127.0.0.1:" + itoa(base+i)
	}
	backends := make([]*rdmasim.Backend, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range addrs {
		i := i
		go func() {
			defer wg.Done()
			peers := &oob.Peers{Rank: i, Size: n, Addrs: addrs}
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

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func TestCircularModeCursorAdvance(t *testing.T) {
	const n = 4
	const chunk = 32 * 1024
	const total = 10 * 1024 * 1024 // not an exact multiple of chunk on purpose would fail; pick a multiple
	const totalAligned = int64((total / chunk) * chunk)
	const iters = 2

	backends := dialRing(t, n, 28940)
	defer func() {
		for _, b := range backends {
			b.Close()
		}
	}()

	engines := make([]*gap1side.CircularEngine, n)
	for r := 0; r < n; r++ {
		rt := router.New(uint64(n), uint64(r), nil, router.ToAll)
		eng, err := gap1side.NewCircular(gap1side.CircularConfig{
			TotalBytes: totalAligned,
			ChunkSize:  chunk,
			Iterations: iters,
			MaxGap:     4,
			WorldSize:  n,
			Rank:       r,
			Route:      rt.Route(),
		}, backends[r])
		if err != nil {
			t.Fatal(err)
		}
		engines[r] = eng
	}

	var wg sync.WaitGroup
	wg.Add(n)
	setupErrs := make([]error, n)
	for r := 0; r < n; r++ {
		r := r
		go func() { defer wg.Done(); setupErrs[r] = engines[r].Setup() }()
	}
	wg.Wait()
	for r, err := range setupErrs {
		if err != nil {
			t.Fatalf("rank %d setup: %v", r, err)
		}
	}

	wg.Add(n)
	runErrs := make([]error, n)
	for r := 0; r < n; r++ {
		r := r
		go func() { defer wg.Done(); _, runErrs[r] = engines[r].Run() }()
	}
	wg.Wait()
	for r, err := range runErrs {
		if err != nil {
			t.Fatalf("rank %d run: %v", r, err)
		}
	}

	expected := int64(iters) * (totalAligned / chunk) * int64(chunk)
	for r := 0; r < n; r++ {
		for p := 0; p < n; p++ {
			if p == r {
				continue
			}
			if got := engines[r].CursorBytes(p); got != expected {
				t.Fatalf("rank %d cursor for sender %d: got %d, want %d", r, p, got, expected)
			}
		}
	}
}
