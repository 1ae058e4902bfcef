package rdmasim_test

import (
	"sync"
	"testing"
	"time"

	"github.com/grinuri/ib-benchmark/transport"
	"github.com/grinuri/ib-benchmark/transport/oob"
	"github.com/grinuri/ib-benchmark/transport/rdmasim"
)

func dialPair(t *testing.T) (*rdmasim.Backend, *rdmasim.Backend) {
	t.Helper()
	addr0, addr1 := "127.0.0.1:28911", "127.0.0.1:28912"
	peers0 := &oob.Peers{Rank: 0, Size: 2, Addrs: []string{addr0, addr1}}
	peers1 := &oob.Peers{Rank: 1, Size: 2, Addrs: []string{addr0, addr1}}
	var b0, b1 *rdmasim.Backend
	var err0, err1 error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); b0, err0 = rdmasim.Dial(peers0, addr0, 1<<16) }()
	go func() { defer wg.Done(); b1, err1 = rdmasim.Dial(peers1, addr1, 1<<16) }()
	wg.Wait()
	if err0 != nil {
		t.Fatal(err0)
	}
	if err1 != nil {
		t.Fatal(err1)
	}
	return b0, b1
}

func TestAtomicPostApplies(t *testing.T) {
	b0, b1 := dialPair(t)
	defer b0.Close()
	defer b1.Close()

	counter := make([]byte, 8)
	h, err := b1.RegisterMemory(counter)
	if err != nil {
		t.Fatal(err)
	}
	if err := b1.AsyncExposeMemory(0, h); err != nil {
		t.Fatal(err)
	}
	desc, err := b0.AsyncObtainMemory(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := b0.AtomicPost(1, transport.Add, 3, 8, desc); err != nil {
		t.Fatal(err)
	}
	if err := b0.AtomicPost(1, transport.Add, 4, 8, desc); err != nil {
		t.Fatal(err)
	}
	if err := b0.Fence(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sum := uint64(counter[0]) | uint64(counter[1])<<8
		if sum == 7 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected counter to reach 7, got bytes %v", counter)
}
