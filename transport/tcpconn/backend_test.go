package tcpconn_test

import (
	"sync"
	"testing"
	"time"

	"github.com/grinuri/ib-benchmark/transport/oob"
	"github.com/grinuri/ib-benchmark/transport/tcpconn"
)

func dialPair(t *testing.T, addr0, addr1 string) (*tcpconn.Backend, *tcpconn.Backend) {
	t.Helper()
	peers0 := &oob.Peers{Rank: 0, Size: 2, Addrs: []string{addr0, addr1}}
	peers1 := &oob.Peers{Rank: 1, Size: 2, Addrs: []string{addr0, addr1}}

	var b0, b1 *tcpconn.Backend
	var err0, err1 error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); b0, err0 = tcpconn.Dial(peers0, addr0, 1<<16) }()
	go func() { defer wg.Done(); b1, err1 = tcpconn.Dial(peers1, addr1, 1<<16) }()
	wg.Wait()
	if err0 != nil {
		t.Fatalf("rank 0 dial: %v", err0)
	}
	if err1 != nil {
		t.Fatalf("rank 1 dial: %v", err1)
	}
	return b0, b1
}

func TestSendTryReceiveRoundTrip(t *testing.T) {
	b0, b1 := dialPair(t, "127.0.0.1:28901", "127.0.0.1:28902")
	defer b0.Close()
	defer b1.Close()

	if err := b0.Send(1, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := b0.Flush(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs, ok := b1.TryReceive(); ok {
			if string(msgs[0]) != "hello" {
				t.Fatalf("got %q", msgs[0])
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for message")
}

func TestAsyncSendReceiveRoundTrip(t *testing.T) {
	b0, b1 := dialPair(t, "127.0.0.1:28903", "127.0.0.1:28904")
	defer b0.Close()
	defer b1.Close()

	buf := make([]byte, 4)
	done := make(chan error, 1)
	if err := b1.AsyncReceive(buf, 7, func(err error) { done <- err }); err != nil {
		t.Fatal(err)
	}
	if err := b0.AsyncSend(1, []byte("ping"), 7, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
		if string(buf) != "ping" {
			t.Fatalf("got %q", buf)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async receive")
	}
}

func TestBarrierCompletes(t *testing.T) {
	b0, b1 := dialPair(t, "127.0.0.1:28905", "127.0.0.1:28906")
	defer b0.Close()
	defer b1.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, 2)
	go func() { defer wg.Done(); errs <- b0.Barrier() }()
	go func() { defer wg.Done(); errs <- b1.Barrier() }()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatal(err)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("barrier did not complete")
	}
}
