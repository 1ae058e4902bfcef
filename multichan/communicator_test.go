package multichan_test

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/grinuri/ib-benchmark/multichan"
	"github.com/grinuri/ib-benchmark/transport/oob"
	"github.com/grinuri/ib-benchmark/transport/tcpconn"
)

func int32Spec(typeName string) multichan.ChannelSpec {
	return multichan.ChannelSpec{
		TypeName: typeName,
		Marshal: func(v any) ([]byte, error) {
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, uint32(v.(int32)))
			return buf, nil
		},
		Unmarshal: func(b []byte) (any, error) {
			return int32(binary.LittleEndian.Uint32(b)), nil
		},
	}
}

func dialPair(t *testing.T) (*tcpconn.Backend, *tcpconn.Backend) {
	t.Helper()
	addr0, addr1 := "127.0.0.1:28951", "127.0.0.1:28952"
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
		t.Fatal(err0)
	}
	if err1 != nil {
		t.Fatal(err1)
	}
	return b0, b1
}

func TestSendReceiveAcrossChannels(t *testing.T) {
	b0, b1 := dialPair(t)
	defer b0.Close()
	defer b1.Close()

	var c0, c1 *multichan.Communicator
	var err0, err1 error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c0, err0 = multichan.New(b0, []multichan.ChannelSpec{int32Spec("int32"), int32Spec("int32")}) }()
	go func() { defer wg.Done(); c1, err1 = multichan.New(b1, []multichan.ChannelSpec{int32Spec("int32"), int32Spec("int32")}) }()
	wg.Wait()
	if err0 != nil {
		t.Fatal(err0)
	}
	if err1 != nil {
		t.Fatal(err1)
	}

	go multichan.Run(c0)
	go multichan.Run(c1)

	if err := multichan.Send(c0, 0, int32(42), 1); err != nil {
		t.Fatal(err)
	}
	v, ok := multichan.Receive[int32](c1, 0)
	if !ok || v != 42 {
		t.Fatalf("got v=%d ok=%v", v, ok)
	}

	if err := multichan.MarkEOF(c0, 0); err != nil {
		t.Fatal(err)
	}
	if err := multichan.MarkEOF(c1, 0); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := multichan.Receive[int32](c1, 0); !ok {
			break
		}
	}

	if err := multichan.MarkEOF(c0, 1); err != nil {
		t.Fatal(err)
	}
	if err := multichan.MarkEOF(c1, 1); err != nil {
		t.Fatal(err)
	}

	for time.Now().Before(deadline) && !(c0.Stopped() && c1.Stopped()) {
		time.Sleep(time.Millisecond)
	}
	if !c0.Stopped() || !c1.Stopped() {
		t.Fatal("communicators did not reach all_done")
	}
}

func TestSendAfterEOFFails(t *testing.T) {
	peers := &oob.Peers{Rank: 0, Size: 1, Addrs: []string{"127.0.0.1:0"}}
	b, err := tcpconn.Dial(peers, "127.0.0.1:0", 1<<16)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	c, err := multichan.New(b, []multichan.ChannelSpec{int32Spec("int32")})
	if err != nil {
		t.Fatal(err)
	}
	if err := multichan.MarkEOF(c, 0); err != nil {
		t.Fatal(err)
	}
	if err := multichan.Send(c, 0, int32(1), 0); err == nil {
		t.Fatal("expected UsageAfterEOF")
	}
}
