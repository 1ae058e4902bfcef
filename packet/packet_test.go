package packet_test

import (
	"testing"

	"github.com/grinuri/ib-benchmark/packet"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := &packet.Packet{SourceRank: 3, ID: 42, Payload: []uint32{1, 2, 3, 4}}
	buf := make([]byte, p.WireSize())
	n := packet.Encode(p, buf)
	if n != len(buf) {
		t.Fatalf("encoded %d bytes, expected %d", n, len(buf))
	}
	got, err := packet.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.SourceRank != p.SourceRank || got.ID != p.ID || len(got.Payload) != len(p.Payload) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, p)
	}
	for i := range p.Payload {
		if got.Payload[i] != p.Payload[i] {
			t.Fatalf("payload[%d] mismatch: got %d want %d", i, got.Payload[i], p.Payload[i])
		}
	}
}

func TestPeekSourceAndID(t *testing.T) {
	p := &packet.Packet{SourceRank: 7, ID: 9, Payload: []uint32{99}}
	buf := make([]byte, p.WireSize())
	packet.Encode(p, buf)
	src, id, err := packet.PeekSourceAndID(buf)
	if err != nil {
		t.Fatal(err)
	}
	if src != 7 || id != 9 {
		t.Fatalf("got source=%d id=%d", src, id)
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	if _, err := packet.Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestValidateElementAligned(t *testing.T) {
	if err := packet.ValidateElementAligned(12 + 4*10); err != nil {
		t.Fatalf("expected aligned size to pass: %v", err)
	}
	if err := packet.ValidateElementAligned(12 + 3); err == nil {
		t.Fatal("expected misaligned size to fail")
	}
}

func TestGeneratorMonotonicIDs(t *testing.T) {
	g := packet.NewGenerator(0, 4)
	prev := int32(0)
	for i := 0; i < 5; i++ {
		p := g.Next()
		if p.ID != prev+1 {
			t.Fatalf("expected strictly increasing ids, got %d after %d", p.ID, prev)
		}
		prev = p.ID
	}
}

func TestGeneratorFixedValue(t *testing.T) {
	g := packet.NewGenerator(1, 3).WithFixedValue(0xABCD)
	p := g.Next()
	for _, w := range p.Payload {
		if w != 0xABCD {
			t.Fatalf("expected fixed fill, got %x", w)
		}
	}
}
