// Package packet defines the wire packet exchanged by the gap-bounded
// engines: a source rank, a strictly-monotonic id, and a payload of u32
// words. Framing puts rank and id in a small fixed header ahead of the
// payload so a receiver can read them without knowing the payload length in
// advance - the original_source layouts instead steal payload words [0] and
// [1] for this (see data.h's ucx_rt_ints); putting them in a real header is
// the more idiomatic Go shape and is the Open-Question resolution recorded
// in DESIGN.md.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package packet

import (
	"encoding/binary"
	"math/rand"

	"github.com/grinuri/ib-benchmark/cmn/cos"
)

const (
	headerSize = 8 + 4 // source_rank (u64) + id (i32)
	wordSize   = 4      // sizeof(uint32)
)

// Packet is a single unit exchanged between ranks. ID starts at 1 and is
// strictly monotonic per sender.
type Packet struct {
	SourceRank uint64
	ID         int32
	Payload    []uint32
}

// WireSize returns sizeof(rank)+sizeof(id)+len(payload)*4, per spec §3.
func (p *Packet) WireSize() int { return headerSize + len(p.Payload)*wordSize }

// Encode serializes p into buf, which must be at least p.WireSize() bytes.
// Returns the number of bytes written.
func Encode(p *Packet, buf []byte) int {
	binary.LittleEndian.PutUint64(buf[0:8], p.SourceRank)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.ID))
	off := headerSize
	for _, w := range p.Payload {
		binary.LittleEndian.PutUint32(buf[off:off+wordSize], w)
		off += wordSize
	}
	return off
}

// Decode reads a Packet's header and payload out of buf without requiring
// the caller to know the payload length up front (spec §3: "a receiver can
// extract source_rank and id from the raw buffer").
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < headerSize {
		return nil, cos.NewErrConfig("packet buffer too short: %d bytes", len(buf))
	}
	p := &Packet{
		SourceRank: binary.LittleEndian.Uint64(buf[0:8]),
		ID:         int32(binary.LittleEndian.Uint32(buf[8:12])),
	}
	rest := buf[headerSize:]
	if len(rest)%wordSize != 0 {
		return nil, cos.NewErrConfig("payload size %d not a multiple of element size %d", len(rest), wordSize)
	}
	n := len(rest) / wordSize
	if n > 0 {
		p.Payload = make([]uint32, n)
		for i := 0; i < n; i++ {
			p.Payload[i] = binary.LittleEndian.Uint32(rest[i*wordSize : (i+1)*wordSize])
		}
	}
	return p, nil
}

// PeekSourceAndID reads only the header, without allocating or decoding the
// payload - used by the gap engines' hot receive path.
func PeekSourceAndID(buf []byte) (source uint64, id int32, err error) {
	if len(buf) < headerSize {
		return 0, 0, cos.NewErrConfig("packet buffer too short: %d bytes", len(buf))
	}
	return binary.LittleEndian.Uint64(buf[0:8]), int32(binary.LittleEndian.Uint32(buf[8:12])), nil
}

// ValidateElementAligned returns ConfigError if packetSize isn't a whole
// number of u32 payload words (spec §8 boundary condition).
func ValidateElementAligned(packetSize int) error {
	payload := packetSize - headerSize
	if payload < 0 || payload%wordSize != 0 {
		return cos.NewErrConfig("packet_size %d must leave a payload that is a multiple of %d bytes", packetSize, wordSize)
	}
	return nil
}

// Generator produces successive packets for one sender, numbering them
// 1..N and filling the payload either with random words or a fixed value,
// mirroring original_source's generator<T> (data.h).
type Generator struct {
	rank       uint64
	nextID     int32
	wordCount  int
	fixedValue uint32
	useFixed   bool
	rng        *rand.Rand
}

func NewGenerator(rank uint64, payloadWords int) *Generator {
	return &Generator{rank: rank, wordCount: payloadWords, rng: rand.New(rand.NewSource(int64(rank) + 1))}
}

// WithFixedValue switches the generator to fill every payload word with v
// instead of random data - useful for deterministic tests and for
// reproducing a specific byte pattern across a run.
func (g *Generator) WithFixedValue(v uint32) *Generator {
	g.useFixed, g.fixedValue = true, v
	return g
}

// Next returns the next packet, with id incremented starting from 1.
func (g *Generator) Next() *Packet {
	g.nextID++
	payload := make([]uint32, g.wordCount)
	if g.useFixed {
		for i := range payload {
			payload[i] = g.fixedValue
		}
	} else {
		for i := range payload {
			payload[i] = g.rng.Uint32()
		}
	}
	return &Packet{SourceRank: g.rank, ID: g.nextID, Payload: payload}
}

// SetMeta overwrites only rank/id on an existing packet buffer in place,
// skipping payload regeneration - mirrors ucx_rt_ints's set_meta fast path.
// The gap engines in this module call Next instead.
func (g *Generator) SetMeta(p *Packet) {
	g.nextID++
	p.SourceRank = g.rank
	p.ID = g.nextID
}
