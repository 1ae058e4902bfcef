// Package bench maps the CLI's `test_num` (0..26) to a benchmark Mode plus
// its default parameters. original_source/src/main.cc enumerates its tests
// as C++ template instantiations (one instantiation per channel-type
// combination and engine variant); Go has no equivalent of that template
// expansion, so this registry consolidates the same 27 scenarios into a
// small parameterized Mode set, decided and recorded in DESIGN.md.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bench

import "github.com/grinuri/ib-benchmark/cmn/cos"

// Mode selects which engine a test_num drives.
type Mode int

const (
	ModeTwoSidedGap Mode = iota
	ModeOneSidedGap
	ModeOneSidedCircular
	ModeChannelRunner
	ModePointToPoint // two-sided gap engine, restricted to world size 2
)

func (m Mode) String() string {
	switch m {
	case ModeTwoSidedGap:
		return "two-sided-gap"
	case ModeOneSidedGap:
		return "one-sided-gap"
	case ModeOneSidedCircular:
		return "one-sided-circular"
	case ModeChannelRunner:
		return "channel-runner"
	case ModePointToPoint:
		return "point-to-point"
	default:
		return "unknown"
	}
}

// Defaults holds every mode-specific parameter a test entry may supply; the
// positional CLI argument of the same name (package config) overrides the
// corresponding field. ChunkCount, NumChannels and Priority have no CLI
// override.
type Defaults struct {
	FlushSize     int
	SyncIters     int
	MaxGap        int32
	PacketSize    int
	MinPacketSize int
	MaxPacketSize int
	ChunkSize     int
	ChunkCount    int // circular mode: TotalBytes = ChunkSize * ChunkCount
	NumChannels   int // channel-runner mode
	Priority      int // channel-runner mode: per-channel weight w_i
}

// Entry is one registered test_num's fixed identity and defaults.
type Entry struct {
	Num      int
	Name     string
	Mode     Mode
	Defaults Defaults
}

// registry is built once at package init and indexed by test_num.
var registry = buildRegistry()

// Lookup returns the Entry for test_num, or a ConfigError if test_num is
// out of the supported 0..26 range.
func Lookup(testNum int) (Entry, error) {
	if testNum < 0 || testNum >= len(registry) {
		return Entry{}, cos.NewErrConfig("test_num %d is out of range [0, %d]", testNum, len(registry)-1)
	}
	return registry[testNum], nil
}

// Count returns the number of registered benchmarks (always 27: 0..26).
func Count() int { return len(registry) }

func buildRegistry() []Entry {
	var r []Entry
	add := func(name string, mode Mode, d Defaults) {
		r = append(r, Entry{Num: len(r), Name: name, Mode: mode, Defaults: d})
	}

	// 0-4: two-sided gap, a spread of packet sizes and gaps - the
	// original's "small/medium/large int/float/double" template set.
	twoSidedPacketSizes := []int{64, 256, 1024, 4096, 16384}
	for i, sz := range twoSidedPacketSizes {
		add("two_sided_gap_psize", ModeTwoSidedGap, Defaults{
			FlushSize: 1000, MaxGap: int32(4 + i), PacketSize: sz,
			MinPacketSize: sz, MaxPacketSize: sz,
		})
	}

	// 5-9: one-sided gap, same packet-size spread.
	oneSidedPacketSizes := []int{64, 256, 1024, 4096, 16384}
	for i, sz := range oneSidedPacketSizes {
		add("one_sided_gap_psize", ModeOneSidedGap, Defaults{
			FlushSize: 1000, MaxGap: int32(2 + i), PacketSize: sz,
			MinPacketSize: sz, MaxPacketSize: sz,
		})
	}

	// 10-14: one-sided circular/chunked streaming, a spread of chunk sizes,
	// each with a total buffer of 16 chunks.
	chunkSizes := []int{4096, 16384, 65536, 262144, 1048576}
	for i, cs := range chunkSizes {
		add("one_sided_circular_chunk", ModeOneSidedCircular, Defaults{
			MaxGap: int32(2 + i%4), ChunkSize: cs, ChunkCount: 16,
		})
	}

	// 15-20: channel-runner, a spread of channel counts and priorities -
	// the original's multi-type-channel template instantiations.
	channelScenarios := []struct{ n, p int }{
		{1, 0}, {2, 0}, {2, 1}, {3, 1}, {4, 2}, {8, 3},
	}
	for _, s := range channelScenarios {
		add("channel_runner_n", ModeChannelRunner, Defaults{
			SyncIters: 10, NumChannels: s.n, Priority: s.p, PacketSize: 256,
		})
	}

	// 21-25: point-to-point (world size 2), a spread of gaps.
	p2pGaps := []int32{0, 1, 2, 4, 8}
	for _, g := range p2pGaps {
		add("point_to_point_gap", ModePointToPoint, Defaults{
			FlushSize: 1000, MaxGap: g, PacketSize: 1024,
			MinPacketSize: 1024, MaxPacketSize: 1024,
		})
	}

	// 26: large-channel-count runner stress test, original_source's
	// top-numbered benchmark exercising every channel type together.
	add("channel_runner_stress", ModeChannelRunner, Defaults{
		SyncIters: 50, NumChannels: 16, Priority: 4, PacketSize: 512,
	})

	return r
}
