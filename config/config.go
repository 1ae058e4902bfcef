// Package config parses the CLI's positional-argument surface (spec.md §6)
// into a validated Config, the way original_source/src/main.cc parses
// argv before dispatching to a benchmark template instantiation.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"strconv"

	"github.com/grinuri/ib-benchmark/bench"
	"github.com/grinuri/ib-benchmark/cmn/cos"
)

// Config is the fully-resolved set of parameters driving one run, after
// merging a bench.Entry's defaults with any positional overrides.
type Config struct {
	TestNum          int
	Entry            bench.Entry
	Iterations       int
	RoutingTablePath string // empty: no table file, fall back to default policy

	FlushSize     int
	SyncIters     int
	MaxGap        int32
	PacketSize    int
	MinPacketSize int
	MaxPacketSize int
	ChunkSize     int
}

// Parse consumes positional CLI arguments in the order spec.md §6 defines:
// test_num, iterations, [routing_table_path], then mode-specific overrides
// in the fixed order flush_size, sync_iters, max_gap, packet_size,
// min_packet_size, max_packet_size, chunk_size. Any trailing arguments may
// be omitted; omitted ones keep the registry entry's defaults.
func Parse(args []string) (*Config, error) {
	if len(args) < 2 {
		return nil, cos.NewErrConfig("usage: ibgapbench test_num iterations [routing_table_path] [flush_size] [sync_iters] [max_gap] [packet_size] [min_packet_size] [max_packet_size] [chunk_size]")
	}
	testNum, err := parseInt(args[0], "test_num")
	if err != nil {
		return nil, err
	}
	entry, err := bench.Lookup(testNum)
	if err != nil {
		return nil, err
	}
	iterations, err := parseInt(args[1], "iterations")
	if err != nil {
		return nil, err
	}
	if iterations < 0 {
		return nil, cos.NewErrConfig("iterations must be non-negative, got %d", iterations)
	}

	cfg := &Config{
		TestNum:       testNum,
		Entry:         entry,
		Iterations:    iterations,
		FlushSize:     entry.Defaults.FlushSize,
		SyncIters:     entry.Defaults.SyncIters,
		MaxGap:        entry.Defaults.MaxGap,
		PacketSize:    entry.Defaults.PacketSize,
		MinPacketSize: entry.Defaults.MinPacketSize,
		MaxPacketSize: entry.Defaults.MaxPacketSize,
		ChunkSize:     entry.Defaults.ChunkSize,
	}

	rest := args[2:]
	if len(rest) > 0 && !isNumeric(rest[0]) {
		cfg.RoutingTablePath = rest[0]
		rest = rest[1:]
	}

	pos := 0
	next := func() (string, bool) {
		if pos >= len(rest) {
			return "", false
		}
		v := rest[pos]
		pos++
		return v, true
	}

	if v, ok := next(); ok {
		n, err := parseInt(v, "flush_size")
		if err != nil {
			return nil, err
		}
		cfg.FlushSize = n
	}
	if v, ok := next(); ok {
		n, err := parseInt(v, "sync_iters")
		if err != nil {
			return nil, err
		}
		cfg.SyncIters = n
	}
	if v, ok := next(); ok {
		n, err := parseInt(v, "max_gap")
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, cos.NewErrConfig("max_gap must be non-negative, got %d", n)
		}
		cfg.MaxGap = int32(n)
	}
	if v, ok := next(); ok {
		n, err := parseInt(v, "packet_size")
		if err != nil {
			return nil, err
		}
		cfg.PacketSize = n
	}
	if v, ok := next(); ok {
		n, err := parseInt(v, "min_packet_size")
		if err != nil {
			return nil, err
		}
		cfg.MinPacketSize = n
	}
	if v, ok := next(); ok {
		n, err := parseInt(v, "max_packet_size")
		if err != nil {
			return nil, err
		}
		cfg.MaxPacketSize = n
	}
	if v, ok := next(); ok {
		n, err := parseInt(v, "chunk_size")
		if err != nil {
			return nil, err
		}
		cfg.ChunkSize = n
	}

	return cfg, nil
}

// ValidateWorldSize checks a mode's world-size requirement (spec §7):
// point-to-point requires exactly 2 ranks.
func (c *Config) ValidateWorldSize(worldSize int) error {
	if c.Entry.Mode == bench.ModePointToPoint && worldSize != 2 {
		return cos.NewErrConfig("point-to-point mode requires world size 2, got %d", worldSize)
	}
	return nil
}

func parseInt(s, field string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, cos.NewErrConfig("%s: invalid integer %q", field, s)
	}
	return n, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}
