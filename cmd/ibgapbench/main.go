// Command ibgapbench runs one rank of the distributed all-to-all gap
// benchmark: it resolves peers, loads the routing table, dispatches to the
// engine named by test_num, and prints this rank's throughput line.
// Grounded on original_source/src/main.cc's argv-to-template-instantiation
// dispatch, reshaped as a registry lookup (package bench) since Go has no
// template-instantiation equivalent.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/grinuri/ib-benchmark/bench"
	"github.com/grinuri/ib-benchmark/cmn/cos"
	"github.com/grinuri/ib-benchmark/cmn/nlog"
	"github.com/grinuri/ib-benchmark/config"
	"github.com/grinuri/ib-benchmark/gap1side"
	"github.com/grinuri/ib-benchmark/gap2side"
	"github.com/grinuri/ib-benchmark/multichan"
	"github.com/grinuri/ib-benchmark/netstats"
	"github.com/grinuri/ib-benchmark/router"
	"github.com/grinuri/ib-benchmark/runner"
	"github.com/grinuri/ib-benchmark/transport/oob"
	"github.com/grinuri/ib-benchmark/transport/rdmasim"
	"github.com/grinuri/ib-benchmark/transport/tcpconn"
)

func main() {
	worldSize := flag.Int("world-size", 1, "world size for TCP discovery (ignored under MPI-style env discovery)")
	rendezvous := flag.String("rendezvous", "127.0.0.1:29500", "rank 0's rendezvous address for TCP discovery")
	listen := flag.String("listen", "127.0.0.1:29500", "this rank's own listen address")
	flag.Parse()

	cfg, err := config.Parse(flag.Args())
	if err != nil {
		cos.Exitf("%v", err)
	}

	peers, err := oob.Discover(*worldSize, *rendezvous, *listen)
	if err != nil {
		cos.Exitf("bootstrap: %v", err)
	}
	nlog.SetTitle(fmt.Sprintf("rank %d", peers.Rank))

	if err := cfg.ValidateWorldSize(peers.Size); err != nil {
		cos.Exitf("%v", err)
	}

	table, err := loadTable(cfg.RoutingTablePath)
	if err != nil {
		cos.ExitLogf("routing table: %v", err)
	}
	rt := router.New(router.Rank(peers.Size), router.Rank(peers.Rank), table, router.ToAll)
	if !rt.IsComplete() {
		nlog.Warningf("routing table is incomplete for world size %d", peers.Size)
	}

	stats, err := dispatch(cfg, peers, rt.Route())
	if err != nil {
		cos.ExitLogf("run: %v", err)
	}

	report(peers.Rank, stats)
	nlog.Flush(false)
}

func loadTable(path string) (router.Table, error) {
	if path == "" {
		return router.Table{}, nil
	}
	return router.LoadTable(path)
}

func dispatch(cfg *config.Config, peers *oob.Peers, route router.Route) (*netstats.NetStats, error) {
	switch cfg.Entry.Mode {
	case bench.ModeTwoSidedGap, bench.ModePointToPoint:
		return runTwoSided(cfg, peers, route)
	case bench.ModeOneSidedGap:
		return runOneSided(cfg, peers, route)
	case bench.ModeOneSidedCircular:
		return runOneSidedCircular(cfg, peers, route)
	case bench.ModeChannelRunner:
		return runChannelRunner(cfg, peers, route)
	default:
		return nil, cos.NewErrConfig("unhandled benchmark mode %v", cfg.Entry.Mode)
	}
}

func runTwoSided(cfg *config.Config, peers *oob.Peers, route router.Route) (*netstats.NetStats, error) {
	t, err := tcpconn.Dial(peers, peers.Addrs[peers.Rank], cfg.FlushSize)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	eng, err := gap2side.New(gap2side.Config{
		Iterations: cfg.Iterations,
		MaxGap:     cfg.MaxGap,
		PacketSize: cfg.PacketSize,
		WorldSize:  peers.Size,
		Rank:       peers.Rank,
		Route:      route,
	}, t)
	if err != nil {
		return nil, err
	}
	return eng.Run()
}

func runOneSided(cfg *config.Config, peers *oob.Peers, route router.Route) (*netstats.NetStats, error) {
	t, err := rdmasim.Dial(peers, peers.Addrs[peers.Rank], cfg.FlushSize)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	eng, err := gap1side.New(gap1side.Config{
		Iterations: cfg.Iterations,
		MaxGap:     cfg.MaxGap,
		PacketSize: cfg.PacketSize,
		WorldSize:  peers.Size,
		Rank:       peers.Rank,
		Route:      route,
	}, t)
	if err != nil {
		return nil, err
	}
	if err := eng.Setup(); err != nil {
		return nil, err
	}
	return eng.Run()
}

func runOneSidedCircular(cfg *config.Config, peers *oob.Peers, route router.Route) (*netstats.NetStats, error) {
	t, err := rdmasim.Dial(peers, peers.Addrs[peers.Rank], cfg.FlushSize)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	chunkSize := cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = cfg.Entry.Defaults.ChunkSize
	}
	totalBytes := int64(chunkSize) * int64(cfg.Entry.Defaults.ChunkCount)

	eng, err := gap1side.NewCircular(gap1side.CircularConfig{
		TotalBytes: totalBytes,
		ChunkSize:  chunkSize,
		Iterations: cfg.Iterations,
		MaxGap:     cfg.MaxGap,
		WorldSize:  peers.Size,
		Rank:       peers.Rank,
		Route:      route,
	}, t)
	if err != nil {
		return nil, err
	}
	if err := eng.Setup(); err != nil {
		return nil, err
	}
	return eng.Run()
}

func runChannelRunner(cfg *config.Config, peers *oob.Peers, route router.Route) (*netstats.NetStats, error) {
	t, err := tcpconn.Dial(peers, peers.Addrs[peers.Rank], cfg.FlushSize)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	numChannels := cfg.Entry.Defaults.NumChannels
	if numChannels < 1 {
		numChannels = 1
	}
	channels := make([]runner.ChannelConfig, numChannels)
	for i := range channels {
		channels[i] = runner.ChannelConfig{
			Spec:     int32ChannelSpec(fmt.Sprintf("int32chan%d", i)),
			Priority: cfg.Entry.Defaults.Priority,
			Generate: func(id int32) any { return id },
		}
	}

	stats := netstats.New()
	r, err := runner.New(t, runner.Config{
		Iterations: cfg.Iterations,
		SyncEvery:  cfg.SyncIters,
		Route:      route,
		Channels:   channels,
		Stats:      stats,
	})
	if err != nil {
		return nil, err
	}

	if err := r.Run(); err != nil {
		return stats, err
	}
	stats.Finish()
	return stats, nil
}

// int32ChannelSpec is the channel-runner mode's fixed wire schema: a plain
// little-endian int32, enough to drive a throughput measurement without
// needing a richer payload type per channel.
func int32ChannelSpec(typeName string) multichan.ChannelSpec {
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

func report(rank int, stats *netstats.NetStats) {
	sentMB := float64(stats.BytesSent()) / (1 << 20)
	recvMB := float64(stats.BytesReceived()) / (1 << 20)
	secs := stats.SecondsPassed()
	upGBps := stats.UpstreamBandwidth() / (1 << 30)
	downGBps := stats.DownstreamBandwidth() / (1 << 30)
	line := fmt.Sprintf("Rank %d sent %.2f MB / recv %.2f MB in %.3f sec at %.3f GB/s up, %.3f GB/s down",
		rank, sentMB, recvMB, secs, upGBps, downGBps)
	color.New(color.FgGreen).Fprintln(os.Stdout, line)
}
