// Package gap2side implements the two-sided, tag-transport gap-bounded
// all-to-all engine: each rank generates packets and fans them out to its
// route, releasing packet k only once k - latest_complete <= max_gap + 1.
// Progress is tracked by counting, per id, how many distinct peers have
// delivered it - FIFO per-sender delivery makes that count a correct global
// completion oracle without any auxiliary messaging.
//
// Grounded on original_source's ucx_2side_gap_runner.h /
// all_to_all_gap_runner.h: single-threaded production/poll/reap loop and
// per-id receipt counting. Each packet is encoded into a freshly allocated
// buffer; no send ring is kept.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package gap2side

import (
	"fmt"

	"github.com/grinuri/ib-benchmark/cmn/cos"
	"github.com/grinuri/ib-benchmark/netstats"
	"github.com/grinuri/ib-benchmark/packet"
	"github.com/grinuri/ib-benchmark/router"
	"github.com/grinuri/ib-benchmark/transport"
)

type state int

const (
	producing state = iota
	draining
	done
)

// Config parameterises one engine instance. PacketSize is the full wire
// size including the packet header; it must leave a payload that is a
// whole number of u32 words.
type Config struct {
	Iterations int
	MaxGap     int32
	PacketSize int
	WorldSize  int
	Rank       int
	Route      []router.Rank
	FixedValue *uint32
}

// Engine runs entirely on the caller's goroutine: producer, poller, and
// send-reaper are cooperatively interleaved within Run, matching the
// spec's single-threaded-on-the-transport design for this engine.
type Engine struct {
	cfg Config
	gen *packet.Generator
	t   transport.Transport

	receivedIDs    map[int32]int
	latestComplete int32
	receives       int64

	st state
}

// New validates configuration and constructs an engine. World-size and
// packet-size problems fail fast here, per spec §7.
func New(cfg Config, t transport.Transport) (*Engine, error) {
	if err := packet.ValidateElementAligned(cfg.PacketSize); err != nil {
		return nil, err
	}
	if cfg.WorldSize < 1 {
		return nil, cos.NewErrConfig("world size must be positive, got %d", cfg.WorldSize)
	}
	if cfg.MaxGap < 0 {
		return nil, cos.NewErrConfig("max_gap must be non-negative, got %d", cfg.MaxGap)
	}
	payloadWords := (cfg.PacketSize - headerSize()) / 4
	gen := packet.NewGenerator(uint64(cfg.Rank), payloadWords)
	if cfg.FixedValue != nil {
		gen = gen.WithFixedValue(*cfg.FixedValue)
	}
	return &Engine{
		cfg:         cfg,
		gen:         gen,
		t:           t,
		receivedIDs: make(map[int32]int),
	}, nil
}

func headerSize() int { return (&packet.Packet{}).WireSize() }

// LatestComplete returns the largest id for which every peer's send has
// been accounted for at this rank.
func (e *Engine) LatestComplete() int32 { return e.latestComplete }

// State reports PRODUCING, DRAINING, or DONE.
func (e *Engine) State() string {
	switch e.st {
	case producing:
		return "PRODUCING"
	case draining:
		return "DRAINING"
	default:
		return "DONE"
	}
}

// Receives returns the total number of individual packets received so far
// (not distinct ids) - the termination oracle is receives == I*(N-1).
func (e *Engine) Receives() int64 { return e.receives }

// Run drives the full contract: generate, gate on the gap, send to every
// route destination, then drain until every peer's packets have all
// arrived and every local send has completed.
func (e *Engine) Run() (*netstats.NetStats, error) {
	stats := netstats.New()
	if e.cfg.Iterations == 0 {
		stats.Finish()
		e.st = done
		return stats, nil
	}
	e.st = producing

	for id := int32(1); id <= int32(e.cfg.Iterations); id++ {
		pkt := e.gen.Next()
		buf := make([]byte, pkt.WireSize())
		packet.Encode(pkt, buf)

		for !e.maySend(id) {
			if err := e.pollOnce(stats); err != nil {
				return stats, err
			}
		}

		for _, dest := range e.cfg.Route {
			if err := e.t.Send(int(dest), buf); err != nil {
				return stats, &cos.ErrTransport{Op: fmt.Sprintf("send packet %d to rank %d", id, dest), Status: err}
			}
			stats.UpdateSent(uint64(len(buf)))
		}
		if err := e.t.Flush(); err != nil {
			return stats, &cos.ErrTransport{Op: "flush after send", Status: err}
		}
	}

	e.st = draining
	target := int64(e.cfg.Iterations) * int64(e.cfg.WorldSize-1)
	for e.receives < target {
		if err := e.pollOnce(stats); err != nil {
			return stats, err
		}
	}
	for !e.t.DoneSending() {
		if err := e.pollOnce(stats); err != nil {
			return stats, err
		}
	}
	e.st = done
	stats.Finish()
	return stats, nil
}

func (e *Engine) maySend(id int32) bool {
	return int64(id)-int64(e.latestComplete) <= int64(e.cfg.MaxGap)+1
}

// pollOnce drains whatever has arrived, updating the receipt-count oracle
// and stats' downstream byte counter, and is the engine's only suspension
// point while waiting on the gap or on outstanding sends to drain.
func (e *Engine) pollOnce(stats *netstats.NetStats) error {
	msgs, ok := e.t.TryReceive()
	if !ok {
		return nil
	}
	for _, buf := range msgs {
		_, id, err := packet.PeekSourceAndID(buf)
		if err != nil {
			return &cos.ErrTransport{Op: "decode received packet", Status: err}
		}
		stats.UpdateReceived(uint64(len(buf)))
		e.receivedIDs[id]++
		e.receives++
		if e.receivedIDs[id] == e.cfg.WorldSize-1 {
			delete(e.receivedIDs, id)
			if id > e.latestComplete {
				e.latestComplete = id
			}
		}
	}
	return nil
}
