// Package netstats tracks bytes sent/received and wall-clock elapsed time
// for one rank's run, deriving sustained upstream/downstream bandwidth, and
// optionally mirrors the counters into Prometheus instruments.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package netstats

import (
	"sync/atomic"
	"time"

	"github.com/grinuri/ib-benchmark/cmn/mono"
	"github.com/prometheus/client_golang/prometheus"
)

// NetStats accumulates byte counters against a monotonic timer started at
// construction and stopped by Finish. Safe for concurrent UpdateSent /
// UpdateReceived calls from multiple goroutines (the channel runner's
// producer and consumer goroutines update the same NetStats).
type NetStats struct {
	startNS  int64
	stopNS   atomic.Int64 // 0 while running
	sent     atomic.Uint64
	received atomic.Uint64

	prom *promInstruments
}

type promInstruments struct {
	sentTotal     prometheus.Counter
	receivedTotal prometheus.Counter
}

// New starts the timer immediately, mirroring original_source's NetStats
// constructor (util/net_stats.h), which starts its Timer in its own ctor.
func New() *NetStats {
	return &NetStats{startNS: mono.NanoTime()}
}

// WithPrometheus registers byte counters under the given rank label with
// reg, returning the same *NetStats for chaining. Registration failures
// (e.g. duplicate registration in tests) are ignored: metrics are optional
// instrumentation, never load-bearing for the benchmark's correctness.
func (n *NetStats) WithPrometheus(reg prometheus.Registerer, rank uint64) *NetStats {
	labels := prometheus.Labels{"rank": itoa(rank)}
	sentC := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "ibgapbench",
		Name:        "bytes_sent_total",
		Help:        "Total bytes sent by this rank.",
		ConstLabels: labels,
	})
	recvC := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "ibgapbench",
		Name:        "bytes_received_total",
		Help:        "Total bytes received by this rank.",
		ConstLabels: labels,
	})
	_ = reg.Register(sentC)
	_ = reg.Register(recvC)
	n.prom = &promInstruments{sentTotal: sentC, receivedTotal: recvC}
	return n
}

func (n *NetStats) UpdateSent(numBytes uint64) {
	n.sent.Add(numBytes)
	if n.prom != nil {
		n.prom.sentTotal.Add(float64(numBytes))
	}
}

func (n *NetStats) UpdateReceived(numBytes uint64) {
	n.received.Add(numBytes)
	if n.prom != nil {
		n.prom.receivedTotal.Add(float64(numBytes))
	}
}

// Finish stops the timer; subsequent bandwidth computations use the frozen
// elapsed duration. Idempotent.
func (n *NetStats) Finish() {
	n.stopNS.CompareAndSwap(0, mono.NanoTime())
}

func (n *NetStats) BytesSent() uint64     { return n.sent.Load() }
func (n *NetStats) BytesReceived() uint64 { return n.received.Load() }

func (n *NetStats) SecondsPassed() float64 {
	end := n.stopNS.Load()
	if end == 0 {
		end = mono.NanoTime()
	}
	return time.Duration(end - n.startNS).Seconds()
}

// minElapsed guards against division by zero when I=0 (spec §8 boundary:
// "no division by zero in bandwidth").
const minElapsed = 1e-9

func (n *NetStats) UpstreamBandwidth() float64 {
	secs := n.SecondsPassed()
	if secs < minElapsed {
		secs = minElapsed
	}
	return float64(n.BytesSent()) / secs
}

func (n *NetStats) DownstreamBandwidth() float64 {
	secs := n.SecondsPassed()
	if secs < minElapsed {
		secs = minElapsed
	}
	return float64(n.BytesReceived()) / secs
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
