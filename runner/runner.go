// Package runner drives a multichan.Communicator with typed traffic per
// §4.5: a producer emits weighted per-channel packet bursts to every route
// destination, periodically synchronizing, then marks every channel's EOF
// and joins the poll loop; a consumer drains and discards received values
// concurrently. Grounded on original_source's ucx_channel_runner.h for the
// three-role (producer/poll/consumer) split, and on golang.org/x/sync's
// errgroup idiom - widely used across the example pack for exactly this
// "run N goroutines, propagate the first error, wait for all" shape - in
// place of original_source's raw std::thread joins.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package runner

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/grinuri/ib-benchmark/cmn/cos"
	"github.com/grinuri/ib-benchmark/multichan"
	"github.com/grinuri/ib-benchmark/netstats"
	"github.com/grinuri/ib-benchmark/router"
	"github.com/grinuri/ib-benchmark/transport"
)

// ChannelConfig binds one channel's wire schema to a priority weight
// (1+Priority packets emitted per destination per iteration) and a
// generator that produces the next value to send, given the next packet id
// for that channel.
type ChannelConfig struct {
	Spec     multichan.ChannelSpec
	Priority int
	Generate func(id int32) any
}

// Config parameterises one runner instance.
type Config struct {
	Iterations int
	SyncEvery  int // iters_to_sync; 0 disables periodic synchronize
	Route      []router.Rank
	Channels   []ChannelConfig
	Stats      *netstats.NetStats // accumulates bytes sent/received; nil disables accounting
}

// Runner owns a Communicator and the three goroutines that drive it.
type Runner struct {
	cfg  Config
	comm *multichan.Communicator
}

// New constructs the communicator (running the channel-type schema
// exchange) and the runner on top of it.
func New(t transport.Transport, cfg Config) (*Runner, error) {
	if len(cfg.Channels) == 0 {
		return nil, cos.NewErrConfig("runner: at least one channel is required")
	}
	specs := make([]multichan.ChannelSpec, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		specs[i] = ch.Spec
	}
	comm, err := multichan.New(t, specs)
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, comm: comm}, nil
}

// Run launches the producer, the poll loop, and the consumer, and blocks
// until all three have finished. A Communicator-level error (e.g. a
// transport failure surfaced from the poll loop) is returned; the
// consumer's own errors are never fatal since it only discards data.
func (r *Runner) Run() error {
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return multichan.Run(r.comm) })
	g.Go(func() error { r.consume(ctx); return nil })
	g.Go(func() error { return r.produce() })
	return g.Wait()
}

func (r *Runner) produce() error {
	nextID := make([]int32, len(r.cfg.Channels))
	for iter := 1; iter <= r.cfg.Iterations; iter++ {
		for _, dest := range r.cfg.Route {
			for ci, ch := range r.cfg.Channels {
				count := 1 + ch.Priority
				for k := 0; k < count; k++ {
					nextID[ci]++
					value := ch.Generate(nextID[ci])
					if r.cfg.Stats != nil {
						if payload, err := ch.Spec.Marshal(value); err == nil {
							r.cfg.Stats.UpdateSent(uint64(len(payload)))
						}
					}
					if err := multichan.SendAny(r.comm, ci, value, int(dest)); err != nil {
						return err
					}
				}
			}
		}
		if r.cfg.SyncEvery > 0 && iter%r.cfg.SyncEvery == 0 {
			for ci := range r.cfg.Channels {
				if err := multichan.Synchronize(r.comm, ci); err != nil {
					return err
				}
			}
		}
	}
	for ci := range r.cfg.Channels {
		if err := multichan.MarkEOF(r.comm, ci); err != nil {
			return err
		}
	}
	return nil
}

// consume drains try_receive on every channel until the poll loop has
// observed every channel closed; it discards values, since this driver
// measures send-side throughput only.
func (r *Runner) consume(ctx context.Context) {
	for !r.comm.Stopped() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		for ci, ch := range r.cfg.Channels {
			for {
				value, ok := multichan.TryReceiveAny(r.comm, ci)
				if !ok {
					break
				}
				if r.cfg.Stats != nil {
					if payload, err := ch.Spec.Marshal(value); err == nil {
						r.cfg.Stats.UpdateReceived(uint64(len(payload)))
					}
				}
			}
		}
	}
}
