// Package rdmasim simulates the one-sided RDMA contract (spec §6: register
// memory, expose/obtain remote descriptors, put, atomic add, fence) over a
// tcpconn.Backend. No RDMA or UCX binding exists in the Go ecosystem, so
// "one-sided" here is simulated: a put or atomic is a tiny control message
// that the receiver applies directly into the target buffer on arrival,
// exactly mirroring the effect (memory changes without the CPU posting a
// receive) without the actual hardware bypass. This is the documented
// substitution for original_source's UCX one-sided path
// (ucx_1side_gap_runner.h, exchange_metadata.h).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package rdmasim

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/grinuri/ib-benchmark/cmn/cos"
	"github.com/grinuri/ib-benchmark/transport"
	"github.com/grinuri/ib-benchmark/transport/oob"
	"github.com/grinuri/ib-benchmark/transport/tcpconn"
)

// region is a registered buffer: rdmasim addresses a region by an opaque
// handle and simulates remote access by looking the region up on receipt
// of a put/atomic control message that carries the handle id.
type region struct {
	buf []byte
}

// Backend layers the one-sided simulation on top of an underlying
// tcpconn.Backend, which continues to carry Send/Broadcast/TryReceive/
// Barrier/AsyncSend/AsyncReceive for whichever parts of the stack still use
// two-sided messaging (e.g. the OOB descriptor exchange itself).
type Backend struct {
	*tcpconn.Backend

	mu      sync.Mutex
	regions map[uint64]*region
	nextID  uint64
	exposed map[int]map[uint64]transport.RemoteDescriptor // peer -> handle id -> descriptor they gave us

	doneCh chan struct{}
}

const (
	tagExpose = 9001
	tagPut    = 9002
	tagAtomic = 9003
)

// Dial establishes the underlying full mesh and starts the background pump
// that applies incoming put/atomic control messages.
func Dial(peers *oob.Peers, listenAddr string, flushSize int) (*Backend, error) {
	under, err := tcpconn.Dial(peers, listenAddr, flushSize)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		Backend: under,
		regions: make(map[uint64]*region),
		exposed: make(map[int]map[uint64]transport.RemoteDescriptor),
		doneCh:  make(chan struct{}),
	}
	go b.pump()
	return b, nil
}

// RegisterMemory pins buf under a locally-unique handle id. An incoming
// atomic is applied through a *uint64 view taken at apply time, and only to
// regions exactly 8 bytes long.
func (b *Backend) RegisterMemory(buf []byte) (transport.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.regions[id] = &region{buf: buf}
	return id, nil
}

// AsyncExposeMemory sends peer our descriptor for handle h: the handle id
// doubles as both Addr and RKey since there is no real address space to
// cross - the simulated "remote key" is simply which locally-registered
// region to mutate when a put/atomic referencing it arrives.
func (b *Backend) AsyncExposeMemory(peer int, h transport.Handle) error {
	id, ok := h.(uint64)
	if !ok {
		return cos.NewErrConfig("rdmasim: invalid handle %v", h)
	}
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint64(payload[0:8], id)
	binary.LittleEndian.PutUint64(payload[8:16], id)
	return b.Backend.AsyncSend(peer, payload, tagExpose, nil)
}

// AsyncObtainMemory blocks until peer's descriptor for the handle they
// exposed to us has arrived via AsyncExposeMemory.
func (b *Backend) AsyncObtainMemory(peer int) (transport.RemoteDescriptor, error) {
	buf := make([]byte, 16)
	done := make(chan error, 1)
	b.Backend.ReceiveFrom(peer, tagExpose, buf, func(err error) { done <- err })
	if err := <-done; err != nil {
		return transport.RemoteDescriptor{}, err
	}
	desc := transport.RemoteDescriptor{
		Addr: binary.LittleEndian.Uint64(buf[0:8]),
		RKey: binary.LittleEndian.Uint64(buf[8:16]),
	}
	b.mu.Lock()
	if b.exposed[peer] == nil {
		b.exposed[peer] = make(map[uint64]transport.RemoteDescriptor)
	}
	b.exposed[peer][desc.RKey] = desc
	b.mu.Unlock()
	return desc, nil
}

// AsyncPutMemory simulates a one-sided write: it ships [rkey][local] as a
// control message that the destination's pump loop writes straight into
// the registered region named by rkey, without the destination's
// application code ever calling a receive.
func (b *Backend) AsyncPutMemory(dest int, local []byte, remote transport.RemoteDescriptor, cb transport.Callback) error {
	payload := make([]byte, 8+len(local))
	binary.LittleEndian.PutUint64(payload[0:8], remote.RKey)
	copy(payload[8:], local)
	return b.Backend.AsyncSend(dest, payload, tagPut, cb)
}

// AtomicPost simulates a remote fetch-and-add by shipping the delta; the
// destination's pump loop applies it atomically to the registered word.
// Only Add is defined by the spec.
func (b *Backend) AtomicPost(dest int, op transport.AtomicOp, value uint64, width int, remote transport.RemoteDescriptor) error {
	if op != transport.Add {
		return cos.NewErrConfig("rdmasim: unsupported atomic op %d", op)
	}
	if width != 8 {
		return cos.NewErrConfig("rdmasim: unsupported atomic width %d", width)
	}
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint64(payload[0:8], remote.RKey)
	binary.LittleEndian.PutUint64(payload[8:16], value)
	return b.Backend.AsyncSend(dest, payload, tagAtomic, nil)
}

// Fence drains the underlying two-sided layer's buffers so that every put
// and atomic issued before the call is guaranteed to have left the local
// send buffer. It does not wait for the peer's pump to apply them -
// matching the one-sided model, where fence orders local issue, not remote
// completion.
func (b *Backend) Fence() error {
	return b.Backend.Flush()
}

// Run pumps until told to stop; the simulation otherwise runs its control-
// message handling inline in readLoop via AsyncReceive callbacks installed
// by pump, so Run here just blocks until Close.
func (b *Backend) Run() error {
	<-b.doneCh
	return nil
}

// pump installs standing AsyncReceive handlers for put/atomic control
// messages from every peer and re-arms them after each delivery, since
// AsyncReceive is one-shot per call.
func (b *Backend) pump() {
	size := b.Backend.Size()
	for peer := 0; peer < size; peer++ {
		if peer == b.Backend.Rank() {
			continue
		}
		b.armPut(peer)
		b.armAtomic(peer)
	}
	<-b.doneCh
}

// maxPutPayload bounds the standing receive buffer armPut keeps posted for
// each peer. It must be at least as large as the biggest put a caller will
// ever issue; the largest configured one-sided chunk size in this module
// (bench's circular-mode entries) is 1 MiB, so 2 MiB leaves headroom.
const maxPutPayload = 2 << 20

func (b *Backend) armPut(peer int) {
	buf := make([]byte, maxPutPayload)
	var recv func(error)
	recv = func(err error) {
		if err == nil {
			b.applyPut(buf)
		}
		select {
		case <-b.doneCh:
			return
		default:
			b.Backend.ReceiveFrom(peer, tagPut, buf, recv)
		}
	}
	b.Backend.ReceiveFrom(peer, tagPut, buf, recv)
}

func (b *Backend) armAtomic(peer int) {
	buf := make([]byte, 16)
	var recv func(error)
	recv = func(err error) {
		if err == nil {
			b.applyAtomic(buf)
		}
		select {
		case <-b.doneCh:
			return
		default:
			b.Backend.ReceiveFrom(peer, tagAtomic, buf, recv)
		}
	}
	b.Backend.ReceiveFrom(peer, tagAtomic, buf, recv)
}

func (b *Backend) applyPut(buf []byte) {
	rkey := binary.LittleEndian.Uint64(buf[0:8])
	b.mu.Lock()
	r, ok := b.regions[rkey]
	b.mu.Unlock()
	if !ok {
		return
	}
	copy(r.buf, buf[8:])
}

func (b *Backend) applyAtomic(buf []byte) {
	rkey := binary.LittleEndian.Uint64(buf[0:8])
	delta := binary.LittleEndian.Uint64(buf[8:16])
	b.mu.Lock()
	r, ok := b.regions[rkey]
	b.mu.Unlock()
	if !ok || len(r.buf) != 8 {
		return
	}
	p := (*uint64)(unsafe.Pointer(&r.buf[0]))
	atomic.AddUint64(p, delta)
}

// Close stops the pump and tears down the underlying connection.
func (b *Backend) Close() error {
	close(b.doneCh)
	return b.Backend.Close()
}
