// Package transport defines the abstract contract a backend must honour
// (spec §6). The core - the gap engines and the multi-channel communicator -
// is written entirely against this interface; everything about the
// underlying fabric (TCP sockets here, simulated RDMA elsewhere) stays out
// of their way. This mirrors original_source's split between
// communication/backend_{mpi,ucx}.{h,cc} and the engines that are templated
// over a backend type.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

// AtomicOp enumerates the one-sided atomic operations a backend must
// support. The spec names only ADD.
type AtomicOp int

const Add AtomicOp = 0

// Handle is an opaque registered-memory handle returned by RegisterMemory.
// Backends type-assert it back to their own concrete type; callers must
// treat it as opaque.
type Handle any

// RemoteDescriptor is what a peer needs to address memory we registered:
// a remote address together with the remote-key required to authorize
// one-sided access to it.
type RemoteDescriptor struct {
	Addr uint64
	RKey uint64
}

// Callback is invoked once an async operation's local completion is known.
// A nil error means success; backends surface TransportError otherwise.
type Callback func(error)

// Transport is the full contract consumed by the core (multi-channel
// communicator, both gap engines). Not every engine exercises every method:
// the two-sided/multichannel path uses Send/Flush/Broadcast/TryReceive/
// DoneSending/AsyncSend/AsyncReceive/Barrier; the one-sided path additionally
// uses RegisterMemory/AsyncExposeMemory/AsyncObtainMemory/AsyncPutMemory/
// AtomicPost/Fence.
type Transport interface {
	Rank() int
	Size() int

	// Send appends msg to a per-dest buffer, flushing when the configured
	// batch size is reached.
	Send(dest int, msg []byte) error
	// Flush force-sends all buffered bytes.
	Flush() error
	// Broadcast sends to every rank including self, then flushes.
	Broadcast(msg []byte) error
	// TryReceive is non-blocking; it returns any messages that have
	// arrived since the last call, or ok=false if none have.
	TryReceive() (msgs [][]byte, ok bool)
	// DoneSending reports whether no sends remain in flight.
	DoneSending() bool
	// Barrier is a collective synchronization point.
	Barrier() error

	// AsyncSend is a tagged two-sided send; messages with the same
	// (sender, receiver, tag) are delivered in FIFO order.
	AsyncSend(dest int, buf []byte, tag int, cb Callback) error
	// AsyncReceive is a tagged two-sided receive.
	AsyncReceive(buf []byte, tag int, cb Callback) error

	// RegisterMemory pins buf for one-sided remote access.
	RegisterMemory(buf []byte) (Handle, error)
	// AsyncExposeMemory publishes this rank's descriptor for h to peer via
	// an out-of-band round.
	AsyncExposeMemory(peer int, h Handle) error
	// AsyncObtainMemory retrieves peer's previously-exposed descriptor.
	AsyncObtainMemory(peer int) (RemoteDescriptor, error)

	// AsyncPutMemory is a one-sided write into previously registered
	// remote memory.
	AsyncPutMemory(dest int, local []byte, remote RemoteDescriptor, cb Callback) error
	// AtomicPost performs a one-sided atomic operation against a remote
	// memory cell of the given width (4 or 8 bytes).
	AtomicPost(dest int, op AtomicOp, value uint64, width int, remote RemoteDescriptor) error

	// Fence orders prior one-sided operations ahead of subsequent ones.
	Fence() error
	// Run pumps the backend until all posted operations complete.
	Run() error

	// Close releases transport resources. Implementations perform a
	// best-effort Flush+Barrier first (spec §3 Lifecycles).
	Close() error
}
