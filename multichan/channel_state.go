package multichan

import "sync"

// ChannelSpec describes one logical channel: its element type (for the
// startup schema fingerprint) and the marshal/unmarshal pair used to move
// values to and from wire bytes. Generic Send/Receive wrappers in this
// package cast through `any` at this boundary, since Go does not support
// a slice of heterogeneously-typed generic channel descriptors.
type ChannelSpec struct {
	TypeName  string
	Marshal   func(any) ([]byte, error)
	Unmarshal func([]byte) (any, error)
}

// channelState holds one channel's queues and EOF/sync/ack counters. All
// fields are touched by the poll loop; recvQ/localEOF/closed are also read
// by consumer-side blocking calls, guarded by mu.
type channelState struct {
	spec ChannelSpec

	mu   sync.Mutex
	cond *sync.Cond

	sendQ []sendItem

	recvQ        [][]byte
	recvEOFCount int // global_eof[c]: how many ranks have declared EOF on c
	recvClosed   bool

	localEOF bool

	syncCount int
	ackCount  int
	syncCond  *sync.Cond
	synced    int // how many local synchronize() calls have been released
}

type sendItem struct {
	mt      msgType
	dest    int // meaningful only for msgData
	payload []byte
}

func newChannelState(spec ChannelSpec) *channelState {
	cs := &channelState{spec: spec}
	cs.cond = sync.NewCond(&cs.mu)
	cs.syncCond = sync.NewCond(&cs.mu)
	return cs
}
