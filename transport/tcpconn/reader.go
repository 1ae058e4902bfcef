package tcpconn

import (
	"errors"
	"io"
	"net"

	"github.com/grinuri/ib-benchmark/cmn/nlog"
)

// readLoop owns one connection's receive side for its whole lifetime,
// demultiplexing plain frames into the shared inbound queue and tagged
// frames into the tag-matching table. One goroutine per peer keeps frame
// ordering per-connection, which is what FIFO tag delivery (spec §4.1)
// relies on.
func (b *Backend) readLoop(peer int, conn net.Conn) {
	for {
		class, tag, payload, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !b.isClosed() {
				nlog.Warningf("tcpconn: read from rank %d: %v", peer, err)
			}
			return
		}
		switch class {
		case classPlain:
			b.inboundMu.Lock()
			b.inbound = append(b.inbound, payload)
			b.inboundMu.Unlock()
		case classTagged:
			b.deliverTagged(peer, tag, payload)
		default:
			nlog.Warningf("tcpconn: unknown frame class %d from rank %d", class, peer)
		}
	}
}

func (b *Backend) isClosed() bool {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	return b.closed
}
