package multichan

import (
	"strconv"
	"time"
)

// Run is the single poll-loop thread: it owns the transport exclusively,
// draining every channel's send queue, pumping the transport's receive
// side, and dispatching by (msg_type, channel_id) until every channel is
// fully closed. It never blocks - it spins on try_receive and a fixed
// flush-interval heuristic, per the concurrency model this mirrors.
func Run(c *Communicator) error {
	c.running.Store(true)
	defer c.running.Store(false)
	for !c.allDone() {
		if err := c.pollOnce(); err != nil {
			return err
		}
	}
	c.stopped.Store(true)
	return nil
}

func (c *Communicator) allDone() bool {
	for _, cs := range c.channels {
		cs.mu.Lock()
		closed := cs.recvClosed && len(cs.recvQ) == 0
		cs.mu.Unlock()
		if !closed {
			return false
		}
	}
	return true
}

func (c *Communicator) pollOnce() error {
	if err := c.drainSendQueues(); err != nil {
		return err
	}
	c.dispatchReceived()
	if time.Since(c.lastFlush) >= flushInterval {
		if err := c.t.Flush(); err != nil {
			return err
		}
		c.lastFlush = time.Now()
	}
	return nil
}

func (c *Communicator) drainSendQueues() error {
	for idx, cs := range c.channels {
		cs.mu.Lock()
		queue := cs.sendQ
		cs.sendQ = nil
		cs.mu.Unlock()

		for _, item := range queue {
			if err := c.dispatchSend(idx, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Communicator) dispatchSend(ch int, item sendItem) error {
	switch item.mt {
	case msgData:
		buf := encodeFrame(item.payload, msgData, byte(ch))
		return c.t.Send(item.dest, buf)
	case msgEOF:
		buf := encodeFrame(nil, msgEOF, byte(ch))
		return c.broadcastAndFlush(buf)
	case msgSync, msgAck:
		buf := encodeFrame([]byte(strconv.Itoa(c.rank)), item.mt, byte(ch))
		return c.broadcastAndFlush(buf)
	}
	return nil
}

func (c *Communicator) broadcastAndFlush(buf []byte) error {
	if err := c.t.Broadcast(buf); err != nil {
		return err
	}
	c.lastFlush = time.Now()
	return nil
}

func (c *Communicator) dispatchReceived() {
	msgs, ok := c.t.TryReceive()
	if !ok {
		return
	}
	for _, buf := range msgs {
		payload, mt, chByte, ok := decodeFrame(buf)
		if !ok || int(chByte) >= len(c.channels) {
			continue
		}
		cs := c.channels[chByte]
		switch mt {
		case msgData:
			cs.mu.Lock()
			cs.recvQ = append(cs.recvQ, payload)
			cs.cond.Broadcast()
			cs.mu.Unlock()
		case msgEOF:
			cs.mu.Lock()
			cs.recvEOFCount++
			if cs.recvEOFCount == c.size {
				cs.recvClosed = true
				cs.cond.Broadcast()
			}
			cs.mu.Unlock()
		case msgSync:
			cs.mu.Lock()
			cs.syncCount++
			if cs.syncCount == c.size {
				cs.sendQ = append(cs.sendQ, sendItem{mt: msgAck})
			}
			cs.mu.Unlock()
		case msgAck:
			cs.mu.Lock()
			cs.ackCount++
			if cs.ackCount == c.size {
				cs.syncCount -= c.size
				cs.ackCount -= c.size
				cs.synced++
				cs.syncCond.Broadcast()
			}
			cs.mu.Unlock()
		}
	}
}
