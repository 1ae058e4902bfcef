package multichan

import "github.com/grinuri/ib-benchmark/cmn/cos"

// Send marshals value with channel ch's codec and enqueues it for dest.
// Returns cos.ErrUsageAfterEOF if mark_eof(c) was already called locally.
func Send[T any](c *Communicator, ch int, value T, dest int) error {
	cs := c.channels[ch]
	payload, err := cs.spec.Marshal(value)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.localEOF {
		return cos.ErrUsageAfterEOF
	}
	cs.sendQ = append(cs.sendQ, sendItem{mt: msgData, dest: dest, payload: payload})
	cs.cond.Signal()
	return nil
}

// Receive blocks until a value arrives on ch, or the channel is fully
// closed (every rank's EOF observed and the local queue drained), in which
// case ok is false.
func Receive[T any](c *Communicator, ch int) (value T, ok bool) {
	cs := c.channels[ch]
	cs.mu.Lock()
	for len(cs.recvQ) == 0 && !cs.recvClosed {
		cs.cond.Wait()
	}
	if len(cs.recvQ) == 0 {
		cs.mu.Unlock()
		return value, false
	}
	payload := cs.recvQ[0]
	cs.recvQ = cs.recvQ[1:]
	cs.mu.Unlock()

	v, err := cs.spec.Unmarshal(payload)
	if err != nil {
		return value, false
	}
	return v.(T), true
}

// TryReceive is Receive's non-blocking counterpart: ok is false if the
// queue is currently empty, whether or not the channel has closed.
func TryReceive[T any](c *Communicator, ch int) (value T, ok bool) {
	cs := c.channels[ch]
	cs.mu.Lock()
	if len(cs.recvQ) == 0 {
		cs.mu.Unlock()
		return value, false
	}
	payload := cs.recvQ[0]
	cs.recvQ = cs.recvQ[1:]
	cs.mu.Unlock()

	v, err := cs.spec.Unmarshal(payload)
	if err != nil {
		return value, false
	}
	return v.(T), true
}

// SendAny is Send without a generic type parameter, for callers (the
// channel runner) that hold channel values boxed as `any` because a single
// driver manages channels of differing element types.
func SendAny(c *Communicator, ch int, value any, dest int) error {
	cs := c.channels[ch]
	payload, err := cs.spec.Marshal(value)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.localEOF {
		return cos.ErrUsageAfterEOF
	}
	cs.sendQ = append(cs.sendQ, sendItem{mt: msgData, dest: dest, payload: payload})
	cs.cond.Signal()
	return nil
}

// TryReceiveAny is TryReceive's `any`-boxed counterpart.
func TryReceiveAny(c *Communicator, ch int) (value any, ok bool) {
	cs := c.channels[ch]
	cs.mu.Lock()
	if len(cs.recvQ) == 0 {
		cs.mu.Unlock()
		return nil, false
	}
	payload := cs.recvQ[0]
	cs.recvQ = cs.recvQ[1:]
	cs.mu.Unlock()
	v, err := cs.spec.Unmarshal(payload)
	if err != nil {
		return nil, false
	}
	return v, true
}

// MarkEOF posts a final EOF sentinel into ch's send queue and flips the
// local-EOF sticky flag. Prior data in the send queue is drained ahead of
// it because the poll loop processes queues in enqueue order.
func MarkEOF(c *Communicator, ch int) error {
	cs := c.channels[ch]
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.localEOF {
		return cos.ErrUsageAfterEOF
	}
	cs.localEOF = true
	cs.sendQ = append(cs.sendQ, sendItem{mt: msgEOF})
	cs.cond.Signal()
	return nil
}

// Synchronize posts a sync marker and blocks until every rank has synced
// on ch and the resulting ack round has completed: a barrier for messages
// on ch sent before this call, but not across channels.
func Synchronize(c *Communicator, ch int) error {
	cs := c.channels[ch]
	cs.mu.Lock()
	target := cs.synced + 1
	cs.sendQ = append(cs.sendQ, sendItem{mt: msgSync})
	cs.cond.Signal()
	for cs.synced < target {
		cs.syncCond.Wait()
	}
	cs.mu.Unlock()
	return nil
}
