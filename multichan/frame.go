// Package multichan implements the multi-channel send/receive communicator:
// N typed channels layered over one transport.Transport, framed with a
// trailing (msg_type, channel_id) pair, driven by a single poll-loop
// goroutine that owns the transport exclusively. Producers and consumers
// reach the transport only through per-channel queues.
//
// Grounded on original_source's communicator.{h,inl} for the queue/EOF/
// sync/ack contract, and on aistore's transport/bundle round-robin
// multi-stream idiom (transport/bundle/stream_bundle.go) for the shape of
// "one background loop pumping several logical streams over one backend."
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package multichan

// msgType is the control-message discriminant carried in the wire trailer.
type msgType byte

const (
	msgData msgType = iota
	msgEOF
	msgSync
	msgAck
)

// Framing puts the trailer at the END of the buffer (payload ∥ type ∥
// channel), not a header - this lets a zero-length control payload (eof)
// still carry its trailer without a separate length field.
const trailerSize = 2

func encodeFrame(payload []byte, mt msgType, channel byte) []byte {
	buf := make([]byte, len(payload)+trailerSize)
	copy(buf, payload)
	buf[len(buf)-2] = byte(mt)
	buf[len(buf)-1] = channel
	return buf
}

func decodeFrame(buf []byte) (payload []byte, mt msgType, channel byte, ok bool) {
	if len(buf) < trailerSize {
		return nil, 0, 0, false
	}
	n := len(buf) - trailerSize
	return buf[:n], msgType(buf[n]), buf[n+1], true
}
