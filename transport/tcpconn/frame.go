// Package tcpconn is the two-sided TCP backend implementing
// transport.Transport: ordinary TCP sockets stand in for the tag-matched
// send/receive transport named in spec §6, following the full-mesh dial/
// accept shape and buffered-send/flush idiom of aistore's transport/bundle
// stream pool (transport/bundle/stream_bundle.go), adapted from HTTP object
// streams to a small length-prefixed frame.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package tcpconn

import (
	"encoding/binary"
	"io"
)

// frame classes distinguish the two delivery models this one Transport
// multiplexes over a single connection: plain (FIFO, untagged - used by
// Send/Broadcast/TryReceive, the wire model of both the multichannel
// communicator and the two-sided gap engine) and tagged (matched by
// (peer, tag) - used by AsyncSend/AsyncReceive/ReceiveFrom for the schema
// exchange, Barrier, and transport/rdmasim's control messages).
const (
	classPlain  byte = 0
	classTagged byte = 1
)

// frame header: class(1) + tag(4, zero for plain) + length(4).
const frameHeaderSize = 1 + 4 + 4

func writeFrame(w io.Writer, class byte, tag int32, payload []byte) error {
	hdr := make([]byte, frameHeaderSize)
	hdr[0] = class
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(tag))
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (class byte, tag int32, payload []byte, err error) {
	hdr := make([]byte, frameHeaderSize)
	if _, err = io.ReadFull(r, hdr); err != nil {
		return 0, 0, nil, err
	}
	class = hdr[0]
	tag = int32(binary.LittleEndian.Uint32(hdr[1:5]))
	n := binary.LittleEndian.Uint32(hdr[5:9])
	if n == 0 {
		return class, tag, nil, nil
	}
	payload = make([]byte, n)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, 0, nil, err
	}
	return class, tag, payload, nil
}
