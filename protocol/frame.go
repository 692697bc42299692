// Package protocol implements the EMFAD wire format: sync-marker framing
// with little-endian length prefixes, the command opcode set and the
// streaming frame decoder with garbage resynchronization.
package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// SyncByte starts every frame on the wire.
	SyncByte = 0xAA

	headerSize = 4 // sync, opcode, 2-byte LE payload length

	// resyncWindow bounds how many bytes the decoder buffers for a single
	// frame. A header declaring a frame that cannot fit in the window is a
	// false sync, so every accepted frame completes before the window
	// fills.
	resyncWindow = 512

	// MaxPayload is the largest payload length the decoder accepts,
	// bounded so a whole frame always fits inside the resync window. Real
	// payloads are far smaller (the largest is the 29-byte measurement).
	MaxPayload = resyncWindow - headerSize
)

// Frame is one decoded wire frame: the opcode plus its raw payload.
// Frames are consumed and discarded within one decode cycle; the payload
// slice is owned by the receiver.
type Frame struct {
	Op      Opcode
	Payload []byte
}

// Len returns the declared payload length.
func (f *Frame) Len() int {
	return len(f.Payload)
}

// EncodeCommand renders a command request into its wire representation.
func EncodeCommand(req CommandRequest) []byte {
	if len(req.Params) > MaxPayload {
		// Callers build params from fixed layouts; this is a programming
		// error, not a runtime condition.
		panic(fmt.Sprintf("protocol: command params length %d exceeds %d", len(req.Params), MaxPayload))
	}
	buf := make([]byte, headerSize+len(req.Params))
	buf[0] = SyncByte
	buf[1] = byte(req.Op)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(req.Params)))
	copy(buf[headerSize:], req.Params)
	return buf
}

// EncodeFrame renders a frame into its wire representation. Used by tests
// and device simulators; the instrument side of the protocol is identical
// to the command encoding.
func EncodeFrame(f Frame) []byte {
	return EncodeCommand(CommandRequest{Op: f.Op, Params: f.Payload})
}

// Decoder incrementally extracts frames from a byte stream. Feed appends
// received chunks, Next consumes at most one complete frame per call.
// The decoder never blocks and never retries; scheduling is the caller's
// concern.
type Decoder struct {
	buf       []byte
	discarded int
}

// NewDecoder returns an empty stream decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a received chunk to the decode buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes waiting to be decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Discarded returns the total number of garbage bytes skipped during
// resynchronization and resets the counter.
func (d *Decoder) Discarded() int {
	n := d.discarded
	d.discarded = 0
	return n
}

// Next returns the next complete frame, or (nil, false) when the buffered
// bytes do not yet contain one. An incomplete frame leaves the buffer
// untouched so that a later Feed can complete it. Garbage before a sync
// marker and headers declaring a frame that cannot fit in the resync
// window are skipped and counted.
func (d *Decoder) Next() (*Frame, bool) {
	for {
		// Drop everything before the first sync marker.
		skipped := 0
		for skipped < len(d.buf) && d.buf[skipped] != SyncByte {
			skipped++
		}
		if skipped > 0 {
			d.buf = d.buf[skipped:]
			d.discarded += skipped
		}
		if len(d.buf) < headerSize {
			return nil, false
		}

		payloadLen := int(binary.LittleEndian.Uint16(d.buf[2:4]))
		if payloadLen > MaxPayload {
			// A frame this long can never complete within the resync
			// window. Skip the false sync and rescan.
			d.buf = d.buf[1:]
			d.discarded++
			continue
		}

		total := headerSize + payloadLen
		if len(d.buf) < total {
			return nil, false
		}

		frame := &Frame{
			Op:      Opcode(d.buf[1]),
			Payload: append([]byte(nil), d.buf[headerSize:total]...),
		}
		d.buf = d.buf[total:]
		return frame, true
	}
}
