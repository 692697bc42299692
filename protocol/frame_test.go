package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := []Frame{
		{Op: OpStatus, Payload: nil},
		{Op: OpSetFrequency, Payload: []byte{3}},
		{Op: OpMeasurement, Payload: bytes.Repeat([]byte{0xAA, 0x55}, 64)},
		{Op: OpQueryOrientation.Response(), Payload: make([]byte, 24)},
	}

	dec := NewDecoder()
	for _, f := range frames {
		dec.Feed(EncodeFrame(f))
	}

	for i, want := range frames {
		got, ok := dec.Next()
		if !ok {
			t.Fatalf("frame %d: expected a decoded frame", i)
		}
		if got.Op != want.Op {
			t.Errorf("frame %d: opcode 0x%02x, want 0x%02x", i, byte(got.Op), byte(want.Op))
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("frame %d: payload mismatch", i)
		}
	}
	if _, ok := dec.Next(); ok {
		t.Error("expected no more frames")
	}
	if dec.Buffered() != 0 {
		t.Errorf("expected empty buffer, %d bytes left", dec.Buffered())
	}
}

func TestDecodeIncomplete(t *testing.T) {
	full := EncodeFrame(Frame{Op: OpMeasurement, Payload: bytes.Repeat([]byte{7}, 29)})

	// Every strict prefix must decode to "incomplete", never a frame.
	for cut := 1; cut < len(full); cut++ {
		dec := NewDecoder()
		dec.Feed(full[:cut])
		if f, ok := dec.Next(); ok {
			t.Fatalf("prefix of %d bytes decoded a frame with opcode 0x%02x", cut, byte(f.Op))
		}
		if dec.Buffered() != cut {
			t.Fatalf("prefix of %d bytes: buffer consumed down to %d", cut, dec.Buffered())
		}

		// Completing the frame later must succeed.
		dec.Feed(full[cut:])
		if _, ok := dec.Next(); !ok {
			t.Fatalf("prefix of %d bytes: frame not decoded after completion", cut)
		}
	}
}

func TestDecodeResync(t *testing.T) {
	valid := EncodeFrame(Frame{Op: OpStatus.Response(), Payload: []byte{80}})

	tests := []struct {
		name    string
		garbage []byte
	}{
		{"no sync marker", []byte{0x01, 0x02, 0x03, 0x04, 0x05}},
		{"false sync with impossible length", []byte{SyncByte, 0x40, 0xFF, 0xFF, 0x13}},
		{"lone sync byte", []byte{0x55}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dec := NewDecoder()
			dec.Feed(tc.garbage)
			dec.Feed(valid)

			f, ok := dec.Next()
			if !ok {
				t.Fatal("expected the valid frame after garbage")
			}
			if f.Op != OpStatus.Response() {
				t.Errorf("opcode 0x%02x, want 0x%02x", byte(f.Op), byte(OpStatus.Response()))
			}
			if !bytes.Equal(f.Payload, []byte{80}) {
				t.Errorf("payload %v, want [80]", f.Payload)
			}
			if dec.Discarded() == 0 {
				t.Error("expected discarded garbage to be counted")
			}
		})
	}
}

func TestDecodeResyncWindow(t *testing.T) {
	// A header declaring a frame too large for the resync window must be
	// abandoned as a false sync, and a later frame must still decode.
	dec := NewDecoder()
	dec.Feed([]byte{SyncByte, 0x40, 0x00, 0x02}) // declares 512 bytes, exceeding MaxPayload
	dec.Feed(bytes.Repeat([]byte{0x11}, 64))
	dec.Feed(EncodeFrame(Frame{Op: OpMeasurement, Payload: []byte{1, 2, 3}}))

	f, ok := dec.Next()
	if !ok {
		t.Fatal("expected frame after false sync")
	}
	if f.Op != OpMeasurement || !bytes.Equal(f.Payload, []byte{1, 2, 3}) {
		t.Errorf("decoded wrong frame: op 0x%02x payload %v", byte(f.Op), f.Payload)
	}
	if dec.Discarded() == 0 {
		t.Error("expected discarded garbage to be counted")
	}
}

func TestDecodeMaxSizeFrameChunked(t *testing.T) {
	// The largest legal frame must survive chunked arrival the way the
	// read loop delivers it, with Next polled after every chunk.
	want := Frame{Op: OpMeasurement, Payload: bytes.Repeat([]byte{0x5A}, MaxPayload)}
	wire := EncodeFrame(want)

	dec := NewDecoder()
	const chunk = 128
	for off := 0; off < len(wire); off += chunk {
		end := off + chunk
		if end > len(wire) {
			end = len(wire)
		}
		dec.Feed(wire[off:end])
		if end < len(wire) {
			if f, ok := dec.Next(); ok {
				t.Fatalf("frame with opcode 0x%02x decoded after only %d bytes", byte(f.Op), end)
			}
		}
	}

	f, ok := dec.Next()
	if !ok {
		t.Fatalf("max-size frame never decoded; discarded=%d buffered=%d", dec.Discarded(), dec.Buffered())
	}
	if f.Op != want.Op || !bytes.Equal(f.Payload, want.Payload) {
		t.Error("max-size frame corrupted by chunked decode")
	}
	if dec.Discarded() != 0 {
		t.Errorf("valid frame counted %d bytes as garbage", dec.Discarded())
	}
}

func TestCommandTimeoutClasses(t *testing.T) {
	if got, want := OpStatus.Timeout(), shortTimeout; got != want {
		t.Errorf("Status timeout %v, want %v", got, want)
	}
	if got, want := OpStart.Timeout(), longTimeout; got != want {
		t.Errorf("Start timeout %v, want %v", got, want)
	}
	if got, want := OpCalHorizontal.Timeout(), longTimeout; got != want {
		t.Errorf("CalHorizontal timeout %v, want %v", got, want)
	}
}

func TestResponseOpcode(t *testing.T) {
	if OpStatus.Response() != 0x81 {
		t.Errorf("Status response opcode 0x%02x, want 0x81", byte(OpStatus.Response()))
	}
	if !OpMeasurement.IsMeasurement() {
		t.Error("OpMeasurement must classify as measurement")
	}
	if OpStatus.IsMeasurement() {
		t.Error("OpStatus must not classify as measurement")
	}
}
