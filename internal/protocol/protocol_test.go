package protocol

import (
	"bytes"
	"testing"
)

// ============================================================
// Checksum Tests
// ============================================================

func TestChecksum_Empty(t *testing.T) {
	if cs := Checksum(nil); cs != 0 {
		t.Errorf("Checksum(nil) = 0x%02X, want 0x00", cs)
	}
}

func TestChecksum_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{"single byte", []byte{0x5A}, 0x5A},
		{"self-cancel", []byte{0x5A, 0x5A}, 0x00},
		{"device command body", []byte{0x02, 0x03, 0x12}, 0x13},
		{"length and command only", []byte{0x01, 0x02}, 0x03},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if cs := Checksum(tt.data); cs != tt.expected {
				t.Errorf("Checksum(% X) = 0x%02X, want 0x%02X", tt.data, cs, tt.expected)
			}
		})
	}
}

// ============================================================
// Encode Tests
// ============================================================

func TestEncode_DeviceCommand(t *testing.T) {
	frame := Encode(CmdDeviceControl, []byte{0x12})
	want := []byte{StartByte, 0x02, 0x03, 0x12, 0x13, EndByte}
	if !bytes.Equal(frame, want) {
		t.Errorf("Encode = % X, want % X", frame, want)
	}
}

func TestEncode_EmptyPayload(t *testing.T) {
	frame := Encode(0x02, nil)
	want := []byte{StartByte, 0x01, 0x02, 0x03, EndByte}
	if !bytes.Equal(frame, want) {
		t.Errorf("Encode = % X, want % X", frame, want)
	}
}

func TestEncode_Layout(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	frame := Encode(0x7F, payload)

	if len(frame) != len(payload)+5 {
		t.Fatalf("frame length = %d, want %d", len(frame), len(payload)+5)
	}
	if frame[0] != StartByte {
		t.Errorf("SOF = 0x%02X, want 0x%02X", frame[0], StartByte)
	}
	if frame[1] != byte(1+len(payload)) {
		t.Errorf("LEN = %d, want %d", frame[1], 1+len(payload))
	}
	if frame[2] != 0x7F {
		t.Errorf("CMD = 0x%02X, want 0x7F", frame[2])
	}
	if !bytes.Equal(frame[3:3+len(payload)], payload) {
		t.Errorf("payload = % X, want % X", frame[3:3+len(payload)], payload)
	}
	if frame[len(frame)-2] != Checksum(frame[1:len(frame)-2]) {
		t.Error("checksum does not cover LEN+CMD+PAYLOAD")
	}
	if frame[len(frame)-1] != EndByte {
		t.Errorf("EOF = 0x%02X, want 0x%02X", frame[len(frame)-1], EndByte)
	}
}

// ============================================================
// Parser Tests
// ============================================================

// feedAll pushes a byte sequence through the parser and collects every
// decoded frame.
func feedAll(p *Parser, data []byte) []Frame {
	var frames []Frame
	for _, b := range data {
		if f, ok := p.Feed(b); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

func TestParser_RoundTrip_AllCommands(t *testing.T) {
	p := NewParser()
	payload := []byte{0x01, 0x02, 0x03}
	for cmd := 0; cmd < 256; cmd++ {
		frames := feedAll(p, Encode(byte(cmd), payload))
		if len(frames) != 1 {
			t.Fatalf("cmd 0x%02X: decoded %d frames, want 1", cmd, len(frames))
		}
		if frames[0].Cmd != byte(cmd) {
			t.Fatalf("cmd mismatch: got 0x%02X, want 0x%02X", frames[0].Cmd, cmd)
		}
		if !bytes.Equal(frames[0].Payload, payload) {
			t.Fatalf("cmd 0x%02X: payload mismatch: % X", cmd, frames[0].Payload)
		}
	}
}

func TestParser_RoundTrip_AllPayloadLengths(t *testing.T) {
	p := NewParser()
	for n := 0; n <= MaxPayloadSize; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i)
		}
		frames := feedAll(p, Encode(0x01, payload))
		if len(frames) != 1 {
			t.Fatalf("payload length %d: decoded %d frames, want 1", n, len(frames))
		}
		if !bytes.Equal(frames[0].Payload, payload) {
			t.Fatalf("payload length %d: payload mismatch", n)
		}
	}
}

func TestParser_PayloadContainingFramingBytes(t *testing.T) {
	// There is no byte stuffing: SOF/EOF values inside a payload must
	// pass through untouched while a frame is in flight.
	p := NewParser()
	payload := []byte{StartByte, EndByte, StartByte, 0x00, EndByte}
	frames := feedAll(p, Encode(0x01, payload))
	if len(frames) != 1 {
		t.Fatalf("decoded %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, payload) {
		t.Errorf("payload = % X, want % X", frames[0].Payload, payload)
	}
}

func TestParser_GarbagePrefix(t *testing.T) {
	p := NewParser()
	stream := append([]byte{0x00, 0xFF, 0x13, 0x37}, Encode(0x02, []byte{0x12})...)
	frames := feedAll(p, stream)
	if len(frames) != 1 {
		t.Fatalf("decoded %d frames, want 1", len(frames))
	}
	if frames[0].Cmd != 0x02 {
		t.Errorf("cmd = 0x%02X, want 0x02", frames[0].Cmd)
	}
}

func TestParser_ChecksumMismatchResyncs(t *testing.T) {
	p := NewParser()

	corrupted := Encode(0x01, []byte{0xAB, 0xCD})
	corrupted[len(corrupted)-2] ^= 0xFF // break the checksum

	stream := append(corrupted, Encode(0x02, []byte{0x12})...)
	frames := feedAll(p, stream)

	if len(frames) != 1 {
		t.Fatalf("decoded %d frames, want exactly 1 (the second)", len(frames))
	}
	if frames[0].Cmd != 0x02 {
		t.Errorf("cmd = 0x%02X, want 0x02", frames[0].Cmd)
	}
}

func TestParser_BadTerminatorResyncs(t *testing.T) {
	p := NewParser()

	bad := Encode(0x01, []byte{0x42})
	bad[len(bad)-1] = 0x00 // break the terminator

	stream := append(bad, Encode(0x03, []byte{0x01})...)
	frames := feedAll(p, stream)

	if len(frames) != 1 {
		t.Fatalf("decoded %d frames, want exactly 1", len(frames))
	}
	if frames[0].Cmd != 0x03 {
		t.Errorf("cmd = 0x%02X, want 0x03", frames[0].Cmd)
	}
}

func TestParser_TruncatedFrameThenValid(t *testing.T) {
	p := NewParser()

	truncated := Encode(0x01, []byte{0x01, 0x02, 0x03})[:4]
	stream := append(truncated, Encode(0x02, []byte{0x12})...)
	frames := feedAll(p, stream)

	// The truncated frame's bytes get absorbed as bogus payload until
	// the checksum fails, then the parser recovers on a later frame.
	// Worst case the second frame is consumed as noise too, but the
	// parser must never emit a corrupt frame.
	for _, f := range frames {
		if f.Cmd != 0x02 || !bytes.Equal(f.Payload, []byte{0x12}) {
			t.Errorf("emitted corrupt frame: cmd=0x%02X payload=% X", f.Cmd, f.Payload)
		}
	}

	// A further clean frame must always decode.
	frames = feedAll(p, Encode(0x02, []byte{0x34}))
	if len(frames) != 1 || !bytes.Equal(frames[0].Payload, []byte{0x34}) {
		t.Fatalf("parser did not recover: frames=%v", frames)
	}
}

func TestParser_RepeatedStartBytes(t *testing.T) {
	p := NewParser()
	var stream []byte
	for i := 0; i < 50; i++ {
		stream = append(stream, StartByte)
	}
	// The run of 0xAA bytes is consumed as LEN=0xAA, CMD=0xAA, payload
	// of 0xAA... until a checksum fails; a clean frame afterwards must
	// still decode once the stream drains.
	stream = append(stream, Encode(0x01, make([]byte, 200))...)
	stream = append(stream, Encode(0x02, []byte{0x01})...)
	frames := feedAll(p, stream)
	if len(frames) == 0 {
		t.Fatal("parser never recovered from repeated START bytes")
	}
	last := frames[len(frames)-1]
	if last.Cmd != 0x02 || !bytes.Equal(last.Payload, []byte{0x01}) {
		t.Errorf("last frame: cmd=0x%02X payload=% X", last.Cmd, last.Payload)
	}
}

func TestParser_BackToBackFrames(t *testing.T) {
	p := NewParser()
	var stream []byte
	for i := 0; i < 10; i++ {
		stream = append(stream, Encode(byte(i), []byte{byte(i), byte(i)})...)
	}
	frames := feedAll(p, stream)
	if len(frames) != 10 {
		t.Fatalf("decoded %d frames, want 10", len(frames))
	}
	for i, f := range frames {
		if f.Cmd != byte(i) {
			t.Errorf("frame %d: cmd = 0x%02X, want 0x%02X", i, f.Cmd, i)
		}
	}
}

func TestParser_Reset(t *testing.T) {
	p := NewParser()

	// Leave the parser mid-frame, then reset.
	partial := Encode(0x01, []byte{0x01, 0x02, 0x03})
	feedAll(p, partial[:5])
	p.Reset()

	frames := feedAll(p, Encode(0x02, []byte{0x12}))
	if len(frames) != 1 {
		t.Fatalf("decoded %d frames after reset, want 1", len(frames))
	}
}

func TestParser_ZeroLengthField(t *testing.T) {
	// LEN=0 is malformed (LEN counts CMD). The parser must not emit a
	// frame for it and must keep running.
	p := NewParser()
	frames := feedAll(p, []byte{StartByte, 0x00, 0x01, 0xFF, EndByte})
	if len(frames) != 0 {
		t.Fatalf("decoded %d frames from malformed stream, want 0", len(frames))
	}
	frames = feedAll(p, Encode(0x01, []byte{0x01}))
	if len(frames) != 1 {
		t.Fatalf("parser did not recover from LEN=0: %d frames", len(frames))
	}
}
