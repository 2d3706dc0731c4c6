// Package protocol implements the binary frame format spoken by the
// sensor/actuator board:
//
//	START(0xAA) LEN(1) CMD(1) PAYLOAD(LEN-1) CHECKSUM(1) END(0x55)
//
// LEN counts the command byte plus the payload. CHECKSUM is the XOR of
// LEN, CMD and every payload byte. There is no byte stuffing; receivers
// resynchronize on corruption instead (see Parser).
package protocol

// Framing bytes.
const (
	StartByte = 0xAA
	EndByte   = 0x55
)

// MaxPayloadSize is the largest payload representable in the single
// length byte (LEN = 1 + payload length, LEN <= 255).
const MaxPayloadSize = 254

// Command IDs. Payload layouts are fixed per command.
const (
	// CmdSensorReport carries 5 little-endian float32 values:
	// temperature, humidity, co2, pm25, smoke (board -> host).
	CmdSensorReport = 0x01
	// CmdDeviceState carries one status byte (board -> host).
	CmdDeviceState = 0x02
	// CmdDeviceControl carries one status byte (host -> board).
	CmdDeviceControl = 0x03
)

// Frame is one complete, checksum-validated protocol message.
type Frame struct {
	Cmd     byte
	Payload []byte
}

// Checksum XOR-folds data down to a single byte.
func Checksum(data []byte) byte {
	var cs byte
	for _, b := range data {
		cs ^= b
	}
	return cs
}

// Encode builds a complete wire frame for cmd and payload.
//
// The payload must be at most MaxPayloadSize bytes; a longer payload
// cannot be represented in the length byte. That bound is a documented
// precondition of the protocol, not a runtime check.
func Encode(cmd byte, payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+5)
	frame = append(frame, StartByte, byte(1+len(payload)), cmd)
	frame = append(frame, payload...)
	frame = append(frame, Checksum(frame[1:]), EndByte)
	return frame
}
