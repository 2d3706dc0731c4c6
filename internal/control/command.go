package control

import (
	"errors"

	"github.com/greenroomlabs/envirodash/internal/protocol"
)

// ErrUnknownDevice is returned for device names outside the fixed set.
var ErrUnknownDevice = errors.New("control: unknown device")

// BuildDeviceCommand builds the device-control frame that switches one
// device while preserving the rest of the current states, so the board
// never sees an unrelated device flip.
func BuildDeviceCommand(device string, on bool, current DeviceStates) (protocol.Frame, error) {
	bit, ok := deviceBits[device]
	if !ok {
		return protocol.Frame{}, ErrUnknownDevice
	}
	status := current.StatusByte()
	if on {
		status |= bit
	} else {
		status &^= bit
	}
	return protocol.Frame{Cmd: protocol.CmdDeviceControl, Payload: []byte{status}}, nil
}
