package protocol

import "time"

// Opcode identifies a command or frame type on the wire.
type Opcode byte

// Request opcodes. The device answers a request with the same opcode with
// the response bit set.
const (
	OpStatus       Opcode = 0x01 // query battery and link health
	OpStart        Opcode = 0x02 // start streaming measurements
	OpStop         Opcode = 0x03 // stop streaming measurements
	OpSetFrequency Opcode = 0x04 // select the active carrier frequency

	OpCalCompassStart  Opcode = 0x10 // begin the autobalance procedure
	OpCalHorizontal    Opcode = 0x11 // arm horizontal sample collection
	OpCalVertical      Opcode = 0x12 // arm vertical sample collection
	OpCalCompassFinish Opcode = 0x13 // end the autobalance procedure

	OpQueryOrientation Opcode = 0x20 // read one raw orientation sample
)

// Unsolicited frame opcodes.
const (
	OpMeasurement  Opcode = 0x40 // streamed measurement payload
	OpStatusNotify Opcode = 0x41 // battery/state push (BLE status characteristic)
)

// responseBit marks a frame as the response to the request with the same
// base opcode.
const responseBit = 0x80

// Response returns the opcode the device uses to answer this request.
func (op Opcode) Response() Opcode {
	return op | responseBit
}

// IsMeasurement reports whether the opcode carries a streamed measurement.
func (op Opcode) IsMeasurement() bool {
	return op == OpMeasurement
}

// Command timeout classes. Status and control commands answer quickly;
// calibration and stream-start commands take longer on the instrument side.
const (
	shortTimeout = 1 * time.Second
	longTimeout  = 5 * time.Second
)

// Timeout returns how long a session should wait for the response to this
// request before giving up.
func (op Opcode) Timeout() time.Duration {
	switch op {
	case OpStart, OpCalCompassStart, OpCalHorizontal, OpCalVertical,
		OpCalCompassFinish, OpQueryOrientation:
		return longTimeout
	default:
		return shortTimeout
	}
}

func (op Opcode) String() string {
	switch op {
	case OpStatus:
		return "Status"
	case OpStart:
		return "Start"
	case OpStop:
		return "Stop"
	case OpSetFrequency:
		return "SetFrequency"
	case OpCalCompassStart:
		return "CalCompassStart"
	case OpCalHorizontal:
		return "CalHorizontal"
	case OpCalVertical:
		return "CalVertical"
	case OpCalCompassFinish:
		return "CalCompassFinish"
	case OpQueryOrientation:
		return "QueryOrientation"
	case OpMeasurement:
		return "Measurement"
	case OpStatusNotify:
		return "StatusNotify"
	}
	if op&responseBit != 0 {
		return (op &^ responseBit).String() + "Response"
	}
	return "Unknown"
}

// CommandRequest is one outgoing command with its parameter bytes.
type CommandRequest struct {
	Op     Opcode
	Params []byte
}

// CommandResponse is the device's answer to a single CommandRequest.
// Op is the opcode of the originating request.
type CommandResponse struct {
	Op      Opcode
	Payload []byte
}
