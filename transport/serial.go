package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.bug.st/serial"
)

// Line parameters are fixed by the instrument firmware.
const (
	baudRate = 115200
	dataBits = 8
)

// Family identifies the USB-serial chipset of the adapter cable. Each
// family needs its own bring-up sequence before the first command; a
// family is selected once, at open time, from the USB vendor/product id.
type Family int

const (
	FamilyFTDI Family = iota
	FamilyCP210x
	FamilyCH34x
)

func (f Family) String() string {
	switch f {
	case FamilyFTDI:
		return "FTDI"
	case FamilyCP210x:
		return "CP210x"
	case FamilyCH34x:
		return "CH34x"
	}
	return "unknown"
}

// SerialTransport drives the instrument over a USB-serial adapter.
type SerialTransport struct {
	portName string
	family   Family
	port     serial.Port
}

// NewSerialTransport creates a transport for a named port and chipset
// family. The port stays closed until Open.
func NewSerialTransport(portName string, family Family) *SerialTransport {
	return &SerialTransport{portName: portName, family: family}
}

// Open opens the port at 115200 8N1 and runs the family bring-up
// sequence.
func (t *SerialTransport) Open(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: dataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(t.portName, mode)
	if err != nil {
		var portErr *serial.PortError
		if os.IsPermission(err) ||
			(errors.As(err, &portErr) && portErr.Code() == serial.PermissionDenied) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, t.portName)
		}
		return fmt.Errorf("transport: opening %s: %w", t.portName, err)
	}
	t.port = port

	if err := t.bringUp(); err != nil {
		port.Close()
		t.port = nil
		return fmt.Errorf("transport: %s bring-up on %s: %w", t.family, t.portName, err)
	}
	return nil
}

// bringUp runs the chipset-specific initialization. The sequences differ
// because each adapter family leaves the line in a different state after
// enumeration.
func (t *SerialTransport) bringUp() error {
	switch t.family {
	case FamilyFTDI:
		// FTDI adapters come up with the handshake lines floating; the
		// instrument needs DTR and RTS asserted before it talks.
		if err := t.port.SetDTR(true); err != nil {
			return err
		}
		if err := t.port.SetRTS(true); err != nil {
			return err
		}

	case FamilyCP210x:
		// CP210x bridges hold the instrument in reset while DTR is high
		// from enumeration. Drop and reassert it, then give the firmware
		// time to boot.
		if err := t.port.SetDTR(false); err != nil {
			return err
		}
		time.Sleep(50 * time.Millisecond)
		if err := t.port.SetDTR(true); err != nil {
			return err
		}
		time.Sleep(100 * time.Millisecond)

	case FamilyCH34x:
		// CH34x chips latch the first mode they see; twiddling the baud
		// rate forces the UART to resynchronize at the target rate.
		if err := t.port.SetMode(&serial.Mode{BaudRate: 9600}); err != nil {
			return err
		}
		time.Sleep(50 * time.Millisecond)
		if err := t.port.SetMode(&serial.Mode{
			BaudRate: baudRate,
			DataBits: dataBits,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported chipset family %d", t.family)
	}

	if err := t.port.ResetInputBuffer(); err != nil {
		return err
	}
	return t.port.ResetOutputBuffer()
}

// ReadChunk waits up to timeout for received bytes.
func (t *SerialTransport) ReadChunk(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if t.port == nil {
		return nil, ErrDisconnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	buf := make([]byte, 256)
	n, err := t.port.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if n == 0 {
		return nil, ErrIOTimeout
	}
	return buf[:n], nil
}

// Write sends bytes to the instrument.
func (t *SerialTransport) Write(p []byte) error {
	if t.port == nil {
		return ErrDisconnected
	}
	if _, err := t.port.Write(p); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// Close closes the serial port.
func (t *SerialTransport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// Describe returns the port name and chipset family.
func (t *SerialTransport) Describe() string {
	return fmt.Sprintf("%s (%s)", t.portName, t.family)
}
