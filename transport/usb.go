package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// Raw-USB access to an FTDI cable for hosts without a kernel VCP driver.
// The FTDI bridge is configured directly through vendor control requests
// and the data moves over the bulk endpoints.
const (
	ftdiReqReset       = 0x00
	ftdiReqSetBaudRate = 0x03
	ftdiReqSetData     = 0x04

	ftdiResetSIO = 0x0000

	// Baud divisor for 115200 on the FT232R 3 MHz clock.
	ftdiBaudDivisor115200 = 0x001A

	// 8 data bits, no parity, 1 stop bit.
	ftdiLine8N1 = 0x0008

	ftdiRequestType = 0x40 // vendor, host-to-device

	ftdiEndpointIn  = 1
	ftdiEndpointOut = 2

	// Every FTDI bulk-in packet starts with two modem status bytes.
	ftdiStatusBytes = 2
)

// USBTransport drives an FTDI adapter over raw USB bulk endpoints.
type USBTransport struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	intf    *gousb.Interface
	done    func()
	bulkIn  *gousb.InEndpoint
	bulkOut *gousb.OutEndpoint
	serial  string
}

// probeRawFTDI opens an FTDI device on the bus when the serial enumerator
// found no usable port. Returns ErrNotFound when no device is present.
func probeRawFTDI() (*USBTransport, error) {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == ftdiVendorID && uint16(desc.Product) == ftdiProductID
	})
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("transport: enumerating USB devices: %w", err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, ErrNotFound
	}

	// Keep the first device, close the rest.
	for _, d := range devs[1:] {
		d.Close()
	}
	dev := devs[0]

	serialNumber, err := dev.SerialNumber()
	if err != nil {
		serialNumber = "unknown"
	}

	return &USBTransport{ctx: ctx, dev: dev, serial: serialNumber}, nil
}

// Open claims the interface and configures the bridge for 115200 8N1.
func (t *USBTransport) Open(ctx context.Context) error {
	if err := t.dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("transport: detaching kernel driver: %w", err)
	}

	intf, done, err := t.dev.DefaultInterface()
	if err != nil {
		return fmt.Errorf("transport: claiming USB interface: %w", err)
	}
	t.intf = intf
	t.done = done

	bulkIn, err := intf.InEndpoint(ftdiEndpointIn)
	if err != nil {
		return fmt.Errorf("transport: opening bulk-in endpoint: %w", err)
	}
	bulkOut, err := intf.OutEndpoint(ftdiEndpointOut)
	if err != nil {
		return fmt.Errorf("transport: opening bulk-out endpoint: %w", err)
	}
	t.bulkIn = bulkIn
	t.bulkOut = bulkOut

	// FTDI bring-up: reset the SIO, set the baud divisor, set the line
	// format. Same line parameters as the VCP path.
	steps := []struct {
		request uint8
		value   uint16
	}{
		{ftdiReqReset, ftdiResetSIO},
		{ftdiReqSetBaudRate, ftdiBaudDivisor115200},
		{ftdiReqSetData, ftdiLine8N1},
	}
	for _, s := range steps {
		if _, err := t.dev.Control(ftdiRequestType, s.request, s.value, 0, nil); err != nil {
			return fmt.Errorf("transport: FTDI control request 0x%02x: %w", s.request, err)
		}
	}
	return nil
}

// ReadChunk reads the next bulk-in packet, stripping the FTDI status
// header.
func (t *USBTransport) ReadChunk(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if t.bulkIn == nil {
		return nil, ErrDisconnected
	}
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	buf := make([]byte, t.bulkIn.Desc.MaxPacketSize)
	n, err := t.bulkIn.ReadContext(readCtx, buf)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrIOTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if n <= ftdiStatusBytes {
		return nil, ErrIOTimeout
	}
	return buf[ftdiStatusBytes:n], nil
}

// Write sends bytes over the bulk-out endpoint.
func (t *USBTransport) Write(p []byte) error {
	if t.bulkOut == nil {
		return ErrDisconnected
	}
	if _, err := t.bulkOut.Write(p); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// Close releases the interface and USB context.
func (t *USBTransport) Close() error {
	if t.done != nil {
		t.done()
		t.done = nil
	}
	var errs []error
	if t.dev != nil {
		errs = append(errs, t.dev.Close())
		t.dev = nil
	}
	if t.ctx != nil {
		errs = append(errs, t.ctx.Close())
		t.ctx = nil
	}
	t.bulkIn = nil
	t.bulkOut = nil
	return errors.Join(errs...)
}

// Describe returns the USB serial number of the adapter.
func (t *USBTransport) Describe() string {
	return fmt.Sprintf("usb-ftdi %s", t.serial)
}
