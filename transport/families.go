package transport

import "go.bug.st/serial/enumerator"

// Supported USB-serial adapter cables. The instrument has shipped with
// three different cable generations, one per chipset vendor.
const (
	ftdiVendorID  = 0x0403
	ftdiProductID = 0x6001 // FT232R

	cp210xVendorID  = 0x10C4
	cp210xProductID = 0xEA60 // CP2102

	ch34xVendorID  = 0x1A86
	ch34xProductID = 0x7523 // CH340
)

func init() {
	Register(ftdiVendorID, ftdiProductID, func(port *enumerator.PortDetails) (Transport, error) {
		return NewSerialTransport(port.Name, FamilyFTDI), nil
	})
	Register(cp210xVendorID, cp210xProductID, func(port *enumerator.PortDetails) (Transport, error) {
		return NewSerialTransport(port.Name, FamilyCP210x), nil
	})
	Register(ch34xVendorID, ch34xProductID, func(port *enumerator.PortDetails) (Transport, error) {
		return NewSerialTransport(port.Name, FamilyCH34x), nil
	})
	RegisterFallback(func() (Transport, error) {
		return probeRawFTDI()
	})
}
