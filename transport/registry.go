package transport

import (
	"fmt"
	"log/slog"
	"strconv"

	"go.bug.st/serial/enumerator"
)

// Factory builds a transport for an enumerated serial port.
type Factory func(port *enumerator.PortDetails) (Transport, error)

// FallbackFactory builds a transport without a serial port, probing the
// USB bus directly.
type FallbackFactory func() (Transport, error)

type registration struct {
	vendorID  uint16
	productID uint16
	factory   Factory
}

var (
	registered []registration
	fallbacks  []FallbackFactory
)

// Register associates a USB vendor/product id pair with a transport
// factory. Chipset family packages register themselves in init().
func Register(vendorID, productID uint16, factory Factory) {
	registered = append(registered, registration{
		vendorID:  vendorID,
		productID: productID,
		factory:   factory,
	})
}

// RegisterFallback registers a factory tried when no enumerated serial
// port matches, for adapters that only expose raw USB endpoints.
func RegisterFallback(factory FallbackFactory) {
	fallbacks = append(fallbacks, factory)
}

// Find enumerates serial ports and returns a transport for the first one
// whose vendor/product id matches a registered chipset family. When no
// port matches, the raw-USB fallbacks are tried in registration order.
// The returned transport is not yet open.
func Find(logger *slog.Logger) (Transport, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: listing serial ports: %w", err)
	}

	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		vid, err := strconv.ParseUint(port.VID, 16, 16)
		if err != nil {
			continue
		}
		pid, err := strconv.ParseUint(port.PID, 16, 16)
		if err != nil {
			continue
		}
		for _, reg := range registered {
			if uint16(vid) != reg.vendorID || uint16(pid) != reg.productID {
				continue
			}
			tr, err := reg.factory(port)
			if err != nil {
				logger.Warn("skipping port",
					slog.String("port", port.Name),
					slog.String("error", err.Error()))
				continue
			}
			return tr, nil
		}
	}

	for _, factory := range fallbacks {
		tr, err := factory()
		if err == nil && tr != nil {
			return tr, nil
		}
	}

	return nil, ErrNotFound
}

// lookup reports whether a vendor/product pair is registered. Exposed for
// tests through matches().
func matches(vendorID, productID uint16) bool {
	for _, reg := range registered {
		if reg.vendorID == vendorID && reg.productID == productID {
			return true
		}
	}
	return false
}
