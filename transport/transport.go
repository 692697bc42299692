// Package transport provides the byte-stream link to an EMFAD instrument.
// Two link types are supported: USB-serial adapters (three chipset
// families, each with its own bring-up sequence, selected by USB
// vendor/product id) and a BLE GATT connection. The transport carries no
// protocol knowledge; it moves bytes and reports link failures.
package transport

import (
	"context"
	"errors"
	"time"
)

// Link failure sentinels. The transport never retries on its own; a
// caller recovers by reopening.
var (
	ErrNotFound         = errors.New("transport: no matching device found")
	ErrPermissionDenied = errors.New("transport: permission denied")
	ErrIOTimeout        = errors.New("transport: read timed out")
	ErrDisconnected     = errors.New("transport: link lost")
)

// Transport is a half-duplex byte stream to the instrument.
type Transport interface {
	// Open brings the link up, running any chipset-specific
	// initialization. Open is called once per connection.
	Open(ctx context.Context) error

	// ReadChunk blocks up to timeout for the next received bytes.
	// It returns ErrIOTimeout when nothing arrived in time and
	// ErrDisconnected when the link is gone. ReadChunk is the only
	// transport operation that blocks on I/O.
	ReadChunk(ctx context.Context, timeout time.Duration) ([]byte, error)

	// Write sends bytes to the instrument.
	Write(p []byte) error

	// Close tears the link down. Close is idempotent.
	Close() error

	// Describe returns a human-readable link descriptor (port name or
	// BLE address).
	Describe() string
}
