package transport

import (
	"context"
	"fmt"
	"time"

	"tinygo.org/x/bluetooth"
)

// Default GATT layout of the instrument: one service with a writable
// command characteristic and two notifying characteristics for measurement
// data and status pushes. The UUIDs are configuration, not discovery.
const (
	DefaultServiceUUID = "0000ffe0-0000-1000-8000-00805f9b34fb"
	DefaultCommandUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"
	DefaultDataUUID    = "0000ffe2-0000-1000-8000-00805f9b34fb"
	DefaultStatusUUID  = "0000ffe3-0000-1000-8000-00805f9b34fb"

	defaultScanTimeout = 10 * time.Second
	notifyQueueLimit   = 128
)

// BLEConfig identifies the instrument and its GATT characteristics.
type BLEConfig struct {
	DeviceName  string // advertised local name to match
	ServiceUUID string
	CommandUUID string
	DataUUID    string
	StatusUUID  string
	ScanTimeout time.Duration
}

// BLETransport drives the instrument over a BLE GATT connection.
// Notifications from the data and status characteristics are buffered
// into a bounded queue that ReadChunk drains.
type BLETransport struct {
	cfg     BLEConfig
	adapter *bluetooth.Adapter

	device  bluetooth.Device
	cmdChar bluetooth.DeviceCharacteristic

	queue   *notifyQueue
	address string
	open    bool
}

// NewBLETransport creates a BLE transport from the given configuration.
// Empty UUID fields fall back to the instrument defaults.
func NewBLETransport(cfg BLEConfig) *BLETransport {
	if cfg.ServiceUUID == "" {
		cfg.ServiceUUID = DefaultServiceUUID
	}
	if cfg.CommandUUID == "" {
		cfg.CommandUUID = DefaultCommandUUID
	}
	if cfg.DataUUID == "" {
		cfg.DataUUID = DefaultDataUUID
	}
	if cfg.StatusUUID == "" {
		cfg.StatusUUID = DefaultStatusUUID
	}
	if cfg.ScanTimeout == 0 {
		cfg.ScanTimeout = defaultScanTimeout
	}
	return &BLETransport{
		cfg:     cfg,
		adapter: bluetooth.DefaultAdapter,
		queue:   newNotifyQueue(notifyQueueLimit),
	}
}

// Open scans for the instrument, connects and subscribes to the data and
// status characteristics.
func (t *BLETransport) Open(ctx context.Context) error {
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("transport: enabling BLE adapter: %w", err)
	}

	serviceUUID, err := bluetooth.ParseUUID(t.cfg.ServiceUUID)
	if err != nil {
		return fmt.Errorf("transport: service UUID: %w", err)
	}
	cmdUUID, err := bluetooth.ParseUUID(t.cfg.CommandUUID)
	if err != nil {
		return fmt.Errorf("transport: command UUID: %w", err)
	}
	dataUUID, err := bluetooth.ParseUUID(t.cfg.DataUUID)
	if err != nil {
		return fmt.Errorf("transport: data UUID: %w", err)
	}
	statusUUID, err := bluetooth.ParseUUID(t.cfg.StatusUUID)
	if err != nil {
		return fmt.Errorf("transport: status UUID: %w", err)
	}

	addr, err := t.scan(ctx)
	if err != nil {
		return err
	}

	device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("%w: connecting to %s: %v", ErrDisconnected, addr.String(), err)
	}
	t.device = device
	t.address = addr.String()

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return fmt.Errorf("%w: instrument service not found", ErrNotFound)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{cmdUUID, dataUUID, statusUUID})
	if err != nil || len(chars) < 3 {
		device.Disconnect()
		return fmt.Errorf("%w: instrument characteristics not found", ErrNotFound)
	}

	for _, c := range chars {
		switch c.UUID() {
		case cmdUUID:
			t.cmdChar = c
		case dataUUID, statusUUID:
			if err := c.EnableNotifications(t.queue.push); err != nil {
				device.Disconnect()
				return fmt.Errorf("transport: enabling notifications: %w", err)
			}
		}
	}
	t.open = true
	return nil
}

// scan looks for an advertisement carrying the configured device name.
func (t *BLETransport) scan(ctx context.Context) (bluetooth.Address, error) {
	var zero bluetooth.Address
	found := make(chan bluetooth.Address, 1)

	timer := time.AfterFunc(t.cfg.ScanTimeout, func() {
		t.adapter.StopScan()
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() {
		t.adapter.StopScan()
	})
	defer stop()

	err := t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if t.cfg.DeviceName != "" && result.LocalName() != t.cfg.DeviceName {
			return
		}
		select {
		case found <- result.Address:
		default:
		}
		adapter.StopScan()
	})
	if err != nil {
		return zero, fmt.Errorf("transport: BLE scan: %w", err)
	}

	select {
	case addr := <-found:
		return addr, nil
	default:
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	return zero, ErrNotFound
}

// ReadChunk waits for the next buffered notification, up to timeout.
func (t *BLETransport) ReadChunk(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if !t.open {
		return nil, ErrDisconnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := t.queue.pop(timeout)
	if !ok {
		if !t.open {
			return nil, ErrDisconnected
		}
		return nil, ErrIOTimeout
	}
	return p, nil
}

// Write sends bytes through the command characteristic.
func (t *BLETransport) Write(p []byte) error {
	if !t.open {
		return ErrDisconnected
	}
	if _, err := t.cmdChar.WriteWithoutResponse(p); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// Close disconnects and releases the notification queue.
func (t *BLETransport) Close() error {
	if !t.open {
		return nil
	}
	t.open = false
	t.queue.close()
	return t.device.Disconnect()
}

// Describe returns the BLE address of the connected instrument.
func (t *BLETransport) Describe() string {
	return fmt.Sprintf("ble %s", t.address)
}
