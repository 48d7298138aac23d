package tinygo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/connector/ble/iface"
	"github.com/lywsd02/clock-sync/pkg/payload"
)

var (
	timeCharUUID   = mustParseUUID(payload.TimeCharacteristicUUID)
	configCharUUID = mustParseUUID(payload.ConfigCharacteristicUUID)
)

var (
	device *bluetooth.Adapter
	mu     sync.Mutex
)

// NewAdapter returns an iface.Adapter backed by tinygo.org/x/bluetooth (BlueZ over D-Bus on
// Linux, CoreBluetooth on macOS).
func NewAdapter(logger log.Logger) iface.Adapter {
	return adapter{logger: log.OrDiscard(logger)}
}

type adapter struct {
	logger log.Logger
}

func (a adapter) AdapterErrorHelpMessage(err error) string {
	return AdapterErrorHelpMessage(err)
}

func (a adapter) InitAdapter(id string) error {
	mu.Lock()
	defer mu.Unlock()

	if device != nil {
		a.logger.Debug("Reusing existing BLE device")
		return nil
	}

	a.logger.Debug("Creating new BLE adapter")
	dev, err := newAdapter(id)
	if err != nil {
		return fmt.Errorf("ble: failed to enable device: %w", err)
	}
	if err = dev.Enable(); err != nil {
		return fmt.Errorf("ble: failed to enable device: %w", err)
	}
	device = dev
	return nil
}

func (a adapter) CloseAdapter() error {
	mu.Lock()
	defer mu.Unlock()
	device = nil
	return nil
}

func currentDevice() (*bluetooth.Adapter, error) {
	mu.Lock()
	defer mu.Unlock()
	if device == nil {
		return nil, iface.ErrAdapterNotInitialized
	}
	return device, nil
}

func (a adapter) ScanDevice(ctx context.Context, address string) (*iface.ScanResult, error) {
	dev, err := currentDevice()
	if err != nil {
		return nil, err
	}
	// The library has no context support, so a scan that is stopped before it starts would run
	// forever. See https://github.com/tinygo-org/bluetooth/issues/339
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var stopOnce sync.Once
	stopScan := func() {
		stopOnce.Do(func() {
			if err := dev.StopScan(); err != nil {
				a.logger.Warning("ble: failed to stop scan: %s", err)
			}
		})
	}

	errorCh := make(chan error, 1)
	foundCh := make(chan *iface.ScanResult, 1)
	scanFinished := make(chan struct{})
	defer func() {
		<-scanFinished
	}()

	go func() {
		defer close(scanFinished)
		a.logger.Debug("Scanning for %s...", address)
		err := dev.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !strings.EqualFold(result.Address.String(), address) {
				return
			}
			select {
			case foundCh <- &iface.ScanResult{
				Address:     strings.ToUpper(result.Address.String()),
				LocalName:   result.LocalName(),
				RSSI:        result.RSSI,
				Connectable: true,
			}:
			default:
			}
			stopScan()
		})
		if err != nil {
			errorCh <- err
		}
	}()

	select {
	case result := <-foundCh:
		return result, nil
	case err := <-errorCh:
		// An error does not guarantee the scan has stopped.
		// See https://github.com/tinygo-org/bluetooth/issues/340
		stopScan()
		return nil, err
	case <-ctx.Done():
		stopScan()
		return nil, ctx.Err()
	}
}

func (a adapter) TryToConnect(ctx context.Context, target *iface.ScanResult) (iface.Session, bool, error) {
	dev, err := currentDevice()
	if err != nil {
		return nil, false, err
	}
	a.logger.Debug("Connecting to %s (%s)...", target.Address, target.LocalName)

	addr, err := parseAddress(target.Address)
	if err != nil {
		return nil, false, err
	}

	// Connect blocks without context support; run it in the background and abandon it (and
	// disconnect whatever it eventually returns) if ctx expires first.
	deviceCh := make(chan bluetooth.Device, 1)
	errorCh := make(chan error, 1)
	go func() {
		params := bluetooth.ConnectionParams{}
		if deadline, ok := ctx.Deadline(); ok {
			params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
		}
		d, err := dev.Connect(addr, params)
		if err != nil {
			errorCh <- err
			return
		}
		if ctx.Err() == nil {
			deviceCh <- d
			return
		}
		if err := d.Disconnect(); err != nil {
			a.logger.Warning("ble: failed to disconnect: %s", err)
		}
	}()

	var d bluetooth.Device
	select {
	case d = <-deviceCh:
		a.logger.Debug("Connected to %s", target.Address)
	case err := <-errorCh:
		return nil, true, fmt.Errorf("ble: failed to connect to device: %w", err)
	case <-ctx.Done():
		return nil, true, ctx.Err()
	}

	chars, err := discover(d)
	if err != nil {
		if err := d.Disconnect(); err != nil {
			a.logger.Warning("ble: failed to disconnect: %s", err)
		}
		return nil, true, err
	}
	return &session{address: target.Address, device: d, chars: chars, connected: true}, false, nil
}

func discover(d bluetooth.Device) (map[string]bluetooth.DeviceCharacteristic, error) {
	services, err := d.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: failed to enumerate device services: %w", err)
	}

	chars := make(map[string]bluetooth.DeviceCharacteristic)
	for _, service := range services {
		found, err := service.DiscoverCharacteristics([]bluetooth.UUID{timeCharUUID, configCharUUID})
		if err != nil {
			// Services without the requested characteristics report an error on some platforms.
			continue
		}
		for _, characteristic := range found {
			switch characteristic.UUID() {
			case timeCharUUID:
				chars[payload.TimeCharacteristicUUID] = characteristic
			case configCharUUID:
				chars[payload.ConfigCharacteristicUUID] = characteristic
			}
		}
	}
	if len(chars) != 2 {
		return nil, iface.ErrMissingCharacteristic
	}
	return chars, nil
}

func (a adapter) IsAdapterError(err error) bool {
	return IsAdapterError(err)
}

// deviceCharacteristicWrite is declared per platform (device_*.go). Writes wait for the
// device's acknowledgment on every platform, so a nil error means the setting was applied.
var deviceDisconnect = bluetooth.Device.Disconnect

type session struct {
	address string
	chars   map[string]bluetooth.DeviceCharacteristic

	// writeLock serializes writes. stateLock guards device and connected and is never held
	// across a backend call, so Disconnect can drop the link under a pending write.
	writeLock sync.Mutex
	stateLock sync.Mutex
	device    bluetooth.Device
	connected bool
}

func (s *session) Address() string {
	return s.address
}

func (s *session) isConnected() bool {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.connected
}

func (s *session) WriteCharacteristic(_ context.Context, uuid string, data []byte) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if !s.isConnected() {
		return fmt.Errorf("ble: %s is disconnected", s.address)
	}
	characteristic, ok := s.chars[strings.ToLower(uuid)]
	if !ok {
		return fmt.Errorf("ble: unknown characteristic %s", uuid)
	}
	n, err := deviceCharacteristicWrite(characteristic, data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("ble: failed to write %d bytes", len(data))
	}
	return nil
}

func (s *session) Disconnect() error {
	s.stateLock.Lock()
	if !s.connected {
		s.stateLock.Unlock()
		return nil
	}
	s.connected = false
	device := s.device
	s.stateLock.Unlock()
	return deviceDisconnect(device)
}

func mustParseUUID(uuid string) bluetooth.UUID {
	uuidParsed, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		panic(err)
	}
	return uuidParsed
}
