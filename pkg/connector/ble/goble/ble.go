package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/connector/ble/iface"
	"github.com/lywsd02/clock-sync/pkg/payload"
)

var (
	timeCharUUID   = ble.MustParse(payload.TimeCharacteristicUUID)
	configCharUUID = ble.MustParse(payload.ConfigCharacteristicUUID)
)

var (
	device ble.Device
	mu     sync.Mutex
)

// NewAdapter returns an iface.Adapter backed by github.com/go-ble/ble. Loggers passed to
// adapters are used for backend diagnostics only.
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

	var err error
	// Multiple calls to newAdapter() on Linux lead to failures, so the HCI device is shared.
	if device != nil {
		a.logger.Debug("Reusing existing BLE device")
	} else {
		a.logger.Debug("Creating new BLE adapter")
		device, err = newAdapter(id)
		if err != nil {
			return fmt.Errorf("ble: failed to enable device: %w", err)
		}
	}
	return nil
}

// CloseAdapter unsets the BLE adapter so that a new one can be created on the next call to
// InitAdapter. Open sessions must be closed separately.
func (a adapter) CloseAdapter() error {
	mu.Lock()
	defer mu.Unlock()
	if device != nil {
		if err := device.Stop(); err != nil {
			return fmt.Errorf("ble: failed to stop device: %w", err)
		}
		device = nil
		a.logger.Debug("Closed BLE adapter")
	}
	return nil
}

func currentDevice() (ble.Device, error) {
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

	ctx2, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan ble.Advertisement, 1)
	fn := func(adv ble.Advertisement) {
		if !strings.EqualFold(adv.Addr().String(), address) {
			return
		}
		select {
		case ch <- adv:
			cancel() // Stop dev.Scan() now that we have a match
		case <-ctx2.Done():
		}
	}

	if err = dev.Scan(ctx2, false, fn); !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		// On macOS dev.Scan() returns only once its context is done, so a cancellation is the
		// normal exit path.
		if err == nil {
			err = fmt.Errorf("ble: scan ended before %s was found", address)
		}
		return nil, err
	}

	select {
	case adv := <-ch:
		return advertisementToScanResult(adv), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a adapter) TryToConnect(ctx context.Context, target *iface.ScanResult) (iface.Session, bool, error) {
	dev, err := currentDevice()
	if err != nil {
		return nil, false, err
	}

	a.logger.Debug("Dialing %s (%s)...", target.Address, target.LocalName)
	client, err := dev.Dial(ctx, ble.NewAddr(target.Address))
	if err != nil {
		return nil, true, fmt.Errorf("ble: failed to dial %s: %w", target.Address, err)
	}

	chars, err := discover(client)
	if err != nil {
		_ = client.CancelConnection()
		return nil, true, err
	}

	if _, err := client.ExchangeMTU(ble.DefaultMTU); err != nil {
		a.logger.Debug("ble: MTU exchange failed, using default: %s", err)
	}

	return &session{address: target.Address, client: client, chars: chars}, false, nil
}

func discover(client ble.Client) (map[string]*ble.Characteristic, error) {
	services, err := client.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: failed to enumerate device services: %w", err)
	}

	chars := make(map[string]*ble.Characteristic)
	for _, service := range services {
		found, err := client.DiscoverCharacteristics([]ble.UUID{timeCharUUID, configCharUUID}, service)
		if err != nil {
			return nil, fmt.Errorf("ble: failed to discover service characteristics: %w", err)
		}
		for _, characteristic := range found {
			switch {
			case characteristic.UUID.Equal(timeCharUUID):
				chars[payload.TimeCharacteristicUUID] = characteristic
			case characteristic.UUID.Equal(configCharUUID):
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

type session struct {
	address string
	chars   map[string]*ble.Characteristic

	// writeLock serializes writes. stateLock guards client and is never held across a backend
	// call, so Disconnect can drop the link under a pending write.
	writeLock sync.Mutex
	stateLock sync.Mutex
	client    ble.Client
}

func (s *session) Address() string {
	return s.address
}

func (s *session) currentClient() ble.Client {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.client
}

func (s *session) WriteCharacteristic(_ context.Context, uuid string, data []byte) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	client := s.currentClient()
	if client == nil {
		return fmt.Errorf("ble: %s is disconnected", s.address)
	}
	characteristic, ok := s.chars[strings.ToLower(uuid)]
	if !ok {
		return fmt.Errorf("ble: unknown characteristic %s", uuid)
	}
	return client.WriteCharacteristic(characteristic, data, false)
}

func (s *session) Disconnect() error {
	s.stateLock.Lock()
	client := s.client
	s.client = nil
	s.stateLock.Unlock()
	if client == nil {
		return nil
	}
	return client.CancelConnection()
}

func advertisementToScanResult(a ble.Advertisement) *iface.ScanResult {
	return &iface.ScanResult{
		Address:     strings.ToUpper(a.Addr().String()),
		LocalName:   a.LocalName(),
		RSSI:        int16(a.RSSI()),
		Connectable: a.Connectable(),
	}
}
