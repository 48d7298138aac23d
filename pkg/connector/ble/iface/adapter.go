//go:generate mockgen -package mocks -destination ../../../../mocks/iface.go -mock_names Adapter=Adapter,Session=Session github.com/lywsd02/clock-sync/pkg/connector/ble/iface Adapter,Session

// Package iface defines the contracts between the connection manager and BLE backends.
package iface

import "context"

// ScanResult describes a device found by a scan or resolver.
type ScanResult struct {
	Address     string
	LocalName   string
	RSSI        int16
	Connectable bool
}

type Adapter interface {
	InitAdapter(id string) error
	CloseAdapter() error

	// ScanDevice blocks until a device advertising with address is seen or ctx expires.
	ScanDevice(ctx context.Context, address string) (*ScanResult, error)

	// TryToConnect dials target and discovers the characteristics this module writes to. The
	// boolean result reports whether the failure is worth retrying.
	TryToConnect(ctx context.Context, target *ScanResult) (Session, bool, error)

	IsAdapterError(err error) bool
	AdapterErrorHelpMessage(err error) string
}

// Session is a live connection to one device.
type Session interface {
	Address() string

	// WriteCharacteristic writes data to the characteristic with the given UUID. Only one write
	// may be in flight at a time.
	WriteCharacteristic(ctx context.Context, uuid string, data []byte) error

	// Disconnect tears down the link. Implementations must tolerate repeated calls.
	Disconnect() error
}
