package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"

	"github.com/lywsd02/clock-sync/pkg/connector/ble/iface"
)

func IsAdapterError(_ error) bool {
	// TODO: Detect CoreBluetooth "powered off" and "unauthorized" states.
	return false
}

func AdapterErrorHelpMessage(err error) string {
	return err.Error()
}

func newAdapter(id string) (ble.Device, error) {
	if id != "" {
		return nil, iface.ErrAdapterInvalidID
	}
	device, err := darwin.NewDevice()
	if err != nil {
		return nil, err
	}
	return device, nil
}
