package tinygo

import (
	"fmt"

	"tinygo.org/x/bluetooth"

	"github.com/lywsd02/clock-sync/pkg/connector/ble/iface"
)

func IsAdapterError(_ error) bool {
	// TODO: Detect CoreBluetooth "unauthorized" errors.
	return false
}

func AdapterErrorHelpMessage(err error) string {
	return err.Error()
}

func newAdapter(id string) (*bluetooth.Adapter, error) {
	if id != "" {
		return nil, iface.ErrAdapterInvalidID
	}
	return bluetooth.DefaultAdapter, nil
}

// CoreBluetooth hides MAC addresses and identifies peripherals by a per-host UUID.
func parseAddress(address string) (bluetooth.Address, error) {
	uuid, err := bluetooth.ParseUUID(address)
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("ble: failed to parse peripheral UUID: %s", err)
	}
	return bluetooth.Address{
		UUID: uuid,
	}, nil
}

var deviceCharacteristicWrite = bluetooth.DeviceCharacteristic.Write
