package tinygo

import (
	"fmt"

	"tinygo.org/x/bluetooth"

	"github.com/lywsd02/clock-sync/pkg/connector/ble/iface"
)

func IsAdapterError(_ error) bool {
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

func parseAddress(address string) (bluetooth.Address, error) {
	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("ble: failed to parse MAC address: %s", err)
	}
	return bluetooth.Address{
		MACAddress: bluetooth.MACAddress{
			MAC: mac,
		},
	}, nil
}

var deviceCharacteristicWrite = bluetooth.DeviceCharacteristic.Write
