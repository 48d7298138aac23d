package goble

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"

	"github.com/lywsd02/clock-sync/pkg/connector/ble/iface"
)

const bleTimeout = 20 * time.Second

// Sensors advertise roughly once per second, so a passive 10ms window every 10ms is plenty.
var scanParams = cmd.LESetScanParameters{
	LEScanType:           0,    // Passive scanning
	LEScanInterval:       0x10, // 10ms
	LEScanWindow:         0x10, // 10ms
	OwnAddressType:       0,    // Static
	ScanningFilterPolicy: 0,    // Accept all
}

func IsAdapterError(err error) bool {
	return strings.Contains(err.Error(), "operation not permitted") ||
		strings.Contains(err.Error(), "can't init hci")
}

func AdapterErrorHelpMessage(err error) string {
	if strings.Contains(err.Error(), "operation not permitted") {
		// The HCI backend brings the device down and up again, which needs CAP_NET_ADMIN.
		return err.Error() + "\n\nTry again after granting this application CAP_NET_ADMIN:\n\n" +
			"\tsudo setcap 'cap_net_admin=eip' \"$(which lywsd02-sync)\"\n"
	}
	return err.Error()
}

// newAdapter opens the HCI device. id is either empty or "hciN".
func newAdapter(id string) (ble.Device, error) {
	opts := []ble.Option{
		ble.OptListenerTimeout(bleTimeout),
		ble.OptDialerTimeout(bleTimeout),
		ble.OptScanParams(scanParams),
	}
	if id != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(id, "hci"))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", iface.ErrAdapterInvalidID, id)
		}
		opts = append(opts, ble.OptDeviceID(n))
	}
	device, err := linux.NewDevice(opts...)
	if err != nil {
		return nil, err
	}
	return device, nil
}
