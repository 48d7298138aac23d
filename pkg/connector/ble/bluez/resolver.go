// Package bluez resolves device addresses against the BlueZ object tree on the system D-Bus.
//
// BlueZ keeps an org.bluez.Device1 object for every peripheral it has seen recently, so a
// device that advertised during the last discovery window can be found without starting a scan
// of our own.
package bluez

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/connector/ble/iface"
	"github.com/lywsd02/clock-sync/pkg/protocol"
)

const (
	busName             = "org.bluez"
	deviceIface         = "org.bluez.Device1"
	getManagedObjects   = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	defaultAdapterID    = "hci0"
	DefaultPollInterval = time.Second
)

// ManagedObjects is the reply of org.freedesktop.DBus.ObjectManager.GetManagedObjects.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// ObjectSource returns the current BlueZ object tree.
type ObjectSource func(ctx context.Context) (ManagedObjects, error)

// Resolver implements address resolution on top of an ObjectSource.
type Resolver struct {
	source       ObjectSource
	adapterPath  string
	logger       log.Logger
	PollInterval time.Duration

	conn *dbus.Conn
}

// New connects to the system bus and returns a Resolver for adapter id ("hci0" when empty).
func New(id string, logger log.Logger) (*Resolver, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	source := func(ctx context.Context) (ManagedObjects, error) {
		var objects ManagedObjects
		err := conn.Object(busName, "/").CallWithContext(ctx, getManagedObjects, 0).Store(&objects)
		return objects, err
	}
	r := NewWithSource(source, id, logger)
	r.conn = conn
	return r, nil
}

// NewWithSource returns a Resolver that reads objects from source.
func NewWithSource(source ObjectSource, id string, logger log.Logger) *Resolver {
	if id == "" {
		id = defaultAdapterID
	}
	return &Resolver{
		source:       source,
		adapterPath:  "/org/bluez/" + id,
		logger:       log.OrDiscard(logger),
		PollInterval: DefaultPollInterval,
	}
}

// Close releases the bus connection, if the Resolver owns one.
func (r *Resolver) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// DeviceObjectPath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func (r *Resolver) DeviceObjectPath(address string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(r.adapterPath + "/dev_" + escaped)
}

// Resolve polls the object tree until address appears or ctx expires. With connectable set,
// devices that BlueZ has blocked are skipped.
func (r *Resolver) Resolve(ctx context.Context, address string, connectable bool) (*iface.ScanResult, error) {
	address = strings.ToUpper(strings.TrimSpace(address))
	for {
		objects, err := r.source(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s", protocol.ErrDeviceNotFound, address)
			}
			return nil, fmt.Errorf("bluez: failed to list objects: %w", err)
		}
		if result, ok := r.lookup(objects, address); ok {
			if connectable && !result.Connectable {
				return nil, fmt.Errorf("%w: %s is not connectable", protocol.ErrDeviceNotFound, address)
			}
			return result, nil
		}

		r.logger.Debug("%s not known to BlueZ yet", address)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", protocol.ErrDeviceNotFound, address)
		case <-time.After(r.PollInterval):
		}
	}
}

func (r *Resolver) lookup(objects ManagedObjects, address string) (*iface.ScanResult, bool) {
	props, ok := objects[r.DeviceObjectPath(address)][deviceIface]
	if !ok {
		return nil, false
	}
	if addr, ok := stringProp(props, "Address"); ok && !strings.EqualFold(addr, address) {
		return nil, false
	}

	result := &iface.ScanResult{Address: address, Connectable: true}
	if name, ok := stringProp(props, "Name"); ok {
		result.LocalName = name
	} else if alias, ok := stringProp(props, "Alias"); ok {
		result.LocalName = alias
	}
	if v, ok := props["RSSI"]; ok {
		if rssi, ok := v.Value().(int16); ok {
			result.RSSI = rssi
		}
	}
	if v, ok := props["Blocked"]; ok {
		if blocked, ok := v.Value().(bool); ok && blocked {
			result.Connectable = false
		}
	}
	return result, true
}

func stringProp(props map[string]dbus.Variant, name string) (string, bool) {
	v, ok := props[name]
	if !ok {
		return "", false
	}
	s, ok := v.Value().(string)
	return s, ok
}
