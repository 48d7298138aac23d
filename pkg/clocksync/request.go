package clocksync

import (
	"fmt"
	"math"
	"time"

	"github.com/lywsd02/clock-sync/pkg/connector/ble"
	"github.com/lywsd02/clock-sync/pkg/payload"
	"github.com/lywsd02/clock-sync/pkg/protocol"
)

const (
	DefaultConnectTimeout = ble.DefaultConnectTimeout
	DefaultCommandTimeout = 10 * time.Second
)

// Request describes one sync operation. A Request must not be shared between concurrent
// operations.
type Request struct {
	Address             string
	TimezoneOffsetHours int
	TemperatureMode     payload.TemperatureMode
	ClockMode           payload.ClockMode

	// TimestampOverride, if set, is written verbatim instead of the localized current time.
	TimestampOverride *int64

	ConnectTimeout time.Duration
	CommandTimeout time.Duration

	// Location is the zone used to localize the current time. Nil means time.Local.
	Location *time.Location
}

// NewRequest returns a Request for address with default timeouts and no optional changes.
func NewRequest(address string) *Request {
	return &Request{
		Address:        ble.NormalizeAddress(address),
		ConnectTimeout: DefaultConnectTimeout,
		CommandTimeout: DefaultCommandTimeout,
	}
}

// SetTimestamp sets TimestampOverride.
func (r *Request) SetTimestamp(epochSeconds int64) {
	r.TimestampOverride = &epochSeconds
}

// Validate normalizes the address, fills in default timeouts and checks that every value fits
// the device's wire format.
func (r *Request) Validate() error {
	r.Address = ble.NormalizeAddress(r.Address)
	if r.Address == "" {
		return protocol.ErrMissingAddress
	}
	if r.TimezoneOffsetHours < math.MinInt8 || r.TimezoneOffsetHours > math.MaxInt8 {
		return fmt.Errorf("%w: timezone offset %d does not fit in a signed byte", protocol.ErrInvalidRequest, r.TimezoneOffsetHours)
	}
	if r.TimestampOverride != nil {
		if err := checkTimestamp(*r.TimestampOverride); err != nil {
			return err
		}
	}
	if r.ConnectTimeout < 0 || r.CommandTimeout < 0 {
		return fmt.Errorf("%w: timeouts must be positive", protocol.ErrInvalidRequest)
	}
	if r.ConnectTimeout == 0 {
		r.ConnectTimeout = DefaultConnectTimeout
	}
	if r.CommandTimeout == 0 {
		r.CommandTimeout = DefaultCommandTimeout
	}
	return nil
}

func checkTimestamp(ts int64) error {
	if ts < math.MinInt32 || ts > math.MaxInt32 {
		return fmt.Errorf("%w: timestamp %d does not fit in 32 bits", protocol.ErrInvalidRequest, ts)
	}
	return nil
}
