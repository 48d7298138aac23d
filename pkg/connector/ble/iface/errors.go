package iface

import "github.com/lywsd02/clock-sync/pkg/protocol"

var ErrAdapterInvalidID = protocol.NewError("the bluetooth adapter ID is invalid", false, false)
var ErrAdapterNotInitialized = protocol.NewError("the bluetooth adapter has not been initialized", false, false)
var ErrMissingCharacteristic = protocol.NewError("device does not expose the time and config characteristics", false, false)
