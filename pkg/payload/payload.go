// Package payload encodes the fixed-layout buffers written to the LYWSD02 GATT characteristics.
//
// The device exposes two writable characteristics of interest. The time characteristic accepts a
// 5-byte time record and, as a firmware quirk, a 7-byte clock-mode record. The config
// characteristic accepts the 1-byte temperature unit.
//
//	Time         int32 LE epoch seconds, int8 timezone offset hours
//	Temperature  0x01 = Fahrenheit, 0xFF = Celsius
//	Clock mode   4 zero bytes, 2 zero bytes, 0xAA (12h) or 0x00 (24h)
package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	TimeCharacteristicUUID   = "ebe0ccb7-7a0a-4b0c-8a1a-6ff2997da3a6"
	ConfigCharacteristicUUID = "ebe0ccbe-7a0a-4b0c-8a1a-6ff2997da3a6"

	TimeLength            = 5
	TemperatureModeLength = 1
	ClockModeLength       = 7
)

const (
	fahrenheitMarker = 0x01
	celsiusMarker    = 0xFF
	hour12Marker     = 0xAA
	hour24Marker     = 0x00
)

var ErrBadTimeRecord = errors.New("time record must be exactly 5 bytes")

// Characteristic identifies the GATT characteristic a payload is written to.
type Characteristic int

const (
	CharacteristicTime Characteristic = iota
	CharacteristicConfig
)

// UUID returns the 128-bit characteristic UUID in canonical lower-case form.
func (c Characteristic) UUID() string {
	if c == CharacteristicConfig {
		return ConfigCharacteristicUUID
	}
	return TimeCharacteristicUUID
}

func (c Characteristic) String() string {
	if c == CharacteristicConfig {
		return "config"
	}
	return "time"
}

// Kind is the logical meaning of a payload. Kinds are also the steps of a sync operation.
type Kind int

const (
	KindTime Kind = iota
	KindTemperatureMode
	KindClockMode
)

func (k Kind) String() string {
	switch k {
	case KindTime:
		return "time"
	case KindTemperatureMode:
		return "temperature mode"
	case KindClockMode:
		return "clock mode"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// TemperatureMode is the unit the device displays temperatures in.
type TemperatureMode int

const (
	TemperatureUnset TemperatureMode = iota
	Celsius
	Fahrenheit
)

// ParseTemperatureMode maps "C" and "F" (in either case) to a mode. Anything else, including the
// empty string and padded input, is TemperatureUnset, which leaves the device setting unchanged.
func ParseTemperatureMode(s string) TemperatureMode {
	switch strings.ToUpper(s) {
	case "C":
		return Celsius
	case "F":
		return Fahrenheit
	}
	return TemperatureUnset
}

func (m TemperatureMode) String() string {
	switch m {
	case Celsius:
		return "C"
	case Fahrenheit:
		return "F"
	}
	return ""
}

// ClockMode is the 12/24 hour display format.
type ClockMode int

const (
	ClockUnset ClockMode = iota
	Hour12
	Hour24
)

// ClockModeFromHours maps 12 and 24 to a mode. Any other value is ClockUnset.
func ClockModeFromHours(hours int) ClockMode {
	switch hours {
	case 12:
		return Hour12
	case 24:
		return Hour24
	}
	return ClockUnset
}

// Hours returns 12, 24, or 0 for ClockUnset.
func (m ClockMode) Hours() int {
	switch m {
	case Hour12:
		return 12
	case Hour24:
		return 24
	}
	return 0
}

func (m ClockMode) String() string {
	if h := m.Hours(); h != 0 {
		return fmt.Sprintf("%dh", h)
	}
	return ""
}

// CommandPayload is an immutable buffer bound to its target characteristic.
type CommandPayload struct {
	kind           Kind
	characteristic Characteristic
	data           []byte
}

func (p CommandPayload) Kind() Kind {
	return p.kind
}

func (p CommandPayload) Characteristic() Characteristic {
	return p.characteristic
}

// Bytes returns a copy of the encoded buffer.
func (p CommandPayload) Bytes() []byte {
	return append([]byte(nil), p.data...)
}

func (p CommandPayload) Len() int {
	return len(p.data)
}

func (p CommandPayload) String() string {
	return fmt.Sprintf("%s -> %s: %02x", p.kind, p.characteristic, p.data)
}

// Time encodes the 5-byte time record.
func Time(timestamp int32, tzOffsetHours int8) CommandPayload {
	data := make([]byte, TimeLength)
	binary.LittleEndian.PutUint32(data, uint32(timestamp))
	data[4] = byte(tzOffsetHours)
	return CommandPayload{kind: KindTime, characteristic: CharacteristicTime, data: data}
}

// DecodeTime is the inverse of Time.
func DecodeTime(data []byte) (timestamp int32, tzOffsetHours int8, err error) {
	if len(data) != TimeLength {
		return 0, 0, ErrBadTimeRecord
	}
	return int32(binary.LittleEndian.Uint32(data)), int8(data[4]), nil
}

// TemperatureModePayload encodes the temperature unit. ok is false for TemperatureUnset and for
// values outside the enum; no payload must be written in that case.
func TemperatureModePayload(mode TemperatureMode) (p CommandPayload, ok bool) {
	var marker byte
	switch mode {
	case Fahrenheit:
		marker = fahrenheitMarker
	case Celsius:
		marker = celsiusMarker
	default:
		return CommandPayload{}, false
	}
	return CommandPayload{
		kind:           KindTemperatureMode,
		characteristic: CharacteristicConfig,
		data:           []byte{marker},
	}, true
}

// ClockModePayload encodes the clock format. The record goes to the time characteristic, not the
// config characteristic; the device firmware expects it there.
func ClockModePayload(mode ClockMode) (p CommandPayload, ok bool) {
	var marker byte
	switch mode {
	case Hour12:
		marker = hour12Marker
	case Hour24:
		marker = hour24Marker
	default:
		return CommandPayload{}, false
	}
	data := make([]byte, ClockModeLength)
	data[ClockModeLength-1] = marker
	return CommandPayload{kind: KindClockMode, characteristic: CharacteristicTime, data: data}, true
}

// Build returns the payloads for one sync operation in write order: time first, then the
// temperature unit and clock format when requested.
func Build(timestamp int32, tzOffsetHours int8, temperature TemperatureMode, clock ClockMode) []CommandPayload {
	payloads := []CommandPayload{Time(timestamp, tzOffsetHours)}
	if p, ok := TemperatureModePayload(temperature); ok {
		payloads = append(payloads, p)
	}
	if p, ok := ClockModePayload(clock); ok {
		payloads = append(payloads, p)
	}
	return payloads
}
