package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lywsd02/clock-sync/pkg/payload"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// MayHaveSucceeded returns true if the Error was triggered by a write that might have been
	// applied by the device. For example, if a write times out, the client cannot tell whether
	// the device received it.
	MayHaveSucceeded() bool

	// Temporary returns true if the Error might be the result of a transient condition, such as a
	// sensor that is asleep between advertisements.
	Temporary() bool
}

var (
	// ErrMissingAddress indicates a sync request did not name a device.
	ErrMissingAddress = NewError("device address is required", false, false)
	// ErrInvalidRequest indicates a sync request contains values the device cannot represent.
	ErrInvalidRequest = NewError("invalid sync request", false, false)
	// ErrDeviceNotFound indicates the resolver could not find a connectable device with the
	// requested address.
	ErrDeviceNotFound = NewError("device not found", false, true)
	// ErrNotConnectable indicates the device was found but is not accepting connections.
	ErrNotConnectable = NewError("device is not accepting connections", false, true)
	// ErrSessionClosed indicates a write was attempted on a released session.
	ErrSessionClosed = errors.New("session already closed")
)

type CommandError struct {
	Err               error
	PossibleSuccess   bool
	PossibleTemporary bool
}

func NewError(message string, mayHaveSucceeded bool, temporary bool) error {
	return &CommandError{Err: errors.New(message), PossibleSuccess: mayHaveSucceeded, PossibleTemporary: temporary}
}

func (e *CommandError) Error() string {
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) MayHaveSucceeded() bool {
	return e.PossibleSuccess
}

func (e *CommandError) Temporary() bool {
	return e.PossibleTemporary
}

// ConnectionError indicates a session could not be established. Timeouts are ConnectionErrors.
type ConnectionError struct {
	Address  string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s after %d attempt(s): %s", e.Address, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Timeout returns true if the connection attempt ran out of time.
func (e *ConnectionError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

func (e *ConnectionError) MayHaveSucceeded() bool {
	return false
}

func (e *ConnectionError) Temporary() bool {
	return true
}

// WriteError indicates a characteristic write failed. Applied lists the steps that the device
// acknowledged before Step failed.
type WriteError struct {
	Address string
	Step    payload.Kind
	Applied []payload.Kind
	Err     error
}

func (e *WriteError) Error() string {
	msg := fmt.Sprintf("failed to write %s to %s: %s", e.Step, e.Address, e.Err)
	if len(e.Applied) > 0 {
		var applied []string
		for _, step := range e.Applied {
			applied = append(applied, step.String())
		}
		msg += fmt.Sprintf(" (already applied: %s)", strings.Join(applied, ", "))
	}
	return msg
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Partial returns true if at least one earlier step was applied.
func (e *WriteError) Partial() bool {
	return len(e.Applied) > 0
}

// MayHaveSucceeded is true when the failed write itself may have landed (timeouts) or when
// earlier steps changed the device.
func (e *WriteError) MayHaveSucceeded() bool {
	return e.Partial() || errors.Is(e.Err, context.DeadlineExceeded) || MayHaveSucceeded(e.Err)
}

func (e *WriteError) Temporary() bool {
	return Temporary(e.Err) || errors.Is(e.Err, context.DeadlineExceeded)
}

// DisconnectError indicates a session could not be released cleanly. It is logged and never
// returned as the result of an operation.
type DisconnectError struct {
	Address string
	Err     error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("failed to disconnect from %s: %s", e.Address, e.Err)
}

func (e *DisconnectError) Unwrap() error {
	return e.Err
}

func (e *DisconnectError) MayHaveSucceeded() bool {
	return true
}

func (e *DisconnectError) Temporary() bool {
	return false
}

// ErrorKind classifies errors returned by a sync operation.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindMissingAddress
	KindInvalidRequest
	KindDeviceNotFound
	KindConnection
	KindWrite
	KindDisconnect
	KindUnknown
)

var kindNames = map[ErrorKind]string{
	KindNone:           "None",
	KindMissingAddress: "MissingAddress",
	KindInvalidRequest: "InvalidRequest",
	KindDeviceNotFound: "DeviceNotFound",
	KindConnection:     "ConnectionError",
	KindWrite:          "WriteError",
	KindDisconnect:     "DisconnectError",
	KindUnknown:        "Unknown",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// KindOf returns the ErrorKind of err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		connErr       *ConnectionError
		writeErr      *WriteError
		disconnectErr *DisconnectError
	)
	switch {
	case errors.Is(err, ErrMissingAddress):
		return KindMissingAddress
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrDeviceNotFound):
		return KindDeviceNotFound
	case errors.As(err, &writeErr):
		return KindWrite
	case errors.As(err, &connErr):
		return KindConnection
	case errors.As(err, &disconnectErr):
		return KindDisconnect
	}
	return KindUnknown
}

// MayHaveSucceeded returns true if err is an Error that indicates the device may have applied
// some or all of the requested changes.
func MayHaveSucceeded(err error) bool {
	var commErr Error
	if errors.As(err, &commErr) && commErr.MayHaveSucceeded() {
		return true
	}
	return false
}

// Temporary returns true if err is an Error that indicates the operation failed due to possibly
// transient conditions that do not require user action to resolve.
func Temporary(err error) bool {
	var commErr Error
	if errors.As(err, &commErr) && commErr.Temporary() {
		return true
	}
	return false
}

// ShouldRetry returns true if the client should retry the operation that triggered err.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var e Error
	if errors.As(err, &e) {
		if e.MayHaveSucceeded() {
			return false
		}
		if e.Temporary() {
			return true
		}
	}
	return false
}
