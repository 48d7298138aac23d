package clocksync

import (
	"fmt"
	"strings"
	"time"

	"github.com/lywsd02/clock-sync/pkg/payload"
	"github.com/lywsd02/clock-sync/pkg/protocol"
)

// State is a step of the sync state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateWritingTime
	StateWritingTemperatureMode
	StateWritingClockMode
	StateCompleted
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:                   "Idle",
	StateConnecting:             "Connecting",
	StateConnected:              "Connected",
	StateWritingTime:            "WritingTime",
	StateWritingTemperatureMode: "WritingTemperatureMode",
	StateWritingClockMode:       "WritingClockMode",
	StateCompleted:              "Completed",
	StateFailed:                 "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s ends a run. No transition leaves a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func writingState(kind payload.Kind) State {
	switch kind {
	case payload.KindTemperatureMode:
		return StateWritingTemperatureMode
	case payload.KindClockMode:
		return StateWritingClockMode
	}
	return StateWritingTime
}

// Outcome is the terminal result of a sync operation.
type Outcome struct {
	Address        string `json:"address"`
	Success        bool   `json:"success"`
	Timestamp      int64  `json:"timestamp,omitempty"`
	TimezoneOffset int    `json:"tz_offset"`

	// Applied lists the steps the device acknowledged, in write order.
	Applied []string `json:"applied,omitempty"`
	// Failed names the step that failed, if any.
	Failed string `json:"failed_step,omitempty"`

	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	State     string    `json:"state"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`

	err error
}

// Err returns the error that ended the operation, or nil on success.
func (o *Outcome) Err() error {
	return o.err
}

// Kind classifies the failure, or protocol.KindNone on success.
func (o *Outcome) Kind() protocol.ErrorKind {
	return protocol.KindOf(o.err)
}

// Partial returns true if the operation failed after at least one step was applied.
func (o *Outcome) Partial() bool {
	return !o.Success && len(o.Applied) > 0
}

// TimeApplied returns true if the device acknowledged the time write.
func (o *Outcome) TimeApplied() bool {
	return o.StepApplied(payload.KindTime)
}

func (o *Outcome) StepApplied(kind payload.Kind) bool {
	for _, step := range o.Applied {
		if step == kind.String() {
			return true
		}
	}
	return false
}

func (o *Outcome) String() string {
	if o.Success {
		return fmt.Sprintf("%s: synchronized (timestamp %d, offset %dh, applied %s)", o.Address, o.Timestamp, o.TimezoneOffset, strings.Join(o.Applied, ", "))
	}
	if o.Partial() {
		return fmt.Sprintf("%s: partially applied (%s), %s failed: %s", o.Address, strings.Join(o.Applied, ", "), o.Failed, o.Error)
	}
	return fmt.Sprintf("%s: %s: %s", o.Address, o.ErrorKind, o.Error)
}
