// Package report publishes sync outcomes.
//
// Every reporter derives its output from a [Notification]: one per device and status, so a
// repeated success replaces the previous success notification instead of piling up, and an error
// notification stays visible until the next error replaces it.
package report

import (
	"fmt"
	"strings"

	"github.com/lywsd02/clock-sync/pkg/clocksync"
)

const (
	SuccessTitle = "LYWSD02 - Success"
	ErrorTitle   = "LYWSD02 - Error"
)

type Notification struct {
	ID      string `json:"notification_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// NotificationID returns the identifier shared by all notifications about address with the given
// status.
func NotificationID(address string, success bool) string {
	if success {
		return "lywsd02_" + address
	}
	return "lywsd02_" + address + "_error"
}

// NewNotification renders outcome.
func NewNotification(outcome *clocksync.Outcome) Notification {
	n := Notification{ID: NotificationID(outcome.Address, outcome.Success)}
	if outcome.Success {
		n.Title = SuccessTitle
		n.Message = fmt.Sprintf("Time synchronized successfully!\nMAC: %s\nTimestamp: %d\nOffset: %dh",
			outcome.Address, outcome.Timestamp, outcome.TimezoneOffset)
		return n
	}

	n.Title = ErrorTitle
	var b strings.Builder
	fmt.Fprintf(&b, "Time synchronization failed!\nMAC: %s\nError: %s: %s", outcome.Address, outcome.ErrorKind, outcome.Error)
	if outcome.Partial() {
		fmt.Fprintf(&b, "\nApplied before failure: %s", strings.Join(outcome.Applied, ", "))
	}
	n.Message = b.String()
	return n
}
