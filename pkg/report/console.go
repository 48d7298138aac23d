package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/lywsd02/clock-sync/pkg/clocksync"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	partialColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
)

// Console prints outcomes to a terminal. A success identical to the last one printed for the same
// device is suppressed. Failures are always printed.
type Console struct {
	out  io.Writer
	mu   sync.Mutex
	last map[string]string
}

// NewConsole returns a Console writing to out, or to color.Output if out is nil.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = color.Output
	}
	return &Console{out: out, last: make(map[string]string)}
}

func (c *Console) Report(_ context.Context, outcome *clocksync.Outcome) error {
	n := NewNotification(outcome)

	c.mu.Lock()
	defer c.mu.Unlock()
	if outcome.Success {
		if c.last[n.ID] == n.Message {
			return nil
		}
		c.last[n.ID] = n.Message
	}

	title := errorColor
	switch {
	case outcome.Success:
		title = successColor
	case outcome.Partial():
		title = partialColor
	}
	body := strings.ReplaceAll(n.Message, "\n", "\n  ")
	_, err := fmt.Fprintf(c.out, "%s\n  %s\n", title.Sprint(n.Title), body)
	return err
}
