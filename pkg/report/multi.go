package report

import (
	"context"
	"errors"

	"github.com/lywsd02/clock-sync/pkg/clocksync"
)

// Multi forwards each outcome to every reporter, in order, and joins their errors.
type Multi []clocksync.Reporter

func (m Multi) Report(ctx context.Context, outcome *clocksync.Outcome) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
