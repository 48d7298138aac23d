package report

import (
	"context"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/clocksync"
	"github.com/lywsd02/clock-sync/pkg/connector/inet"
)

// HomeAssistant publishes outcomes as Home Assistant persistent notifications.
type HomeAssistant struct {
	client *inet.Client
	logger log.Logger
}

func NewHomeAssistant(client *inet.Client, logger log.Logger) *HomeAssistant {
	return &HomeAssistant{client: client, logger: log.OrDiscard(logger)}
}

func (h *HomeAssistant) Report(ctx context.Context, outcome *clocksync.Outcome) error {
	n := NewNotification(outcome)
	h.logger.Debug("Publishing notification %s to %s", n.ID, h.client.BaseURL())
	if _, err := h.client.CallService(ctx, "persistent_notification", "create", n); err != nil {
		return err
	}
	if outcome.Success {
		// A success supersedes any failure notification left by an earlier attempt.
		if err := h.Dismiss(ctx, outcome.Address, false); err != nil {
			h.logger.Warning("Failed to dismiss stale error notification for '%s': %s", outcome.Address, err)
		}
	}
	return nil
}

// Dismiss removes the notification for address with the given status, if any.
func (h *HomeAssistant) Dismiss(ctx context.Context, address string, success bool) error {
	_, err := h.client.CallService(ctx, "persistent_notification", "dismiss", map[string]string{
		"notification_id": NotificationID(address, success),
	})
	return err
}
