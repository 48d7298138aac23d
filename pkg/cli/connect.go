package cli

import (
	"fmt"
	"os"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/clocksync"
	"github.com/lywsd02/clock-sync/pkg/connector/ble"
	"github.com/lywsd02/clock-sync/pkg/connector/ble/bluez"
	"github.com/lywsd02/clock-sync/pkg/connector/ble/goble"
	"github.com/lywsd02/clock-sync/pkg/connector/ble/iface"
	"github.com/lywsd02/clock-sync/pkg/connector/ble/tinygo"
	"github.com/lywsd02/clock-sync/pkg/connector/inet"
	"github.com/lywsd02/clock-sync/pkg/report"
)

// Components are the long-lived objects built from a Config.
type Components struct {
	Adapter   iface.Adapter
	Manager   *ble.Manager
	Resolver  clocksync.Resolver
	Reporter  clocksync.Reporter
	History   *report.History
	Sequencer *clocksync.Sequencer

	closers []func() error
}

// Close releases the adapter and resolver.
func (p *Components) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}

// NewAdapter returns the BLE backend selected by c.BackendName.
func (c *Config) NewAdapter(logger log.Logger) (iface.Adapter, error) {
	switch c.BackendName {
	case "", BackendTinyGo:
		return tinygo.NewAdapter(logger), nil
	case BackendGoBLE:
		return goble.NewAdapter(logger), nil
	}
	return nil, fmt.Errorf("unknown BLE backend '%s'", c.BackendName)
}

// Reporter returns the reporters enabled by c: the console (if console is set), the history file
// and Home Assistant. The History is returned separately so callers can query it.
func (c *Config) Reporter(logger log.Logger, console bool) (clocksync.Reporter, *report.History, error) {
	var reporters report.Multi
	if console {
		reporters = append(reporters, report.NewConsole(nil))
	}

	history := report.NewHistory(c.HistoryFilename, 0)
	reporters = append(reporters, history)

	if c.Flags.isSet(FlagNotify) && c.HomeAssistantURL != "" {
		token, err := c.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load Home Assistant token: %w", err)
		}
		client := inet.NewClient(c.HomeAssistantURL, token, inet.BuildUserAgent(""), nil, logger)
		reporters = append(reporters, report.NewHomeAssistant(client, logger))
	}
	return reporters, history, nil
}

// Connect initializes the BLE adapter and builds a Sequencer on top of it. Callers must Close the
// returned Components.
func (c *Config) Connect(logger log.Logger, console bool) (*Components, error) {
	logger = log.OrDiscard(logger)
	p := &Components{}

	adapter, err := c.NewAdapter(logger)
	if err != nil {
		return nil, err
	}
	if err := adapter.InitAdapter(c.BtAdapterID); err != nil {
		if adapter.IsAdapterError(err) {
			fmt.Fprintln(os.Stderr, adapter.AdapterErrorHelpMessage(err))
		}
		return nil, fmt.Errorf("failed to initialize BLE adapter: %w", err)
	}
	p.Adapter = adapter
	p.closers = append(p.closers, adapter.CloseAdapter)
	p.Manager = ble.NewManager(adapter, logger)

	switch c.ResolverName {
	case "", ResolverScan:
		p.Resolver = p.Manager
	case ResolverBlueZ:
		resolver, err := bluez.New(c.BtAdapterID, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.Resolver = resolver
		p.closers = append(p.closers, resolver.Close)
	default:
		p.Close()
		return nil, fmt.Errorf("unknown resolver '%s'", c.ResolverName)
	}

	p.Reporter, p.History, err = c.Reporter(logger, console)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Sequencer = clocksync.New(p.Resolver, p.Manager, p.Reporter, logger)
	return p, nil
}
