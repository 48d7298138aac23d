package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/cli"
	"github.com/lywsd02/clock-sync/pkg/clocksync"
	"github.com/lywsd02/clock-sync/pkg/connector/ble"
	"github.com/lywsd02/clock-sync/pkg/payload"
	"github.com/lywsd02/clock-sync/pkg/protocol"
	"github.com/lywsd02/clock-sync/pkg/report"
)

var (
	ErrCommandLineArgs  = errors.New("invalid command line arguments")
	ErrRequiresAddress  = errors.New("command requires a device address (-address or $LYWSD02_ADDRESS)")
	ErrRequiresTokenKey = errors.New("command requires a keyring token name (-token-name or $LYWSD02_HA_TOKEN_NAME)")
	ErrUnknownCommand   = errors.New("unrecognized command")
)

type Argument struct {
	name string
	help string
}

// app holds state shared by commands. The BLE stack is initialized on first use so that
// commands that only read history work without a Bluetooth adapter.
type app struct {
	config     *cli.Config
	logger     log.Logger
	components *cli.Components
	history    *report.History
}

func (a *app) connect() (*cli.Components, error) {
	if a.components != nil {
		return a.components, nil
	}
	components, err := a.config.Connect(a.logger, true)
	if err != nil {
		return nil, err
	}
	a.components = components
	a.history = components.History
	return components, nil
}

func (a *app) historyCache() *report.History {
	if a.history == nil {
		a.history = report.NewHistory(a.config.HistoryFilename, 0)
	}
	return a.history
}

func (a *app) Close() {
	if a.components != nil {
		a.components.Close()
	}
}

type Handler func(ctx context.Context, a *app, args map[string]string) error

type Command struct {
	help           string
	requiresDevice bool // True if command talks to a sensor and therefore needs the BLE adapter
	args           []Argument
	optional       []Argument
	handler        Handler
}

// parseTemperature accepts C or F. ok is false for anything else.
func parseTemperature(s string) (mode payload.TemperatureMode, ok bool) {
	mode = payload.ParseTemperatureMode(strings.TrimSpace(s))
	return mode, mode != payload.TemperatureUnset
}

// parseClock accepts 12 or 24, optionally suffixed with "h". ok is false for anything else.
func parseClock(s string) (mode payload.ClockMode, ok bool) {
	hours, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "h"))
	if err != nil {
		return payload.ClockUnset, false
	}
	mode = payload.ClockModeFromHours(hours)
	return mode, mode != payload.ClockUnset
}

// applyArgs overrides fields of request with positional arguments. Unrecognized display modes
// are logged and leave that setting unchanged on the device.
func applyArgs(request *clocksync.Request, args map[string]string, logger log.Logger) {
	if address, ok := args["ADDRESS"]; ok {
		request.Address = ble.NormalizeAddress(address)
	}
	if temp, ok := args["TEMP_MODE"]; ok && temp != "-" {
		var known bool
		if request.TemperatureMode, known = parseTemperature(temp); !known {
			logger.Warning("Unknown temperature mode '%s'; temperature unit will not be changed", temp)
		}
	}
	if clock, ok := args["CLOCK_MODE"]; ok && clock != "-" {
		var known bool
		if request.ClockMode, known = parseClock(clock); !known {
			logger.Warning("Unknown clock mode '%s'; clock mode will not be changed", clock)
		}
	}
}

func (a *app) address(args map[string]string) (string, error) {
	address := args["ADDRESS"]
	if address == "" {
		address = a.config.Address
	}
	address = ble.NormalizeAddress(address)
	if address == "" {
		return "", ErrRequiresAddress
	}
	return address, nil
}

func printOutcome(o *clocksync.Outcome) {
	status := "ok"
	if !o.Success {
		status = o.ErrorKind
	}
	fmt.Printf("%s  %-16s timestamp=%d offset=%dh applied=[%s]",
		o.Finished.Local().Format(time.RFC3339), status, o.Timestamp, o.TimezoneOffset, strings.Join(o.Applied, ","))
	if o.Error != "" {
		fmt.Printf(" error=%q", o.Error)
	}
	fmt.Println()
}

func checkReadiness(commandName string) (*Command, error) {
	info, ok := commands[commandName]
	if !ok {
		return nil, ErrUnknownCommand
	}
	return info, nil
}

func execute(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, err := checkReadiness(args[0])
	if err != nil {
		return err
	}

	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		if info.requiresDevice {
			if _, err = a.connect(); err != nil {
				return err
			}
		}
		err = info.handler(ctx, a, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" [")
	}
	for _, arg := range c.optional {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" ]")
	}
	fmt.Printf("\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

var commands = map[string]*Command{
	"set-time": &Command{
		help:           "Write the current time (and optionally display settings) to a sensor",
		requiresDevice: true,
		optional: []Argument{
			Argument{name: "ADDRESS", help: "device MAC address; defaults to -address"},
			Argument{name: "TEMP_MODE", help: "C or F; - leaves the -temp-mode setting"},
			Argument{name: "CLOCK_MODE", help: "12 or 24; - leaves the -clock-mode setting"},
		},
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			request, err := a.config.Request()
			if err != nil && !errors.Is(err, protocol.ErrMissingAddress) {
				return err
			}
			applyArgs(request, args, a.logger)
			_, err = a.components.Sequencer.SetTime(ctx, request)
			return err
		},
	},
	"scan": &Command{
		help:           "Look up a sensor and print what the resolver knows about it",
		requiresDevice: true,
		optional: []Argument{
			Argument{name: "ADDRESS", help: "device MAC address; defaults to -address"},
		},
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			address, err := a.address(args)
			if err != nil {
				return err
			}
			result, err := a.components.Resolver.Resolve(ctx, address, false)
			if err != nil {
				return err
			}
			fmt.Printf("Address:     %s\n", result.Address)
			fmt.Printf("Name:        %s\n", result.LocalName)
			fmt.Printf("RSSI:        %d dBm\n", result.RSSI)
			fmt.Printf("Connectable: %t\n", result.Connectable)
			return nil
		},
	},
	"history": &Command{
		help: "Print recorded sync outcomes",
		optional: []Argument{
			Argument{name: "ADDRESS", help: "device MAC address; omit to list every device"},
		},
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			history := a.historyCache().Cache
			addresses := history.Addresses()
			if address, ok := args["ADDRESS"]; ok {
				addresses = []string{ble.NormalizeAddress(address)}
			}
			for _, address := range addresses {
				fmt.Println(address)
				for _, outcome := range history.History(address) {
					fmt.Print("  ")
					printOutcome(outcome)
				}
			}
			return nil
		},
	},
	"last-sync": &Command{
		help: "Print the most recent successful sync of a sensor",
		optional: []Argument{
			Argument{name: "ADDRESS", help: "device MAC address; defaults to -address"},
		},
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			address, err := a.address(args)
			if err != nil {
				return err
			}
			outcome, ok := a.historyCache().Cache.LastSuccess(address)
			if !ok {
				return fmt.Errorf("no successful sync recorded for %s", address)
			}
			printOutcome(outcome)
			return nil
		},
	},
	"save-token": &Command{
		help: "Store a Home Assistant long-lived access token in the system keyring",
		optional: []Argument{
			Argument{name: "FILE", help: "file containing the token; defaults to a password prompt"},
		},
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			if a.config.KeyringTokenName == "" {
				return ErrRequiresTokenKey
			}
			var token string
			if filename, ok := args["FILE"]; ok {
				data, err := os.ReadFile(filename)
				if err != nil {
					return err
				}
				token = string(data)
			} else {
				var err error
				if token, err = promptToken(); err != nil {
					return err
				}
			}
			return a.config.SaveTokenToKeyring(strings.TrimSpace(token))
		},
	},
	"delete-token": &Command{
		help: "Remove the Home Assistant access token from the system keyring",
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			if a.config.KeyringTokenName == "" {
				return ErrRequiresTokenKey
			}
			if err := a.config.DeleteToken(); err != nil {
				return err
			}
			fmt.Printf("Deleted token '%s' from keyring\n", a.config.KeyringTokenName)
			return nil
		},
	},
}
