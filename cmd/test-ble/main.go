package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/cli"
	"github.com/lywsd02/clock-sync/pkg/connector/ble"
)

var (
	testConnect = flag.Bool("testConnect", false, "Also connect to the device after finding it")
)

func main() {
	config, err := cli.NewConfig(cli.FlagDevice | cli.FlagBLE)
	if err != nil {
		os.Exit(1)
	}
	config.RegisterCommandLineFlags()
	flag.Parse()
	config.ReadFromEnvironment()

	logger := log.New(os.Stderr, log.LevelDebug)

	adapter, err := config.NewAdapter(logger)
	if err != nil {
		logger.Error("%s", err)
		return
	}
	if config.BtAdapterID != "" {
		logger.Info("Trying to use BLE adapter: %s", config.BtAdapterID)
	} else {
		logger.Info("Using first available BLE device")
	}
	if err = adapter.InitAdapter(config.BtAdapterID); err != nil {
		if adapter.IsAdapterError(err) {
			logger.Error("%s", adapter.AdapterErrorHelpMessage(err))
		} else {
			logger.Error("Failed to initialize BLE device: %v", err)
		}
		return
	}
	defer adapter.CloseAdapter()

	logger.Info("BLE adapter initialized")

	if config.Address == "" {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	manager := ble.NewManager(adapter, logger)
	logger.Info("Scanning for %s until found, interrupted or %s passes", config.Address, config.ConnectTimeout)
	target, err := manager.Resolve(ctx, config.Address, false)
	if err != nil {
		logger.Error("Scan failed: %v", err)
		return
	}
	logger.Info("Found %s (%q, RSSI %d, connectable: %t)", target.Address, target.LocalName, target.RSSI, target.Connectable)

	if !*testConnect {
		return
	}
	session, err := manager.Connect(ctx, target, config.ConnectTimeout)
	if err != nil {
		logger.Error("Connection failed: %v", err)
		return
	}
	logger.Info("Connected to %s, disconnecting", session.Address())
	session.Close()
}
