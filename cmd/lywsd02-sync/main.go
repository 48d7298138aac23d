package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"
	"golang.org/x/term"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/cli"
	"github.com/lywsd02/clock-sync/pkg/protocol"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usage = `
 * Commands that talk to a sensor require a device address and a Bluetooth adapter.
 * Outcomes are published to Home Assistant when -ha-url and a token are configured.
 * Run without a COMMAND to start an interactive shell.`

func Usage() {
	fmt.Printf("Usage: %s [OPTION...] COMMAND [ARG...]\n", os.Args[0])
	fmt.Printf("\nRun %s help COMMAND for more information. Valid COMMANDs are listed below.", os.Args[0])
	fmt.Println("")
	fmt.Println(usage)
	fmt.Println("")

	fmt.Printf("Available OPTIONs:\n")
	flag.PrintDefaults()
	fmt.Println("")
	fmt.Printf("Available COMMANDs:\n")
	maxLength := 0
	var labels []string
	for command := range commands {
		labels = append(labels, command)
		if len(command) > maxLength {
			maxLength = len(command)
		}
	}
	sort.Strings(labels)
	for _, command := range labels {
		info := commands[command]
		fmt.Printf("  %s%s %s\n", command, strings.Repeat(" ", maxLength-len(command)), info.help)
	}
}

func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		return reader.ReadString('\n')
	}
	fmt.Fprint(os.Stderr, "Home Assistant token: ")
	token, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	return string(token), err
}

// commandTimeout bounds a whole command: resolution and connection plus one write per
// characteristic and some slack for reporting.
func commandTimeout(config *cli.Config) time.Duration {
	return config.ConnectTimeout + 4*config.CommandTimeout
}

func runCommand(ctx context.Context, a *app, args []string) int {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout(a.config))
	defer cancel()

	if err := execute(ctx, a, args); err != nil {
		switch {
		case errors.Is(err, protocol.ErrMissingAddress):
			writeErr("You must provide a device address with -address or $%s to execute this command", cli.EnvAddress)
		case protocol.MayHaveSucceeded(err):
			writeErr("Couldn't verify success: %s", err)
		default:
			writeErr("Failed to execute command: %s", err)
		}
		return 1
	}
	return 0
}

func runInteractiveShell(ctx context.Context, a *app) int {
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Printf("> "); scanner.Scan(); fmt.Printf("> ") {
		args, err := shlex.Split(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return 0
		}
		if err != nil {
			writeErr("Invalid command: %s", err)
			continue
		}
		if args[0] == "help" {
			help(args)
			continue
		}
		runCommand(ctx, a, args)
	}
	if err := scanner.Err(); err != nil {
		writeErr("Error reading command: %s", err)
		return 1
	}
	return 0
}

func help(args []string) int {
	if len(args) == 1 {
		Usage()
		return 0
	}
	info, ok := commands[args[1]]
	if !ok {
		writeErr("Unrecognized command: %s", args[1])
		return 1
	}
	info.Usage(args[1])
	return 0
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	var envFile string
	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		writeErr("Failed to load configuration: %s", err)
		return
	}
	flag.Usage = Usage
	flag.StringVar(&envFile, "env-file", "", "Load environment variables from `file`. Defaults to "+cli.DefaultEnvFilename+".")
	config.RegisterCommandLineFlags()
	flag.Parse()

	logger := log.New(os.Stderr, log.LevelInfo)
	config.Logger = logger
	if err := config.LoadEnvFile(envFile); err != nil {
		writeErr("%s", err)
		return
	}
	config.ReadFromEnvironment()
	logger.SetLevel(config.LogLevel())

	args := flag.Args()
	if len(args) > 0 {
		if args[0] == "help" {
			status = help(args)
			return
		}
		if _, err := checkReadiness(args[0]); err != nil {
			writeErr("%s: %s", err, args[0])
			return
		}
	}

	if err := config.LoadCredentials(); err != nil {
		writeErr("Error loading credentials: %s", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{config: config, logger: logger}
	defer a.Close()

	if len(args) > 0 {
		status = runCommand(ctx, a, args)
	} else {
		status = runInteractiveShell(ctx, a)
	}
}
