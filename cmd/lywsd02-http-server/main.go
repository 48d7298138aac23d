package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/cli"
	"github.com/lywsd02/clock-sync/pkg/protocol"
	"github.com/lywsd02/clock-sync/pkg/server"
)

const (
	defaultPort     = 8080
	shutdownTimeout = 5 * time.Second
)

const (
	EnvTlsCert    = "LYWSD02_HTTP_TLS_CERT"
	EnvTlsKey     = "LYWSD02_HTTP_TLS_KEY"
	EnvHost       = "LYWSD02_HTTP_HOST"
	EnvPort       = "LYWSD02_HTTP_PORT"
	EnvReqTimeout = "LYWSD02_HTTP_TIMEOUT"
)

const nonLocalhostWarning = `
Do not listen on a network interface without adding client authentication. Anyone who can reach
the server can change the clock and display settings of every sensor in Bluetooth range.`

type HttpServerConfig struct {
	keyFilename  string
	certFilename string
	selfSigned   bool
	verbose      bool
	host         string
	port         int
	timeout      time.Duration
}

var (
	httpConfig = &HttpServerConfig{}
)

func init() {
	flag.StringVar(&httpConfig.certFilename, "cert", "", "TLS certificate chain `file`")
	flag.StringVar(&httpConfig.keyFilename, "tls-key", "", "Server TLS private key `file`")
	flag.BoolVar(&httpConfig.selfSigned, "self-signed", false, "Serve TLS with a generated self-signed certificate")
	flag.BoolVar(&httpConfig.verbose, "verbose", false, "Enable verbose logging")
	flag.StringVar(&httpConfig.host, "host", "localhost", "Server `hostname`")
	flag.IntVar(&httpConfig.port, "port", defaultPort, "`Port` to listen on")
	flag.DurationVar(&httpConfig.timeout, "request-timeout", server.DefaultTimeout, "Timeout for each set_time request, including time spent queued behind other requests to the same sensor")
}

func Usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [OPTION...]\n", os.Args[0])
	fmt.Fprintf(out, "\nA server that exposes a REST API for synchronizing LYWSD02 clocks")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, nonLocalhostWarning)
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Device options set the defaults for requests that omit them.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	flag.PrintDefaults()
}

// serverDefaults converts the device options into request defaults. The device address is not
// needed since each request names its own.
func serverDefaults(config *cli.Config) (server.Defaults, error) {
	request, err := config.Request()
	if err != nil && !errors.Is(err, protocol.ErrMissingAddress) {
		return server.Defaults{}, err
	}
	return server.Defaults{
		TimezoneOffsetHours: request.TimezoneOffsetHours,
		TemperatureMode:     request.TemperatureMode,
		ClockMode:           request.ClockMode,
		ConnectTimeout:      request.ConnectTimeout,
		CommandTimeout:      request.CommandTimeout,
		Location:            request.Location,
	}, nil
}

func main() {
	logger := log.New(os.Stderr, log.LevelInfo)
	config, err := cli.NewConfig(cli.FlagDevice | cli.FlagBLE | cli.FlagNotify | cli.FlagHistory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %s\n", err)
		os.Exit(1)
	}

	defer func() {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}()

	var envFile string
	flag.Usage = Usage
	flag.StringVar(&envFile, "env-file", "", "Load environment variables from `file`. Defaults to "+cli.DefaultEnvFilename+".")
	config.RegisterCommandLineFlags()
	flag.Parse()

	config.Logger = logger
	if err = config.LoadEnvFile(envFile); err != nil {
		return
	}
	if err = readFromEnvironment(); err != nil {
		return
	}
	config.ReadFromEnvironment()

	logger.SetLevel(config.LogLevel())
	if httpConfig.verbose {
		logger.SetLevel(log.LevelDebug)
	}

	if httpConfig.host != "localhost" {
		fmt.Fprintln(os.Stderr, nonLocalhostWarning)
	}

	defaults, err := serverDefaults(config)
	if err != nil {
		return
	}
	if err = config.LoadCredentials(); err != nil {
		return
	}

	logger.Debug("Initializing Bluetooth")
	components, err := config.Connect(logger, false)
	if err != nil {
		return
	}
	defer components.Close()

	s := server.New(components.Sequencer, components.History.Cache, logger)
	s.Timeout = httpConfig.timeout
	s.Defaults = defaults

	addr := net.JoinHostPort(httpConfig.host, strconv.Itoa(httpConfig.port))
	httpServer := &http.Server{Addr: addr, Handler: s}
	if httpConfig.selfSigned {
		var certPEM string
		if httpServer, certPEM, err = newSelfSignedServer(addr, httpConfig.host, s); err != nil {
			return
		}
		fmt.Fprintf(os.Stderr, "Using self-signed certificate:\n%s", certPEM)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("Listening on %s", addr)
	switch {
	case httpConfig.selfSigned:
		err = httpServer.ListenAndServeTLS("", "")
	case httpConfig.certFilename != "" || httpConfig.keyFilename != "":
		err = httpServer.ListenAndServeTLS(httpConfig.certFilename, httpConfig.keyFilename)
	default:
		err = httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	logger.Info("Server stopped")
}

// readFromEnvironment applies configuration from environment variables.
// Values are not overwritten.
func readFromEnvironment() error {
	if httpConfig.certFilename == "" {
		httpConfig.certFilename = os.Getenv(EnvTlsCert)
	}

	if httpConfig.keyFilename == "" {
		httpConfig.keyFilename = os.Getenv(EnvTlsKey)
	}

	if httpConfig.host == "localhost" {
		host, ok := os.LookupEnv(EnvHost)
		if ok {
			httpConfig.host = host
		}
	}

	if !httpConfig.verbose {
		if verbose, ok := os.LookupEnv(cli.EnvVerbose); ok {
			httpConfig.verbose = verbose != "false" && verbose != "0"
		}
	}

	var err error
	if httpConfig.port == defaultPort {
		if port, ok := os.LookupEnv(EnvPort); ok {
			httpConfig.port, err = strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("invalid port: %s", port)
			}
		}
	}

	if httpConfig.timeout == server.DefaultTimeout {
		if timeoutEnv, ok := os.LookupEnv(EnvReqTimeout); ok {
			httpConfig.timeout, err = time.ParseDuration(timeoutEnv)
			if err != nil {
				return fmt.Errorf("invalid timeout: %s", timeoutEnv)
			}
		}
	}

	return nil
}
