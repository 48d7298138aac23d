/*
Package cli facilitates building command-line applications that synchronize LYWSD02 clocks. It
defines a [Config] type that can be used to register common command-line flags (using the Golang
flag package) and environment variable equivalents.

The package uses [keyring]'s platform-agnostic interface for storing the Home Assistant access token
in an OS-dependent credential store.

# Examples

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for the device, BLE, notifications...
	flag.Parse()
	config.LoadEnvFile("")            // Loads .env into the environment, if present
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	config.LoadCredentials()          // Prompt for Keyring password if needed

	components, err := config.Connect(logger, true)
	if err != nil {
		panic(err)
	}
	defer components.Close()

	request, err := config.Request()
	if err != nil {
		panic(err)
	}
	outcome, err := components.Sequencer.SetTime(ctx, request)

Use a [Flag] mask to control what [Config] fields are populated. For example, a server that
receives device parameters per request would use NewConfig(FlagBLE | FlagNotify | FlagHistory).
*/
package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"github.com/joho/godotenv"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/clocksync"
	"github.com/lywsd02/clock-sync/pkg/payload"
)

// Environment variable names used are used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvAddress         = "LYWSD02_ADDRESS"
	EnvTzOffset        = "LYWSD02_TZ_OFFSET"
	EnvTempMode        = "LYWSD02_TEMP_MODE"
	EnvClockMode       = "LYWSD02_CLOCK_MODE"
	EnvTimeout         = "LYWSD02_TIMEOUT"
	EnvBtAdapter       = "LYWSD02_BT_ADAPTER"
	EnvBackend         = "LYWSD02_BACKEND"
	EnvResolver        = "LYWSD02_RESOLVER"
	EnvHAURL           = "LYWSD02_HA_URL"
	EnvHATokenFile     = "LYWSD02_HA_TOKEN_FILE"
	EnvHATokenName     = "LYWSD02_HA_TOKEN_NAME"
	EnvHistoryFile     = "LYWSD02_HISTORY_FILE"
	EnvKeyringType     = "LYWSD02_KEYRING_TYPE"
	EnvKeyringPass     = "LYWSD02_KEYRING_PASSWORD"
	EnvKeyringPath     = "LYWSD02_KEYRING_PATH"
	EnvKeyringDebug    = "LYWSD02_KEYRING_DEBUG"
	EnvVerbose         = "LYWSD02_VERBOSE"
	DefaultEnvFilename = ".env"
)

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagDevice  Flag = 1 // Enable device address and display options.
	FlagBLE     Flag = 2 // Enable BLE adapter, backend and resolver options.
	FlagNotify  Flag = 4 // Enable Home Assistant notification options.
	FlagHistory Flag = 8 // Enable outcome history options.
	FlagAll     Flag = FlagDevice | FlagBLE | FlagNotify | FlagHistory
)

const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"

	ResolverScan  = "scan"
	ResolverBlueZ = "bluez"
)

var (
	ErrNoTokenSpecified = errors.New("home assistant token location not provided")
	ErrKeyNotFound      = keyring.ErrKeyNotFound
)

// temperatureFlag accepts "C", "F" or the empty string.
type temperatureFlag struct {
	mode *payload.TemperatureMode
}

func (t temperatureFlag) String() string {
	if t.mode == nil {
		return ""
	}
	return t.mode.String()
}

func (t temperatureFlag) Set(v string) error {
	v = strings.TrimSpace(v)
	mode := payload.ParseTemperatureMode(v)
	if mode == payload.TemperatureUnset && v != "" {
		return fmt.Errorf("temperature mode must be C or F, got '%s'", v)
	}
	*t.mode = mode
	return nil
}

// clockFlag accepts 12, 24 or the empty string.
type clockFlag struct {
	mode *payload.ClockMode
}

func (c clockFlag) String() string {
	if c.mode == nil || *c.mode == payload.ClockUnset {
		return ""
	}
	return strconv.Itoa(c.mode.Hours())
}

func (c clockFlag) Set(v string) error {
	v = strings.TrimSuffix(strings.TrimSpace(v), "h")
	if v == "" {
		*c.mode = payload.ClockUnset
		return nil
	}
	hours, err := strconv.Atoi(v)
	if err != nil || payload.ClockModeFromHours(hours) == payload.ClockUnset {
		return fmt.Errorf("clock mode must be 12 or 24, got '%s'", v)
	}
	*c.mode = payload.ClockModeFromHours(hours)
	return nil
}

// Config fields determine which device is synchronized, how it is reached and where outcomes
// are published.
type Config struct {
	Flags Flag // Controls which set of environment variables/CLI flags to use.

	Address         string
	TimezoneOffset  int
	tzOffsetSet     bool
	TemperatureMode payload.TemperatureMode
	ClockMode       payload.ClockMode
	Timestamp       int64 // Zero means the localized current time.
	Timezone        string
	ConnectTimeout  time.Duration
	CommandTimeout  time.Duration

	BtAdapterID  string
	BackendName  string
	ResolverName string

	HomeAssistantURL string
	KeyringTokenName string // Username for Home Assistant token in system keyring
	TokenFilename    string
	HistoryFilename  string

	Backend     keyring.Config
	BackendType backendType
	Debug       bool // Enable keyring debug messages
	Verbose     bool

	// Logger receives configuration debug messages. Defaults to log.Discard().
	Logger log.Logger

	password *string
	token    string
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags:          flags,
		ConnectTimeout: clocksync.DefaultConnectTimeout,
		CommandTimeout: clocksync.DefaultCommandTimeout,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
		Logger: log.Discard(),
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword

	return &c, nil
}

// RegisterCommandLineFlags adds flags to the default flag set.
func (c *Config) RegisterCommandLineFlags() {
	c.RegisterFlags(flag.CommandLine)
}

// RegisterFlags adds flags to fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	if c.Flags.isSet(FlagDevice) {
		fs.StringVar(&c.Address, "address", "", "Device MAC `address`. Defaults to $LYWSD02_ADDRESS.")
		fs.Func("tz-offset", "Timezone offset in `hours` written alongside the time. Defaults to $LYWSD02_TZ_OFFSET or 0.", func(v string) error {
			offset, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			c.TimezoneOffset = offset
			c.tzOffsetSet = true
			return nil
		})
		fs.Var(temperatureFlag{&c.TemperatureMode}, "temp-mode", "Temperature `unit` (C|F). Defaults to $LYWSD02_TEMP_MODE; unset leaves the device unchanged.")
		fs.Var(clockFlag{&c.ClockMode}, "clock-mode", "Clock `format` (12|24). Defaults to $LYWSD02_CLOCK_MODE; unset leaves the device unchanged.")
		fs.Int64Var(&c.Timestamp, "timestamp", 0, "Write this Unix `timestamp` instead of the localized current time.")
		fs.StringVar(&c.Timezone, "timezone", "", "IANA `zone` used to localize the current time. Defaults to the system zone.")
		fs.DurationVar(&c.CommandTimeout, "command-timeout", clocksync.DefaultCommandTimeout, "Maximum `duration` of a single characteristic write.")
	}
	if c.Flags.isSet(FlagBLE) {
		fs.DurationVar(&c.ConnectTimeout, "timeout", clocksync.DefaultConnectTimeout, "Connection `timeout`. Defaults to $LYWSD02_TIMEOUT (seconds) or 60s.")
		fs.StringVar(&c.BackendName, "backend", "", "BLE `backend` ("+BackendGoBLE+"|"+BackendTinyGo+"). Defaults to $LYWSD02_BACKEND or "+BackendTinyGo+".")
		fs.StringVar(&c.ResolverName, "resolver", "", "Device `resolver` ("+ResolverScan+"|"+ResolverBlueZ+"). Defaults to $LYWSD02_RESOLVER or "+ResolverScan+".")
		c.registerFlagsOsSpecific(fs)
	}
	if c.Flags.isSet(FlagNotify) {
		fs.StringVar(&c.HomeAssistantURL, "ha-url", "", "Home Assistant base `URL`. Defaults to $LYWSD02_HA_URL; unset disables notifications.")
		fs.StringVar(&c.KeyringTokenName, "token-name", "", "System keyring `name` for Home Assistant token. Defaults to $LYWSD02_HA_TOKEN_NAME.")
		fs.StringVar(&c.TokenFilename, "token-file", "", "`File` containing Home Assistant token. Defaults to $LYWSD02_HA_TOKEN_FILE.")

		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		fs.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $LYWSD02_KEYRING_TYPE.")
		fs.StringVar(&c.Backend.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
		fs.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
	if c.Flags.isSet(FlagHistory) {
		fs.StringVar(&c.HistoryFilename, "history", "", "Load and save sync history from `file`. Defaults to $LYWSD02_HISTORY_FILE.")
	}
	fs.BoolVar(&c.Verbose, "debug", false, "Enable verbose debugging messages. Defaults to $LYWSD02_VERBOSE.")
}

// LoadEnvFile adds the variables defined in filename (DefaultEnvFilename if empty) to the
// environment without overriding variables that are already set. A missing file is not an
// error.
func (c *Config) LoadEnvFile(filename string) error {
	if filename == "" {
		filename = DefaultEnvFilename
	}
	if err := godotenv.Load(filename); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.Logger.Debug("No %s file found, relying on environment variables", filename)
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", filename, err)
	}
	c.Logger.Debug("Loaded environment from %s", filename)
	return nil
}

// LoadCredentials attempts to open a keyring, prompting for a password if needed. Call this
// method before syncing to prevent interactive prompts from counting against timeouts.
func (c *Config) LoadCredentials() error {
	if c.Flags.isSet(FlagNotify) && c.HomeAssistantURL != "" {
		if _, err := c.Token(); err != nil {
			return err
		}
	}
	return nil
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	if !c.Verbose {
		_, c.Verbose = os.LookupEnv(EnvVerbose)
	}
	if c.Flags.isSet(FlagDevice) {
		if c.Address == "" {
			c.Address = os.Getenv(EnvAddress)
			c.Logger.Debug("Set address to '%s'", c.Address)
		}
		if !c.tzOffsetSet {
			if offset, err := strconv.Atoi(os.Getenv(EnvTzOffset)); err == nil {
				c.TimezoneOffset = offset
				c.tzOffsetSet = true
				c.Logger.Debug("Set timezone offset to %dh", c.TimezoneOffset)
			}
		}
		if c.TemperatureMode == payload.TemperatureUnset {
			if err := (temperatureFlag{&c.TemperatureMode}).Set(os.Getenv(EnvTempMode)); err != nil {
				c.Logger.Warning("Ignoring %s: %s", EnvTempMode, err)
			}
		}
		if c.ClockMode == payload.ClockUnset {
			if err := (clockFlag{&c.ClockMode}).Set(os.Getenv(EnvClockMode)); err != nil {
				c.Logger.Warning("Ignoring %s: %s", EnvClockMode, err)
			}
		}
	}
	if c.Flags.isSet(FlagBLE) {
		if c.ConnectTimeout == clocksync.DefaultConnectTimeout {
			if seconds, err := strconv.Atoi(os.Getenv(EnvTimeout)); err == nil && seconds > 0 {
				c.ConnectTimeout = time.Duration(seconds) * time.Second
				c.Logger.Debug("Set connection timeout to %s", c.ConnectTimeout)
			}
		}
		if c.BtAdapterID == "" {
			c.BtAdapterID = os.Getenv(EnvBtAdapter)
		}
		if c.BackendName == "" {
			c.BackendName = os.Getenv(EnvBackend)
		}
		if c.ResolverName == "" {
			c.ResolverName = os.Getenv(EnvResolver)
		}
		c.Logger.Debug("Set BLE adapter '%s', backend '%s', resolver '%s'", c.BtAdapterID, c.BackendName, c.ResolverName)
	}
	if c.Flags.isSet(FlagNotify) {
		if c.HomeAssistantURL == "" {
			c.HomeAssistantURL = os.Getenv(EnvHAURL)
			c.Logger.Debug("Set Home Assistant URL to '%s'", c.HomeAssistantURL)
		}
		if c.KeyringTokenName == "" && c.TokenFilename == "" {
			c.KeyringTokenName = os.Getenv(EnvHATokenName)
			c.Logger.Debug("Set token name to '%s'", c.KeyringTokenName)

			c.TokenFilename = os.Getenv(EnvHATokenFile)
			c.Logger.Debug("Set token file to '%s'", c.TokenFilename)
		}
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvKeyringType)); err == nil {
				c.Logger.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvKeyringPass)
			c.password = &password
			if len(password) > 0 {
				c.Logger.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.Backend.FileDir == "" {
			c.Backend.FileDir = os.Getenv(EnvKeyringPath)
			c.Logger.Debug("Set keyring File Path to '%s'", c.Backend.FileDir)
		}
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvKeyringDebug)
		}
	}
	if c.Flags.isSet(FlagHistory) && c.HistoryFilename == "" {
		c.HistoryFilename = os.Getenv(EnvHistoryFile)
		c.Logger.Debug("Set history file to '%s'", c.HistoryFilename)
	}
}

// LogLevel returns the level implied by c.Verbose.
func (c *Config) LogLevel() log.Level {
	if c.Verbose {
		return log.LevelDebug
	}
	return log.LevelInfo
}

// Request builds a sync request from the device options.
func (c *Config) Request() (*clocksync.Request, error) {
	request := clocksync.NewRequest(c.Address)
	request.TimezoneOffsetHours = c.TimezoneOffset
	request.TemperatureMode = c.TemperatureMode
	request.ClockMode = c.ClockMode
	request.ConnectTimeout = c.ConnectTimeout
	request.CommandTimeout = c.CommandTimeout
	if c.Timestamp != 0 {
		request.SetTimestamp(c.Timestamp)
	}
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone '%s': %w", c.Timezone, err)
		}
		request.Location = loc
		if !c.tzOffsetSet {
			_, offset := time.Now().In(loc).Zone()
			request.TimezoneOffsetHours = offset / 3600
		}
	}
	return request, request.Validate()
}

// Token returns the Home Assistant access token from c.TokenFilename or the system keyring.
func (c *Config) Token() (string, error) {
	if c.token != "" {
		return c.token, nil
	}
	if c.TokenFilename != "" {
		token, err := os.ReadFile(c.TokenFilename)
		if err == nil {
			c.token = strings.TrimSpace(string(token))
			return c.token, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		// If the token file doesn't exist, fall through to trying to load from the system keyring.
	}
	if c.KeyringTokenName == "" {
		return "", ErrNoTokenSpecified
	}
	var err error
	c.token, err = c.LoadTokenFromKeyring()
	return c.token, err
}
