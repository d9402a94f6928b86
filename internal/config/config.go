package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/lbs-peripheral/internal/ble"
	"github.com/chaz8081/lbs-peripheral/internal/ble/crypto"
	"github.com/chaz8081/lbs-peripheral/internal/led"
)

// maxDeviceNameLen keeps flags and the complete name within one 31-byte
// advertising payload.
const maxDeviceNameLen = 26

// Config holds all application configuration.
type Config struct {
	DeviceName  string            `yaml:"device_name"`
	Advertising AdvertisingConfig `yaml:"advertising"`
	Connection  ConnectionConfig  `yaml:"connection"`
	Button      ButtonConfig      `yaml:"button"`
	LED         LEDConfig         `yaml:"led"`
	HeartbeatMS int               `yaml:"heartbeat_ms"`
	LogLevel    string            `yaml:"log_level"`
}

// AdvertisingConfig holds advertising settings.
type AdvertisingConfig struct {
	Address       string `yaml:"address"` // "identity" or "random"
	Secret        string `yaml:"secret"`  // hex, seeds the static random address
	IntervalMinMS int    `yaml:"interval_min_ms"`
	IntervalMaxMS int    `yaml:"interval_max_ms"`
}

// ConnectionConfig holds the link preferences requested on connect.
type ConnectionConfig struct {
	Security   string           `yaml:"security"` // "none", "encrypted", "authenticated" or "secure"
	PHY        string           `yaml:"phy"`      // "1m", "2m" or "coded"
	DataLength DataLengthConfig `yaml:"data_length"`
}

// DataLengthConfig holds the requested LL data length.
type DataLengthConfig struct {
	TxOctets int `yaml:"tx_octets"`
	TxTimeUS int `yaml:"tx_time_us"`
}

// ButtonConfig selects the key that acts as the user button.
type ButtonConfig struct {
	Key string `yaml:"key"`
}

// LEDConfig selects the LED backend. Keys apply to the keyboard backend.
type LEDConfig struct {
	Backend string `yaml:"backend"` // "log" or "keyboard"
	UserKey string `yaml:"user_key"`
	ConnKey string `yaml:"conn_key"`
	RunKey  string `yaml:"run_key"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "lbs-peripheral")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		DeviceName: "Nordic_LBS",
		Advertising: AdvertisingConfig{
			Address:       "identity",
			IntervalMinMS: 30,
			IntervalMaxMS: 60,
		},
		Connection: ConnectionConfig{
			Security: "none",
			PHY:      "2m",
			DataLength: DataLengthConfig{
				TxOctets: ble.DataLenMax,
				TxTimeUS: ble.DataTimeMax,
			},
		},
		Button: ButtonConfig{
			Key: "space",
		},
		LED: LEDConfig{
			Backend: "log",
			UserKey: "capslock",
		},
		HeartbeatMS: 1000,
		LogLevel:    "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.DeviceName == "" {
		return fmt.Errorf("device_name must not be empty")
	}
	if len(c.DeviceName) > maxDeviceNameLen {
		return fmt.Errorf("device_name must be at most %d bytes, got %d", maxDeviceNameLen, len(c.DeviceName))
	}

	switch c.Advertising.Address {
	case "identity":
	case "random":
		if _, err := crypto.ParseSecret(c.Advertising.Secret); err != nil {
			return fmt.Errorf("advertising.secret: %w", err)
		}
	default:
		return fmt.Errorf("advertising.address must be \"identity\" or \"random\", got %q", c.Advertising.Address)
	}

	// 20 ms is the shortest connectable interval, 10.24 s the longest.
	if c.Advertising.IntervalMinMS < 20 || c.Advertising.IntervalMinMS > 10240 {
		return fmt.Errorf("advertising.interval_min_ms must be in 20..10240, got %d", c.Advertising.IntervalMinMS)
	}
	if c.Advertising.IntervalMaxMS < c.Advertising.IntervalMinMS || c.Advertising.IntervalMaxMS > 10240 {
		return fmt.Errorf("advertising.interval_max_ms must be in interval_min_ms..10240, got %d", c.Advertising.IntervalMaxMS)
	}

	if _, ok := securityLevels[c.Connection.Security]; !ok {
		return fmt.Errorf("connection.security must be none, encrypted, authenticated, or secure, got %q", c.Connection.Security)
	}
	if _, ok := phys[c.Connection.PHY]; !ok {
		return fmt.Errorf("connection.phy must be 1m, 2m, or coded, got %q", c.Connection.PHY)
	}

	dl := c.Connection.DataLength
	if dl.TxOctets < ble.DataLenDefault || dl.TxOctets > ble.DataLenMax {
		return fmt.Errorf("connection.data_length.tx_octets must be in %d..%d, got %d", ble.DataLenDefault, ble.DataLenMax, dl.TxOctets)
	}
	if dl.TxTimeUS < ble.DataTimeDefault || dl.TxTimeUS > ble.DataTimeMax {
		return fmt.Errorf("connection.data_length.tx_time_us must be in %d..%d, got %d", ble.DataTimeDefault, ble.DataTimeMax, dl.TxTimeUS)
	}

	if c.Button.Key == "" {
		return fmt.Errorf("button.key must not be empty")
	}

	switch c.LED.Backend {
	case "log":
	case "keyboard":
		if c.LED.UserKey == "" && c.LED.ConnKey == "" && c.LED.RunKey == "" {
			return fmt.Errorf("led: keyboard backend needs at least one of user_key, conn_key, run_key")
		}
	default:
		return fmt.Errorf("led.backend must be \"log\" or \"keyboard\", got %q", c.LED.Backend)
	}

	if c.HeartbeatMS <= 0 {
		return fmt.Errorf("heartbeat_ms must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

var securityLevels = map[string]ble.SecurityLevel{
	"none":          ble.SecurityNone,
	"encrypted":     ble.SecurityEncrypted,
	"authenticated": ble.SecurityAuthenticated,
	"secure":        ble.SecuritySecureConnections,
}

var phys = map[string]ble.PHY{
	"1m":    ble.PHY1M,
	"2m":    ble.PHY2M,
	"coded": ble.PHYCoded,
}

// AdvParams returns connectable advertising parameters. With the random
// address mode the static random address is derived from the secret.
// Call Validate first.
func (c *Config) AdvParams() (ble.AdvParams, error) {
	p := ble.AdvParams{
		Connectable: true,
		UseIdentity: c.Advertising.Address != "random",
		IntervalMin: ble.AdvInterval(time.Duration(c.Advertising.IntervalMinMS) * time.Millisecond),
		IntervalMax: ble.AdvInterval(time.Duration(c.Advertising.IntervalMaxMS) * time.Millisecond),
	}
	if p.UseIdentity {
		return p, nil
	}

	secret, err := crypto.ParseSecret(c.Advertising.Secret)
	if err != nil {
		return ble.AdvParams{}, fmt.Errorf("advertising.secret: %w", err)
	}
	addr, err := crypto.DeriveStaticAddress(secret)
	if err != nil {
		return ble.AdvParams{}, fmt.Errorf("deriving static address: %w", err)
	}
	p.Address = addr
	return p, nil
}

// Preferences returns the link parameters requested on every connection.
// Call Validate first.
func (c *Config) Preferences() ble.Preferences {
	phy := phys[c.Connection.PHY]
	return ble.Preferences{
		Security: securityLevels[c.Connection.Security],
		PHY:      ble.PHYParams{Tx: phy, Rx: phy},
		DataLength: ble.DataLengthParams{
			TxMaxLen:  uint16(c.Connection.DataLength.TxOctets),
			TxMaxTime: uint16(c.Connection.DataLength.TxTimeUS),
		},
	}
}

// Heartbeat returns the run status LED blink interval.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMS) * time.Millisecond
}

// LEDKeys maps each LED to its keyboard indicator key. Empty keys are omitted.
func (c *Config) LEDKeys() map[led.ID]string {
	keys := make(map[led.ID]string)
	for id, key := range map[led.ID]string{
		led.User:       c.LED.UserKey,
		led.ConnStatus: c.LED.ConnKey,
		led.RunStatus:  c.LED.RunKey,
	} {
		if key != "" {
			keys[id] = key
		}
	}
	return keys
}

// ParseLogLevel converts a log_level string to a slog.Level.
// Unknown values fall back to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# lbs-peripheral configuration
#
# advertising.address: identity uses the adapter address; random derives a
# static random address from advertising.secret (64 hex chars).
# connection.security: none | encrypted | authenticated | secure
# connection.phy: 1m | 2m | coded
# led.backend: log | keyboard (keyboard lock indicators)

`

// WriteDefault writes the default config to path, or to DefaultConfigPath
// when path is empty. It returns the written path, or "" if a file already
// exists there.
func WriteDefault(path string) (string, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	path = expandTilde(path)

	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
