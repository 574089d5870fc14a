// Package config loads the client and room server settings.
package config

import (
	"os"
	"strings"
	"time"

	"apprtc/native/internal/domain"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pion/logging"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes every environment variable, e.g. APPRTC_ROOM_ID.
const EnvPrefix = "APPRTC"

// FileEnv names the variable holding the YAML config path.
const FileEnv = EnvPrefix + "_CONFIG"

// Config holds the application configuration.
type Config struct {
	RoomServerURL string        `envconfig:"ROOM_SERVER_URL"`
	RoomID        string        `envconfig:"ROOM_ID"`
	Loopback      bool          `envconfig:"LOOPBACK"`
	URLParameters string        `envconfig:"URL_PARAMETERS"`
	LogLevel      string        `envconfig:"LOG_LEVEL"`
	ListenAddr    string        `envconfig:"LISTEN_ADDR"`
	CloseTimeout  time.Duration `envconfig:"CLOSE_TIMEOUT"`
	HTTPTimeout   time.Duration `envconfig:"HTTP_TIMEOUT"`
}

// file is the YAML layout. Durations are strings like "1s".
type file struct {
	RoomServerURL *string `yaml:"room_server_url"`
	RoomID        *string `yaml:"room_id"`
	Loopback      *bool   `yaml:"loopback"`
	URLParameters *string `yaml:"url_parameters"`
	LogLevel      *string `yaml:"log_level"`
	ListenAddr    *string `yaml:"listen_addr"`
	CloseTimeout  *string `yaml:"close_timeout"`
	HTTPTimeout   *string `yaml:"http_timeout"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		RoomServerURL: "https://appr.tc",
		LogLevel:      "info",
		ListenAddr:    ":8080",
		CloseTimeout:  time.Second,
		HTTPTimeout:   10 * time.Second,
	}
}

// Load builds the configuration from the defaults, the YAML file at path (or
// $APPRTC_CONFIG when path is empty), a .env file if present, and the process
// environment, each layer overriding the previous one.
func Load(path string) (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := cfg.applyYAML(data); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "process environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyYAML(data []byte) error {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	setString(&c.RoomServerURL, f.RoomServerURL)
	setString(&c.RoomID, f.RoomID)
	setString(&c.URLParameters, f.URLParameters)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.ListenAddr, f.ListenAddr)
	if f.Loopback != nil {
		c.Loopback = *f.Loopback
	}
	if err := setDuration(&c.CloseTimeout, f.CloseTimeout); err != nil {
		return errors.Wrap(err, "close_timeout")
	}
	if err := setDuration(&c.HTTPTimeout, f.HTTPTimeout); err != nil {
		return errors.Wrap(err, "http_timeout")
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// Validate checks the values that cannot be fixed up later.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.CloseTimeout <= 0 {
		return errors.New("close timeout must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("http timeout must be positive")
	}
	return nil
}

// RoomConnectionParameters returns the parameters for joining the configured
// room.
func (c *Config) RoomConnectionParameters() domain.RoomConnectionParameters {
	return domain.RoomConnectionParameters{
		RoomServerURL: c.RoomServerURL,
		RoomID:        c.RoomID,
		Loopback:      c.Loopback,
		URLParameters: c.URLParameters,
	}
}

// LoggerFactory returns a pion logger factory writing to stderr at the
// configured level.
func (c *Config) LoggerFactory() logging.LoggerFactory {
	lf := logging.NewDefaultLoggerFactory()
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		level = logging.LogLevelInfo
	}
	lf.DefaultLogLevel = level
	return lf
}

// ParseLogLevel maps a level name to a pion log level.
func ParseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "", "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, errors.Errorf("unknown log level %q", s)
}
