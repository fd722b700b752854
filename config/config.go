// Package config loads client settings from the environment.
//
// Every variable is prefixed with NIMBUS_.  An optional .env file is
// read first; variables already set win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Comcast/nimbus/core"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every variable name.
const Prefix = "NIMBUS_"

// ErrParsingConfig wraps any failure to decode the environment.
var ErrParsingConfig = errors.New("failed to parse environment variables into config")

// Backends the client can store its database in.
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// App describes the running application for targeting.
type App struct {
	Name               string            `env:"NAME" envDefault:"nimbus-cli"`
	ID                 string            `env:"ID" envDefault:"com.comcast.nimbus"`
	Channel            string            `env:"CHANNEL" envDefault:"release"`
	Version            string            `env:"VERSION"`
	Build              string            `env:"BUILD"`
	Architecture       string            `env:"ARCHITECTURE"`
	DeviceManufacturer string            `env:"DEVICE_MANUFACTURER"`
	DeviceModel        string            `env:"DEVICE_MODEL"`
	Locale             string            `env:"LOCALE" envDefault:"en-US"`
	OS                 string            `env:"OS"`
	OSVersion          string            `env:"OS_VERSION"`
	Attributes         map[string]string `env:"ATTRIBUTES" envKeyValSeparator:":"`
}

type Config struct {
	DBPath    string `env:"DB_PATH" envDefault:"nimbus.db"`
	DBBackend string `env:"DB_BACKEND" envDefault:"bolt"`

	App App `envPrefix:"APP_"`

	// Coenrolling feature ids can be configured by several recipes
	// at once.
	Coenrolling []string `env:"COENROLLING_FEATURES" envSeparator:","`

	FetchURL      string        `env:"FETCH_URL"`
	FetchFile     string        `env:"FETCH_FILE"`
	FetchSchedule string        `env:"FETCH_SCHEDULE" envDefault:"@hourly"`
	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`

	TargetingTimeout time.Duration `env:"TARGETING_TIMEOUT" envDefault:"500ms"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads the given .env files (or ".env" if it exists when none
// are given) and then the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, err
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Check looks for settings that can't work together.
func (c *Config) Check() error {
	switch c.DBBackend {
	case BackendBolt, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown database backend %q", c.DBBackend)
	}
	if c.FetchURL != "" && c.FetchFile != "" {
		return errors.New("at most one of FETCH_URL and FETCH_FILE can be set")
	}
	return nil
}

// AppContext is the targeting context for the configured app.
func (c *Config) AppContext() core.AppContext {
	ac := core.AppContext{
		AppName:            c.App.Name,
		AppID:              c.App.ID,
		Channel:            c.App.Channel,
		AppVersion:         c.App.Version,
		AppBuild:           c.App.Build,
		Architecture:       c.App.Architecture,
		DeviceManufacturer: c.App.DeviceManufacturer,
		DeviceModel:        c.App.DeviceModel,
		Locale:             c.App.Locale,
		OS:                 c.App.OS,
		OSVersion:          c.App.OSVersion,
	}
	if len(c.App.Attributes) > 0 {
		ac.CustomTargetingAttributes = make(map[string]interface{}, len(c.App.Attributes))
		for k, v := range c.App.Attributes {
			ac.CustomTargetingAttributes[k] = v
		}
	}
	return ac
}

// CoenrollingSet returns Coenrolling as a set.
func (c *Config) CoenrollingSet() core.StringSet {
	return core.NewStringSet(c.Coenrolling...)
}
