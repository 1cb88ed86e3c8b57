package settings

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SYNDRODM_URI or SYNDRODM_DATABASE.
const EnvPrefix = "SYNDRODM"

type Arguments struct {
	// Connection string of the document database
	URI string `mapstructure:"uri"`

	// Database the registry binds collections in
	Database string `mapstructure:"database"`

	// Collection holding the migration log
	MigrationsCollection string `mapstructure:"migrations_collection"`

	ConfigFile string `mapstructure:"config"`

	// Per-command timeout
	Timeout time.Duration `mapstructure:"timeout"`

	Debug bool `mapstructure:"debug"`

	// Strongly verbose logging
	Verbose bool `mapstructure:"verbose"`

	// Prometheus textfile written after each command, empty disables it
	MetricsFile string `mapstructure:"metrics_file"`
}

func Defaults() Arguments {
	return Arguments{
		URI:                  "mongodb://localhost:27017",
		MigrationsCollection: "migrations_log",
		Timeout:              30 * time.Second,
	}
}

var (
	settingsOnce sync.Once
	current      *Arguments
)

// GetSettings returns the process-wide settings, initialized with the
// defaults on first use.
func GetSettings() *Arguments {
	settingsOnce.Do(func() {
		args := Defaults()
		current = &args
	})
	return current
}

// Load reads settings from the optional config file and SYNDRODM_
// environment variables over the defaults. Values already bound to v (for
// example command line flags) take precedence.
func Load(v *viper.Viper) (*Arguments, error) {
	if v == nil {
		v = viper.New()
	}
	defaults := Defaults()
	v.SetDefault("uri", defaults.URI)
	v.SetDefault("database", defaults.Database)
	v.SetDefault("migrations_collection", defaults.MigrationsCollection)
	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("metrics_file", defaults.MetricsFile)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
			}
		}
	}

	args := Defaults()
	if err := v.Unmarshal(&args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return &args, nil
}

// Validate checks the settings needed to talk to a database.
func (a *Arguments) Validate() error {
	if a.URI == "" {
		return errors.New("a connection uri is required")
	}
	if a.Database == "" {
		return errors.New("a database name is required")
	}
	if a.MigrationsCollection == "" {
		return errors.New("a migrations collection is required")
	}
	if a.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", a.Timeout)
	}
	return nil
}

// Apply copies args into the process-wide settings.
func Apply(args *Arguments) {
	s := GetSettings()
	*s = *args
}
