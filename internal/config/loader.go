package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads the engine configuration through viper.
type Loader struct {
	viper *viper.Viper
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{viper: viper.New()}
}

// Load reads configuration from the given file (or the default search paths
// when configPath is empty), applies environment overrides, and returns a
// validated Config.
func (l *Loader) Load(configPath string) (*Config, error) {
	if configPath != "" {
		l.viper.SetConfigFile(configPath)
	} else {
		l.viper.SetConfigName("eventvault")
		l.viper.SetConfigType("yaml")
		l.viper.AddConfigPath(".")
		l.viper.AddConfigPath("$HOME/.config/eventvault")
		l.viper.AddConfigPath("/etc/eventvault")
	}

	l.viper.AutomaticEnv()
	l.viper.SetEnvPrefix("EVENTVAULT")
	l.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := l.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine, defaults and environment carry the load.
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Viper exposes the underlying viper instance for CLI flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.viper
}
