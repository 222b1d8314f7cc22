package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	apperrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "CONCEPTGUARD"

// newViper builds a Viper instance with YAML file type, the CONCEPTGUARD_ env
// prefix and a "." → "_" key replacer, so "rules.dir" resolves to
// CONCEPTGUARD_RULES_DIR.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	registerDefaults(v)
	return v
}

// Load reads the YAML file at configPath, merges CONCEPTGUARD_* overrides,
// applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeConfigLoad, "read config file %q", configPath)
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from defaults and CONCEPTGUARD_* variables only.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

// LoadOrDefault loads configPath when set and falls back to LoadFromEnv.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	return Load(configPath)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "unmarshal configuration")
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "validate configuration")
	}
	return cfg, nil
}

// Watch monitors configPath and invokes onChange with the re-parsed Config
// after every write. A change that fails to parse or validate is reported to
// onError (when non-nil) and onChange is skipped, so a broken edit never
// replaces a working configuration.
//
// Watch is non-blocking; viper runs the fsnotify loop in the background.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeConfigLoad, "read config file %q", configPath)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is Load that panics. main() only.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	return cfg
}
