package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the settings file name without extension.
const configName = ".jaeger-anomaly-detection"

// configType is the settings file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for process settings.
const envPrefix = "JAEGER_ANOMALY"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadSettings loads process settings from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit settings file
// path. Otherwise, the file is searched in CWD and $HOME. A missing file is
// not an error; defaults are used.
func LoadSettings(configPath string) (*Settings, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read settings: %w", readErr)
		}
	}

	var settings Settings

	unmarshalErr := viperCfg.Unmarshal(&settings)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", unmarshalErr)
	}

	validateErr := settings.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate settings: %w", validateErr)
	}

	return &settings, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("bind", DefaultBind)
	viperCfg.SetDefault("prefix", DefaultPrefix)
	viperCfg.SetDefault("poll_interval", DefaultPollInterval)
	viperCfg.SetDefault("sample_interval", DefaultSampleInterval)
	viperCfg.SetDefault("snapshot.enabled", false)
	viperCfg.SetDefault("snapshot.dir", DefaultSnapshotDir)
	viperCfg.SetDefault("snapshot.format", SnapshotFormatJSON)
	viperCfg.SetDefault("source.url", "")
	viperCfg.SetDefault("source.timeout", "30s")
	viperCfg.SetDefault("remote_write.url", "")
	viperCfg.SetDefault("remote_write.timeout", "30s")
}
