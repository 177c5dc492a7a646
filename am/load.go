package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"github.com/teranos/tally/errors"
)

// ConfigFileName is the file searched for in each config location.
const ConfigFileName = "tally.toml"

var (
	globalConfig  *Config
	viperInstance *viper.Viper
	loadedFiles   []string
	loadMu        sync.Mutex
)

// Load reads the tally configuration using Viper
func Load() (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	config, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// Defaults only, no environment binding for an explicit file
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// UseFile pins the configuration to a single file and drops any cached
// config. Environment overrides still apply.
func UseFile(configPath string) error {
	if _, err := os.Stat(configPath); err != nil {
		return errors.Wrapf(err, "config file %s", configPath)
	}

	loadMu.Lock()
	defer loadMu.Unlock()

	v := newEnvViper()
	mergeFile(v, configPath)
	globalConfig = nil
	viperInstance = v
	loadedFiles = []string{configPath}
	return nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	loadMu.Lock()
	defer loadMu.Unlock()
	globalConfig = nil
	viperInstance = nil
	loadedFiles = nil
}

// LoadedFiles returns the config files merged by the last load, lowest precedence first.
func LoadedFiles() []string {
	loadMu.Lock()
	defer loadMu.Unlock()
	return append([]string(nil), loadedFiles...)
}

// ToTOML renders the configuration as TOML
func ToTOML(c *Config) ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal config as TOML")
	}
	return data, nil
}

func newEnvViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("TALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)
	return v
}

// initViper initializes Viper with configuration sources and defaults.
// Caller holds loadMu.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := newEnvViper()
	loadedFiles = mergeConfigFiles(v)

	viperInstance = v
	return v
}

// mergeConfigFiles merges configuration files in precedence order
// (lowest to highest): system < user < working directory < env vars
func mergeConfigFiles(v *viper.Viper) []string {
	configPaths := []string{filepath.Join("/etc/tally", ConfigFileName)}
	if homeDir, err := os.UserHomeDir(); err == nil {
		configPaths = append(configPaths, filepath.Join(homeDir, ".tally", ConfigFileName))
	}
	if wd, err := os.Getwd(); err == nil {
		configPaths = append(configPaths, filepath.Join(wd, ConfigFileName))
	}

	var merged []string
	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}
		if mergeFile(v, configPath) {
			merged = append(merged, configPath)
		}
	}
	return merged
}

func mergeFile(v *viper.Viper, configPath string) bool {
	tempViper := viper.New()
	tempViper.SetConfigFile(configPath)
	tempViper.SetConfigType("toml")

	if err := tempViper.ReadInConfig(); err != nil {
		return false
	}
	// Merged as config values so environment variables keep precedence
	return v.MergeConfigMap(tempViper.AllSettings()) == nil
}
