package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/idcache/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	cfgKeyCacheDir  = "cache_dir"
	cfgKeyRemoteDir = "remote_dir"
)

// configFile is the structure written to config.yaml on first run.
type configFile struct {
	CacheDir         string `yaml:"cache_dir,omitempty"`
	RemoteDir        string `yaml:"remote_dir,omitempty"`
	IndexSync        string `yaml:"index_sync"`
	BatchSize        int    `yaml:"batch_size"`
	BatchInterval    int    `yaml:"batch_interval"`
	RefreshPolicy    string `yaml:"refresh_policy"`
	MaxActiveTenants int    `yaml:"max_active_tenants"`
	RefreshInterval  int    `yaml:"refresh_interval"`
	Journal          bool   `yaml:"journal"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
}

func defaultConfigFile() configFile {
	return configFile{
		IndexSync:        types.IndexSyncImmediate,
		BatchSize:        types.DefaultBatchSize,
		BatchInterval:    types.DefaultBatchInterval,
		RefreshPolicy:    types.RefreshOverwrite,
		MaxActiveTenants: types.DefaultMaxActiveTenants,
		RefreshInterval:  types.DefaultRefreshInterval,
		Journal:          true,
		LogLevel:         "warn",
		LogFormat:        "console",
	}
}

// loadConfig reads config.yaml from configDir using Viper. It creates the
// directory and a default config.yaml on first run.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := ensureConfigDir(configDir); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	def := defaultConfigFile()
	v.SetDefault("index_sync", def.IndexSync)
	v.SetDefault("batch_size", def.BatchSize)
	v.SetDefault("batch_interval", def.BatchInterval)
	v.SetDefault("refresh_policy", def.RefreshPolicy)
	v.SetDefault("max_active_tenants", def.MaxActiveTenants)
	v.SetDefault("refresh_interval", def.RefreshInterval)
	v.SetDefault("journal", def.Journal)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// configFromViper decodes the settings into a types.Config.
func configFromViper(v *viper.Viper) (types.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// ensureConfigDir creates the config directory if it does not exist.
func ensureConfigDir(configDir string) error {
	return os.MkdirAll(configDir, 0o755)
}

// ensureDefaultConfigFile writes a default config.yaml if none exists.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	data, err := yaml.Marshal(defaultConfigFile())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := []byte("# idcache configuration\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}
