// config.go: settings struct of the agm service and the functions to load and save it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/agm/internal/logger"
	"github.com/tphakala/agm/internal/metadata"
	"github.com/tphakala/agm/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// PoolSettings selects the collaborators behind the session pool
type PoolSettings struct {
	Backend        string `yaml:"backend" mapstructure:"backend"`               // device backend, "sim"
	Engine         string `yaml:"engine" mapstructure:"engine"`                 // graph engine, "sim"
	SimBufferSize  int    `yaml:"simbuffersize" mapstructure:"simbuffersize"`   // data path ring size of the simulated engine
	EventQueueSize int    `yaml:"eventqueuesize" mapstructure:"eventqueuesize"` // callback dispatch queue, 0 uses the pool default
}

// DeviceSettings is one hardware endpoint of the device catalog
type DeviceSettings struct {
	ID    uint32        `yaml:"id" mapstructure:"id"`
	Name  string        `yaml:"name" mapstructure:"name"`
	Class string        `yaml:"class" mapstructure:"class"` // "generic" or "slave"
	GKV   []metadata.KV `yaml:"gkv" mapstructure:"gkv"`
	CKV   []metadata.KV `yaml:"ckv" mapstructure:"ckv"`
}

// APISettings configures the HTTP control surface
type APISettings struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Listen       string        `yaml:"listen" mapstructure:"listen"`
	EventTTL     time.Duration `yaml:"eventttl" mapstructure:"eventttl"`         // how long undelivered callback events are kept
	EventBacklog int           `yaml:"eventbacklog" mapstructure:"eventbacklog"` // max buffered events per session
}

// MetricsSettings configures Prometheus exposition
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"` // dedicated listener, empty serves on the API
}

// MQTTSettings configures the lifecycle publisher
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"`
	ClientID string `yaml:"clientid" mapstructure:"clientid"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"` // may reference ${ENV}
	// PasswordFile overrides Password with the content of a secret file
	PasswordFile string `yaml:"passwordfile" mapstructure:"passwordfile"`
	Topic        string `yaml:"topic" mapstructure:"topic"`
	QoS          byte   `yaml:"qos" mapstructure:"qos"`
	Retain       bool   `yaml:"retain" mapstructure:"retain"`
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	DSN         string  `yaml:"dsn" mapstructure:"dsn"`
	DSNFile     string  `yaml:"dsnfile" mapstructure:"dsnfile"`
	Environment string  `yaml:"environment" mapstructure:"environment"`
	SampleRate  float64 `yaml:"samplerate" mapstructure:"samplerate"`
}

// EventBusSettings configures the asynchronous event bus
type EventBusSettings struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	BufferSize int  `yaml:"buffersize" mapstructure:"buffersize"`
	Workers    int  `yaml:"workers" mapstructure:"workers"`
}

// Settings contains all configuration options for the agm service.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Logging logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`

	Pool PoolSettings `yaml:"pool" mapstructure:"pool"`

	// DeviceCatalog optionally names a YAML file whose devices are appended
	// to Devices.
	DeviceCatalog string           `yaml:"devicecatalog" mapstructure:"devicecatalog"`
	Devices       []DeviceSettings `yaml:"devices" mapstructure:"devices"`

	API      APISettings      `yaml:"api" mapstructure:"api"`
	Metrics  MetricsSettings  `yaml:"metrics" mapstructure:"metrics"`
	MQTT     MQTTSettings     `yaml:"mqtt" mapstructure:"mqtt"`
	Sentry   SentrySettings   `yaml:"sentry" mapstructure:"sentry"`
	EventBus EventBusSettings `yaml:"eventbus" mapstructure:"eventbus"`
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables. An empty
// configFile searches the default config paths and writes the embedded
// default there when nothing is found.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if settings.DeviceCatalog != "" {
		devices, err := LoadDeviceCatalog(settings.DeviceCatalog)
		if err != nil {
			return nil, err
		}
		settings.Devices = append(settings.Devices, devices...)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// resolveSecrets replaces credentials of enabled integrations with their
// resolved values
func resolveSecrets(settings *Settings) error {
	if settings.MQTT.Enabled {
		password, err := secrets.Resolve(settings.MQTT.PasswordFile, settings.MQTT.Password)
		if err != nil {
			return fmt.Errorf("mqtt password: %w", err)
		}
		settings.MQTT.Password = password
	}
	if settings.Sentry.Enabled {
		dsn, err := secrets.Resolve(settings.Sentry.DSNFile, settings.Sentry.DSN)
		if err != nil {
			return fmt.Errorf("sentry dsn: %w", err)
		}
		settings.Sentry.DSN = dsn
	}
	return nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("environment configuration", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it back
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")
	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath. It overwrites the existing
// file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// write to a temporary file first so the replace is atomic
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := moveFile(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
