// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "AGM_DEBUG", validateEnvBool},
		{"logging.default_level", "AGM_LOG_LEVEL", validateEnvLogLevel},
		{"devicecatalog", "AGM_DEVICE_CATALOG", nil},

		{"api.enabled", "AGM_API_ENABLED", validateEnvBool},
		{"api.listen", "AGM_API_LISTEN", validateEnvListen},
		{"metrics.listen", "AGM_METRICS_LISTEN", validateEnvListen},

		{"mqtt.enabled", "AGM_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "AGM_MQTT_BROKER", nil},
		{"mqtt.username", "AGM_MQTT_USERNAME", nil},
		{"mqtt.password", "AGM_MQTT_PASSWORD", nil},
		{"mqtt.passwordfile", "AGM_MQTT_PASSWORD_FILE", nil},

		{"sentry.enabled", "AGM_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "AGM_SENTRY_DSN", nil},
		{"sentry.dsnfile", "AGM_SENTRY_DSN_FILE", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %q", value)
	}
}

func validateEnvListen(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("listen address must be host:port: %w", err)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
