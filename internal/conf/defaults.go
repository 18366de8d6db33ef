// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/agm/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.default_level", logger.DefaultLogLevel)
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	viper.SetDefault("logging.console.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	viper.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	viper.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	viper.SetDefault("pool.backend", BackendSim)
	viper.SetDefault("pool.engine", EngineSim)
	viper.SetDefault("pool.simbuffersize", 64*1024)
	viper.SetDefault("pool.eventqueuesize", 256)

	viper.SetDefault("devicecatalog", "")

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", "127.0.0.1:8470")
	viper.SetDefault("api.eventttl", 5*time.Minute)
	viper.SetDefault("api.eventbacklog", 1024)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.listen", "")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientid", "agm")
	viper.SetDefault("mqtt.topic", "agm")
	viper.SetDefault("mqtt.qos", 0)
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.environment", "production")
	viper.SetDefault("sentry.samplerate", 1.0)

	viper.SetDefault("eventbus.enabled", true)
	viper.SetDefault("eventbus.buffersize", 1000)
	viper.SetDefault("eventbus.workers", 2)
}
