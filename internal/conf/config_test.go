package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/metadata"
)

// viper is process global, these tests do not run in parallel
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadEmbeddedDefault(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	data, err := getDefaultConfig()
	require.NoError(t, err)
	path := writeFile(t, dir, "config.yaml", string(data))

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Same(t, settings, GetSettings())

	assert.Equal(t, BackendSim, settings.Pool.Backend)
	assert.Equal(t, 256, settings.Pool.EventQueueSize)
	assert.Equal(t, "127.0.0.1:8470", settings.API.Listen)
	assert.Equal(t, 5*time.Minute, settings.API.EventTTL)
	assert.False(t, settings.MQTT.Enabled)
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	require.True(t, settings.Logging.Console.Enabled)

	require.Len(t, settings.Devices, 4)
	assert.Equal(t, []metadata.KV{{Key: 0xA2000000, Value: 0xA2000001}}, settings.Devices[0].GKV)

	specs, err := settings.DeviceSpecs()
	require.NoError(t, err)
	assert.Equal(t, device.ClassSlave, specs[2].Class)
	assert.Equal(t, "slimbus-rx", specs[2].Name)
}

func TestLoadAppliesDefaultsAndCatalog(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	catalog := writeFile(t, dir, "devices.yaml", `
devices:
  - id: 10
    name: usb-headset
    gkv:
      - {key: 0xA2000000, value: 0xA2000010}
    ckv:
      - {key: 0xC0000001, value: 48000}
`)
	path := writeFile(t, dir, "config.yaml", "devicecatalog: "+catalog+"\n")

	settings, err := Load(path)
	require.NoError(t, err)
	// untouched sections fall back to SetDefault values
	assert.Equal(t, EngineSim, settings.Pool.Engine)
	assert.Equal(t, 2, settings.EventBus.Workers)

	require.Len(t, settings.Devices, 1)
	spec, err := settings.Devices[0].Spec()
	require.NoError(t, err)
	assert.Equal(t, uint32(10), spec.ID)
	assert.Equal(t, device.ClassGeneric, spec.Class)
	require.NotNil(t, spec.Metadata)
	assert.Equal(t, []metadata.KV{{Key: 0xC0000001, Value: 48000}}, spec.Metadata.CKV)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	resetViper(t)
	t.Setenv("AGM_API_LISTEN", "0.0.0.0:9000")
	path := writeFile(t, t.TempDir(), "config.yaml", "debug: true\n")

	settings, err := Load(path)
	require.NoError(t, err)
	assert.True(t, settings.Debug)
	assert.Equal(t, "0.0.0.0:9000", settings.API.Listen)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	resetViper(t)
	path := writeFile(t, t.TempDir(), "config.yaml", `
pool:
  engine: dsp
mqtt:
  enabled: true
  broker: ""
`)
	_, err := Load(path)
	require.Error(t, err)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestLoadMissingCatalog(t *testing.T) {
	resetViper(t)
	path := writeFile(t, t.TempDir(), "config.yaml", "devicecatalog: /nonexistent/devices.yaml\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateSettings(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			Pool:     PoolSettings{Backend: BackendSim, Engine: EngineSim, SimBufferSize: 1024},
			API:      APISettings{Enabled: true, Listen: "127.0.0.1:0", EventTTL: time.Minute, EventBacklog: 8},
			EventBus: EventBusSettings{Enabled: true, BufferSize: 10, Workers: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Settings) {}},
		{name: "duplicate device", mutate: func(s *Settings) {
			s.Devices = []DeviceSettings{{ID: 1}, {ID: 1}}
		}, wantErr: true},
		{name: "reserved device id", mutate: func(s *Settings) {
			s.Devices = []DeviceSettings{{ID: 0xFFFFFFFF}}
		}, wantErr: true},
		{name: "bad class", mutate: func(s *Settings) {
			s.Devices = []DeviceSettings{{ID: 1, Class: "usb"}}
		}, wantErr: true},
		{name: "bad api listen", mutate: func(s *Settings) { s.API.Listen = "nope" }, wantErr: true},
		{name: "disabled api ignores listen", mutate: func(s *Settings) {
			s.API.Enabled = false
			s.API.Listen = "nope"
		}},
		{name: "negative queue", mutate: func(s *Settings) { s.Pool.EventQueueSize = -1 }, wantErr: true},
		{name: "mqtt qos", mutate: func(s *Settings) {
			s.MQTT = MQTTSettings{Enabled: true, Broker: "tcp://b:1883", Topic: "t", QoS: 3}
		}, wantErr: true},
		{name: "sentry without dsn", mutate: func(s *Settings) { s.Sentry.Enabled = true }, wantErr: true},
		{name: "eventbus workers", mutate: func(s *Settings) { s.EventBus.Workers = 0 }, wantErr: true},
		{name: "metrics listen", mutate: func(s *Settings) {
			s.Metrics = MetricsSettings{Enabled: true, Listen: "bad"}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := valid()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	settings := &Settings{
		Pool:    PoolSettings{Backend: BackendSim, Engine: EngineSim, SimBufferSize: 512},
		Devices: []DeviceSettings{{ID: 7, Name: "line-out", GKV: []metadata.KV{{Key: 1, Value: 2}}}},
	}
	require.NoError(t, SaveYAMLConfig(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 512, loaded.Pool.SimBufferSize)
	require.Len(t, loaded.Devices, 1)
	assert.Equal(t, "line-out", loaded.Devices[0].Name)
}

func TestLoadResolvesSecrets(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("AGM_TEST_MQTT_PASS", "from-env")
	dsnFile := writeFile(t, dir, "dsn", "https://key@sentry.example/1\n")
	path := writeFile(t, dir, "config.yaml", `
mqtt:
  enabled: true
  broker: tcp://broker:1883
  password: ${AGM_TEST_MQTT_PASS}
sentry:
  enabled: true
  dsnfile: `+dsnFile+`
`)

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", settings.MQTT.Password)
	assert.Equal(t, "https://key@sentry.example/1", settings.Sentry.DSN)
}

func TestLoadMissingSecretVariable(t *testing.T) {
	resetViper(t)
	path := writeFile(t, t.TempDir(), "config.yaml", `
mqtt:
  enabled: true
  broker: tcp://broker:1883
  password: ${AGM_TEST_UNSET_PASSWORD}
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGM_TEST_UNSET_PASSWORD")
}
