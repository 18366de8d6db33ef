package demo

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/agm/internal/conf"
	"github.com/tphakala/agm/internal/metadata"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func catalogSettings() *conf.Settings {
	return &conf.Settings{
		Pool: conf.PoolSettings{Backend: conf.BackendSim, Engine: conf.EngineSim, SimBufferSize: 1024},
		Devices: []conf.DeviceSettings{
			{ID: 1, Name: "speaker", Class: "generic", GKV: []metadata.KV{{Key: 0xA2000000, Value: 0xA2000001}}},
			{ID: 2, Name: "handset-mic", Class: "generic", GKV: []metadata.KV{{Key: 0xA3000000, Value: 0xA3000001}}},
			{ID: 4, Name: "ec-reference", Class: "generic", GKV: []metadata.KV{{Key: 0xA2000000, Value: 0xA2000003}}},
		},
	}
}

func TestRunAllScenarios(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer

	require.NoError(t, Run(context.Background(), catalogSettings(), DefaultDevices(), &out))

	text := out.String()
	assert.Contains(t, text, "== single device playback")
	assert.Contains(t, text, "== fan-out disconnect")
	assert.Contains(t, text, "== echo reference ordering")
	assert.Contains(t, text, "refused:")
	assert.Equal(t, 3, bytes.Count(out.Bytes(), []byte("   ok\n")))
}

func TestRunStopsAtUnknownDevice(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	devs := DefaultDevices()
	devs.Speaker = 9

	err := Run(context.Background(), catalogSettings(), devs, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single device playback")
	assert.NotContains(t, out.String(), "== fan-out disconnect")
}

func TestCommandFlags(t *testing.T) {
	t.Parallel()
	cmd := Command(catalogSettings())
	require.NoError(t, cmd.Flags().Set("ecref", "7"))
	f := cmd.Flags().Lookup("ecref")
	require.NotNil(t, f)
	assert.Equal(t, "7", f.Value.String())
}
