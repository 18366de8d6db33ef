package devices

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/agm/internal/conf"
	"github.com/tphakala/agm/internal/metadata"
)

func TestPrintCatalog(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{Devices: []conf.DeviceSettings{
		{ID: 1, Name: "speaker", Class: "generic", GKV: []metadata.KV{{Key: 0xA2000000, Value: 0xA2000001}}},
		{ID: 3, Name: "slimbus-rx", Class: "slave"},
	}}

	var out bytes.Buffer
	require.NoError(t, Print(&out, settings))
	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "CLASS")
	assert.Contains(t, string(lines[1]), "speaker")
	assert.Contains(t, string(lines[1]), "gkv[0xa2000000=0xa2000001]")
	assert.Contains(t, string(lines[2]), "slave")
}

func TestPrintRejectsUnknownClass(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{Devices: []conf.DeviceSettings{{ID: 1, Name: "x", Class: "bogus"}}}
	require.Error(t, Print(&bytes.Buffer{}, settings))
}
