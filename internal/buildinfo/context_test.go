package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		ctx       *Context
		version   string
		buildDate string
	}{
		{"nil context", nil, UnknownValue, UnknownValue},
		{"empty values", NewContext("", ""), UnknownValue, UnknownValue},
		{"pre-release", NewContext("1.0.0-beta.1", "2026-01-01T12:00:00Z"), "1.0.0-beta.1", "2026-01-01T12:00:00Z"},
		{"build metadata", NewContext("1.0.0+build.123", ""), "1.0.0+build.123", UnknownValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.Version())
			assert.Equal(t, tt.buildDate, tt.ctx.BuildDate())
		})
	}
}

func TestContextString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "1.2.3 (built 2026-10-01)", NewContext("1.2.3", "2026-10-01").String())
	assert.Equal(t, "unknown (built unknown)", (*Context)(nil).String())
}
