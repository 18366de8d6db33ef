package ctl

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/agm/internal/conf"
	"github.com/tphakala/agm/internal/session"
)

func TestPrintSessions(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	require.NoError(t, printSessions(&out, []session.Info{{
		ID:        2,
		State:     "started",
		Mode:      "default",
		Direction: "playback",
		Interfaces: []session.AIFInfo{
			{ID: 1, State: "started"},
			{ID: 3, State: "closed"},
		},
	}}))
	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[1]), "started")
	assert.Contains(t, string(lines[1]), "1:started,3:closed")
}

func TestCommandTree(t *testing.T) {
	t.Parallel()
	cmd := Command(&conf.Settings{})
	for _, name := range []string{"sessions", "action", "close-client"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestActionRejectsBadSessionID(t *testing.T) {
	t.Parallel()
	cmd := Command(&conf.Settings{})
	cmd.SetArgs([]string{"action", "abc", "start"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid session id")
}
