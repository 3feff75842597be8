package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeFile(t, "inbound_port: 18333\n")
	s, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 18333, s.InboundPort)
	assert.Equal(t, Default().OutboundConnections, s.OutboundConnections)
	assert.Equal(t, Default().ConnectTimeout, s.ConnectTimeout)
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeFile(t, "connect_timeout: 10s\nchannel_heartbeat: 90s\n")
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, s.ConnectTimeout.Duration())
	assert.Equal(t, 90*time.Second, s.ChannelHeartbeat.Duration())
}

func TestLoadDefaultsSeedWindowToChannelHandshake(t *testing.T) {
	path := writeFile(t, "channel_handshake: 7s\n")
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, s.SeedWindow.Duration())
}

func TestLoadRejectsInvertedProtocolBounds(t *testing.T) {
	path := writeFile(t, "protocol_minimum: 70002\nprotocol_maximum: 31402\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
